package main

import (
	"github.com/LikhitaMagar01/Zync/internal/config"
	"github.com/LikhitaMagar01/Zync/internal/db"
	clog "github.com/LikhitaMagar01/Zync/internal/log"
	"github.com/LikhitaMagar01/Zync/internal/registry"
	"github.com/LikhitaMagar01/Zync/internal/server"
	"github.com/LikhitaMagar01/Zync/internal/service"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	reg := registry.New(cfg.MessageQueueCap)

	sched := service.NewScheduler(gdb, service.NewMessageService(gdb, reg))
	sched.Start()
	defer sched.Stop()

	r := server.SetupRouter(cfg, gdb, reg)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
