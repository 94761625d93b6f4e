package service

import (
	"time"

	"github.com/LikhitaMagar01/Zync/internal/models"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Scheduler 跑两个后台任务：每分钟投递到期的定时消息，
// 每小时清理已过期的 refresh token 行，防止集合无限增长。
type Scheduler struct {
	db     *gorm.DB
	msgSvc *MessageService
	cron   *cron.Cron
}

func NewScheduler(db *gorm.DB, msgSvc *MessageService) *Scheduler {
	return &Scheduler{db: db, msgSvc: msgSvc, cron: cron.New()}
}

func (s *Scheduler) Start() {
	s.cron.AddFunc("* * * * *", func() {
		s.msgSvc.DispatchDue(time.Now())
	})
	s.cron.AddFunc("@hourly", s.pruneRefreshTokens)
	s.cron.Start()
}

func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) pruneRefreshTokens() {
	res := s.db.Where("expires_at <= ?", time.Now()).Delete(&models.RefreshToken{})
	if res.Error != nil {
		log.Error().Err(res.Error).Msg("prune refresh tokens")
		return
	}
	if res.RowsAffected > 0 {
		log.Info().Int64("pruned", res.RowsAffected).Msg("expired refresh tokens removed")
	}
}
