package server

import (
	"net/http"
	"time"

	"github.com/LikhitaMagar01/Zync/internal/auth"
	"github.com/LikhitaMagar01/Zync/internal/config"
	"github.com/LikhitaMagar01/Zync/internal/googleauth"
	"github.com/LikhitaMagar01/Zync/internal/metrics"
	"github.com/LikhitaMagar01/Zync/internal/mw"
	"github.com/LikhitaMagar01/Zync/internal/registry"
	"github.com/LikhitaMagar01/Zync/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// SetupRouter 统一初始化 Gin 中间件和 REST/SSE 端点。
func SetupRouter(cfg config.Config, db *gorm.DB, reg *registry.Registry) *gin.Engine {
	userSvc := service.NewUserService(db, cfg)
	msgSvc := service.NewMessageService(db, reg)
	chatSvc := service.NewChatService(db)
	google := googleauth.New(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURI)
	h := NewHandler(cfg, userSvc, msgSvc, chatSvc, reg, google)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLog())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.POST("/register", h.Register)
	api.POST("/login", h.Login)
	api.POST("/refresh", h.Refresh)
	api.POST("/logout", h.Logout)

	api.GET("/auth/google", h.GoogleRedirect)
	api.GET("/auth/google/callback", h.GoogleCallback)
	api.GET("/auth/google/status", h.GoogleStatus)

	api.GET("/chat/events", h.Events)
	api.POST("/messages/send", h.SendMessage)

	// 需要 access token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg))

	authed.GET("/profile", h.Profile)
	authed.GET("/messages/:chatId", h.History)
	authed.POST("/messages/schedule", h.ScheduleMessage)
	authed.POST("/chats", h.CreateChat)
	authed.GET("/chats", h.ListChats)
	authed.GET("/users/search", h.SearchUsers)
	authed.GET("/users/:id", h.GetUser)

	return r
}
