package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"floodbuddy/internal/config"
	"floodbuddy/internal/middleware"
	"floodbuddy/internal/realtime"
	"floodbuddy/internal/security"
	"floodbuddy/internal/service"
)

// Pinger is a dependency the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type Deps struct {
	Config  *config.AppConfig
	Auth    *service.AuthService
	Reports *service.ReportService
	Hub     *realtime.Hub
	Nonces  security.NonceStore
	Clock   clockwork.Clock

	Database Pinger
	// Cache is nil when the API runs without Redis.
	Cache Pinger
}

type HandlerSet struct {
	log     zerolog.Logger
	cfg     *config.AppConfig
	auth    *service.AuthService
	reports *service.ReportService
	hub     *realtime.Hub
	nonces  security.NonceStore
	clock   clockwork.Clock
	db      Pinger
	cache   Pinger

	heartbeat time.Duration
}

func NewHandlerSet(log zerolog.Logger, deps Deps) HandlerSet {
	return HandlerSet{
		log:       log,
		cfg:       deps.Config,
		auth:      deps.Auth,
		reports:   deps.Reports,
		hub:       deps.Hub,
		nonces:    deps.Nonces,
		clock:     deps.Clock,
		db:        deps.Database,
		cache:     deps.Cache,
		heartbeat: 15 * time.Second,
	}
}

func (h HandlerSet) Routes(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	authenticated := middleware.Auth(h.cfg.Security.JWTAccessSecret, h.auth)
	signed := middleware.Signature(middleware.SignatureOptions{
		Secret:  h.cfg.Security.SignatureSecret,
		MaxSkew: h.cfg.Security.SignatureMaxSkew,
		Nonces:  h.nonces,
		Clock:   h.clock,
	})

	v1 := router.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/logout", h.Logout)

		protected := v1.Group("/auth")
		protected.Use(authenticated, signed)
		protected.GET("/me", h.Me)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:deviceId", h.RevokeSession)
	}

	v1.GET("/severities", h.Severities)

	reports := v1.Group("/reports")
	reports.Use(authenticated)
	reports.POST("", signed, h.CreateReport)
	reports.GET("", h.ListReports)
	reports.GET("/markers", h.Markers)
	reports.GET("/stream", h.StreamReports)
}
