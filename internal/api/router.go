package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"atsinbox/internal/httpserver"
)

type RouterConfig struct {
	JWTSecret      string
	RequestTimeout time.Duration
	Development    bool
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(inboxHandler *InboxHandler, db httpserver.Pinger, cfg RouterConfig, logger *zap.Logger) *Router {
	if !cfg.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), TraceMiddleware(), LoggingMiddleware(logger), MetricsMiddleware())

	httpserver.RegisterHealth(r, db)

	api := r.Group("/api/inbox")
	api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	if cfg.JWTSecret != "" {
		api.Use(AuthMiddleware(cfg.JWTSecret))
	}
	{
		api.GET("", inboxHandler.List)
		api.POST("/sync", inboxHandler.RequestSync)
		api.GET("/:id", inboxHandler.Get)
		api.PATCH("/:id", inboxHandler.Patch)
	}

	return &Router{Engine: r}
}
