package app

import (
	"github.com/gin-gonic/gin"

	server "github.com/yungbote/coursebuilder/internal/http"
	"github.com/yungbote/coursebuilder/internal/observability"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

const serviceName = "coursebuilder"

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers, middleware Middleware) *gin.Engine {
	tracingName := ""
	if cfg.Otel.Enabled {
		tracingName = serviceName
	}
	return server.NewRouter(server.RouterConfig{
		Log:               log,
		Metrics:           metrics,
		ServiceName:       tracingName,
		CORSOrigins:       cfg.CORSOrigins,
		AuthMiddleware:    middleware.Auth,
		CollectionHandler: handlers.Collection,
		RealtimeHandler:   handlers.Realtime,
		HealthHandler:     handlers.Health,
	})
}
