package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/coursebuilder/internal/http/handlers"
	httpMW "github.com/yungbote/coursebuilder/internal/http/middleware"
	"github.com/yungbote/coursebuilder/internal/observability"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	ServiceName    string
	CORSOrigins    []string
	AuthMiddleware *httpMW.AuthMiddleware

	CollectionHandler *httpH.CollectionHandler
	RealtimeHandler   *httpH.RealtimeHandler
	HealthHandler     *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapF(cfg.Metrics.WriteHTTP))
	}

	api := r.Group("/api")
	if cfg.AuthMiddleware != nil {
		api.Use(cfg.AuthMiddleware.RequireAuth())
	}

	// Ordered collections
	if h := cfg.CollectionHandler; h != nil {
		api.GET("/:relation/:parentId/children", h.ListChildren)
		api.POST("/:relation/:parentId/children", h.CreateChild)
		api.PUT("/:relation/:parentId/children/order", h.ReorderChildren)
		api.POST("/:relation/:parentId/children/:childId/attach", h.AttachExisting)
		api.POST("/:relation/:parentId/children/:childId/move", h.MoveChild)
		api.DELETE("/:relation/:parentId/children/:childId", h.RemoveChild)
		api.GET("/:relation/:parentId/integrity", h.CheckIntegrity)
		api.POST("/:relation/:parentId/repair", h.RepairPositions)
	}
	if h := cfg.RealtimeHandler; h != nil {
		api.GET("/:relation/:parentId/events", h.StreamCollection)
	}

	return r
}
