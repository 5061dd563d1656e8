package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/gong8/cramkit-sub000/internal/http/handlers"
	httpMW "github.com/gong8/cramkit-sub000/internal/http/middleware"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware

	SessionHandler  *httpH.SessionHandler
	IndexingHandler *httpH.IndexingHandler
	EventsHandler   *httpH.EventsHandler

	HealthHandler *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("cramkit"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.CORS())
	r.Use(httpMW.RequestLogger(cfg.Log))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		// Middleware
		if cfg.AuthMiddleware != nil {
			api.Use(cfg.AuthMiddleware.RequireAuth())
		}

		// Sessions + resources
		if cfg.SessionHandler != nil {
			api.POST("/sessions", cfg.SessionHandler.CreateSession)
			api.GET("/sessions/:id", cfg.SessionHandler.GetSession)
			api.POST("/sessions/:id/resources", cfg.SessionHandler.CreateResource)
			api.GET("/sessions/:id/resources", cfg.SessionHandler.ListResources)
		}

		// Indexing
		if cfg.IndexingHandler != nil {
			api.POST("/sessions/:id/index", cfg.IndexingHandler.EnqueueBatch)
			api.POST("/sessions/:id/index/cancel", cfg.IndexingHandler.CancelBatch)
			api.POST("/sessions/:id/index/retry", cfg.IndexingHandler.RetryFailed)
			api.GET("/sessions/:id/index/progress", cfg.IndexingHandler.GetProgress)
			api.GET("/indexing/queues", cfg.IndexingHandler.GetQueueDepths)
		}

		// Realtime (SSE)
		if cfg.EventsHandler != nil {
			api.GET("/sessions/:id/events", cfg.EventsHandler.StreamEvents)
		}
	}

	return r
}
