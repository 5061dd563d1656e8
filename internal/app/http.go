package app

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	apphttp "github.com/gong8/cramkit-sub000/internal/http"
	httpH "github.com/gong8/cramkit-sub000/internal/http/handlers"
	httpMW "github.com/gong8/cramkit-sub000/internal/http/middleware"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
	"github.com/gong8/cramkit-sub000/internal/realtime"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health   *httpH.HealthHandler
	Session  *httpH.SessionHandler
	Indexing *httpH.IndexingHandler
	Events   *httpH.EventsHandler
}

func wireMiddleware(log *logger.Logger) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log),
	}
}

func wireHandlers(db *gorm.DB, log *logger.Logger, repoSet Repos, svc Services, hub *realtime.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(db),
		Session:  httpH.NewSessionHandler(log, repoSet.Sessions, repoSet.Resources, svc.Indexing),
		Indexing: httpH.NewIndexingHandler(log, repoSet.Sessions, svc.Indexing),
		Events:   httpH.NewEventsHandler(log, hub, repoSet.Sessions),
	}
}

func wireRouter(log *logger.Logger, handlers Handlers, middleware Middleware) *gin.Engine {
	return apphttp.NewRouter(apphttp.RouterConfig{
		Log:             log,
		AuthMiddleware:  middleware.Auth,
		SessionHandler:  handlers.Session,
		IndexingHandler: handlers.Indexing,
		EventsHandler:   handlers.Events,
		HealthHandler:   handlers.Health,
	})
}
