package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/gong8/cramkit-sub000/internal/data/db"
	"github.com/gong8/cramkit-sub000/internal/observability"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/envutil"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
	"github.com/gong8/cramkit-sub000/internal/realtime"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Router   *gin.Engine
	Repos    Repos
	Clients  Clients
	Services Services
	SSEHub   *realtime.SSEHub

	cancel       context.CancelFunc
	otelShutdown func(context.Context) error
}

func New() (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig(log)
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "cramkit",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	dbSvc, err := db.NewFromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init database: %w", err)
	}
	if err := db.AutoMigrateAll(dbSvc.DB()); err != nil {
		_ = dbSvc.Close()
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	hub := realtime.NewSSEHub(log)

	clients, err := wireClients(log)
	if err != nil {
		_ = dbSvc.Close()
		log.Sync()
		return nil, err
	}

	repoSet := wireRepos(dbSvc.DB(), log)
	svc := wireServices(dbSvc.DB(), log, repoSet, clients, hub)
	middleware := wireMiddleware(log)
	handlers := wireHandlers(dbSvc.DB(), log, repoSet, svc, hub)
	router := wireRouter(log, handlers, middleware)

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           dbSvc,
		Router:       router,
		Repos:        repoSet,
		Clients:      clients,
		Services:     svc,
		SSEHub:       hub,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the work queues, connects the cross-replica SSE
// forwarder, and re-admits batches interrupted by the previous process.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.Services.Indexing.Start(ctx)

	if a.Clients.Bus != nil {
		if err := a.Clients.Bus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			a.Log.Warn("redis SSE forwarder failed to start (continuing)", "error", err)
		}
	}

	resumed, err := a.Services.Indexing.ResumeOnStartup(dbctx.New(ctx))
	if err != nil {
		a.Log.Error("Batch resume scan failed", "error", err)
	} else if resumed > 0 {
		a.Log.Info("Re-admitted interrupted batches", "count", resumed)
	}
}

// Close cancels the work context, stops the queues, and releases the
// backing clients. Safe to call once after Start.
func (a *App) Close(ctx context.Context) {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Indexing != nil {
		a.Services.Indexing.Close()
	}
	a.Clients.Close(ctx)
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(ctx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
