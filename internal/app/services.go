package app

import (
	"gorm.io/gorm"

	"github.com/gong8/cramkit-sub000/internal/extraction"
	"github.com/gong8/cramkit-sub000/internal/indexing"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
	"github.com/gong8/cramkit-sub000/internal/realtime"
	"github.com/gong8/cramkit-sub000/internal/services"
)

type Services struct {
	Extraction extraction.Service
	Indexing   indexing.Service
	Notifier   indexing.BatchNotifier
}

func wireServices(db *gorm.DB, log *logger.Logger, repoSet Repos, clients Clients, hub *realtime.SSEHub) Services {
	log.Info("Wiring services...")

	ext := extraction.NewService(log, repoSet.Sessions, repoSet.Resources, clients.AI, clients.Graph)

	// With a bus, events go out through redis and come back to every
	// replica's hub via the forwarder. Without one, emit locally.
	var emitter services.SSEEmitter
	if clients.Bus != nil {
		emitter = &services.RedisEmitter{Bus: clients.Bus}
	} else {
		emitter = &services.HubEmitter{Hub: hub}
	}
	notifier := services.NewBatchNotifier(emitter)

	idx := indexing.NewService(
		db,
		log,
		indexing.LoadConfig(log),
		repoSet.Sessions,
		repoSet.Resources,
		repoSet.Batches,
		repoSet.Jobs,
		extraction.Steps(ext),
		notifier,
	)

	return Services{Extraction: ext, Indexing: idx, Notifier: notifier}
}
