package indexing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gong8/cramkit-sub000/internal/data/repos"
	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

// Queue identities. Concurrency is deliberately 1 on both: batches
// advance one at a time process-wide, resource processing is strictly
// serialized.
const (
	ProcessingQueueName = "processing"
	BatchQueueName      = "batch"

	processingQueueWorkers = 1
	batchQueueWorkers      = 1
)

// BatchNotifier receives lifecycle events for realtime fan-out. All
// methods must be non-blocking.
type BatchNotifier interface {
	BatchQueued(sessionID, batchID uuid.UUID, total int)
	BatchStarted(sessionID, batchID uuid.UUID)
	BatchFinished(sessionID, batchID uuid.UUID, status string, completed, failed, total int)
	JobFinished(sessionID, batchID, resourceID uuid.UUID, status string)
	PhaseChanged(sessionID, batchID uuid.UUID, phase int, state string)
}

/*
Service is the indexing orchestrator: it admits batches onto the
work queues, drives the five-phase pipeline per batch, and answers
cancel/retry/progress calls. One instance per process.
*/
type Service interface {
	Start(ctx context.Context)
	Close()
	EnqueueBatch(dbc dbctx.Context, sessionID uuid.UUID, resourceIDs []uuid.UUID, thoroughness string) (*types.IndexBatch, error)
	EnqueueResourceProcessing(dbc dbctx.Context, resourceID uuid.UUID) error
	Cancel(dbc dbctx.Context, sessionID uuid.UUID) (bool, error)
	RetryFailed(dbc dbctx.Context, sessionID uuid.UUID) (int, error)
	ResumeOnStartup(dbc dbctx.Context) (int, error)
	Progress(dbc dbctx.Context, sessionID uuid.UUID) (*Progress, error)
	QueueDepths() map[string]int
}

type service struct {
	db  *gorm.DB
	log *logger.Logger
	cfg Config

	sessions  repos.SessionRepo
	resources repos.ResourceRepo
	batches   repos.IndexBatchRepo
	jobs      repos.IndexJobRepo
	steps     Steps
	notify    BatchNotifier

	registry   *runRegistry
	procQueue  *taskQueue
	batchQueue *taskQueue
}

func NewService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg Config,
	sessions repos.SessionRepo,
	resources repos.ResourceRepo,
	batches repos.IndexBatchRepo,
	jobs repos.IndexJobRepo,
	steps Steps,
	notify BatchNotifier,
) Service {
	log := baseLog.With("service", "IndexingService")
	return &service{
		db:         db,
		log:        log,
		cfg:        cfg,
		sessions:   sessions,
		resources:  resources,
		batches:    batches,
		jobs:       jobs,
		steps:      steps,
		notify:     notify,
		registry:   newRunRegistry(),
		procQueue:  newTaskQueue(ProcessingQueueName, processingQueueWorkers, log),
		batchQueue: newTaskQueue(BatchQueueName, batchQueueWorkers, log),
	}
}

func (s *service) Start(ctx context.Context) {
	s.procQueue.Start(ctx)
	s.batchQueue.Start(ctx)
	s.log.Info("Indexing queues started",
		"processing_workers", processingQueueWorkers,
		"batch_workers", batchQueueWorkers)
}

func (s *service) Close() {
	s.procQueue.Close()
	s.batchQueue.Close()
}

// EnqueueBatch creates a batch plus one job per distinct resource and
// admits the run onto the batch queue. The create is transactional:
// either the batch and all its jobs exist, or nothing does.
func (s *service) EnqueueBatch(dbc dbctx.Context, sessionID uuid.UUID, resourceIDs []uuid.UUID, thoroughness string) (*types.IndexBatch, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session id")
	}
	sess, err := s.sessions.GetByID(dbc, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	ids := dedupeIDs(resourceIDs)
	if len(ids) == 0 {
		return nil, ErrNoResources
	}
	resources, err := s.resources.GetByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("load resources: %w", err)
	}
	byID := make(map[uuid.UUID]*types.Resource, len(resources))
	for _, r := range resources {
		byID[r.ID] = r
	}
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
		}
		if r.SessionID != sessionID {
			return nil, fmt.Errorf("%w: %s", ErrResourceNotInSession, id)
		}
	}

	thor := strings.TrimSpace(thoroughness)
	if thor == "" {
		thor = s.cfg.DefaultThoroughness
	}

	now := time.Now()
	batch := &types.IndexBatch{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Status:       types.BatchStatusPending,
		Total:        len(ids),
		Thoroughness: thor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	create := func(tx *gorm.DB) error {
		txc := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		if _, err := s.batches.Create(txc, batch); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		for i, rid := range ids {
			job := &types.IndexJob{
				ID:           uuid.New(),
				BatchID:      batch.ID,
				ResourceID:   rid,
				Status:       types.JobStatusPending,
				SortOrder:    i,
				Thoroughness: thor,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if _, err := s.jobs.Create(txc, job); err != nil {
				return fmt.Errorf("create job for resource %s: %w", rid, err)
			}
		}
		return nil
	}
	if dbc.Tx != nil {
		if err := create(dbc.Tx); err != nil {
			return nil, err
		}
	} else if s.db != nil {
		if err := s.db.WithContext(dbc.Ctx).Transaction(create); err != nil {
			return nil, err
		}
	} else {
		if err := create(nil); err != nil {
			return nil, err
		}
	}

	s.batchQueue.Enqueue(func(qctx context.Context) {
		s.runBatch(qctx, batch.ID)
	})
	s.notifyBatchQueued(sessionID, batch.ID, batch.Total)
	s.log.Info("Batch enqueued",
		"batch_id", batch.ID,
		"session_id", sessionID,
		"total", batch.Total,
		"thoroughness", thor)
	return batch, nil
}

// EnqueueResourceProcessing admits a single-resource normalization
// task. Fire-and-forget: failures are logged, not returned.
func (s *service) EnqueueResourceProcessing(dbc dbctx.Context, resourceID uuid.UUID) error {
	if resourceID == uuid.Nil {
		return fmt.Errorf("missing resource id")
	}
	res, err := s.resources.GetByID(dbc, resourceID)
	if err != nil {
		return fmt.Errorf("load resource: %w", err)
	}
	if res == nil {
		return ErrResourceNotFound
	}
	s.procQueue.Enqueue(func(qctx context.Context) {
		rlog := s.log.With("resource_id", resourceID.String())
		if err := s.steps.Processor.ProcessResource(qctx, resourceID, rlog); err != nil {
			rlog.Error("Resource processing failed", "error", err)
		}
	})
	return nil
}

func (s *service) QueueDepths() map[string]int {
	return map[string]int{
		ProcessingQueueName: s.procQueue.Depth(),
		BatchQueueName:      s.batchQueue.Depth(),
	}
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *service) notifyBatchQueued(sessionID, batchID uuid.UUID, total int) {
	if s.notify != nil {
		s.notify.BatchQueued(sessionID, batchID, total)
	}
}

func (s *service) notifyBatchStarted(sessionID, batchID uuid.UUID) {
	if s.notify != nil {
		s.notify.BatchStarted(sessionID, batchID)
	}
}

func (s *service) notifyBatchFinished(sessionID, batchID uuid.UUID, status string, completed, failed, total int) {
	if s.notify != nil {
		s.notify.BatchFinished(sessionID, batchID, status, completed, failed, total)
	}
}

func (s *service) notifyJobFinished(sessionID, batchID, resourceID uuid.UUID, status string) {
	if s.notify != nil {
		s.notify.JobFinished(sessionID, batchID, resourceID, status)
	}
}

func (s *service) notifyPhaseChanged(sessionID, batchID uuid.UUID, phase int, state PhaseState) {
	if s.notify != nil {
		s.notify.PhaseChanged(sessionID, batchID, phase, string(state))
	}
}
