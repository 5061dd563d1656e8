package indexing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

/*
runBatch drives one batch through the five phases in strict order.
Record I/O goes through store (the queue's root context) so terminal
writes still land after the batch's own context is cancelled; runCtx
is what step invocations and cooldown sleeps observe. Every phase
boundary re-checks both the token and the persisted batch status,
since a cancel can arrive either through the registry or from another
actor writing storage directly.
*/
func (s *service) runBatch(ctx context.Context, batchID uuid.UUID) {
	store := dbctx.Context{Ctx: ctx}
	batch, err := s.batches.GetByID(store, batchID)
	if err != nil {
		s.log.Error("Batch load failed", "batch_id", batchID, "error", err)
		return
	}
	if batch == nil {
		// Deleted concurrently; nothing to do.
		return
	}
	blog := s.log.With("batch_id", batch.ID.String(), "session_id", batch.SessionID.String())

	runCtx, cancel := context.WithCancel(ctx)
	run := newBatchRun(batchID, cancel, s.cfg)
	s.registry.insert(run)
	defer func() {
		s.registry.remove(batchID)
		cancel()
	}()

	if batch.Status == types.BatchStatusPending {
		ok, err := s.batches.UpdateFieldsUnlessStatus(store, batchID,
			[]string{types.BatchStatusCancelled},
			map[string]any{
				"status":     types.BatchStatusRunning,
				"started_at": time.Now(),
			})
		if err != nil {
			blog.Error("Batch start write failed", "error", err)
			return
		}
		if !ok {
			// Cancelled before it ever started.
			return
		}
	}
	s.notifyBatchStarted(batch.SessionID, batchID)
	blog.Info("Batch run started", "total", batch.Total, "thoroughness", batch.Thoroughness)

	jobs, err := s.jobs.ListByBatch(store, batchID)
	if err != nil {
		blog.Error("Job list failed", "error", err)
		s.finalizeBatch(store, batchID, blog)
		return
	}
	resourceIDs := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		resourceIDs = append(resourceIDs, j.ResourceID)
	}
	resources, err := s.resources.GetByIDs(store, resourceIDs)
	if err != nil {
		blog.Error("Resource list failed", "error", err)
		s.finalizeBatch(store, batchID, blog)
		return
	}
	typeByResource := make(map[uuid.UUID]string, len(resources))
	for _, r := range resources {
		typeByResource[r.ID] = r.Type
	}

	// The partition is computed from resource types on every run; it
	// is never stored, so it cannot drift from the resource rows.
	var foundational, remaining []*types.IndexJob
	for _, j := range jobs {
		if s.cfg.IsFoundational(typeByResource[j.ResourceID]) {
			foundational = append(foundational, j)
		} else {
			remaining = append(remaining, j)
		}
	}

	// Phase 1: foundational resources, strictly one at a time in sort
	// order.
	for _, j := range foundational {
		if s.cancelRequested(runCtx, store, batchID) {
			break
		}
		s.runJob(runCtx, store, run, j.ID, blog)
	}

	// Phase 2: everything else through a bounded pool. Tasks already
	// admitted when a cancel fires still run their no-op check, and a
	// cancel during the drain is a normal termination.
	if !s.cancelRequested(runCtx, store, batchID) && len(remaining) > 0 {
		g, gctx := errgroup.WithContext(runCtx)
		g.SetLimit(s.cfg.Parallelism)
		for _, j := range remaining {
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				s.runJob(gctx, store, run, j.ID, blog)
				return nil
			})
		}
		_ = g.Wait()
	}

	if !s.cancelRequested(runCtx, store, batchID) {
		s.runCrossLink(runCtx, store, run, batch, blog)
	}
	if !s.cancelRequested(runCtx, store, batchID) {
		s.runCleanup(runCtx, store, run, batch, blog)
	}
	if !s.cancelRequested(runCtx, store, batchID) {
		s.runMetadata(runCtx, store, run, batch, blog)
	}

	s.finalizeBatch(store, batchID, blog)
}

// cancelRequested checks the run token and re-reads the batch row.
// A read failure is logged and the run proceeds to the next boundary.
func (s *service) cancelRequested(ctx context.Context, store dbctx.Context, batchID uuid.UUID) bool {
	if ctx.Err() != nil {
		return true
	}
	batch, err := s.batches.GetByID(store, batchID)
	if err != nil {
		s.log.Warn("Batch status re-read failed", "batch_id", batchID, "error", err)
		return false
	}
	if batch == nil {
		return true
	}
	return batch.Status == types.BatchStatusCancelled
}

func (s *service) finalizeBatch(store dbctx.Context, batchID uuid.UUID, blog *logger.Logger) {
	final, err := s.batches.GetByID(store, batchID)
	if err != nil {
		blog.Error("Batch finalize read failed", "error", err)
		return
	}
	if final == nil {
		return
	}
	if final.Status == types.BatchStatusCancelled {
		blog.Info("Batch run exited after cancellation",
			"completed", final.Completed, "failed", final.Failed)
		return
	}
	if final.Completed+final.Failed >= final.Total {
		ok, err := s.batches.UpdateFieldsUnlessStatus(store, batchID,
			[]string{types.BatchStatusCancelled},
			map[string]any{
				"status":       types.BatchStatusCompleted,
				"completed_at": time.Now(),
			})
		if err != nil {
			blog.Error("Batch finalize write failed", "error", err)
			return
		}
		if ok {
			final.Status = types.BatchStatusCompleted
		}
	}
	blog.Info("Batch run finished",
		"status", final.Status,
		"completed", final.Completed,
		"failed", final.Failed,
		"total", final.Total)
	s.notifyBatchFinished(final.SessionID, batchID, final.Status, final.Completed, final.Failed, final.Total)
}

// Phase 3: one cross-linking call across the whole session. Failure
// is recorded on the phase, never on the batch.
func (s *service) runCrossLink(ctx context.Context, store dbctx.Context, run *batchRun, batch *types.IndexBatch, blog *logger.Logger) {
	s.setPhaseRunning(run, batch, PhaseCrossLink)
	payload, err := s.steps.CrossLinker.CrossLinkSession(ctx, batch.SessionID, blog)
	if err != nil {
		if classifyStepError(err) == ErrorTypeCancelled {
			return
		}
		blog.Error("Cross-linking failed (continuing)", "error", err)
		s.persistPhase(store, run, batch, PhaseCrossLink, phaseFailed(err), blog)
		return
	}
	s.persistPhase(store, run, batch, PhaseCrossLink, phaseCompleted(payload), blog)
}

// Phase 4: deterministic cleanup, then a best-effort LLM pass whose
// failure degrades to the deterministic results.
func (s *service) runCleanup(ctx context.Context, store dbctx.Context, run *batchRun, batch *types.IndexBatch, blog *logger.Logger) {
	s.setPhaseRunning(run, batch, PhaseCleanup)
	stats, err := s.steps.Cleaner.CleanupGraph(ctx, batch.SessionID, blog)
	if err != nil {
		if classifyStepError(err) == ErrorTypeCancelled {
			return
		}
		blog.Error("Graph cleanup failed (continuing)", "error", err)
		s.persistPhase(store, run, batch, PhaseCleanup, phaseFailed(err), blog)
		return
	}
	if stats == nil {
		stats = map[string]any{}
	}
	llmStats, err := s.steps.Cleaner.CleanupGraphLLM(ctx, batch.SessionID, blog)
	if err != nil {
		if classifyStepError(err) == ErrorTypeCancelled {
			return
		}
		blog.Warn("LLM cleanup pass failed (continuing)", "error", err)
	} else if llmStats != nil {
		stats["llm"] = llmStats
	}
	s.persistPhase(store, run, batch, PhaseCleanup, phaseCompleted(stats), blog)
}

// Phase 5: metadata extraction over resources whose jobs completed
// and that have no metadata yet. Per-resource failures land in the
// phase payload, not on the jobs.
func (s *service) runMetadata(ctx context.Context, store dbctx.Context, run *batchRun, batch *types.IndexBatch, blog *logger.Logger) {
	s.setPhaseRunning(run, batch, PhaseMetadata)
	completed, err := s.jobs.ListByBatchAndStatuses(store, batch.ID, []string{types.JobStatusCompleted})
	if err != nil {
		blog.Error("Completed job list failed", "error", err)
		s.persistPhase(store, run, batch, PhaseMetadata, phaseFailed(err), blog)
		return
	}
	ids := make([]uuid.UUID, 0, len(completed))
	for _, j := range completed {
		ids = append(ids, j.ResourceID)
	}
	resources, err := s.resources.GetByIDs(store, ids)
	if err != nil {
		blog.Error("Resource list failed", "error", err)
		s.persistPhase(store, run, batch, PhaseMetadata, phaseFailed(err), blog)
		return
	}
	targets := make([]uuid.UUID, 0, len(resources))
	for _, r := range resources {
		if r.MetadataExtractedAt == nil {
			targets = append(targets, r.ID)
		}
	}

	var mu sync.Mutex
	extracted, failed := 0, 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MetadataParallelism)
	for _, rid := range targets {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := s.steps.Metadata.ExtractResourceMetadata(gctx, rid, blog); err != nil {
				if classifyStepError(err) == ErrorTypeCancelled {
					return nil
				}
				blog.Warn("Metadata extraction failed", "resource_id", rid, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			extracted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return
	}
	s.persistPhase(store, run, batch, PhaseMetadata, phaseCompleted(map[string]any{
		"eligible":  len(targets),
		"extracted": extracted,
		"failed":    failed,
	}), blog)
}

func (s *service) setPhaseRunning(run *batchRun, batch *types.IndexBatch, phase int) {
	run.setPhase(phase, phaseRunning())
	s.notifyPhaseChanged(batch.SessionID, batch.ID, phase, PhaseStateRunning)
}

func (s *service) persistPhase(store dbctx.Context, run *batchRun, batch *types.IndexBatch, phase int, st PhaseStatus, blog *logger.Logger) {
	run.setPhase(phase, st)
	if err := s.batches.SetPhaseStatus(store, batch.ID, phase, encodePhaseStatus(st)); err != nil {
		blog.Error("Phase status persist failed", "phase", phase, "error", err)
	}
	s.notifyPhaseChanged(batch.SessionID, batch.ID, phase, st.State)
}

func phaseBlob(b *types.IndexBatch, phase int) datatypes.JSON {
	switch phase {
	case PhaseCrossLink:
		return b.Phase3Status
	case PhaseCleanup:
		return b.Phase4Status
	case PhaseMetadata:
		return b.Phase5Status
	}
	return nil
}
