package indexing

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

const maxErrorMessageLen = 2000

/*
runJob executes one graph-indexing job: single attempt, no automatic
retry. ctx is the run's cancellable context and gates the step call
and the breaker cooldown; store carries record I/O so terminal writes
survive the token firing. Jobs that are no longer pending are skipped,
which is what makes whole-batch re-runs (retry, resume) safe.
*/
func (s *service) runJob(ctx context.Context, store dbctx.Context, run *batchRun, jobID uuid.UUID, blog *logger.Logger) {
	job, err := s.jobs.GetByID(store, jobID)
	if err != nil {
		blog.Error("Job load failed", "job_id", jobID, "error", err)
		return
	}
	if job == nil {
		return
	}
	if job.Status != types.JobStatusPending {
		return
	}
	jlog := blog.With("job_id", job.ID.String(), "resource_id", job.ResourceID.String())

	batch, err := s.batches.GetByID(store, job.BatchID)
	if err != nil {
		jlog.Error("Batch load failed", "error", err)
		return
	}
	if batch == nil {
		return
	}
	if batch.Status == types.BatchStatusCancelled {
		s.markJobCancelled(store, job, jlog)
		return
	}

	if run.breaker.open() {
		jlog.Warn("Circuit breaker open; cooling down",
			"failures", run.breaker.failures(),
			"cooldown", s.cfg.BreakerCooldown.String())
	}
	if err := run.breaker.waitIfOpen(ctx); err != nil {
		// Aborted mid-cooldown.
		if s.batchCancelled(store, job.BatchID) {
			s.markJobCancelled(store, job, jlog)
		}
		return
	}

	started := time.Now()
	if err := s.jobs.UpdateFields(store, job.ID, map[string]any{
		"status":     types.JobStatusRunning,
		"started_at": started,
		"attempts":   job.Attempts + 1,
	}); err != nil {
		jlog.Error("Job start write failed", "error", err)
		return
	}

	thoroughness := job.Thoroughness
	if thoroughness == "" {
		thoroughness = batch.Thoroughness
	}
	stepErr := s.steps.Indexer.IndexResourceGraph(ctx, job.ResourceID, thoroughness, jlog)
	duration := time.Since(started).Milliseconds()

	// The batch may have been cancelled while the call was in flight;
	// a void run must not record success or bump counters.
	if s.batchCancelled(store, job.BatchID) {
		s.markJobCancelled(store, job, jlog)
		return
	}

	if stepErr == nil {
		ok, err := s.jobs.UpdateFieldsUnlessStatus(store, job.ID,
			[]string{types.JobStatusCancelled},
			map[string]any{
				"status":       types.JobStatusCompleted,
				"completed_at": time.Now(),
				"duration_ms":  duration,
			})
		if err != nil {
			jlog.Error("Job completion write failed", "error", err)
			return
		}
		if !ok {
			return
		}
		if err := s.batches.IncrementCompleted(store, job.BatchID); err != nil {
			jlog.Error("Completed counter increment failed", "error", err)
		}
		run.breaker.reset()
		s.notifyJobFinished(batch.SessionID, job.BatchID, job.ResourceID, types.JobStatusCompleted)
		jlog.Info("Job completed", "duration_ms", duration)
		return
	}

	errType := classifyStepError(stepErr)
	if errType == ErrorTypeCancelled {
		if s.batchCancelled(store, job.BatchID) {
			s.markJobCancelled(store, job, jlog)
		}
		// Cancellation without a cancelled batch means the process is
		// shutting down; leave the row for startup recovery.
		return
	}
	ok, err := s.jobs.UpdateFieldsUnlessStatus(store, job.ID,
		[]string{types.JobStatusCancelled},
		map[string]any{
			"status":        types.JobStatusFailed,
			"error_message": truncateMessage(stepErr.Error()),
			"error_type":    errType,
			"completed_at":  time.Now(),
			"duration_ms":   duration,
		})
	if err != nil {
		jlog.Error("Job failure write failed", "error", err)
		return
	}
	if !ok {
		return
	}
	if err := s.batches.IncrementFailed(store, job.BatchID); err != nil {
		jlog.Error("Failed counter increment failed", "error", err)
	}
	if errType == ErrorTypeAPIFailure {
		run.breaker.recordFailure()
	} else {
		run.breaker.reset()
	}
	s.notifyJobFinished(batch.SessionID, job.BatchID, job.ResourceID, types.JobStatusFailed)
	jlog.Warn("Job failed", "error_type", errType, "error", stepErr, "duration_ms", duration)
}

// markJobCancelled settles a pending/running job as cancelled without
// touching rows that already reached a terminal state.
func (s *service) markJobCancelled(store dbctx.Context, job *types.IndexJob, jlog *logger.Logger) {
	ok, err := s.jobs.UpdateFieldsUnlessStatus(store, job.ID,
		[]string{types.JobStatusCancelled, types.JobStatusCompleted, types.JobStatusFailed},
		map[string]any{
			"status":       types.JobStatusCancelled,
			"completed_at": time.Now(),
		})
	if err != nil {
		jlog.Error("Job cancel write failed", "error", err)
		return
	}
	if ok {
		jlog.Debug("Job cancelled")
	}
}

// batchCancelled re-reads the batch row. Read failures are logged and
// treated as not-cancelled; the status guards on job writes still
// protect rows another actor cancelled.
func (s *service) batchCancelled(store dbctx.Context, batchID uuid.UUID) bool {
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

func truncateMessage(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	return msg[:maxErrorMessageLen]
}
