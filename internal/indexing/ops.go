package indexing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
)

// Cancel stops the session's currently-running batch. Storage is
// updated before the token fires so any task that observes the abort
// already sees the cancelled row. Returns false when the session has
// no running batch.
func (s *service) Cancel(dbc dbctx.Context, sessionID uuid.UUID) (bool, error) {
	if sessionID == uuid.Nil {
		return false, fmt.Errorf("missing session id")
	}
	batch, err := s.batches.GetRunningBySession(dbc, sessionID)
	if err != nil {
		return false, fmt.Errorf("find running batch: %w", err)
	}
	if batch == nil {
		return false, nil
	}
	blog := s.log.With("batch_id", batch.ID.String(), "session_id", sessionID.String())

	if err := s.batches.UpdateFields(dbc, batch.ID, map[string]any{
		"status":       types.BatchStatusCancelled,
		"completed_at": time.Now(),
	}); err != nil {
		return false, fmt.Errorf("cancel batch: %w", err)
	}
	cancelled, err := s.jobs.CancelActiveByBatch(dbc, batch.ID)
	if err != nil {
		return false, fmt.Errorf("cancel jobs: %w", err)
	}

	s.registry.cancel(batch.ID)

	// Phases that never reached a terminal state read back as skipped.
	for _, phase := range wholeSessionPhases {
		if st, ok := decodePhaseStatus(phaseBlob(batch, phase)); ok && st.State.Terminal() {
			continue
		}
		if err := s.batches.SetPhaseStatus(dbc, batch.ID, phase, encodePhaseStatus(phaseSkipped())); err != nil {
			blog.Error("Skipped status persist failed", "phase", phase, "error", err)
		}
	}

	blog.Info("Batch cancelled", "jobs_cancelled", cancelled)
	s.notifyBatchFinished(sessionID, batch.ID, types.BatchStatusCancelled, batch.Completed, batch.Failed, batch.Total)
	return true, nil
}

// RetryFailed resets the failed jobs on the session's most recent
// batch and re-enqueues the whole batch; settled jobs are skipped by
// the executor when the phases run again. Returns the number of jobs
// reset.
func (s *service) RetryFailed(dbc dbctx.Context, sessionID uuid.UUID) (int, error) {
	if sessionID == uuid.Nil {
		return 0, fmt.Errorf("missing session id")
	}
	batch, err := s.batches.GetLatestBySession(dbc, sessionID)
	if err != nil {
		return 0, fmt.Errorf("find batch: %w", err)
	}
	if batch == nil {
		return 0, nil
	}
	failedJobs, err := s.jobs.ListByBatchAndStatuses(dbc, batch.ID, []string{types.JobStatusFailed})
	if err != nil {
		return 0, fmt.Errorf("list failed jobs: %w", err)
	}
	if len(failedJobs) == 0 {
		return 0, nil
	}
	ids := make([]uuid.UUID, 0, len(failedJobs))
	for _, j := range failedJobs {
		ids = append(ids, j.ID)
	}
	reset, err := s.jobs.ResetForRetry(dbc, ids)
	if err != nil {
		return 0, fmt.Errorf("reset failed jobs: %w", err)
	}
	retried := int(reset)

	if batch.Status != types.BatchStatusRunning {
		if err := s.batches.UpdateFields(dbc, batch.ID, map[string]any{
			"status":       types.BatchStatusRunning,
			"failed":       0,
			"completed_at": nil,
		}); err != nil {
			return retried, fmt.Errorf("reopen batch: %w", err)
		}
	} else if retried > 0 {
		if err := s.batches.DecrementFailed(dbc, batch.ID, retried); err != nil {
			return retried, fmt.Errorf("decrement failed counter: %w", err)
		}
	}

	if run, ok := s.registry.lookup(batch.ID); ok {
		run.resetPhases()
	}
	s.batchQueue.Enqueue(func(qctx context.Context) {
		s.runBatch(qctx, batch.ID)
	})
	s.log.Info("Retry enqueued",
		"batch_id", batch.ID,
		"session_id", sessionID,
		"retried", retried)
	return retried, nil
}

// ResumeOnStartup re-enqueues batches left running by a previous
// process, demoting their stuck jobs back to pending first. Returns
// the number of batches resumed.
func (s *service) ResumeOnStartup(dbc dbctx.Context) (int, error) {
	batches, err := s.batches.ListByStatus(dbc, types.BatchStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running batches: %w", err)
	}
	resumed := 0
	for _, b := range batches {
		demoted, err := s.jobs.DemoteRunningByBatch(dbc, b.ID)
		if err != nil {
			s.log.Error("Stuck job demotion failed", "batch_id", b.ID, "error", err)
			continue
		}
		s.batchQueue.Enqueue(func(qctx context.Context) {
			s.runBatch(qctx, b.ID)
		})
		resumed++
		s.log.Info("Resuming interrupted batch",
			"batch_id", b.ID,
			"session_id", b.SessionID,
			"demoted_jobs", demoted)
	}
	return resumed, nil
}
