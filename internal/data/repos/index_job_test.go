package repos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gong8/cramkit-sub000/internal/data/repos/testutil"
	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
)

func TestIndexJobRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	repo := NewIndexJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	batchID := uuid.New()

	seed := []*types.IndexJob{
		{
			ID:         uuid.New(),
			BatchID:    batchID,
			ResourceID: uuid.New(),
			Status:     types.JobStatusPending,
			SortOrder:  2,
			CreatedAt:  now.Add(-3 * time.Hour),
			UpdatedAt:  now.Add(-3 * time.Hour),
		},
		{
			ID:         uuid.New(),
			BatchID:    batchID,
			ResourceID: uuid.New(),
			Status:     types.JobStatusRunning,
			SortOrder:  0,
			CreatedAt:  now.Add(-2 * time.Hour),
			UpdatedAt:  now.Add(-2 * time.Hour),
		},
		{
			ID:           uuid.New(),
			BatchID:      batchID,
			ResourceID:   uuid.New(),
			Status:       types.JobStatusFailed,
			SortOrder:    1,
			ErrorMessage: "llm exploded",
			ErrorType:    "api_failure",
			CreatedAt:    now.Add(-1 * time.Hour),
			UpdatedAt:    now.Add(-1 * time.Hour),
		},
	}
	for _, j := range seed {
		if _, err := repo.Create(dbc, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	jobs, err := repo.ListByBatch(dbc, batchID)
	if err != nil {
		t.Fatalf("ListByBatch: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("ListByBatch: expected 3, got %d", len(jobs))
	}
	if jobs[0].SortOrder != 0 || jobs[1].SortOrder != 1 || jobs[2].SortOrder != 2 {
		t.Fatalf("ListByBatch: expected sort_order ASC, got %d,%d,%d",
			jobs[0].SortOrder, jobs[1].SortOrder, jobs[2].SortOrder)
	}

	failedJobs, err := repo.ListByBatchAndStatuses(dbc, batchID, []string{types.JobStatusFailed})
	if err != nil {
		t.Fatalf("ListByBatchAndStatuses: %v", err)
	}
	if len(failedJobs) != 1 || failedJobs[0].ErrorType != "api_failure" {
		t.Fatalf("ListByBatchAndStatuses: unexpected %+v", failedJobs)
	}

	// Cancel guard: once a job is cancelled, terminal writes must bounce.
	victim := seed[0]
	if err := repo.UpdateFields(dbc, victim.ID, map[string]interface{}{
		"status": types.JobStatusCancelled,
	}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	changed, err := repo.UpdateFieldsUnlessStatus(dbc, victim.ID, []string{types.JobStatusCancelled}, map[string]interface{}{
		"status": types.JobStatusCompleted,
	})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if changed {
		t.Fatalf("UpdateFieldsUnlessStatus: overwrote a cancelled job")
	}
	got, err := repo.GetByID(dbc, victim.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != types.JobStatusCancelled {
		t.Fatalf("expected job to stay cancelled, got %s", got.Status)
	}

	// CancelActiveByBatch hits only pending/running rows.
	n, err := repo.CancelActiveByBatch(dbc, batchID)
	if err != nil {
		t.Fatalf("CancelActiveByBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("CancelActiveByBatch: expected 1 row (the running job), got %d", n)
	}
	if got, _ = repo.GetByID(dbc, seed[1].ID); got.Status != types.JobStatusCancelled || got.CompletedAt == nil {
		t.Fatalf("CancelActiveByBatch: running job not closed out: %+v", got)
	}
	if got, _ = repo.GetByID(dbc, seed[2].ID); got.Status != types.JobStatusFailed {
		t.Fatalf("CancelActiveByBatch: failed job must be left alone")
	}

	// ResetForRetry clears error state and returns the job to pending.
	n, err = repo.ResetForRetry(dbc, []uuid.UUID{seed[2].ID, victim.ID})
	if err != nil {
		t.Fatalf("ResetForRetry: %v", err)
	}
	if n != 1 {
		t.Fatalf("ResetForRetry: expected only the failed job reset, got %d", n)
	}
	got, _ = repo.GetByID(dbc, seed[2].ID)
	if got.Status != types.JobStatusPending || got.ErrorMessage != "" || got.ErrorType != "" || got.CompletedAt != nil {
		t.Fatalf("ResetForRetry: error state not cleared: %+v", got)
	}

	// DemoteRunningByBatch simulates crash recovery.
	stuck := &types.IndexJob{
		ID:         uuid.New(),
		BatchID:    batchID,
		ResourceID: uuid.New(),
		Status:     types.JobStatusRunning,
		StartedAt:  ptrTime(now),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := repo.Create(dbc, stuck); err != nil {
		t.Fatalf("seed stuck: %v", err)
	}
	n, err = repo.DemoteRunningByBatch(dbc, batchID)
	if err != nil {
		t.Fatalf("DemoteRunningByBatch: %v", err)
	}
	if n != 1 {
		t.Fatalf("DemoteRunningByBatch: expected 1, got %d", n)
	}
	got, _ = repo.GetByID(dbc, stuck.ID)
	if got.Status != types.JobStatusPending || got.StartedAt != nil {
		t.Fatalf("DemoteRunningByBatch: job not demoted: %+v", got)
	}
}

func TestIndexJobRepoDuplicateResource(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}

	repo := NewIndexJobRepo(db, testutil.Logger(t))

	batchID := uuid.New()
	resourceID := uuid.New()

	first := &types.IndexJob{
		ID:         uuid.New(),
		BatchID:    batchID,
		ResourceID: resourceID,
		Status:     types.JobStatusPending,
	}
	if _, err := repo.Create(dbc, first); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Same resource in the same batch must be rejected as a duplicate.
	// Nothing else runs on this transaction afterwards: the failed
	// insert leaves it aborted until rollback.
	dup := &types.IndexJob{
		ID:         uuid.New(),
		BatchID:    batchID,
		ResourceID: resourceID,
		Status:     types.JobStatusPending,
	}
	_, err := repo.Create(dbc, dup)
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("Create duplicate: expected ErrDuplicateJob, got %v", err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
