package indexing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
)

// PhaseCounts aggregates the per-resource phases live from the jobs.
type PhaseCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
	Cancelled int `json:"cancelled"`
}

func (c PhaseCounts) done() bool {
	return c.Completed+c.Failed+c.Cancelled >= c.Total
}

// ResourceProgress is one row of the per-resource breakdown.
type ResourceProgress struct {
	ResourceID   uuid.UUID `json:"resource_id"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	Foundational bool      `json:"foundational"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	DurationMs   *int64    `json:"duration_ms,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorType    string    `json:"error_type,omitempty"`
}

// Progress is the poll snapshot for a session's most relevant batch.
type Progress struct {
	BatchID     uuid.UUID          `json:"batch_id"`
	SessionID   uuid.UUID          `json:"session_id"`
	Status      string             `json:"status"`
	Cancelled   bool               `json:"cancelled"`
	Total       int                `json:"total"`
	Completed   int                `json:"completed"`
	Failed      int                `json:"failed"`
	Current     *int               `json:"current"`
	Phase1      PhaseCounts        `json:"phase1"`
	Phase2      PhaseCounts        `json:"phase2"`
	Phase3      PhaseStatus        `json:"phase3"`
	Phase4      PhaseStatus        `json:"phase4"`
	Phase5      PhaseStatus        `json:"phase5"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Resources   []ResourceProgress `json:"resources"`
}

/*
Progress builds the snapshot for a session: the running batch if one
exists, else the most recent. A pure read; it tolerates racing an
active run and returns an eventually-consistent view. Returns nil when
the session has never been indexed.
*/
func (s *service) Progress(dbc dbctx.Context, sessionID uuid.UUID) (*Progress, error) {
	if sessionID == uuid.Nil {
		return nil, fmt.Errorf("missing session id")
	}
	batch, err := s.batches.GetRunningBySession(dbc, sessionID)
	if err != nil {
		return nil, fmt.Errorf("find running batch: %w", err)
	}
	if batch == nil {
		batch, err = s.batches.GetLatestBySession(dbc, sessionID)
		if err != nil {
			return nil, fmt.Errorf("find latest batch: %w", err)
		}
	}
	if batch == nil {
		return nil, nil
	}

	jobs, err := s.jobs.ListByBatch(dbc, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	resourceIDs := make([]uuid.UUID, 0, len(jobs))
	for _, j := range jobs {
		resourceIDs = append(resourceIDs, j.ResourceID)
	}
	resources, err := s.resources.GetByIDs(dbc, resourceIDs)
	if err != nil {
		return nil, fmt.Errorf("list resources: %w", err)
	}
	resByID := make(map[uuid.UUID]*types.Resource, len(resources))
	for _, r := range resources {
		resByID[r.ID] = r
	}

	p := &Progress{
		BatchID:     batch.ID,
		SessionID:   batch.SessionID,
		Status:      batch.Status,
		Cancelled:   batch.Status == types.BatchStatusCancelled,
		Total:       batch.Total,
		Completed:   batch.Completed,
		Failed:      batch.Failed,
		StartedAt:   batch.StartedAt,
		CompletedAt: batch.CompletedAt,
		Resources:   make([]ResourceProgress, 0, len(jobs)),
	}

	for _, j := range jobs {
		res := resByID[j.ResourceID]
		row := ResourceProgress{
			ResourceID:   j.ResourceID,
			Status:       j.Status,
			Attempts:     j.Attempts,
			DurationMs:   j.DurationMs,
			ErrorMessage: j.ErrorMessage,
			ErrorType:    j.ErrorType,
		}
		if res != nil {
			row.Title = res.Title
			row.Type = res.Type
			row.Foundational = s.cfg.IsFoundational(res.Type)
		}
		p.Resources = append(p.Resources, row)

		counts := &p.Phase2
		if row.Foundational {
			counts = &p.Phase1
		}
		counts.Total++
		switch j.Status {
		case types.JobStatusCompleted:
			counts.Completed++
		case types.JobStatusFailed:
			counts.Failed++
		case types.JobStatusRunning:
			counts.Running++
		case types.JobStatusCancelled:
			counts.Cancelled++
		}
	}

	run, active := s.registry.lookup(batch.ID)
	p.Phase3 = s.resolvePhase(batch, run, active, PhaseCrossLink)
	p.Phase4 = s.resolvePhase(batch, run, active, PhaseCleanup)
	p.Phase5 = s.resolvePhase(batch, run, active, PhaseMetadata)
	p.Current = currentPhase(p)
	return p, nil
}

// resolvePhase applies the status fallback order: for a cancelled
// batch the persisted blob (else skipped); for a running batch the
// live in-memory cell first; otherwise the blob, synthesizing
// completed/pending from the batch status when nothing was persisted.
func (s *service) resolvePhase(batch *types.IndexBatch, run *batchRun, active bool, phase int) PhaseStatus {
	persisted, hasPersisted := decodePhaseStatus(phaseBlob(batch, phase))
	switch batch.Status {
	case types.BatchStatusCancelled:
		if hasPersisted {
			return persisted
		}
		return phaseSkipped()
	case types.BatchStatusRunning:
		if active {
			if st, ok := run.phase(phase); ok {
				return st
			}
		}
		if hasPersisted {
			return persisted
		}
		return phasePending()
	case types.BatchStatusCompleted:
		if hasPersisted {
			return persisted
		}
		return phaseCompleted(nil)
	default:
		if hasPersisted {
			return persisted
		}
		return phasePending()
	}
}

// currentPhase picks the first phase that has not settled, or nil
// when the batch is not running.
func currentPhase(p *Progress) *int {
	if p.Status != types.BatchStatusRunning {
		return nil
	}
	phase := 0
	switch {
	case !p.Phase1.done():
		phase = PhaseFoundational
	case !p.Phase2.done():
		phase = PhaseRemaining
	case !p.Phase3.State.Terminal():
		phase = PhaseCrossLink
	case !p.Phase4.State.Terminal():
		phase = PhaseCleanup
	case !p.Phase5.State.Terminal():
		phase = PhaseMetadata
	default:
		return nil
	}
	return &phase
}
