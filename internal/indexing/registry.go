package indexing

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Phases of a batch run. 1 and 2 index individual resources; 3-5 act
// on the whole session.
const (
	PhaseFoundational = 1
	PhaseRemaining    = 2
	PhaseCrossLink    = 3
	PhaseCleanup      = 4
	PhaseMetadata     = 5
)

var wholeSessionPhases = []int{PhaseCrossLink, PhaseCleanup, PhaseMetadata}

/*
batchRun owns the process-local state for one active batch: the
cancel handle for its context, the live whole-session phase statuses,
and the circuit breaker. It exists from scheduler start to scheduler
exit; everything durable lives on the batch row instead.
*/
type batchRun struct {
	batchID uuid.UUID
	cancel  context.CancelFunc
	breaker *breaker

	mu     sync.RWMutex
	phases map[int]PhaseStatus
}

func newBatchRun(batchID uuid.UUID, cancel context.CancelFunc, cfg Config) *batchRun {
	run := &batchRun{
		batchID: batchID,
		cancel:  cancel,
		breaker: newBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		phases:  make(map[int]PhaseStatus, len(wholeSessionPhases)),
	}
	run.resetPhases()
	return run
}

func (r *batchRun) setPhase(phase int, st PhaseStatus) {
	r.mu.Lock()
	r.phases[phase] = st
	r.mu.Unlock()
}

func (r *batchRun) phase(phase int) (PhaseStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.phases[phase]
	return st, ok
}

func (r *batchRun) resetPhases() {
	r.mu.Lock()
	for _, p := range wholeSessionPhases {
		r.phases[p] = phasePending()
	}
	r.mu.Unlock()
}

// runRegistry tracks active batch runs so external calls (cancel,
// retry, progress) can reach them by batch ID.
type runRegistry struct {
	mu   sync.Mutex
	runs map[uuid.UUID]*batchRun
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[uuid.UUID]*batchRun)}
}

func (r *runRegistry) insert(run *batchRun) {
	r.mu.Lock()
	r.runs[run.batchID] = run
	r.mu.Unlock()
}

func (r *runRegistry) remove(batchID uuid.UUID) {
	r.mu.Lock()
	delete(r.runs, batchID)
	r.mu.Unlock()
}

func (r *runRegistry) lookup(batchID uuid.UUID) (*batchRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[batchID]
	return run, ok
}

// cancel fires the run's cancel handle and drops the entry. Returns
// false when no run is active for the batch.
func (r *runRegistry) cancel(batchID uuid.UUID) bool {
	r.mu.Lock()
	run, ok := r.runs[batchID]
	if ok {
		delete(r.runs, batchID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	return true
}
