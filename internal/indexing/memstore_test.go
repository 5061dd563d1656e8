package indexing

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

// memStore backs the repo fakes with one mutex-guarded table set so
// orchestrator tests run without a database.
type memStore struct {
	mu        sync.Mutex
	clock     time.Time
	sessions  map[uuid.UUID]*types.StudySession
	resources map[uuid.UUID]*types.Resource
	batches   map[uuid.UUID]*types.IndexBatch
	jobs      map[uuid.UUID]*types.IndexJob
	batchSeq  []uuid.UUID
	jobSeq    []uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		sessions:  make(map[uuid.UUID]*types.StudySession),
		resources: make(map[uuid.UUID]*types.Resource),
		batches:   make(map[uuid.UUID]*types.IndexBatch),
		jobs:      make(map[uuid.UUID]*types.IndexJob),
	}
}

func (m *memStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *memStore) addSession(title string) *types.StudySession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &types.StudySession{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		Title:       title,
		CreatedAt:   m.tick(),
		UpdatedAt:   m.clock,
	}
	m.sessions[s.ID] = s
	cp := *s
	return &cp
}

func (m *memStore) addResource(sessionID uuid.UUID, title, resourceType string) *types.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := &types.Resource{
		ID:        uuid.New(),
		SessionID: sessionID,
		Title:     title,
		Type:      resourceType,
		CreatedAt: m.tick(),
		UpdatedAt: m.clock,
	}
	m.resources[r.ID] = r
	cp := *r
	return &cp
}

func (m *memStore) addBatch(sessionID uuid.UUID, status string, total, completed, failed int) *types.IndexBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &types.IndexBatch{
		ID:           uuid.New(),
		SessionID:    sessionID,
		Status:       status,
		Total:        total,
		Completed:    completed,
		Failed:       failed,
		Thoroughness: "balanced",
		CreatedAt:    m.tick(),
		UpdatedAt:    m.clock,
	}
	if status != types.BatchStatusPending {
		started := b.CreatedAt
		b.StartedAt = &started
	}
	m.batches[b.ID] = b
	m.batchSeq = append(m.batchSeq, b.ID)
	cp := *b
	return &cp
}

func (m *memStore) addJob(batchID, resourceID uuid.UUID, status string, sortOrder int) *types.IndexJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := &types.IndexJob{
		ID:           uuid.New(),
		BatchID:      batchID,
		ResourceID:   resourceID,
		Status:       status,
		SortOrder:    sortOrder,
		Thoroughness: "balanced",
		CreatedAt:    m.tick(),
		UpdatedAt:    m.clock,
	}
	if status == types.JobStatusRunning {
		started := j.CreatedAt
		j.StartedAt = &started
	}
	m.jobs[j.ID] = j
	m.jobSeq = append(m.jobSeq, j.ID)
	cp := *j
	return &cp
}

func (m *memStore) batchByID(id uuid.UUID) *types.IndexBatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok {
		return nil
	}
	cp := *b
	return &cp
}

func (m *memStore) jobsByBatch(batchID uuid.UUID) []*types.IndexJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.IndexJob
	for _, id := range m.jobSeq {
		j := m.jobs[id]
		if j.BatchID == batchID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortOrder < out[b].SortOrder })
	return out
}

func (m *memStore) resourceByID(id uuid.UUID) *types.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[id]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

type memSessionRepo struct{ s *memStore }

func (r memSessionRepo) Create(_ dbctx.Context, session *types.StudySession) (*types.StudySession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *session
	r.s.sessions[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r memSessionRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.StudySession, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

type memResourceRepo struct{ s *memStore }

func (r memResourceRepo) Create(_ dbctx.Context, resource *types.Resource) (*types.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *resource
	r.s.resources[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (r memResourceRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.resources[id]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

func (r memResourceRepo) GetByIDs(_ dbctx.Context, ids []uuid.UUID) ([]*types.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.Resource
	for _, id := range ids {
		if res, ok := r.s.resources[id]; ok {
			cp := *res
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r memResourceRepo) ListBySession(_ dbctx.Context, sessionID uuid.UUID) ([]*types.Resource, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.Resource
	for _, res := range r.s.resources {
		if res.SessionID == sessionID {
			cp := *res
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (r memResourceRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	res, ok := r.s.resources[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "title":
			res.Title = v.(string)
		case "type":
			res.Type = v.(string)
		case "text_content":
			res.TextContent = v.(string)
		case "metadata":
			res.Metadata = v.(datatypes.JSON)
		case "metadata_extracted_at":
			res.MetadataExtractedAt = toTimePtrVal(v)
		case "updated_at":
			res.UpdatedAt = toTimeVal(v)
		}
	}
	return nil
}

type memBatchRepo struct{ s *memStore }

func (r memBatchRepo) Create(_ dbctx.Context, batch *types.IndexBatch) (*types.IndexBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *batch
	r.s.batches[cp.ID] = &cp
	r.s.batchSeq = append(r.s.batchSeq, cp.ID)
	out := cp
	return &out, nil
}

func (r memBatchRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.IndexBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r memBatchRepo) GetRunningBySession(_ dbctx.Context, sessionID uuid.UUID) (*types.IndexBatch, error) {
	return r.lastMatching(sessionID, true)
}

func (r memBatchRepo) GetLatestBySession(_ dbctx.Context, sessionID uuid.UUID) (*types.IndexBatch, error) {
	return r.lastMatching(sessionID, false)
}

func (r memBatchRepo) lastMatching(sessionID uuid.UUID, runningOnly bool) (*types.IndexBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var found *types.IndexBatch
	for _, id := range r.s.batchSeq {
		b := r.s.batches[id]
		if b.SessionID != sessionID {
			continue
		}
		if runningOnly && b.Status != types.BatchStatusRunning {
			continue
		}
		if found == nil || !b.CreatedAt.Before(found.CreatedAt) {
			found = b
		}
	}
	if found == nil {
		return nil, nil
	}
	cp := *found
	return &cp, nil
}

func (r memBatchRepo) ListByStatus(_ dbctx.Context, status string) ([]*types.IndexBatch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.IndexBatch
	for _, id := range r.s.batchSeq {
		b := r.s.batches[id]
		if b.Status == status {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out, nil
}

func (r memBatchRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.batches[id]; ok {
		applyBatchUpdates(b, updates)
	}
	return nil
}

func (r memBatchRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return false, nil
	}
	for _, st := range disallowedStatuses {
		if b.Status == st {
			return false, nil
		}
	}
	applyBatchUpdates(b, updates)
	return true, nil
}

func (r memBatchRepo) IncrementCompleted(_ dbctx.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.batches[id]; ok {
		b.Completed++
	}
	return nil
}

func (r memBatchRepo) IncrementFailed(_ dbctx.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.batches[id]; ok {
		b.Failed++
	}
	return nil
}

func (r memBatchRepo) DecrementFailed(_ dbctx.Context, id uuid.UUID, by int) error {
	if by <= 0 {
		return nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if b, ok := r.s.batches[id]; ok {
		b.Failed -= by
		if b.Failed < 0 {
			b.Failed = 0
		}
	}
	return nil
}

func (r memBatchRepo) SetPhaseStatus(_ dbctx.Context, id uuid.UUID, phase int, blob datatypes.JSON) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.batches[id]
	if !ok {
		return nil
	}
	switch phase {
	case PhaseCrossLink:
		b.Phase3Status = blob
	case PhaseCleanup:
		b.Phase4Status = blob
	case PhaseMetadata:
		b.Phase5Status = blob
	}
	return nil
}

type memJobRepo struct{ s *memStore }

func (r memJobRepo) Create(_ dbctx.Context, job *types.IndexJob) (*types.IndexJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *job
	r.s.jobs[cp.ID] = &cp
	r.s.jobSeq = append(r.s.jobSeq, cp.ID)
	out := cp
	return &out, nil
}

func (r memJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*types.IndexJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r memJobRepo) ListByBatch(_ dbctx.Context, batchID uuid.UUID) ([]*types.IndexJob, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*types.IndexJob
	for _, id := range r.s.jobSeq {
		j := r.s.jobs[id]
		if j.BatchID == batchID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].SortOrder < out[b].SortOrder })
	return out, nil
}

func (r memJobRepo) ListByBatchAndStatuses(dbc dbctx.Context, batchID uuid.UUID, statuses []string) ([]*types.IndexJob, error) {
	all, err := r.ListByBatch(dbc, batchID)
	if err != nil {
		return nil, err
	}
	var out []*types.IndexJob
	for _, j := range all {
		for _, st := range statuses {
			if j.Status == st {
				out = append(out, j)
				break
			}
		}
	}
	return out, nil
}

func (r memJobRepo) UpdateFields(_ dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if j, ok := r.s.jobs[id]; ok {
		applyJobUpdates(j, updates)
	}
	return nil
}

func (r memJobRepo) UpdateFieldsUnlessStatus(_ dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return false, nil
	}
	for _, st := range disallowedStatuses {
		if j.Status == st {
			return false, nil
		}
	}
	applyJobUpdates(j, updates)
	return true, nil
}

func (r memJobRepo) CancelActiveByBatch(_ dbctx.Context, batchID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	now := r.s.tick()
	for _, id := range r.s.jobSeq {
		j := r.s.jobs[id]
		if j.BatchID != batchID {
			continue
		}
		if j.Status == types.JobStatusPending || j.Status == types.JobStatusRunning {
			j.Status = types.JobStatusCancelled
			completed := now
			j.CompletedAt = &completed
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r memJobRepo) ResetForRetry(_ dbctx.Context, ids []uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range ids {
		j, ok := r.s.jobs[id]
		if !ok || j.Status != types.JobStatusFailed {
			continue
		}
		j.Status = types.JobStatusPending
		j.ErrorMessage = ""
		j.ErrorType = ""
		j.StartedAt = nil
		j.CompletedAt = nil
		j.DurationMs = nil
		j.UpdatedAt = r.s.tick()
		n++
	}
	return n, nil
}

func (r memJobRepo) DemoteRunningByBatch(_ dbctx.Context, batchID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, id := range r.s.jobSeq {
		j := r.s.jobs[id]
		if j.BatchID == batchID && j.Status == types.JobStatusRunning {
			j.Status = types.JobStatusPending
			j.StartedAt = nil
			j.UpdatedAt = r.s.tick()
			n++
		}
	}
	return n, nil
}

func applyBatchUpdates(b *types.IndexBatch, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			b.Status = v.(string)
		case "total":
			b.Total = toIntVal(v)
		case "completed":
			b.Completed = toIntVal(v)
		case "failed":
			b.Failed = toIntVal(v)
		case "started_at":
			b.StartedAt = toTimePtrVal(v)
		case "completed_at":
			b.CompletedAt = toTimePtrVal(v)
		case "updated_at":
			b.UpdatedAt = toTimeVal(v)
		}
	}
}

func applyJobUpdates(j *types.IndexJob, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "status":
			j.Status = v.(string)
		case "attempts":
			j.Attempts = toIntVal(v)
		case "error_message":
			j.ErrorMessage = v.(string)
		case "error_type":
			j.ErrorType = v.(string)
		case "started_at":
			j.StartedAt = toTimePtrVal(v)
		case "completed_at":
			j.CompletedAt = toTimePtrVal(v)
		case "duration_ms":
			j.DurationMs = toInt64PtrVal(v)
		case "updated_at":
			j.UpdatedAt = toTimeVal(v)
		}
	}
}

func toIntVal(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	}
	return 0
}

func toTimeVal(v interface{}) time.Time {
	if t, ok := v.(time.Time); ok {
		return t
	}
	return time.Time{}
}

func toTimePtrVal(v interface{}) *time.Time {
	switch t := v.(type) {
	case nil:
		return nil
	case time.Time:
		return &t
	case *time.Time:
		return t
	}
	return nil
}

func toInt64PtrVal(v interface{}) *int64 {
	switch n := v.(type) {
	case nil:
		return nil
	case int64:
		return &n
	case int:
		i := int64(n)
		return &i
	case *int64:
		return n
	}
	return nil
}

// fakeExtraction implements every step interface with optional
// per-test hooks. Call order is recorded for ordering assertions.
type fakeExtraction struct {
	mu           sync.Mutex
	indexed      []uuid.UUID
	indexTimes   []time.Time
	thoroughness []string
	crossLinks   int
	cleanups     int
	llmCleanups  int
	metadata     []uuid.UUID
	processed    []uuid.UUID

	indexFn func(ctx context.Context, resourceID uuid.UUID) error
	crossFn func(ctx context.Context) (map[string]any, error)
	cleanFn func(ctx context.Context) (map[string]any, error)
	llmFn   func(ctx context.Context) (map[string]any, error)
	metaFn  func(ctx context.Context, resourceID uuid.UUID) error
}

func (f *fakeExtraction) bundle() Steps {
	return Steps{
		Indexer:     f,
		CrossLinker: f,
		Cleaner:     f,
		Metadata:    f,
		Processor:   f,
	}
}

func (f *fakeExtraction) setIndexFn(fn func(ctx context.Context, resourceID uuid.UUID) error) {
	f.mu.Lock()
	f.indexFn = fn
	f.mu.Unlock()
}

func (f *fakeExtraction) indexedOrder() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.indexed...)
}

func (f *fakeExtraction) indexStartTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.indexTimes...)
}

func (f *fakeExtraction) counts() (crossLinks, cleanups, llmCleanups, metadata int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.crossLinks, f.cleanups, f.llmCleanups, len(f.metadata)
}

func (f *fakeExtraction) processedOrder() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.processed...)
}

func (f *fakeExtraction) IndexResourceGraph(ctx context.Context, resourceID uuid.UUID, thoroughness string, _ *logger.Logger) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, resourceID)
	f.indexTimes = append(f.indexTimes, time.Now())
	f.thoroughness = append(f.thoroughness, thoroughness)
	fn := f.indexFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, resourceID)
	}
	return nil
}

func (f *fakeExtraction) CrossLinkSession(ctx context.Context, _ uuid.UUID, _ *logger.Logger) (map[string]any, error) {
	f.mu.Lock()
	f.crossLinks++
	fn := f.crossFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return map[string]any{"links_added": "2"}, nil
}

func (f *fakeExtraction) CleanupGraph(ctx context.Context, _ uuid.UUID, _ *logger.Logger) (map[string]any, error) {
	f.mu.Lock()
	f.cleanups++
	fn := f.cleanFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return map[string]any{"orphans_removed": "1"}, nil
}

func (f *fakeExtraction) CleanupGraphLLM(ctx context.Context, _ uuid.UUID, _ *logger.Logger) (map[string]any, error) {
	f.mu.Lock()
	f.llmCleanups++
	fn := f.llmFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return map[string]any{"merged": "0"}, nil
}

func (f *fakeExtraction) ExtractResourceMetadata(ctx context.Context, resourceID uuid.UUID, _ *logger.Logger) error {
	f.mu.Lock()
	f.metadata = append(f.metadata, resourceID)
	fn := f.metaFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, resourceID)
	}
	return nil
}

func (f *fakeExtraction) ProcessResource(_ context.Context, resourceID uuid.UUID, _ *logger.Logger) error {
	f.mu.Lock()
	f.processed = append(f.processed, resourceID)
	f.mu.Unlock()
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotifier) record(ev string) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *fakeNotifier) has(ev string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == ev {
			return true
		}
	}
	return false
}

func (n *fakeNotifier) BatchQueued(_, _ uuid.UUID, _ int) { n.record("batch_queued") }
func (n *fakeNotifier) BatchStarted(_, _ uuid.UUID)       { n.record("batch_started") }
func (n *fakeNotifier) BatchFinished(_, _ uuid.UUID, status string, _, _, _ int) {
	n.record("batch_finished:" + status)
}
func (n *fakeNotifier) JobFinished(_, _, _ uuid.UUID, status string) {
	n.record("job_finished:" + status)
}
func (n *fakeNotifier) PhaseChanged(_, _ uuid.UUID, _ int, _ string) { n.record("phase_changed") }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BreakerCooldown = 50 * time.Millisecond
	return cfg
}

func newTestService(t *testing.T, cfg Config) (*service, *memStore, *fakeExtraction, *fakeNotifier) {
	t.Helper()
	store := newMemStore()
	svc, steps, notify := newTestServiceWithStore(t, cfg, store)
	return svc, store, steps, notify
}

func newTestServiceWithStore(t *testing.T, cfg Config, store *memStore) (*service, *fakeExtraction, *fakeNotifier) {
	t.Helper()
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	steps := &fakeExtraction{}
	notify := &fakeNotifier{}
	svc := NewService(nil, log, cfg,
		memSessionRepo{store}, memResourceRepo{store},
		memBatchRepo{store}, memJobRepo{store},
		steps.bundle(), notify)
	return svc.(*service), steps, notify
}

// startTestService also runs the queues, stopping them in cleanup.
func startTestService(t *testing.T, cfg Config) (*service, *memStore, *fakeExtraction, *fakeNotifier) {
	t.Helper()
	svc, store, steps, notify := newTestService(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		svc.Close()
	})
	return svc, store, steps, notify
}

func bg() dbctx.Context {
	return dbctx.Context{Ctx: context.Background()}
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForBatchStatus(t *testing.T, store *memStore, batchID uuid.UUID, status string) *types.IndexBatch {
	t.Helper()
	waitUntil(t, 5*time.Second, "batch status "+status, func() bool {
		b := store.batchByID(batchID)
		return b != nil && b.Status == status
	})
	return store.batchByID(batchID)
}

func waitForJobsSettled(t *testing.T, store *memStore, batchID uuid.UUID) {
	t.Helper()
	waitUntil(t, 5*time.Second, "jobs settled", func() bool {
		jobs := store.jobsByBatch(batchID)
		if len(jobs) == 0 {
			return false
		}
		for _, j := range jobs {
			if j.Status == types.JobStatusPending || j.Status == types.JobStatusRunning {
				return false
			}
		}
		return true
	})
}
