package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/indexing"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/ctxutil"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*types.StudySession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[uuid.UUID]*types.StudySession{}}
}

func (f *fakeSessionRepo) Create(dbc dbctx.Context, session *types.StudySession) (*types.StudySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *session
	f.sessions[session.ID] = &cp
	return session, nil
}

func (f *fakeSessionRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.StudySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

type fakeResourceRepo struct {
	mu        sync.Mutex
	resources map[uuid.UUID]*types.Resource
}

func newFakeResourceRepo() *fakeResourceRepo {
	return &fakeResourceRepo{resources: map[uuid.UUID]*types.Resource{}}
}

func (f *fakeResourceRepo) Create(dbc dbctx.Context, resource *types.Resource) (*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *resource
	f.resources[resource.ID] = &cp
	return resource, nil
}

func (f *fakeResourceRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.resources[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (f *fakeResourceRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Resource
	for _, id := range ids {
		if r, ok := f.resources[id]; ok {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeResourceRepo) ListBySession(dbc dbctx.Context, sessionID uuid.UUID) ([]*types.Resource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Resource
	for _, r := range f.resources {
		if r.SessionID == sessionID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeResourceRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

// fakeIndexer satisfies indexing.Service with per-call overrides.
type fakeIndexer struct {
	mu        sync.Mutex
	processed []uuid.UUID

	enqueueFn  func(sessionID uuid.UUID, resourceIDs []uuid.UUID, thoroughness string) (*types.IndexBatch, error)
	cancelFn   func(sessionID uuid.UUID) (bool, error)
	retryFn    func(sessionID uuid.UUID) (int, error)
	progressFn func(sessionID uuid.UUID) (*indexing.Progress, error)
}

func (f *fakeIndexer) Start(ctx context.Context) {}
func (f *fakeIndexer) Close()                    {}

func (f *fakeIndexer) EnqueueBatch(dbc dbctx.Context, sessionID uuid.UUID, resourceIDs []uuid.UUID, thoroughness string) (*types.IndexBatch, error) {
	if f.enqueueFn != nil {
		return f.enqueueFn(sessionID, resourceIDs, thoroughness)
	}
	return &types.IndexBatch{ID: uuid.New(), SessionID: sessionID, Total: len(resourceIDs)}, nil
}

func (f *fakeIndexer) EnqueueResourceProcessing(dbc dbctx.Context, resourceID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, resourceID)
	return nil
}

func (f *fakeIndexer) Cancel(dbc dbctx.Context, sessionID uuid.UUID) (bool, error) {
	if f.cancelFn != nil {
		return f.cancelFn(sessionID)
	}
	return false, nil
}

func (f *fakeIndexer) RetryFailed(dbc dbctx.Context, sessionID uuid.UUID) (int, error) {
	if f.retryFn != nil {
		return f.retryFn(sessionID)
	}
	return 0, nil
}

func (f *fakeIndexer) ResumeOnStartup(dbc dbctx.Context) (int, error) { return 0, nil }

func (f *fakeIndexer) Progress(dbc dbctx.Context, sessionID uuid.UUID) (*indexing.Progress, error) {
	if f.progressFn != nil {
		return f.progressFn(sessionID)
	}
	return nil, nil
}

func (f *fakeIndexer) QueueDepths() map[string]int {
	return map[string]int{indexing.ProcessingQueueName: 1, indexing.BatchQueueName: 2}
}

func (f *fakeIndexer) processedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.processed...)
}

func emptyDBC() dbctx.Context {
	return dbctx.New(context.Background())
}

func seedSession(t *testing.T, sessions *fakeSessionRepo, owner uuid.UUID) *types.StudySession {
	t.Helper()
	session := &types.StudySession{ID: uuid.New(), OwnerUserID: owner, Title: "thermo finals"}
	if _, err := sessions.Create(emptyDBC(), session); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return session
}

// withUser simulates the auth middleware for ownership tests.
func withUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(ctxutil.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response body %q: %v", rec.Body.String(), err)
	}
}
