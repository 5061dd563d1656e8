package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/indexing"
)

func indexingRouter(h *IndexingHandler, mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.POST("/api/sessions/:id/index", h.EnqueueBatch)
	r.POST("/api/sessions/:id/index/cancel", h.CancelBatch)
	r.POST("/api/sessions/:id/index/retry", h.RetryFailed)
	r.GET("/api/sessions/:id/index/progress", h.GetProgress)
	r.GET("/api/indexing/queues", h.GetQueueDepths)
	return r
}

func TestEnqueueBatchRoute(t *testing.T) {
	sessions := newFakeSessionRepo()
	session := seedSession(t, sessions, uuid.Nil)

	var gotIDs []uuid.UUID
	var gotThor string
	idx := &fakeIndexer{
		enqueueFn: func(sessionID uuid.UUID, resourceIDs []uuid.UUID, thoroughness string) (*types.IndexBatch, error) {
			gotIDs = resourceIDs
			gotThor = thoroughness
			return &types.IndexBatch{ID: uuid.New(), SessionID: sessionID, Total: len(resourceIDs)}, nil
		},
	}
	r := indexingRouter(NewIndexingHandler(newTestLogger(t), sessions, idx))

	r1, r2 := uuid.New(), uuid.New()
	rec := doJSON(t, r, http.MethodPost, "/api/sessions/"+session.ID.String()+"/index", map[string]any{
		"resource_ids": []string{r1.String(), r2.String()},
		"thoroughness": "exhaustive",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var body struct {
		BatchID uuid.UUID `json:"batch_id"`
	}
	decodeBody(t, rec, &body)
	if body.BatchID == uuid.Nil {
		t.Fatalf("missing batch_id in response: %s", rec.Body.String())
	}
	if len(gotIDs) != 2 || gotIDs[0] != r1 || gotIDs[1] != r2 {
		t.Fatalf("resource ids not forwarded: got=%v want=[%s %s]", gotIDs, r1, r2)
	}
	if gotThor != "exhaustive" {
		t.Fatalf("thoroughness not forwarded: got=%q", gotThor)
	}
}

func TestEnqueueBatchRejectsBadInput(t *testing.T) {
	sessions := newFakeSessionRepo()
	session := seedSession(t, sessions, uuid.Nil)
	r := indexingRouter(NewIndexingHandler(newTestLogger(t), sessions, &fakeIndexer{}))

	rec := doJSON(t, r, http.MethodPost, "/api/sessions/not-a-uuid/index", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad session param: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+uuid.New().String()+"/index", map[string]any{
		"resource_ids": []string{uuid.New().String()},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session: got=%d want=%d", rec.Code, http.StatusNotFound)
	}

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+session.ID.String()+"/index", map[string]any{
		"resource_ids": []string{"nope"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad resource id: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	decodeBody(t, rec, &env)
	if env.Error.Code != "invalid_resource_id" {
		t.Fatalf("error code: got=%q want=%q", env.Error.Code, "invalid_resource_id")
	}
}

func TestEnqueueBatchMapsServiceErrors(t *testing.T) {
	sessions := newFakeSessionRepo()
	session := seedSession(t, sessions, uuid.Nil)

	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"no resources", indexing.ErrNoResources, http.StatusBadRequest, "no_resources"},
		{"resource not found", indexing.ErrResourceNotFound, http.StatusBadRequest, "resource_not_found"},
		{"session vanished", indexing.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx := &fakeIndexer{
				enqueueFn: func(uuid.UUID, []uuid.UUID, string) (*types.IndexBatch, error) {
					return nil, tc.err
				},
			}
			r := indexingRouter(NewIndexingHandler(newTestLogger(t), sessions, idx))
			rec := doJSON(t, r, http.MethodPost, "/api/sessions/"+session.ID.String()+"/index", map[string]any{
				"resource_ids": []string{uuid.New().String()},
			})
			if rec.Code != tc.wantStatus {
				t.Fatalf("status: got=%d want=%d", rec.Code, tc.wantStatus)
			}
			var env struct {
				Error struct {
					Code string `json:"code"`
				} `json:"error"`
			}
			decodeBody(t, rec, &env)
			if env.Error.Code != tc.wantCode {
				t.Fatalf("error code: got=%q want=%q", env.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestCancelAndRetryRoutes(t *testing.T) {
	sessions := newFakeSessionRepo()
	session := seedSession(t, sessions, uuid.Nil)
	idx := &fakeIndexer{
		cancelFn: func(uuid.UUID) (bool, error) { return true, nil },
		retryFn:  func(uuid.UUID) (int, error) { return 3, nil },
	}
	r := indexingRouter(NewIndexingHandler(newTestLogger(t), sessions, idx))

	rec := doJSON(t, r, http.MethodPost, "/api/sessions/"+session.ID.String()+"/index/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	var cancelBody struct {
		Cancelled bool `json:"cancelled"`
	}
	decodeBody(t, rec, &cancelBody)
	if !cancelBody.Cancelled {
		t.Fatalf("cancelled: got=false want=true")
	}

	rec = doJSON(t, r, http.MethodPost, "/api/sessions/"+session.ID.String()+"/index/retry", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("retry status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	var retryBody struct {
		Retried int `json:"retried"`
	}
	decodeBody(t, rec, &retryBody)
	if retryBody.Retried != 3 {
		t.Fatalf("retried: got=%d want=3", retryBody.Retried)
	}
}

func TestProgressRouteNullBeforeFirstBatch(t *testing.T) {
	sessions := newFakeSessionRepo()
	session := seedSession(t, sessions, uuid.Nil)
	r := indexingRouter(NewIndexingHandler(newTestLogger(t), sessions, &fakeIndexer{}))

	rec := doJSON(t, r, http.MethodGet, "/api/sessions/"+session.ID.String()+"/index/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	var body struct {
		Progress *indexing.Progress `json:"progress"`
	}
	decodeBody(t, rec, &body)
	if body.Progress != nil {
		t.Fatalf("progress before first batch: got=%+v want=nil", body.Progress)
	}
}

func TestQueueDepthsRoute(t *testing.T) {
	r := indexingRouter(NewIndexingHandler(newTestLogger(t), newFakeSessionRepo(), &fakeIndexer{}))

	rec := doJSON(t, r, http.MethodGet, "/api/indexing/queues", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("queues status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	var body struct {
		Queues map[string]int `json:"queues"`
	}
	decodeBody(t, rec, &body)
	if body.Queues[indexing.ProcessingQueueName] != 1 || body.Queues[indexing.BatchQueueName] != 2 {
		t.Fatalf("queue depths: got=%v", body.Queues)
	}
}

func TestIndexingRoutesEnforceOwnership(t *testing.T) {
	sessions := newFakeSessionRepo()
	owner := uuid.New()
	session := seedSession(t, sessions, owner)
	h := NewIndexingHandler(newTestLogger(t), sessions, &fakeIndexer{})

	r := indexingRouter(h, withUser(uuid.New().String()))
	rec := doJSON(t, r, http.MethodGet, "/api/sessions/"+session.ID.String()+"/index/progress", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("foreign user status: got=%d want=%d", rec.Code, http.StatusForbidden)
	}

	r = indexingRouter(h, withUser(owner.String()))
	rec = doJSON(t, r, http.MethodGet, "/api/sessions/"+session.ID.String()+"/index/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner status: got=%d want=%d body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
}
