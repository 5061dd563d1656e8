package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gong8/cramkit-sub000/internal/data/repos"
	"github.com/gong8/cramkit-sub000/internal/http/response"
	"github.com/gong8/cramkit-sub000/internal/indexing"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type IndexingHandler struct {
	log      *logger.Logger
	sessions repos.SessionRepo
	indexer  indexing.Service
}

func NewIndexingHandler(log *logger.Logger, sessions repos.SessionRepo, indexer indexing.Service) *IndexingHandler {
	return &IndexingHandler{
		log:      log.With("handler", "IndexingHandler"),
		sessions: sessions,
		indexer:  indexer,
	}
}

// POST /api/sessions/:id/index
func (h *IndexingHandler) EnqueueBatch(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}
	var req struct {
		ResourceIDs  []string `json:"resource_ids"`
		Thoroughness string   `json:"thoroughness"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	resourceIDs := make([]uuid.UUID, 0, len(req.ResourceIDs))
	for _, raw := range req.ResourceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_resource_id", err)
			return
		}
		resourceIDs = append(resourceIDs, id)
	}

	batch, err := h.indexer.EnqueueBatch(dbctx.New(c.Request.Context()), session.ID, resourceIDs, req.Thoroughness)
	if err != nil {
		switch {
		case errors.Is(err, indexing.ErrSessionNotFound):
			response.RespondError(c, http.StatusNotFound, "session_not_found", err)
		case errors.Is(err, indexing.ErrNoResources):
			response.RespondError(c, http.StatusBadRequest, "no_resources", err)
		case errors.Is(err, indexing.ErrResourceNotFound):
			response.RespondError(c, http.StatusBadRequest, "resource_not_found", err)
		case errors.Is(err, indexing.ErrResourceNotInSession):
			response.RespondError(c, http.StatusBadRequest, "resource_not_in_session", err)
		default:
			response.RespondError(c, http.StatusInternalServerError, "enqueue_batch_failed", err)
		}
		return
	}
	response.RespondOK(c, gin.H{"batch_id": batch.ID})
}

// POST /api/sessions/:id/index/cancel
func (h *IndexingHandler) CancelBatch(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}
	cancelled, err := h.indexer.Cancel(dbctx.New(c.Request.Context()), session.ID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"cancelled": cancelled})
}

// POST /api/sessions/:id/index/retry
func (h *IndexingHandler) RetryFailed(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}
	retried, err := h.indexer.RetryFailed(dbctx.New(c.Request.Context()), session.ID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "retry_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"retried": retried})
}

// GET /api/sessions/:id/index/progress
func (h *IndexingHandler) GetProgress(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}
	progress, err := h.indexer.Progress(dbctx.New(c.Request.Context()), session.ID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "progress_failed", err)
		return
	}
	// progress is null until the session's first batch exists.
	response.RespondOK(c, gin.H{"progress": progress})
}

// GET /api/indexing/queues
func (h *IndexingHandler) GetQueueDepths(c *gin.Context) {
	response.RespondOK(c, gin.H{"queues": h.indexer.QueueDepths()})
}
