package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gong8/cramkit-sub000/internal/data/repos"
	types "github.com/gong8/cramkit-sub000/internal/domain"
	"github.com/gong8/cramkit-sub000/internal/http/response"
	"github.com/gong8/cramkit-sub000/internal/indexing"
	"github.com/gong8/cramkit-sub000/internal/pkg/dbctx"
	"github.com/gong8/cramkit-sub000/internal/platform/ctxutil"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type SessionHandler struct {
	log       *logger.Logger
	sessions  repos.SessionRepo
	resources repos.ResourceRepo
	indexer   indexing.Service
}

func NewSessionHandler(log *logger.Logger, sessions repos.SessionRepo, resources repos.ResourceRepo, indexer indexing.Service) *SessionHandler {
	return &SessionHandler{
		log:       log.With("handler", "SessionHandler"),
		sessions:  sessions,
		resources: resources,
		indexer:   indexer,
	}
}

// POST /api/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_title", fmt.Errorf("title is required"))
		return
	}

	session := &types.StudySession{
		ID:          uuid.New(),
		OwnerUserID: requestUserID(c),
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
	}
	created, err := h.sessions.Create(dbctx.New(c.Request.Context()), session)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "create_session_failed", err)
		return
	}
	response.RespondCreated(c, gin.H{"session": created})
}

// GET /api/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}
	response.RespondOK(c, gin.H{"session": session})
}

// POST /api/sessions/:id/resources
func (h *SessionHandler) CreateResource(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}
	var req struct {
		Title       string `json:"title"`
		Type        string `json:"type"`
		TextContent string `json:"text_content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request_body", err)
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Type = strings.TrimSpace(req.Type)
	if req.Title == "" || req.Type == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_fields", fmt.Errorf("title and type are required"))
		return
	}

	dbc := dbctx.New(c.Request.Context())
	resource := &types.Resource{
		ID:          uuid.New(),
		SessionID:   session.ID,
		Title:       req.Title,
		Type:        req.Type,
		TextContent: req.TextContent,
	}
	created, err := h.resources.Create(dbc, resource)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "create_resource_failed", err)
		return
	}
	if err := h.indexer.EnqueueResourceProcessing(dbc, created.ID); err != nil {
		h.log.Warn("Failed to enqueue resource processing", "resource_id", created.ID, "error", err)
	}
	response.RespondCreated(c, gin.H{"resource": created})
}

// GET /api/sessions/:id/resources
func (h *SessionHandler) ListResources(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}
	resources, err := h.resources.ListBySession(dbctx.New(c.Request.Context()), session.ID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "list_resources_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"resources": resources})
}

// loadOwnedSession parses :id, loads the session, and enforces
// ownership when the request carries an authenticated subject. It
// writes the error response itself; callers bail out on ok=false.
func loadOwnedSession(c *gin.Context, sessions repos.SessionRepo) (*types.StudySession, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_session_id", err)
		return nil, false
	}
	session, err := sessions.GetByID(dbctx.New(c.Request.Context()), sessionID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "load_session_failed", err)
		return nil, false
	}
	if session == nil {
		response.RespondError(c, http.StatusNotFound, "session_not_found", fmt.Errorf("session %s not found", sessionID))
		return nil, false
	}
	if userID := ctxutil.GetUserID(c.Request.Context()); userID != "" && userID != session.OwnerUserID.String() {
		response.RespondError(c, http.StatusForbidden, "forbidden", fmt.Errorf("session %s does not belong to the requesting user", sessionID))
		return nil, false
	}
	return session, true
}

// requestUserID returns the authenticated subject, or uuid.Nil when
// auth is disabled.
func requestUserID(c *gin.Context) uuid.UUID {
	id, err := uuid.Parse(ctxutil.GetUserID(c.Request.Context()))
	if err != nil {
		return uuid.Nil
	}
	return id
}
