package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/gong8/cramkit-sub000/internal/data/repos"
	"github.com/gong8/cramkit-sub000/internal/platform/logger"
	"github.com/gong8/cramkit-sub000/internal/realtime"
)

type EventsHandler struct {
	log      *logger.Logger
	hub      *realtime.SSEHub
	sessions repos.SessionRepo
}

func NewEventsHandler(log *logger.Logger, hub *realtime.SSEHub, sessions repos.SessionRepo) *EventsHandler {
	return &EventsHandler{
		log:      log.With("handler", "EventsHandler"),
		hub:      hub,
		sessions: sessions,
	}
}

// GET /api/sessions/:id/events
//
// Each request gets its own client, so several tabs can watch the same
// session. The stream stays open until the browser disconnects.
func (h *EventsHandler) StreamEvents(c *gin.Context) {
	session, ok := loadOwnedSession(c, h.sessions)
	if !ok {
		return
	}

	client := h.hub.NewSSEClient()
	h.hub.AddChannel(client, session.ID.String())
	h.log.Info("SSE stream open", "client_id", client.ID, "session_id", session.ID)

	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.hub.CloseClient(client)
	h.log.Debug("SSE stream closed", "client_id", client.ID, "session_id", session.ID)
}
