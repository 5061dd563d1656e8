package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/gong8/cramkit-sub000/internal/indexing"
	"github.com/gong8/cramkit-sub000/internal/realtime"
)

// batchNotifier turns orchestrator lifecycle callbacks into SSE
// messages on the session's channel. It satisfies the indexing
// service's BatchNotifier dependency.
type batchNotifier struct {
	emit SSEEmitter
}

func NewBatchNotifier(emit SSEEmitter) indexing.BatchNotifier {
	return &batchNotifier{emit: emit}
}

func (n *batchNotifier) BatchQueued(sessionID, batchID uuid.UUID, total int) {
	if n == nil || n.emit == nil || sessionID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: sessionID.String(),
		Event:   realtime.SSEEventBatchQueued,
		Data: map[string]any{
			"batch_id": batchID,
			"total":    total,
		},
	})
}

func (n *batchNotifier) BatchStarted(sessionID, batchID uuid.UUID) {
	if n == nil || n.emit == nil || sessionID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: sessionID.String(),
		Event:   realtime.SSEEventBatchStarted,
		Data: map[string]any{
			"batch_id": batchID,
		},
	})
}

func (n *batchNotifier) BatchFinished(sessionID, batchID uuid.UUID, status string, completed, failed, total int) {
	if n == nil || n.emit == nil || sessionID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: sessionID.String(),
		Event:   realtime.SSEEventBatchFinished,
		Data: map[string]any{
			"batch_id":  batchID,
			"status":    status,
			"completed": completed,
			"failed":    failed,
			"total":     total,
		},
	})
}

func (n *batchNotifier) JobFinished(sessionID, batchID, resourceID uuid.UUID, status string) {
	if n == nil || n.emit == nil || sessionID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: sessionID.String(),
		Event:   realtime.SSEEventJobFinished,
		Data: map[string]any{
			"batch_id":    batchID,
			"resource_id": resourceID,
			"status":      status,
		},
	})
}

func (n *batchNotifier) PhaseChanged(sessionID, batchID uuid.UUID, phase int, state string) {
	if n == nil || n.emit == nil || sessionID == uuid.Nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.SSEMessage{
		Channel: sessionID.String(),
		Event:   realtime.SSEEventPhaseChanged,
		Data: map[string]any{
			"batch_id": batchID,
			"phase":    phase,
			"state":    state,
		},
	})
}
