package services

import (
	"context"

	"github.com/gong8/cramkit-sub000/internal/realtime"
	"github.com/gong8/cramkit-sub000/internal/realtime/bus"
)

// SSEEmitter abstracts where a notifier sends its messages: straight
// into the local hub, or through the redis bus so every replica's
// forwarder delivers it.
type SSEEmitter interface {
	Emit(ctx context.Context, msg realtime.SSEMessage)
}

type HubEmitter struct{ Hub *realtime.SSEHub }

func (e *HubEmitter) Emit(_ context.Context, msg realtime.SSEMessage) {
	e.Hub.Broadcast(msg)
}

type RedisEmitter struct{ Bus bus.Bus }

func (e *RedisEmitter) Emit(ctx context.Context, msg realtime.SSEMessage) {
	_ = e.Bus.Publish(ctx, msg)
}
