package bus

import (
	"context"

	"github.com/gong8/cramkit-sub000/internal/realtime"
)

// Bus fans SSE messages out across replicas. Publish sends a local
// broadcast to the other instances; StartForwarder feeds their
// broadcasts into the local hub.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
