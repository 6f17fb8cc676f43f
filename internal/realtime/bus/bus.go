package bus

import (
	"context"

	"github.com/yungbote/repairguide-backend/internal/realtime"
)

// Bus carries SSE frames between replicas so any instance can serve a session's stream.
type Bus interface {
	Publish(ctx context.Context, msg realtime.SSEMessage) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.SSEMessage)) error
	Close() error
}
