package bus

import (
	"context"
	"time"

	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
	"github.com/yungbote/repairguide-backend/internal/realtime"
)

// Relay decouples publishers from bus I/O. Publish only enqueues; Run drains the queue.
type Relay struct {
	bus     Bus
	log     *logger.Logger
	metrics *observability.Metrics
	queue   chan realtime.SSEMessage
}

func NewRelay(b Bus, log *logger.Logger, metrics *observability.Metrics, size int) *Relay {
	if log == nil {
		log = logger.NewNop()
	}
	if size <= 0 {
		size = 256
	}
	return &Relay{bus: b, log: log.With("component", "SSERelay"), metrics: metrics, queue: make(chan realtime.SSEMessage, size)}
}

func (r *Relay) Publish(msg realtime.SSEMessage) {
	select {
	case r.queue <- msg:
	default:
		r.metrics.IncSSEDropped()
		r.log.Warn("Dropping SSE message; relay queue full", "channel", msg.Channel)
	}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.queue:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := r.bus.Publish(pctx, msg); err != nil && ctx.Err() == nil {
				r.log.Warn("SSE bus publish failed", "channel", msg.Channel, "error", err)
			}
			cancel()
		}
	}
}
