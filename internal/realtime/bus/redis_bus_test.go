package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/repairguide-backend/internal/platform/logger"
	"github.com/yungbote/repairguide-backend/internal/realtime"
)

func TestRelayForwardsThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	b, err := NewRedisBus(logger.NewNop(), rdb, "test:sse")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan realtime.SSEMessage, 1)
	require.NoError(t, b.StartForwarder(ctx, func(m realtime.SSEMessage) { got <- m }))

	relay := NewRelay(b, nil, nil, 4)
	go relay.Run(ctx)
	relay.Publish(realtime.SSEMessage{
		Channel: realtime.SessionChannel("s1"),
		Event:   realtime.SSEEventStateChanged,
		Data:    map[string]any{"version": 3},
	})

	select {
	case msg := <-got:
		assert.Equal(t, realtime.SessionChannel("s1"), msg.Channel)
		assert.Equal(t, realtime.SSEEventStateChanged, msg.Event)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forwarded message")
	}
}

func TestRelayPublishNeverBlocks(t *testing.T) {
	relay := NewRelay(nil, nil, nil, 1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			relay.Publish(realtime.SSEMessage{Channel: "c"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked without a running relay")
	}
}

func TestNewRedisBusRequiresClient(t *testing.T) {
	_, err := NewRedisBus(logger.NewNop(), nil, "")
	require.Error(t, err)
}
