package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/repairguide-backend/internal/domain"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func settle(t *testing.T, m *Machine) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
	return m.Snapshot()
}

func TestManagerGetOrCreateIsStable(t *testing.T) {
	mgr := NewManager(ManagerOptions{Gateway: &fakeGateway{}})
	t.Cleanup(mgr.Close)

	a, err := mgr.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	b, err := mgr.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	c, err := mgr.GetOrCreate(context.Background(), "s2")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, mgr.Len())
	assert.Equal(t, "s2", c.ID())
}

func TestManagerRestoresStoredCredential(t *testing.T) {
	kv := NewMemoryKV(0)
	require.NoError(t, kv.Set(context.Background(), "s1", CredentialKey, "abc123"))
	gw := &fakeGateway{}
	mgr := NewManager(ManagerOptions{KV: kv, Gateway: gw})
	t.Cleanup(mgr.Close)

	m, err := mgr.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	s := settle(t, m)
	assert.True(t, s.HasCredential)
	assert.Len(t, s.Topics, 2)

	topics, _ := gw.calls()
	assert.Equal(t, 1, topics)
}

func TestManagerPublishesWithSessionID(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	mgr := NewManager(ManagerOptions{
		Gateway: &fakeGateway{},
		Publish: func(id string, _ Snapshot) {
			mu.Lock()
			seen[id]++
			mu.Unlock()
		},
	})
	t.Cleanup(mgr.Close)

	m, err := mgr.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.SubmitCredential(context.Background(), "abc123"))
	settle(t, m)

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, seen["s1"], 2)
	assert.Len(t, seen, 1)
}

func TestManagerSweepExpiresIdleSessions(t *testing.T) {
	clk := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	kv := NewMemoryKV(0)
	gw := &fakeGateway{}
	mgr := NewManager(ManagerOptions{KV: kv, Gateway: gw, TTL: time.Hour})
	mgr.now = clk.now
	t.Cleanup(mgr.Close)

	idle, err := mgr.GetOrCreate(context.Background(), "idle")
	require.NoError(t, err)
	require.NoError(t, idle.SubmitCredential(context.Background(), "abc123"))
	settle(t, idle)
	_, err = mgr.GetOrCreate(context.Background(), "busy")
	require.NoError(t, err)

	clk.advance(45 * time.Minute)
	mgr.Touch("busy")
	assert.Zero(t, mgr.Sweep(context.Background()))

	clk.advance(30 * time.Minute)
	assert.Equal(t, 1, mgr.Sweep(context.Background()))
	assert.Equal(t, 1, mgr.Len())

	_, ok := mgr.Get("idle")
	assert.False(t, ok)
	_, stored, err := kv.Get(context.Background(), "idle", CredentialKey)
	require.NoError(t, err)
	assert.False(t, stored, "expired session credential is removed")
	assert.Equal(t, []domain.Credential{"abc123"}, gw.releasedKeys())
	require.ErrorIs(t, idle.SelectTopic("x"), ErrClosed)
}

func TestManagerCloseKeepsCredentials(t *testing.T) {
	kv := NewMemoryKV(0)
	mgr := NewManager(ManagerOptions{KV: kv, Gateway: &fakeGateway{}})

	m, err := mgr.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)
	require.NoError(t, m.SubmitCredential(context.Background(), "abc123"))
	settle(t, m)
	mgr.Close()

	assert.Zero(t, mgr.Len())
	v, ok, err := kv.Get(context.Background(), "s1", CredentialKey)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestManagerRunStopsOnCancel(t *testing.T) {
	mgr := NewManager(ManagerOptions{Gateway: &fakeGateway{}, SweepInterval: 5 * time.Millisecond})
	_, err := mgr.GetOrCreate(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		mgr.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	assert.Zero(t, mgr.Len())
}
