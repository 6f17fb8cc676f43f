package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yungbote/repairguide-backend/internal/domain"
)

type fakeGateway struct {
	mu         sync.Mutex
	topicCalls int
	stepCalls  []string
	imageCalls []string
	released   []domain.Credential

	topicsFn func(ctx context.Context, cred domain.Credential) (domain.TopicList, error)
	stepsFn  func(ctx context.Context, cred domain.Credential, topic string) (domain.TutorialContent, error)
	imageFn  func(ctx context.Context, prompt string) (domain.GeneratedImage, error)
}

func (f *fakeGateway) ListTopics(ctx context.Context, cred domain.Credential) (domain.TopicList, error) {
	f.mu.Lock()
	f.topicCalls++
	fn := f.topicsFn
	f.mu.Unlock()
	if fn == nil {
		return domain.TopicList{"Fix a faucet", "Patch drywall"}, nil
	}
	return fn(ctx, cred)
}

func (f *fakeGateway) GenerateSteps(ctx context.Context, cred domain.Credential, topic string) (domain.TutorialContent, error) {
	f.mu.Lock()
	f.stepCalls = append(f.stepCalls, topic)
	fn := f.stepsFn
	f.mu.Unlock()
	if fn == nil {
		return domain.TutorialContent{
			{StepNumber: 2, Instruction: "Apply compound", ImagePrompt: "putty knife spreading compound"},
			{StepNumber: 1, Instruction: "Cut a patch", ImagePrompt: "utility knife cutting drywall"},
		}, nil
	}
	return fn(ctx, cred, topic)
}

func (f *fakeGateway) GenerateImage(ctx context.Context, _ domain.Credential, prompt string) (domain.GeneratedImage, error) {
	f.mu.Lock()
	f.imageCalls = append(f.imageCalls, prompt)
	fn := f.imageFn
	f.mu.Unlock()
	if fn == nil {
		return domain.NewGeneratedImage("image/png", []byte(prompt)), nil
	}
	return fn(ctx, prompt)
}

func (f *fakeGateway) Release(cred domain.Credential) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, cred)
}

func (f *fakeGateway) releasedKeys() []domain.Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Credential(nil), f.released...)
}

func (f *fakeGateway) calls() (topics int, steps []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.topicCalls, append([]string(nil), f.stepCalls...)
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) notify(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

type harness struct {
	m   *Machine
	gw  *fakeGateway
	rec *recorder
	kv  *MemoryKV
}

func newHarness(t *testing.T, gw *fakeGateway) *harness {
	t.Helper()
	kv := NewMemoryKV(0)
	rec := &recorder{}
	m := NewMachine(Options{
		SessionID: "s1",
		Gateway:   gw,
		Store:     NewCredentialStore(kv, "s1"),
		Notify:    rec.notify,
	})
	t.Cleanup(m.Close)
	return &harness{m: m, gw: gw, rec: rec, kv: kv}
}

func (h *harness) settle(t *testing.T) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.m.Wait(ctx))
	return h.m.Snapshot()
}

func (h *harness) storedCredential(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := h.kv.Get(context.Background(), "s1", CredentialKey)
	require.NoError(t, err)
	return v, ok
}

// gatedKV blocks Set or Remove until the matching gate is closed. A nil gate passes through.
type gatedKV struct {
	*MemoryKV
	setGate    chan struct{}
	removeGate chan struct{}
	entered    chan string
}

func newGatedKV() *gatedKV {
	return &gatedKV{MemoryKV: NewMemoryKV(0), entered: make(chan string, 16)}
}

func (g *gatedKV) Set(ctx context.Context, session, key, value string) error {
	if err := g.pass(ctx, "set", g.setGate); err != nil {
		return err
	}
	return g.MemoryKV.Set(ctx, session, key, value)
}

func (g *gatedKV) Remove(ctx context.Context, session, key string) error {
	if err := g.pass(ctx, "remove", g.removeGate); err != nil {
		return err
	}
	return g.MemoryKV.Remove(ctx, session, key)
}

func (g *gatedKV) pass(ctx context.Context, op string, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	g.entered <- op
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func waitEntered(t *testing.T, kv *gatedKV, op string) {
	t.Helper()
	select {
	case got := <-kv.entered:
		require.Equal(t, op, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("store %s never started", op)
	}
}
