package session

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/yungbote/repairguide-backend/internal/gateway"
	"github.com/yungbote/repairguide-backend/internal/observability"
	"github.com/yungbote/repairguide-backend/internal/platform/logger"
)

type ManagerOptions struct {
	KV      KV
	Gateway gateway.Gateway
	// Publish receives every snapshot of every session. It must not block.
	Publish          func(sessionID string, snap Snapshot)
	TTL              time.Duration
	SweepInterval    time.Duration
	CallTimeout      time.Duration
	ImageConcurrency int
	Log              *logger.Logger
	Metrics          *observability.Metrics
}

type entry struct {
	machine  *Machine
	lastSeen time.Time
}

// Manager owns one Machine per session id and expires idle sessions.
type Manager struct {
	opts   ManagerOptions
	images *semaphore.Weighted
	log    *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewManager(opts ManagerOptions) *Manager {
	if opts.Log == nil {
		opts.Log = logger.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	if opts.KV == nil {
		opts.KV = NewMemoryKV(opts.TTL)
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.ImageConcurrency <= 0 {
		opts.ImageConcurrency = 4
	}
	return &Manager{
		opts:     opts,
		images:   semaphore.NewWeighted(int64(opts.ImageConcurrency)),
		log:      opts.Log.With("component", "SessionManager"),
		now:      time.Now,
		sessions: map[string]*entry{},
	}
}

// GetOrCreate returns the session's machine, creating it on first use. A credential
// already in the store for id is restored so the session survives a process restart.
func (mgr *Manager) GetOrCreate(ctx context.Context, id string) (*Machine, error) {
	if m, ok := mgr.Get(id); ok {
		return m, nil
	}

	store := NewCredentialStore(mgr.opts.KV, id)
	cred, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	m := NewMachine(Options{
		SessionID:   id,
		Gateway:     mgr.opts.Gateway,
		Store:       store,
		Notify:      mgr.notifier(id),
		Images:      mgr.images,
		CallTimeout: mgr.opts.CallTimeout,
		Log:         mgr.opts.Log,
		Metrics:     mgr.opts.Metrics,
	})

	mgr.mu.Lock()
	if e, ok := mgr.sessions[id]; ok {
		e.lastSeen = mgr.now()
		mgr.mu.Unlock()
		m.Close()
		return e.machine, nil
	}
	mgr.sessions[id] = &entry{machine: m, lastSeen: mgr.now()}
	n := len(mgr.sessions)
	mgr.mu.Unlock()

	mgr.opts.Metrics.SetActiveSessions(n)
	if !cred.Empty() {
		mgr.log.Debug("restored session credential", "session_id", id)
		m.restore(cred)
	}
	return m, nil
}

// Get returns an existing machine and marks the session as seen.
func (mgr *Manager) Get(id string) (*Machine, bool) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	e, ok := mgr.sessions[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = mgr.now()
	return e.machine, true
}

// Touch keeps a session alive without returning it.
func (mgr *Manager) Touch(id string) {
	_, _ = mgr.Get(id)
}

func (mgr *Manager) Len() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	return len(mgr.sessions)
}

// Sweep closes sessions idle for longer than the TTL and removes their credential.
func (mgr *Manager) Sweep(ctx context.Context) int {
	cutoff := mgr.now().Add(-mgr.opts.TTL)
	var expired []*entry
	var ids []string

	mgr.mu.Lock()
	for id, e := range mgr.sessions {
		if e.lastSeen.Before(cutoff) {
			expired = append(expired, e)
			ids = append(ids, id)
			delete(mgr.sessions, id)
		}
	}
	n := len(mgr.sessions)
	mgr.mu.Unlock()

	for i, e := range expired {
		if err := e.machine.Expire(ctx); err != nil {
			mgr.log.Warn("clear expired session credential", "session_id", ids[i], "error", err)
		}
	}
	if len(expired) > 0 {
		mgr.log.Info("expired idle sessions", "count", len(expired))
	}
	mgr.opts.Metrics.SetActiveSessions(n)
	return len(expired)
}

// Run sweeps every SweepInterval until ctx is done, then closes all sessions.
func (mgr *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(mgr.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			mgr.Close()
			return
		case <-ticker.C:
			mgr.Sweep(ctx)
		}
	}
}

// Close closes every machine. Stored credentials are kept so sessions can be restored.
func (mgr *Manager) Close() {
	mgr.mu.Lock()
	sessions := mgr.sessions
	mgr.sessions = map[string]*entry{}
	mgr.mu.Unlock()
	for _, e := range sessions {
		e.machine.Close()
	}
	mgr.opts.Metrics.SetActiveSessions(0)
}

func (mgr *Manager) notifier(id string) Notifier {
	if mgr.opts.Publish == nil {
		return nil
	}
	return func(s Snapshot) { mgr.opts.Publish(id, s) }
}
