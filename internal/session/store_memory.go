package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryKV keeps entries in process. A zero ttl never expires entries.
type MemoryKV struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]map[string]memoryEntry
}

var _ KV = (*MemoryKV)(nil)

func NewMemoryKV(ttl time.Duration) *MemoryKV {
	return &MemoryKV{ttl: ttl, now: time.Now, entries: map[string]map[string]memoryEntry{}}
}

func (m *MemoryKV) Get(_ context.Context, session, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[session][key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && !m.now().Before(e.expires) {
		m.removeLocked(session, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *MemoryKV) Set(_ context.Context, session, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	scope, ok := m.entries[session]
	if !ok {
		scope = map[string]memoryEntry{}
		m.entries[session] = scope
	}
	e := memoryEntry{value: value}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	scope[key] = e
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, session, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(session, key)
	return nil
}

func (m *MemoryKV) removeLocked(session, key string) {
	scope, ok := m.entries[session]
	if !ok {
		return
	}
	delete(scope, key)
	if len(scope) == 0 {
		delete(m.entries, session)
	}
}
