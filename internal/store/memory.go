// In-memory Store implementation.
//
// DESIGN: Mirrors the Redis semantics (TTLs, lease keys, bounded double
// counters) under a single mutex. Used by tests, which override Now to
// drive expiry, and usable as a single-process fallback store.
package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// Memory implements Store for a single process.
type Memory struct {
	// Now is the clock used for expiry checks; tests may replace it.
	Now func() time.Time

	mu    sync.Mutex
	data  map[string]memoryEntry
	lists map[string][]string

	// FailAll makes every call return ErrUnavailable, for degraded-mode tests.
	FailAll bool
}

// ErrUnavailable simulates an unreachable store.
var ErrUnavailable = errUnavailable{}

type errUnavailable struct{}

func (errUnavailable) Error() string { return "store: unavailable" }

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		Now:   time.Now,
		data:  make(map[string]memoryEntry),
		lists: make(map[string][]string),
	}
}

func (m *Memory) liveLocked(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.data, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return "", false, ErrUnavailable
	}
	e, ok := m.liveLocked(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) SetEX(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return ErrUnavailable
	}
	m.data[key] = memoryEntry{value: value, expiresAt: m.expiry(ttl)}
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return ErrUnavailable
	}
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) IncrBy(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return 0, ErrUnavailable
	}
	cur := m.intLocked(key)
	cur += delta
	m.data[key] = memoryEntry{value: formatInt(cur), expiresAt: m.expiry(ttl)}
	return cur, nil
}

func (m *Memory) AcquireSlot(_ context.Context, req SlotRequest) (SlotReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return SlotReply{}, ErrUnavailable
	}
	g := m.intLocked(req.GlobalKey)
	s := m.intLocked(req.ScopeKey)
	if g >= int64(req.GlobalLimit) {
		return SlotReply{Reason: ReasonGlobalFull}, nil
	}
	if s >= int64(req.ScopeLimit) {
		return SlotReply{Reason: ReasonScopeFull}, nil
	}
	exp := m.expiry(req.LeaseTTL)
	m.data[req.GlobalKey] = memoryEntry{value: formatInt(g + 1), expiresAt: exp}
	m.data[req.ScopeKey] = memoryEntry{value: formatInt(s + 1), expiresAt: exp}
	m.data[req.LeaseKey] = memoryEntry{value: "1", expiresAt: exp}
	return SlotReply{Acquired: true, Reason: ReasonAcquired}, nil
}

func (m *Memory) ReleaseSlot(_ context.Context, globalKey, scopeKey, leaseKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return false, ErrUnavailable
	}
	if _, ok := m.liveLocked(leaseKey); !ok {
		return false, nil
	}
	delete(m.data, leaseKey)
	for _, k := range []string{globalKey, scopeKey} {
		if v := m.intLocked(k); v > 0 {
			e := m.data[k]
			e.value = formatInt(v - 1)
			m.data[k] = e
		}
	}
	return true, nil
}

func (m *Memory) PushList(_ context.Context, key, payload string, maxLen int64, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAll {
		return ErrUnavailable
	}
	l := append([]string{payload}, m.lists[key]...)
	if maxLen > 0 && int64(len(l)) > maxLen {
		l = l[:maxLen]
	}
	m.lists[key] = l
	return nil
}

// List returns a snapshot of a pushed list (test helper).
func (m *Memory) List(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lists[key]...)
}

func (m *Memory) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.Now().Add(ttl)
}

func (m *Memory) intLocked(key string) int64 {
	e, ok := m.liveLocked(key)
	if !ok {
		return 0
	}
	return parseInt(e.value)
}
