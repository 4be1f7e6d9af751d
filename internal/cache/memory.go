package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero: no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is an in-process backend.
//
// Expiry is passive: an expired entry is never returned by Get but stays in
// memory, and listed by Keys, until it is deleted. Sweep is what reclaims
// it.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemory returns an empty memory backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*memoryEntry), now: time.Now}
}

// SetClock replaces the clock. Tests use it to expire entries.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Get implements Backend.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok || e.expired(m.now()) {
		return nil, cserrors.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

// SetWithTTL implements Backend. A ttl <= 0 stores the key without expiry.
func (m *Memory) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// Keys implements Backend.
func (m *Memory) Keys(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// TTL implements Backend. An expired entry reports 0.
func (m *Memory) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	switch {
	case !ok:
		return TTLMissing, nil
	case e.expiresAt.IsZero():
		return TTLPersistent, nil
	}
	if d := e.expiresAt.Sub(m.now()); d > 0 {
		return d, nil
	}
	return 0, nil
}

// Len returns the number of entries held, expired or not.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close implements Backend.
func (m *Memory) Close() error {
	return nil
}
