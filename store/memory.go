// memory.go implements the in-process Store used when no Redis endpoint is
// configured or the remote backend is unreachable. Expiry is lazy: entries
// are dropped when read after their deadline.
package store

import (
	"context"
	"sync"
	"time"
)

// entry is a stored value with an optional expiry deadline.
type entry struct {
	value    []byte
	expireAt time.Time // zero = persistent
}

// MemoryStore is a mutex-guarded map Store. It is safe for concurrent use
// within a single process; it provides no cross-process sharing.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// SetClock overrides the store's time source. Tests use this to simulate
// TTL expiry without sleeping.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Get returns the value for key, dropping it first if expired.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	if m.expired(e) {
		delete(m.data, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores value under key with an optional TTL.
func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = m.makeEntry(value, ttl)
	return nil
}

// SetNX stores value only if key is absent or expired. Returns whether the
// write occurred.
func (m *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok && !m.expired(e) {
		return false, nil
	}
	m.data[key] = m.makeEntry(value, ttl)
	return true, nil
}

// Delete removes key if present.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Len returns the number of live (non-expired) entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, e := range m.data {
		if !m.expired(e) {
			n++
		}
	}
	return n
}

func (m *MemoryStore) makeEntry(value []byte, ttl time.Duration) entry {
	cp := make([]byte, len(value))
	copy(cp, value)
	e := entry{value: cp}
	if ttl > 0 {
		e.expireAt = m.now().Add(ttl)
	}
	return e
}

func (m *MemoryStore) expired(e entry) bool {
	return !e.expireAt.IsZero() && m.now().After(e.expireAt)
}
