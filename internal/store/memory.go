package store

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

type memEntry struct {
	value     string
	expiresAt time.Time
}

// Memory is an in-process Store. It is suitable for single-instance
// deployments and tests; state is not shared across processes.
type Memory struct {
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]memEntry
	writes  uint64
}

// NewMemory builds an empty in-memory store. A nil clock means wall time.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{clk: clk, entries: make(map[string]memEntry)}
}

// liveLocked returns the entry for key when present and unexpired. Must be
// called with mu held.
func (m *Memory) liveLocked(key string, now time.Time) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

// SetIfAbsent implements Store.
func (m *Memory) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clk.Now()
	if _, ok := m.liveLocked(key, now); ok {
		return false, nil
	}
	m.putLocked(key, value, now.Add(ttl))
	return true, nil
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.liveLocked(key, m.clk.Now())
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if err := checkTTL(ttl); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.putLocked(key, value, m.clk.Now().Add(ttl))
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// CompareAndDelete implements Store.
func (m *Memory) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.liveLocked(key, m.clk.Now())
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked(m.clk.Now())
	return len(m.entries)
}

// putLocked writes an entry and opportunistically evicts expired ones every
// 256 writes to keep the map bounded.
func (m *Memory) putLocked(key, value string, expiresAt time.Time) {
	m.entries[key] = memEntry{value: value, expiresAt: expiresAt}
	m.writes++
	if m.writes%256 == 0 {
		m.sweepLocked(m.clk.Now())
	}
}

func (m *Memory) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

var _ Store = (*Memory)(nil)
