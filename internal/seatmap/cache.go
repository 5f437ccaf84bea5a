package seatmap

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
)

type memoryEntry struct {
	gen      uint64
	set      Set
	filled   bool
	storedAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clock.Clock
	entries map[string]*memoryEntry
}

// NewMemoryCache returns a MemoryCache whose entries live for ttl; a
// non-positive ttl keeps entries until the next Bump.
func NewMemoryCache(ttl time.Duration, c clock.Clock) *MemoryCache {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryCache{ttl: ttl, clock: c, entries: make(map[string]*memoryEntry)}
}

func (m *MemoryCache) entry(scheduleID string) *memoryEntry {
	e, ok := m.entries[scheduleID]
	if !ok {
		e = &memoryEntry{}
		m.entries[scheduleID] = e
	}
	return e
}

func (m *MemoryCache) Generation(_ context.Context, scheduleID string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entry(scheduleID).gen, nil
}

func (m *MemoryCache) Load(_ context.Context, scheduleID string, gen uint64) (Set, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(scheduleID)
	if !e.filled || e.gen != gen {
		return Set{}, false, nil
	}
	if m.ttl > 0 && m.clock.Now().Sub(e.storedAt) > m.ttl {
		return Set{}, false, nil
	}
	return e.set.Clone(), true, nil
}

func (m *MemoryCache) Store(_ context.Context, scheduleID string, gen uint64, occupied Set) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(scheduleID)
	if e.gen != gen {
		return nil
	}
	e.set = occupied.Clone()
	e.filled = true
	e.storedAt = m.clock.Now()
	return nil
}

func (m *MemoryCache) Bump(_ context.Context, scheduleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(scheduleID)
	e.gen++
	e.filled = false
	e.set = Set{}
	return nil
}
