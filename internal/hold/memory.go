package hold

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

type shard struct {
	mu    sync.Mutex
	seats map[int]string
	holds map[string]*model.Hold
}

// MemoryManager keeps holds in process memory, one lock per schedule.
type MemoryManager struct {
	cfg Config

	mu     sync.Mutex
	shards map[string]*shard
}

// NewMemoryManager returns an empty manager.
func NewMemoryManager(cfg Config) *MemoryManager {
	return &MemoryManager{cfg: cfg.withDefaults(), shards: make(map[string]*shard)}
}

func (m *MemoryManager) shard(scheduleID string) *shard {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shards[scheduleID]
	if !ok {
		s = &shard{seats: make(map[int]string), holds: make(map[string]*model.Hold)}
		m.shards[scheduleID] = s
	}
	return s
}

// Acquire claims req.Seats for a new hold, failing with the conflicting
// seats if any is held by someone else.
func (m *MemoryManager) Acquire(_ context.Context, req Request) (model.Hold, error) {
	if err := m.cfg.checkTTL(req.TTL); err != nil {
		return model.Hold{}, err
	}
	now := m.cfg.Clock.Now()
	h := model.Hold{
		ID:         req.ID,
		ScheduleID: req.ScheduleID,
		Seats:      model.NormalizeSeats(req.Seats),
		ExpiresAt:  now.Add(req.TTL),
		CreatedAt:  now,
	}
	if len(h.Seats) == 0 {
		return model.Hold{}, model.ErrEmptySelection
	}
	return h, m.place(h)
}

// Restore re-creates h after a restart.
func (m *MemoryManager) Restore(_ context.Context, h model.Hold) error {
	h.Seats = model.NormalizeSeats(h.Seats)
	return m.place(h)
}

func (m *MemoryManager) place(h model.Hold) error {
	s := m.shard(h.ScheduleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	var taken []int
	for _, n := range h.Seats {
		if owner, ok := s.seats[n]; ok && owner != h.ID {
			taken = append(taken, n)
		}
	}
	if len(taken) > 0 {
		return &model.SeatConflictError{ScheduleID: h.ScheduleID, Seats: taken}
	}
	if prev, ok := s.holds[h.ID]; ok {
		for _, n := range prev.Seats {
			delete(s.seats, n)
		}
	}
	for _, n := range h.Seats {
		s.seats[n] = h.ID
	}
	s.holds[h.ID] = &h
	return nil
}

// Release drops the hold and frees its seats.  Unknown holds are ignored.
func (m *MemoryManager) Release(_ context.Context, scheduleID, holdID string) error {
	s := m.shard(scheduleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return nil
	}
	for _, n := range h.Seats {
		if s.seats[n] == holdID {
			delete(s.seats, n)
		}
	}
	delete(s.holds, holdID)
	return nil
}

// Extend moves the deadline of an unexpired hold to until.
func (m *MemoryManager) Extend(_ context.Context, scheduleID, holdID string, until time.Time) (model.Hold, error) {
	now := m.cfg.Clock.Now()
	if err := m.cfg.checkTTL(until.Sub(now)); err != nil {
		return model.Hold{}, err
	}
	s := m.shard(scheduleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return model.Hold{}, notFound(scheduleID, holdID)
	}
	if h.Expired(now) {
		return model.Hold{}, fmt.Errorf("hold %s: %w", holdID, model.ErrHoldExpired)
	}
	h.ExpiresAt = until
	return copyHold(h), nil
}

// Get returns the hold, whether or not its deadline has passed.
func (m *MemoryManager) Get(_ context.Context, scheduleID, holdID string) (model.Hold, error) {
	s := m.shard(scheduleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return model.Hold{}, notFound(scheduleID, holdID)
	}
	return copyHold(h), nil
}

// Expired lists up to limit holds whose deadline is at or before now.
func (m *MemoryManager) Expired(_ context.Context, now time.Time, limit int) ([]model.Hold, error) {
	m.mu.Lock()
	shards := make([]*shard, 0, len(m.shards))
	for _, s := range m.shards {
		shards = append(shards, s)
	}
	m.mu.Unlock()

	var out []model.Hold
	for _, s := range shards {
		s.mu.Lock()
		for _, h := range s.holds {
			if h.Expired(now) {
				out = append(out, copyHold(h))
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyHold(h *model.Hold) model.Hold {
	c := *h
	c.Seats = append([]int(nil), h.Seats...)
	return c
}
