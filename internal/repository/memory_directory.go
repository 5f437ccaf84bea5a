package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// MemoryDirectory is a ScheduleDirectory kept in process memory.
type MemoryDirectory struct {
	mu        sync.RWMutex
	schedules map[string]model.Schedule
}

// NewMemoryDirectory returns a directory pre-populated with schedules.
func NewMemoryDirectory(schedules ...model.Schedule) *MemoryDirectory {
	d := &MemoryDirectory{schedules: make(map[string]model.Schedule, len(schedules))}
	for _, s := range schedules {
		d.schedules[s.ID] = s
	}
	return d
}

// Put adds or replaces a schedule.
func (d *MemoryDirectory) Put(s model.Schedule) {
	d.mu.Lock()
	d.schedules[s.ID] = s
	d.mu.Unlock()
}

func (d *MemoryDirectory) Lookup(_ context.Context, scheduleID string) (model.Schedule, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.schedules[scheduleID]
	if !ok {
		return model.Schedule{}, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	return s, nil
}
