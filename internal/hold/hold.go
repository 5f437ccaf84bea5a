// Package hold places short-lived exclusive claims on seats while a
// booking is waiting for payment.  Acquisition is all-or-nothing: either
// every requested seat is claimed or none is.  Holds are never timed out
// implicitly; an expired hold keeps its seats until the sweeper releases
// it, so the sweeper is the single place where expiry happens.
package hold

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Request asks for seats of one schedule for TTL.  ID is the reservation
// the hold will back.
type Request struct {
	ID         string
	ScheduleID string
	Seats      []int
	TTL        time.Duration
}

// Manager is the hold store.
type Manager interface {
	// Acquire claims every seat of req or fails with a
	// *model.SeatConflictError naming the seats already held.
	Acquire(ctx context.Context, req Request) (model.Hold, error)
	// Release drops a hold.  Releasing an unknown hold is not an error.
	Release(ctx context.Context, scheduleID, holdID string) error
	// Extend moves the deadline of a live hold to until.
	Extend(ctx context.Context, scheduleID, holdID string, until time.Time) (model.Hold, error)
	Get(ctx context.Context, scheduleID, holdID string) (model.Hold, error)
	// Expired returns up to limit holds whose deadline lies before now.
	Expired(ctx context.Context, now time.Time, limit int) ([]model.Hold, error)
	// Restore re-places a hold with its original deadline after a restart.
	Restore(ctx context.Context, h model.Hold) error
}

// Config carries the limits shared by every manager.
type Config struct {
	Clock clock.Clock
	// MaxTTL bounds Request.TTL and Extend.  Zero means unbounded.
	MaxTTL time.Duration
	// LeakGuard is added to the storage TTL of Redis keys so that a hold
	// abandoned by a crashed sweeper still disappears eventually.
	LeakGuard time.Duration
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.LeakGuard <= 0 {
		c.LeakGuard = 10 * time.Minute
	}
	return c
}

func (c Config) checkTTL(ttl time.Duration) error {
	if ttl <= 0 || (c.MaxTTL > 0 && ttl > c.MaxTTL) {
		return fmt.Errorf("ttl %s: %w", ttl, model.ErrInvalidTTL)
	}
	return nil
}

func notFound(scheduleID, holdID string) error {
	return fmt.Errorf("hold %s on schedule %s: %w", holdID, scheduleID, model.ErrNotFound)
}
