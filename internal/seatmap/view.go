package seatmap

import (
	"context"
	"log/slog"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Source lists the non-terminal reservations of a schedule.  The
// reservation ledger satisfies it.
type Source interface {
	ListActive(ctx context.Context, scheduleID string) ([]model.Reservation, error)
}

// Cache stores occupancy sets keyed by schedule and generation.  Bump
// starts a new generation so that every earlier entry is ignored; a fill
// that raced with a Bump is therefore written under a stale generation and
// never read.
type Cache interface {
	Generation(ctx context.Context, scheduleID string) (uint64, error)
	Load(ctx context.Context, scheduleID string, gen uint64) (Set, bool, error)
	Store(ctx context.Context, scheduleID string, gen uint64, occupied Set) error
	Bump(ctx context.Context, scheduleID string) error
}

// View is the read side of the seat map.  It has no mutation path of its
// own: occupancy is always derived from the ledger.
type View struct {
	src   Source
	cache Cache
	log   *slog.Logger
}

// NewView returns a View over src.  cache may be nil to disable caching.
func NewView(src Source, cache Cache, logger *slog.Logger) *View {
	if logger == nil {
		logger = slog.Default()
	}
	return &View{src: src, cache: cache, log: logger}
}

// Occupied returns the seats covered by PENDING or CONFIRMED reservations.
func (v *View) Occupied(ctx context.Context, scheduleID string) (Set, error) {
	if v.cache == nil {
		return v.compute(ctx, scheduleID)
	}
	gen, err := v.cache.Generation(ctx, scheduleID)
	if err != nil {
		v.log.Warn("seatmap: cache generation failed", "schedule_id", scheduleID, "error", err)
		return v.compute(ctx, scheduleID)
	}
	if set, ok, err := v.cache.Load(ctx, scheduleID, gen); err != nil {
		v.log.Warn("seatmap: cache load failed", "schedule_id", scheduleID, "error", err)
	} else if ok {
		return set, nil
	}
	set, err := v.compute(ctx, scheduleID)
	if err != nil {
		return Set{}, err
	}
	if err := v.cache.Store(ctx, scheduleID, gen, set); err != nil {
		v.log.Warn("seatmap: cache store failed", "schedule_id", scheduleID, "error", err)
	}
	return set, nil
}

// Available returns the layout seats of s not covered by a non-terminal
// reservation.
func (v *View) Available(ctx context.Context, s model.Schedule) (Set, error) {
	occupied, err := v.Occupied(ctx, s.ID)
	if err != nil {
		return Set{}, err
	}
	return LayoutOf(s).All().Difference(occupied), nil
}

// Invalidate must be called after every committed transition of the
// schedule.
func (v *View) Invalidate(ctx context.Context, scheduleID string) {
	if v.cache == nil {
		return
	}
	if err := v.cache.Bump(ctx, scheduleID); err != nil {
		v.log.Error("seatmap: cache invalidation failed", "schedule_id", scheduleID, "error", err)
	}
}

func (v *View) compute(ctx context.Context, scheduleID string) (Set, error) {
	active, err := v.src.ListActive(ctx, scheduleID)
	if err != nil {
		return Set{}, err
	}
	var s Set
	for _, r := range active {
		for _, n := range r.Seats {
			s.Add(n)
		}
	}
	return s, nil
}
