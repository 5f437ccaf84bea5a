package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/hold"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// Sweeper reclaims seats from abandoned booking attempts.  It is the only
// component that times anything out.  Each pass:
//
//  1. expires the reservation behind every hold past its deadline, then
//     releases the hold;
//  2. expires every PENDING reservation past its deadline that has no live
//     hold, which covers attempts orphaned by a restart.
//
// Work is grouped per schedule and a failure in one schedule never stops
// the others.
type Sweeper struct {
	ledger   repository.Ledger
	holds    hold.Manager
	view     *seatmap.View
	clock    clock.Clock
	log      *slog.Logger
	interval time.Duration
	batch    int
}

// SweeperConfig controls the cadence of the Sweeper.
type SweeperConfig struct {
	Interval time.Duration
	// Batch caps how many holds and reservations one pass looks at.
	Batch int
}

// SweepStats summarises one pass.
type SweepStats struct {
	HoldsReleased int
	Expired       int
	Failed        int
}

// NewSweeper returns a sweeper; view may be nil when no cache is in use.
func NewSweeper(ledger repository.Ledger, holds hold.Manager, view *seatmap.View, c clock.Clock, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 500
	}
	return &Sweeper{ledger: ledger, holds: holds, view: view, clock: c, log: logger, interval: cfg.Interval, batch: cfg.Batch}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper: started", "interval", s.interval, "batch", s.batch)
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper: stopped")
			return nil
		case <-t.C:
			stats, err := s.SweepOnce(ctx)
			if err != nil {
				s.log.Error("sweeper: pass failed", "error", err)
			}
			if stats.HoldsReleased+stats.Expired+stats.Failed > 0 {
				s.log.Info("sweeper: pass done",
					"holds_released", stats.HoldsReleased, "expired", stats.Expired, "failed", stats.Failed)
			}
		}
	}
}

// SweepOnce runs a single pass.  The returned error reports listing
// failures only; per-reservation failures are logged and counted.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := s.clock.Now()

	var errs []error
	expired, err := s.holds.Expired(ctx, now, s.batch)
	if err != nil {
		errs = append(errs, fmt.Errorf("list expired holds: %w", err))
	}
	byHold := make(map[string][]model.Hold)
	for _, h := range expired {
		byHold[h.ScheduleID] = append(byHold[h.ScheduleID], h)
	}
	for _, sid := range sortedKeys(byHold) {
		s.sweepHolds(ctx, sid, byHold[sid], &stats)
	}

	pending, err := s.ledger.ExpiredPending(ctx, now, s.batch)
	if err != nil {
		errs = append(errs, fmt.Errorf("list expired reservations: %w", err))
	}
	byRes := make(map[string][]model.Reservation)
	for _, r := range pending {
		byRes[r.ScheduleID] = append(byRes[r.ScheduleID], r)
	}
	for _, sid := range sortedKeys(byRes) {
		s.sweepOrphans(ctx, sid, byRes[sid], now, &stats)
	}
	return stats, errors.Join(errs...)
}

func (s *Sweeper) sweepHolds(ctx context.Context, scheduleID string, holds []model.Hold, stats *SweepStats) {
	changed := false
	for _, h := range holds {
		_, didExpire, err := s.ledger.Expire(ctx, h.ID)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			// Keep the hold so the seats stay blocked while the ledger
			// still says PENDING; the next pass retries.
			stats.Failed++
			s.log.Error("sweeper: expire failed", "schedule_id", scheduleID, "reservation_id", h.ID, "error", err)
			continue
		}
		if didExpire {
			stats.Expired++
		}
		if err := s.holds.Release(ctx, scheduleID, h.ID); err != nil {
			stats.Failed++
			s.log.Error("sweeper: release failed", "schedule_id", scheduleID, "hold_id", h.ID, "error", err)
			continue
		}
		stats.HoldsReleased++
		changed = true
	}
	if changed {
		s.invalidate(ctx, scheduleID)
	}
}

func (s *Sweeper) sweepOrphans(ctx context.Context, scheduleID string, rs []model.Reservation, now time.Time, stats *SweepStats) {
	changed := false
	for _, r := range rs {
		h, err := s.holds.Get(ctx, scheduleID, r.ID)
		switch {
		case err == nil && !h.Expired(now):
			// extended for an in-flight confirmation
			continue
		case err != nil && !errors.Is(err, model.ErrNotFound):
			stats.Failed++
			s.log.Error("sweeper: hold lookup failed", "schedule_id", scheduleID, "reservation_id", r.ID, "error", err)
			continue
		}
		_, didExpire, err := s.ledger.Expire(ctx, r.ID)
		if err != nil {
			stats.Failed++
			s.log.Error("sweeper: expire failed", "schedule_id", scheduleID, "reservation_id", r.ID, "error", err)
			continue
		}
		if didExpire {
			stats.Expired++
			changed = true
		}
		if h.ID != "" {
			if err := s.holds.Release(ctx, scheduleID, r.ID); err == nil {
				stats.HoldsReleased++
			}
		}
	}
	if changed {
		s.invalidate(ctx, scheduleID)
	}
}

func (s *Sweeper) invalidate(ctx context.Context, scheduleID string) {
	if s.view != nil {
		s.view.Invalidate(ctx, scheduleID)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
