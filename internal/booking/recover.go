package booking

import (
	"context"
	"errors"
	"log/slog"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/hold"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

// RecoverStats summarises a Recover run.
type RecoverStats struct {
	Restored int
	// Overdue PENDING reservations are left for the sweeper.
	Overdue int
	Failed  int
}

// Recover rebuilds holds from the ledger after a restart.  Only PENDING
// reservations whose deadline is still ahead get their hold back, with the
// original deadline; the rest are expired by the next sweep.
func Recover(ctx context.Context, ledger repository.Ledger, holds hold.Manager, c clock.Clock, logger *slog.Logger) (RecoverStats, error) {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	var stats RecoverStats
	ids, err := ledger.PendingScheduleIDs(ctx)
	if err != nil {
		return stats, err
	}
	now := c.Now()
	var errs []error
	for _, sid := range ids {
		active, err := ledger.ListActive(ctx, sid)
		if err != nil {
			stats.Failed++
			errs = append(errs, err)
			logger.Error("recover: list failed", "schedule_id", sid, "error", err)
			continue
		}
		for _, r := range active {
			if r.State != model.StatePending || r.HoldExpiresAt == nil {
				continue
			}
			if r.DeadlinePassed(now) {
				stats.Overdue++
				continue
			}
			err := holds.Restore(ctx, model.Hold{
				ID:         r.ID,
				ScheduleID: r.ScheduleID,
				Seats:      r.Seats,
				ExpiresAt:  *r.HoldExpiresAt,
				CreatedAt:  r.CreatedAt,
			})
			if err != nil {
				stats.Failed++
				logger.Error("recover: hold not restored", "schedule_id", sid, "reservation_id", r.ID, "error", err)
				if !errors.Is(err, model.ErrSeatConflict) {
					errs = append(errs, err)
				}
				continue
			}
			stats.Restored++
		}
	}
	logger.Info("recover: holds rebuilt", "restored", stats.Restored, "overdue", stats.Overdue, "failed", stats.Failed)
	return stats, errors.Join(errs...)
}
