package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Ledger is the durable record of reservations and the authority for seat
// ownership.  Implementations serialise every transition of a schedule and
// guarantee that the seat sets of PENDING and CONFIRMED reservations of one
// schedule never overlap.
type Ledger interface {
	// CreatePending records a PENDING reservation.  It fails with a
	// *model.SeatConflictError when any seat is covered by a non-terminal
	// reservation and with model.ErrNotFound for an unknown schedule.
	CreatePending(ctx context.Context, req model.PendingRequest) (model.Reservation, error)
	// Confirm moves a PENDING reservation to CONFIRMED.  acceptedAt is
	// compared with the hold deadline, so a confirmation accepted in time
	// commits even if the ledger write lands slightly later.
	Confirm(ctx context.Context, id string, acceptedAt time.Time) (model.Reservation, error)
	// Cancel moves a PENDING or CONFIRMED reservation to CANCELLED.
	Cancel(ctx context.Context, id string, actor model.Actor) (model.Reservation, error)
	// Expire moves a PENDING reservation to EXPIRED.  It is idempotent:
	// for any other state it returns the reservation unchanged and false.
	Expire(ctx context.Context, id string) (model.Reservation, bool, error)
	Get(ctx context.Context, id string) (model.Reservation, error)
	// ListActive returns the PENDING and CONFIRMED reservations of a
	// schedule ordered by creation time.
	ListActive(ctx context.Context, scheduleID string) ([]model.Reservation, error)
	// ListByUser returns every reservation of a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]model.Reservation, error)
	// ExpiredPending returns up to limit PENDING reservations whose hold
	// deadline lies before the given instant, oldest deadline first.
	ExpiredPending(ctx context.Context, before time.Time, limit int) ([]model.Reservation, error)
	// PendingScheduleIDs lists schedules with at least one PENDING
	// reservation.
	PendingScheduleIDs(ctx context.Context) ([]string, error)
}

// ScheduleDirectory resolves schedules maintained outside the engine.
type ScheduleDirectory interface {
	Lookup(ctx context.Context, scheduleID string) (model.Schedule, error)
}

// Notifier receives ledger events once the transition that produced them
// has committed.
type Notifier interface {
	Notify(ctx context.Context, e model.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e model.Event) error

func (f NotifierFunc) Notify(ctx context.Context, e model.Event) error { return f(ctx, e) }

var discard = NotifierFunc(func(context.Context, model.Event) error { return nil })

// Options configure a ledger.  Zero values select the real clock, no
// event delivery and the default logger.
type Options struct {
	Clock    clock.Clock
	Notifier Notifier
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Notifier == nil {
		o.Notifier = discard
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// emit hands e to the notifier.  Failures are logged; the transition has
// already committed and cannot be undone.
func (o Options) emit(ctx context.Context, e model.Event) {
	if err := o.Notifier.Notify(ctx, e); err != nil {
		o.Logger.Error("ledger: event not queued",
			"event", e.Type, "reservation_id", e.ReservationID, "error", err)
	}
}

func eventFor(state model.State) model.EventType {
	switch state {
	case model.StateConfirmed:
		return model.EventReservationConfirmed
	case model.StateCancelled:
		return model.EventReservationCancelled
	default:
		return model.EventReservationExpired
	}
}
