package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// Middleware decorates a Service.
type Middleware func(Service) Service

// Chain wraps s so that mws[0] is the outermost stage.
func Chain(s Service, mws ...Middleware) Service {
	for i := len(mws) - 1; i >= 0; i-- {
		s = mws[i](s)
	}
	return s
}

// ---- validation ----

// Limits bound what a single request may ask for.
type Limits struct {
	MaxSeats   int
	MaxHoldTTL time.Duration
}

// WithValidation rejects malformed requests before they reach the stores.
// Checks that need the schedule (layout, departure) stay in the Engine.
func WithValidation(l Limits) Middleware {
	return func(next Service) Service { return &validating{Service: next, limits: l} }
}

type validating struct {
	Service
	limits Limits
}

func (v *validating) SearchAvailability(ctx context.Context, scheduleID string) (Availability, error) {
	if scheduleID == "" {
		return Availability{}, fmt.Errorf("empty schedule id: %w", model.ErrNotFound)
	}
	return v.Service.SearchAvailability(ctx, scheduleID)
}

func (v *validating) SuggestSeats(ctx context.Context, req SuggestRequest) ([]seatmap.Seat, error) {
	if req.ScheduleID == "" {
		return nil, fmt.Errorf("empty schedule id: %w", model.ErrNotFound)
	}
	if req.Count < 1 {
		return nil, model.ErrEmptySelection
	}
	if v.limits.MaxSeats > 0 && req.Count > v.limits.MaxSeats {
		return nil, fmt.Errorf("%d seats, limit %d: %w", req.Count, v.limits.MaxSeats, model.ErrTooManySeats)
	}
	return v.Service.SuggestSeats(ctx, req)
}

func (v *validating) BookSeats(ctx context.Context, req BookRequest) (model.Reservation, error) {
	if req.ScheduleID == "" {
		return model.Reservation{}, fmt.Errorf("empty schedule id: %w", model.ErrNotFound)
	}
	if req.Actor.ID == "" {
		return model.Reservation{}, fmt.Errorf("booking without a user: %w", model.ErrForbidden)
	}
	if len(req.Seats) == 0 {
		return model.Reservation{}, model.ErrEmptySelection
	}
	seen := make(map[int]bool, len(req.Seats))
	for _, n := range req.Seats {
		if n < 1 {
			return model.Reservation{}, fmt.Errorf("seat %d: %w", n, model.ErrInvalidSeat)
		}
		if seen[n] {
			return model.Reservation{}, fmt.Errorf("seat %d requested twice: %w", n, model.ErrInvalidSeat)
		}
		seen[n] = true
	}
	if v.limits.MaxSeats > 0 && len(req.Seats) > v.limits.MaxSeats {
		return model.Reservation{}, fmt.Errorf("%d seats, limit %d: %w", len(req.Seats), v.limits.MaxSeats, model.ErrTooManySeats)
	}
	if req.HoldTTL < 0 || (v.limits.MaxHoldTTL > 0 && req.HoldTTL > v.limits.MaxHoldTTL) {
		return model.Reservation{}, fmt.Errorf("ttl %s: %w", req.HoldTTL, model.ErrInvalidTTL)
	}
	return v.Service.BookSeats(ctx, req)
}

func (v *validating) ConfirmBooking(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	if id == "" {
		return model.Reservation{}, fmt.Errorf("empty reservation id: %w", model.ErrNotFound)
	}
	return v.Service.ConfirmBooking(ctx, id, actor)
}

func (v *validating) CancelBooking(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	if id == "" {
		return model.Reservation{}, fmt.Errorf("empty reservation id: %w", model.ErrNotFound)
	}
	return v.Service.CancelBooking(ctx, id, actor)
}

// ---- cancellation cutoff ----

// WithCancelCutoff refuses customer cancellations of CONFIRMED
// reservations once departure is closer than cutoff.  Privileged actors
// and PENDING reservations are not affected.  A non-positive cutoff
// disables the stage.
func WithCancelCutoff(cutoff time.Duration, ledger repository.Ledger, dir repository.ScheduleDirectory, c clock.Clock) Middleware {
	return func(next Service) Service {
		if cutoff <= 0 {
			return next
		}
		if c == nil {
			c = clock.Real()
		}
		return &cutoffPolicy{Service: next, cutoff: cutoff, ledger: ledger, dir: dir, clock: c}
	}
}

type cutoffPolicy struct {
	Service
	cutoff time.Duration
	ledger repository.Ledger
	dir    repository.ScheduleDirectory
	clock  clock.Clock
}

func (p *cutoffPolicy) CancelBooking(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	if actor.Privileged() {
		return p.Service.CancelBooking(ctx, id, actor)
	}
	r, err := p.ledger.Get(ctx, id)
	if err != nil {
		return model.Reservation{}, err
	}
	if r.State == model.StateConfirmed {
		sched, err := p.dir.Lookup(ctx, r.ScheduleID)
		if err != nil {
			return model.Reservation{}, err
		}
		if !p.clock.Now().Before(sched.DepartureAt.Add(-p.cutoff)) {
			return model.Reservation{}, fmt.Errorf("reservation %s departs %s: %w",
				id, sched.DepartureAt.Format(time.RFC3339), model.ErrCutoffPassed)
		}
	}
	return p.Service.CancelBooking(ctx, id, actor)
}

// ---- timeout ----

// WithTimeout bounds every operation by d.
func WithTimeout(d time.Duration) Middleware {
	return func(next Service) Service {
		if d <= 0 {
			return next
		}
		return &timeouts{next: next, d: d}
	}
}

type timeouts struct {
	next Service
	d    time.Duration
}

func (t *timeouts) SearchAvailability(ctx context.Context, scheduleID string) (Availability, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.SearchAvailability(ctx, scheduleID)
}

func (t *timeouts) SuggestSeats(ctx context.Context, req SuggestRequest) ([]seatmap.Seat, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.SuggestSeats(ctx, req)
}

func (t *timeouts) BookSeats(ctx context.Context, req BookRequest) (model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.BookSeats(ctx, req)
}

func (t *timeouts) ConfirmBooking(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ConfirmBooking(ctx, id, actor)
}

func (t *timeouts) CancelBooking(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.CancelBooking(ctx, id, actor)
}

func (t *timeouts) GetReservation(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.GetReservation(ctx, id, actor)
}

func (t *timeouts) ListReservations(ctx context.Context, actor model.Actor) ([]model.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.ListReservations(ctx, actor)
}

func (t *timeouts) CloseSchedule(ctx context.Context, scheduleID string, actor model.Actor) (CloseResult, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.next.CloseSchedule(ctx, scheduleID, actor)
}

// ---- logging ----

// WithLogging records every operation with its duration and outcome.
// Expected business outcomes are logged at INFO, anything else at ERROR.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Service) Service { return &logging{next: next, log: logger} }
}

type logging struct {
	next Service
	log  *slog.Logger
}

func (l *logging) done(ctx context.Context, op string, start time.Time, err error, attrs ...any) {
	attrs = append(attrs, "op", op, "duration", time.Since(start))
	switch {
	case err == nil:
		l.log.DebugContext(ctx, "booking", attrs...)
	case model.IsExpected(err):
		l.log.InfoContext(ctx, "booking", append(attrs, "outcome", err.Error())...)
	default:
		l.log.ErrorContext(ctx, "booking", append(attrs, "error", err)...)
	}
}

func (l *logging) SearchAvailability(ctx context.Context, scheduleID string) (a Availability, err error) {
	defer func(start time.Time) {
		l.done(ctx, "search_availability", start, err, "schedule_id", scheduleID, "free", len(a.Available))
	}(time.Now())
	return l.next.SearchAvailability(ctx, scheduleID)
}

func (l *logging) SuggestSeats(ctx context.Context, req SuggestRequest) (seats []seatmap.Seat, err error) {
	defer func(start time.Time) {
		l.done(ctx, "suggest_seats", start, err, "schedule_id", req.ScheduleID, "count", req.Count)
	}(time.Now())
	return l.next.SuggestSeats(ctx, req)
}

func (l *logging) BookSeats(ctx context.Context, req BookRequest) (r model.Reservation, err error) {
	defer func(start time.Time) {
		l.done(ctx, "book_seats", start, err,
			"schedule_id", req.ScheduleID, "actor", req.Actor.String(), "seats", req.Seats, "reservation_id", r.ID)
	}(time.Now())
	return l.next.BookSeats(ctx, req)
}

func (l *logging) ConfirmBooking(ctx context.Context, id string, actor model.Actor) (r model.Reservation, err error) {
	defer func(start time.Time) {
		l.done(ctx, "confirm_booking", start, err, "reservation_id", id, "actor", actor.String())
	}(time.Now())
	return l.next.ConfirmBooking(ctx, id, actor)
}

func (l *logging) CancelBooking(ctx context.Context, id string, actor model.Actor) (r model.Reservation, err error) {
	defer func(start time.Time) {
		l.done(ctx, "cancel_booking", start, err, "reservation_id", id, "actor", actor.String())
	}(time.Now())
	return l.next.CancelBooking(ctx, id, actor)
}

func (l *logging) GetReservation(ctx context.Context, id string, actor model.Actor) (r model.Reservation, err error) {
	defer func(start time.Time) {
		l.done(ctx, "get_reservation", start, err, "reservation_id", id, "actor", actor.String())
	}(time.Now())
	return l.next.GetReservation(ctx, id, actor)
}

func (l *logging) ListReservations(ctx context.Context, actor model.Actor) (rs []model.Reservation, err error) {
	defer func(start time.Time) {
		l.done(ctx, "list_reservations", start, err, "actor", actor.String(), "count", len(rs))
	}(time.Now())
	return l.next.ListReservations(ctx, actor)
}

func (l *logging) CloseSchedule(ctx context.Context, scheduleID string, actor model.Actor) (res CloseResult, err error) {
	defer func(start time.Time) {
		l.done(ctx, "close_schedule", start, err, "schedule_id", scheduleID, "actor", actor.String(), "cancelled", len(res.Cancelled))
	}(time.Now())
	return l.next.CloseSchedule(ctx, scheduleID, actor)
}
