package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/hold"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// Config holds the business parameters of the engine.
type Config struct {
	// HoldTTL is used when a booking does not ask for a specific TTL.
	HoldTTL time.Duration
	// ConfirmExtension is how far a hold is pushed out while the
	// confirmation is being written.
	ConfirmExtension time.Duration
	// BookingCutoff closes a schedule for new bookings this long before
	// departure.
	BookingCutoff time.Duration
}

// Deps are the stores the engine orchestrates.  They are constructed and
// closed by the caller.
type Deps struct {
	Ledger    repository.Ledger
	Holds     hold.Manager
	Directory repository.ScheduleDirectory
	View      *seatmap.View
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Engine implements Service.
type Engine struct {
	ledger repository.Ledger
	holds  hold.Manager
	dir    repository.ScheduleDirectory
	view   *seatmap.View
	clock  clock.Clock
	log    *slog.Logger
	cfg    Config
}

var _ Service = (*Engine)(nil)

// NewEngine returns an engine over d.
func NewEngine(d Deps, cfg Config) *Engine {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.View == nil {
		d.View = seatmap.NewView(d.Ledger, nil, d.Logger)
	}
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = 5 * time.Minute
	}
	if cfg.ConfirmExtension <= 0 {
		cfg.ConfirmExtension = 30 * time.Second
	}
	return &Engine{
		ledger: d.Ledger,
		holds:  d.Holds,
		dir:    d.Directory,
		view:   d.View,
		clock:  d.Clock,
		log:    d.Logger,
		cfg:    cfg,
	}
}

// SearchAvailability returns the free seats of a schedule with their labels.
func (e *Engine) SearchAvailability(ctx context.Context, scheduleID string) (Availability, error) {
	sched, err := e.dir.Lookup(ctx, scheduleID)
	if err != nil {
		return Availability{}, err
	}
	free, err := e.view.Available(ctx, sched)
	if err != nil {
		return Availability{}, err
	}
	layout := seatmap.LayoutOf(sched)
	members := free.Members()
	seats := make([]seatmap.Seat, len(members))
	for i, n := range members {
		seats[i] = layout.Describe(n)
	}
	return Availability{
		ScheduleID:  sched.ID,
		Status:      sched.Status,
		DepartureAt: sched.DepartureAt,
		Capacity:    sched.Capacity,
		Available:   members,
		Seats:       seats,
	}, nil
}

// SuggestSeats picks req.Count free seats according to req.Prefs without
// holding them.
func (e *Engine) SuggestSeats(ctx context.Context, req SuggestRequest) ([]seatmap.Seat, error) {
	sched, err := e.dir.Lookup(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if err := sched.CheckOpen(e.clock.Now(), e.cfg.BookingCutoff); err != nil {
		return nil, err
	}
	free, err := e.view.Available(ctx, sched)
	if err != nil {
		return nil, err
	}
	layout := seatmap.LayoutOf(sched)
	picked, err := layout.Suggest(free, req.Count, req.Prefs)
	if err != nil {
		return nil, err
	}
	out := make([]seatmap.Seat, len(picked))
	for i, n := range picked {
		out[i] = layout.Describe(n)
	}
	return out, nil
}

// BookSeats holds the seats and records a PENDING reservation backed by
// the hold.  The hold and the reservation share one identifier.
func (e *Engine) BookSeats(ctx context.Context, req BookRequest) (model.Reservation, error) {
	sched, err := e.dir.Lookup(ctx, req.ScheduleID)
	if err != nil {
		return model.Reservation{}, err
	}
	seats := model.NormalizeSeats(req.Seats)
	if err := sched.CheckSeats(seats); err != nil {
		return model.Reservation{}, err
	}
	if err := sched.CheckOpen(e.clock.Now(), e.cfg.BookingCutoff); err != nil {
		return model.Reservation{}, err
	}

	free, err := e.view.Available(ctx, sched)
	if err != nil {
		return model.Reservation{}, err
	}
	var taken []int
	for _, n := range seats {
		if !free.Has(n) {
			taken = append(taken, n)
		}
	}
	if len(taken) > 0 {
		return model.Reservation{}, &model.SeatConflictError{ScheduleID: sched.ID, Seats: taken}
	}

	ttl := req.HoldTTL
	if ttl == 0 {
		ttl = e.cfg.HoldTTL
	}
	h, err := e.holds.Acquire(ctx, hold.Request{ID: uuid.NewString(), ScheduleID: sched.ID, Seats: seats, TTL: ttl})
	if err != nil {
		return model.Reservation{}, err
	}
	r, err := e.ledger.CreatePending(ctx, model.PendingRequest{
		ID:         h.ID,
		ScheduleID: sched.ID,
		UserID:     req.Actor.ID,
		Seats:      seats,
		ExpiresAt:  h.ExpiresAt,
	})
	if err != nil {
		e.release(ctx, sched.ID, h.ID)
		return model.Reservation{}, err
	}
	e.view.Invalidate(ctx, sched.ID)
	return r, nil
}

// ConfirmBooking extends the hold, confirms in the ledger and drops the
// hold.  A confirmation that arrives after the deadline expires the
// reservation on the spot so that its seats are released immediately.
func (e *Engine) ConfirmBooking(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error) {
	r, err := e.owned(ctx, reservationID, actor)
	if err != nil {
		return model.Reservation{}, err
	}
	switch r.State {
	case model.StatePending:
	case model.StateExpired:
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", r.ID, model.ErrHoldExpired)
	default:
		return model.Reservation{}, fmt.Errorf("reservation %s is %s: %w", r.ID, r.State, model.ErrAlreadyTerminal)
	}

	now := e.clock.Now()
	if r.DeadlinePassed(now) {
		return model.Reservation{}, e.expireLate(ctx, r)
	}
	until := now.Add(e.cfg.ConfirmExtension)
	if r.HoldExpiresAt.After(until) {
		until = *r.HoldExpiresAt
	}
	if _, err := e.holds.Extend(ctx, r.ScheduleID, r.ID, until); err != nil {
		switch {
		case errors.Is(err, model.ErrHoldExpired):
			return model.Reservation{}, e.expireLate(ctx, r)
		case errors.Is(err, model.ErrNotFound):
			// Holds are lost on restart; the ledger deadline still decides.
			e.log.Warn("booking: confirming without a live hold", "reservation_id", r.ID, "schedule_id", r.ScheduleID)
		default:
			return model.Reservation{}, err
		}
	}

	confirmed, err := e.ledger.Confirm(ctx, r.ID, now)
	if errors.Is(err, model.ErrHoldExpired) {
		return model.Reservation{}, e.expireLate(ctx, r)
	}
	if err != nil {
		return model.Reservation{}, err
	}
	e.release(ctx, r.ScheduleID, r.ID)
	e.view.Invalidate(ctx, r.ScheduleID)
	return confirmed, nil
}

// CancelBooking cancels a PENDING or CONFIRMED reservation owned by actor
// and frees its seats.
func (e *Engine) CancelBooking(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error) {
	r, err := e.owned(ctx, reservationID, actor)
	if err != nil {
		return model.Reservation{}, err
	}
	cancelled, err := e.ledger.Cancel(ctx, r.ID, actor)
	if err != nil {
		return model.Reservation{}, err
	}
	e.release(ctx, r.ScheduleID, r.ID)
	e.view.Invalidate(ctx, r.ScheduleID)
	return cancelled, nil
}

// GetReservation returns a reservation visible to actor.
func (e *Engine) GetReservation(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error) {
	return e.owned(ctx, reservationID, actor)
}

// ListReservations returns the reservations made by actor.
func (e *Engine) ListReservations(ctx context.Context, actor model.Actor) ([]model.Reservation, error) {
	return e.ledger.ListByUser(ctx, actor.ID)
}

// CloseSchedule reacts to an administrative cancellation of a departure:
// every active reservation is cancelled on behalf of actor.
func (e *Engine) CloseSchedule(ctx context.Context, scheduleID string, actor model.Actor) (CloseResult, error) {
	if !actor.Privileged() {
		return CloseResult{}, fmt.Errorf("close schedule %s: %w", scheduleID, model.ErrForbidden)
	}
	if _, err := e.dir.Lookup(ctx, scheduleID); err != nil {
		return CloseResult{}, err
	}
	active, err := e.ledger.ListActive(ctx, scheduleID)
	if err != nil {
		return CloseResult{}, err
	}
	res := CloseResult{ScheduleID: scheduleID, Cancelled: []string{}}
	var errs []error
	for _, r := range active {
		_, err := e.ledger.Cancel(ctx, r.ID, actor)
		switch {
		case err == nil:
			res.Cancelled = append(res.Cancelled, r.ID)
		case errors.Is(err, model.ErrAlreadyTerminal):
			// finished concurrently
		default:
			errs = append(errs, err)
			continue
		}
		e.release(ctx, scheduleID, r.ID)
	}
	e.view.Invalidate(ctx, scheduleID)
	return res, errors.Join(errs...)
}

func (e *Engine) owned(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error) {
	r, err := e.ledger.Get(ctx, reservationID)
	if err != nil {
		return model.Reservation{}, err
	}
	if !actor.Privileged() && r.UserID != actor.ID {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", reservationID, model.ErrForbidden)
	}
	return r, nil
}

func (e *Engine) expireLate(ctx context.Context, r model.Reservation) error {
	if _, _, err := e.ledger.Expire(ctx, r.ID); err != nil {
		return err
	}
	e.release(ctx, r.ScheduleID, r.ID)
	e.view.Invalidate(ctx, r.ScheduleID)
	return fmt.Errorf("reservation %s: %w", r.ID, model.ErrHoldExpired)
}

// release drops a hold after the ledger has moved on.  A failure leaves the
// hold to run out and be collected by the sweeper.
func (e *Engine) release(ctx context.Context, scheduleID, holdID string) {
	if err := e.holds.Release(ctx, scheduleID, holdID); err != nil {
		e.log.Warn("booking: hold release failed", "schedule_id", scheduleID, "hold_id", holdID, "error", err)
	}
}
