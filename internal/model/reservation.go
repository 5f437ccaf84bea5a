package model

import (
	"crypto/rand"
	"fmt"
	"sort"
	"time"
)

// State is the lifecycle state of a reservation.
type State string

const (
	StatePending   State = "PENDING"
	StateConfirmed State = "CONFIRMED"
	StateExpired   State = "EXPIRED"
	StateCancelled State = "CANCELLED"
)

// Active reports whether a reservation in this state occupies its seats.
func (s State) Active() bool { return s == StatePending || s == StateConfirmed }

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateExpired || s == StateCancelled }

// Reservation records a user's booking of one or more seats on a schedule.
// The ledger is the only writer.  Seats is kept sorted ascending.
//
// Fields:
//
//	ID            – primary key identifier (UUID).
//	Code          – human readable reservation code.
//	ScheduleID    – schedule being booked.
//	UserID        – user who made the reservation.
//	Seats         – seat numbers covered by the reservation.
//	State         – PENDING, CONFIRMED, EXPIRED or CANCELLED.
//	TotalCents    – price of all seats at creation time.
//	CreatedAt     – creation timestamp.
//	HoldExpiresAt – confirmation deadline; set only while PENDING.
//	ConfirmedAt   – when the reservation was confirmed.
//	CancelledAt   – when the reservation was cancelled.
//	ExpiredAt     – when the sweeper expired the reservation.
//	CancelledBy   – actor who cancelled the reservation.
type Reservation struct {
	ID            string     // reservations.id
	Code          string     // reservations.code
	ScheduleID    string     // reservations.schedule_id
	UserID        string     // reservations.user_id
	Seats         []int      // reservation_seats.seat_number
	State         State      // reservations.state
	TotalCents    int64      // reservations.total_cents
	CreatedAt     time.Time  // reservations.created_at
	HoldExpiresAt *time.Time // reservations.hold_expires_at (nullable)
	ConfirmedAt   *time.Time // reservations.confirmed_at (nullable)
	CancelledAt   *time.Time // reservations.cancelled_at (nullable)
	ExpiredAt     *time.Time // reservations.expired_at (nullable)
	CancelledBy   string     // reservations.cancelled_by
}

// PendingRequest carries the input of Ledger.CreatePending.  ID may be set
// by the caller so that the hold and the reservation share an identifier.
type PendingRequest struct {
	ID         string
	ScheduleID string
	UserID     string
	Seats      []int
	ExpiresAt  time.Time
}

// Clone returns a deep copy so callers never share mutable state with a
// store.
func (r Reservation) Clone() Reservation {
	r.Seats = append([]int(nil), r.Seats...)
	r.HoldExpiresAt = cloneTime(r.HoldExpiresAt)
	r.ConfirmedAt = cloneTime(r.ConfirmedAt)
	r.CancelledAt = cloneTime(r.CancelledAt)
	r.ExpiredAt = cloneTime(r.ExpiredAt)
	return r
}

// DeadlinePassed reports whether a PENDING reservation's hold deadline lies
// before at.
func (r Reservation) DeadlinePassed(at time.Time) bool {
	return r.HoldExpiresAt != nil && at.After(*r.HoldExpiresAt)
}

// Confirm moves a PENDING reservation to CONFIRMED.  acceptedAt is the
// instant the confirmation was accepted by the engine; it must not be past
// the hold deadline.
func (r *Reservation) Confirm(now, acceptedAt time.Time) error {
	switch r.State {
	case StatePending:
	case StateExpired:
		return fmt.Errorf("reservation %s: %w", r.ID, ErrHoldExpired)
	default:
		return fmt.Errorf("reservation %s is %s: %w", r.ID, r.State, ErrAlreadyTerminal)
	}
	if r.DeadlinePassed(acceptedAt) {
		return fmt.Errorf("reservation %s deadline %s: %w", r.ID, r.HoldExpiresAt.Format(time.RFC3339), ErrHoldExpired)
	}
	r.State = StateConfirmed
	r.ConfirmedAt = &now
	r.HoldExpiresAt = nil
	return nil
}

// Cancel moves a PENDING or CONFIRMED reservation to CANCELLED.
func (r *Reservation) Cancel(now time.Time, actor Actor) error {
	if !r.State.Active() {
		return fmt.Errorf("reservation %s is %s: %w", r.ID, r.State, ErrAlreadyTerminal)
	}
	r.State = StateCancelled
	r.CancelledAt = &now
	r.CancelledBy = actor.String()
	r.HoldExpiresAt = nil
	return nil
}

// Expire moves a PENDING reservation to EXPIRED.  It reports whether the
// state changed; any other state is left untouched.
func (r *Reservation) Expire(now time.Time) bool {
	if r.State != StatePending {
		return false
	}
	r.State = StateExpired
	r.ExpiredAt = &now
	r.HoldExpiresAt = nil
	return true
}

// NormalizeSeats returns a sorted copy of seats without duplicates.
func NormalizeSeats(seats []int) []int {
	out := make([]int, 0, len(seats))
	seen := make(map[int]struct{}, len(seats))
	for _, s := range seats {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Ints(out)
	return out
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReservationCode returns a code of the form RES<unix seconds><4 chars>.
func NewReservationCode(now time.Time) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand does not fail on supported platforms; fall back to the
		// clock so a code is still produced.
		n := now.UnixNano()
		for i := range b {
			b[i] = byte(n >> (8 * i))
		}
	}
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return fmt.Sprintf("RES%d%s", now.Unix(), b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
