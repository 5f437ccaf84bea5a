// Package booking is the allocation engine.  It drives the
// search → hold → confirm/cancel protocol against the reservation ledger
// and the hold manager, reclaims abandoned attempts with the Sweeper and
// rebuilds holds after a restart with Recover.
//
// Cross-cutting stages (validation, logging, timeouts, cancellation
// policy) are Middleware wrapped around the Engine at construction time.
package booking

import (
	"context"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

// Service is the public surface of the engine.  The actor on every call is
// supplied by the authentication layer and trusted as-is.
type Service interface {
	SearchAvailability(ctx context.Context, scheduleID string) (Availability, error)
	SuggestSeats(ctx context.Context, req SuggestRequest) ([]seatmap.Seat, error)
	BookSeats(ctx context.Context, req BookRequest) (model.Reservation, error)
	ConfirmBooking(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error)
	CancelBooking(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error)
	GetReservation(ctx context.Context, reservationID string, actor model.Actor) (model.Reservation, error)
	ListReservations(ctx context.Context, actor model.Actor) ([]model.Reservation, error)
	CloseSchedule(ctx context.Context, scheduleID string, actor model.Actor) (CloseResult, error)
}

// BookRequest asks for a PENDING reservation of Seats.  A zero HoldTTL
// selects the configured default.
type BookRequest struct {
	ScheduleID string
	Actor      model.Actor
	Seats      []int
	HoldTTL    time.Duration
}

// SuggestRequest asks for Count seats matching Prefs.
type SuggestRequest struct {
	ScheduleID string
	Count      int
	Prefs      seatmap.Preferences
}

// Availability is the free part of a schedule's seat map.
type Availability struct {
	ScheduleID  string               `json:"schedule_id"`
	Status      model.ScheduleStatus `json:"status"`
	DepartureAt time.Time            `json:"departure_at"`
	Capacity    int                  `json:"capacity"`
	Available   []int                `json:"available"`
	Seats       []seatmap.Seat       `json:"seats"`
}

// CloseResult lists the reservations cancelled by CloseSchedule.
type CloseResult struct {
	ScheduleID string   `json:"schedule_id"`
	Cancelled  []string `json:"cancelled"`
}
