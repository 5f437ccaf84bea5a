package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a reservation lifecycle event.
type EventType string

const (
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationExpired   EventType = "reservation.expired"
)

// Event is emitted after a ledger transition commits.  Delivery is
// at-least-once; consumers de-duplicate on (ReservationID, Type).
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	ReservationID string    `json:"reservation_id"`
	Code          string    `json:"code"`
	ScheduleID    string    `json:"schedule_id"`
	UserID        string    `json:"user_id"`
	Seats         []int     `json:"seats"`
	TotalCents    int64     `json:"total_cents"`
	Actor         string    `json:"actor,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// NewEvent builds the event describing r after a transition of type t.
func NewEvent(t EventType, r Reservation, actor string, at time.Time) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          t,
		ReservationID: r.ID,
		Code:          r.Code,
		ScheduleID:    r.ScheduleID,
		UserID:        r.UserID,
		Seats:         append([]int(nil), r.Seats...),
		TotalCents:    r.TotalCents,
		Actor:         actor,
		OccurredAt:    at,
	}
}
