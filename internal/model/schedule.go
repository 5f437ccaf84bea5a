package model

import (
	"fmt"
	"time"
)

// ScheduleStatus is the administrative state of a departure.
type ScheduleStatus string

const (
	ScheduleScheduled ScheduleStatus = "SCHEDULED"
	ScheduleCancelled ScheduleStatus = "CANCELLED"
	ScheduleCompleted ScheduleStatus = "COMPLETED"
)

// DefaultSeatsPerRow is the bus row width used when a schedule does not
// specify one.
const DefaultSeatsPerRow = 4

// Schedule represents a single bus departure.  The engine only reads
// schedules; they are maintained by the administration collaborator.
//
// Fields:
//
//	ID          – primary key identifier.
//	RouteID     – route the bus runs on.
//	BusID       – bus assigned to the departure.
//	Capacity    – number of seats; seat numbers are 1..Capacity.
//	SeatsPerRow – row width of the bus layout.
//	DepartureAt – departure timestamp (UTC).
//	PriceCents  – price of one seat in cents.
//	Status      – SCHEDULED, CANCELLED or COMPLETED.
type Schedule struct {
	ID          string         // schedules.id
	RouteID     string         // schedules.route_id
	BusID       string         // schedules.bus_id
	Capacity    int            // schedules.capacity
	SeatsPerRow int            // schedules.seats_per_row
	DepartureAt time.Time      // schedules.departure_at
	PriceCents  int64          // schedules.price_cents
	Status      ScheduleStatus // schedules.status
}

// RowWidth returns SeatsPerRow, falling back to DefaultSeatsPerRow.
func (s Schedule) RowWidth() int {
	if s.SeatsPerRow <= 0 {
		return DefaultSeatsPerRow
	}
	return s.SeatsPerRow
}

// CheckOpen returns ErrScheduleClosed when the schedule no longer accepts
// bookings at now.  cutoff is the minimum time that must remain before
// departure.
func (s Schedule) CheckOpen(now time.Time, cutoff time.Duration) error {
	if s.Status != ScheduleScheduled {
		return fmt.Errorf("schedule %s is %s: %w", s.ID, s.Status, ErrScheduleClosed)
	}
	if !now.Before(s.DepartureAt.Add(-cutoff)) {
		return fmt.Errorf("schedule %s departs at %s: %w", s.ID, s.DepartureAt.Format(time.RFC3339), ErrScheduleClosed)
	}
	return nil
}

// CheckSeats validates that every seat number lies in 1..Capacity.
func (s Schedule) CheckSeats(seats []int) error {
	if len(seats) == 0 {
		return ErrEmptySelection
	}
	for _, n := range seats {
		if n < 1 || n > s.Capacity {
			return fmt.Errorf("seat %d not in 1..%d: %w", n, s.Capacity, ErrInvalidSeat)
		}
	}
	return nil
}
