package model

import "time"

// Hold is a short-lived exclusive claim on a set of seats of one schedule
// during the booking flow.  A hold is identified by the PENDING reservation
// that it backs, so ID always equals that reservation's ID.
//
// Fields:
//
//	ID         – reservation ID the hold belongs to.
//	ScheduleID – schedule whose seats are held.
//	Seats      – held seat numbers, sorted ascending.
//	ExpiresAt  – when the hold stops being live.
//	CreatedAt  – when the hold was placed.
type Hold struct {
	ID         string
	ScheduleID string
	Seats      []int
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

// Expired reports whether the hold's deadline lies before now.
func (h Hold) Expired(now time.Time) bool { return now.After(h.ExpiresAt) }
