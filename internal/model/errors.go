package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The booking error taxonomy.  Every error returned by the ledger, the hold
// manager and the engine for an expected business outcome is (or wraps) one
// of these values; callers distinguish them with errors.Is.  Anything else
// is an infrastructure failure and is returned unchanged for the caller to
// retry with backoff.
var (
	// ErrInvalidSeat means a seat number lies outside the bus layout.
	ErrInvalidSeat = errors.New("invalid seat")
	// ErrEmptySelection means no seats were requested.
	ErrEmptySelection = errors.New("empty seat selection")
	// ErrTooManySeats means the request exceeds the per-booking seat limit.
	ErrTooManySeats = errors.New("too many seats in one booking")
	// ErrInvalidTTL means the requested hold lifetime is not positive or too long.
	ErrInvalidTTL = errors.New("invalid hold ttl")
	// ErrScheduleClosed means the departure has passed, is inside the booking
	// cutoff, or the schedule was administratively cancelled.
	ErrScheduleClosed = errors.New("schedule closed")
	// ErrSeatConflict means at least one requested seat is held or reserved.
	ErrSeatConflict = errors.New("seat conflict")
	// ErrInsufficientSeats means fewer seats are free than were asked for.
	ErrInsufficientSeats = errors.New("insufficient free seats")
	// ErrHoldExpired means the confirmation arrived after the hold deadline.
	ErrHoldExpired = errors.New("hold expired")
	// ErrNotFound means the reservation, hold or schedule does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyTerminal means the reservation can no longer make the
	// requested transition.
	ErrAlreadyTerminal = errors.New("reservation already terminal")
	// ErrCutoffPassed means a confirmed reservation is too close to
	// departure to be cancelled by a customer.
	ErrCutoffPassed = errors.New("cancellation cutoff passed")
	// ErrForbidden means the actor may not act on the reservation.
	ErrForbidden = errors.New("forbidden")
)

// SeatConflictError reports which seats could not be taken.  It matches
// ErrSeatConflict with errors.Is.
type SeatConflictError struct {
	ScheduleID string
	Seats      []int
}

func (e *SeatConflictError) Error() string {
	seats := append([]int(nil), e.Seats...)
	sort.Ints(seats)
	parts := make([]string, len(seats))
	for i, s := range seats {
		parts[i] = strconv.Itoa(s)
	}
	return fmt.Sprintf("seat conflict on schedule %s: seats [%s]", e.ScheduleID, strings.Join(parts, ","))
}

func (e *SeatConflictError) Is(target error) bool { return target == ErrSeatConflict }

// ConflictingSeats extracts the conflicting seat numbers from err, if any.
func ConflictingSeats(err error) []int {
	var sc *SeatConflictError
	if errors.As(err, &sc) {
		return sc.Seats
	}
	return nil
}

// IsExpected reports whether err is a user-facing booking outcome rather
// than a system fault.
func IsExpected(err error) bool {
	for _, target := range []error{
		ErrInvalidSeat, ErrEmptySelection, ErrTooManySeats, ErrInvalidTTL,
		ErrScheduleClosed, ErrSeatConflict, ErrInsufficientSeats, ErrHoldExpired,
		ErrNotFound, ErrAlreadyTerminal, ErrCutoffPassed, ErrForbidden,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
