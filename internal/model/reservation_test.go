package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func pending(deadline time.Time) Reservation {
	return Reservation{ID: "r1", ScheduleID: "s1", UserID: "u1", Seats: []int{1}, State: StatePending, HoldExpiresAt: &deadline}
}

func TestConfirmBeforeDeadline(t *testing.T) {
	r := pending(epoch.Add(time.Minute))
	if err := r.Confirm(epoch, epoch); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if r.State != StateConfirmed || r.ConfirmedAt == nil || r.HoldExpiresAt != nil {
		t.Fatalf("unexpected reservation after confirm: %+v", r)
	}
}

func TestConfirmTransitions(t *testing.T) {
	deadline := epoch.Add(time.Minute)
	tests := []struct {
		name       string
		state      State
		acceptedAt time.Time
		want       error
	}{
		{"late", StatePending, deadline.Add(time.Second), ErrHoldExpired},
		{"at deadline", StatePending, deadline, nil},
		{"expired", StateExpired, epoch, ErrHoldExpired},
		{"cancelled", StateCancelled, epoch, ErrAlreadyTerminal},
		{"confirmed", StateConfirmed, epoch, ErrAlreadyTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := pending(deadline)
			r.State = tt.state
			err := r.Confirm(epoch, tt.acceptedAt)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("Confirm: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Confirm error = %v, want %v", err, tt.want)
			}
			if r.State != tt.state {
				t.Fatalf("state changed to %s on failure", r.State)
			}
		})
	}
}

func TestCancelTwiceIsTerminal(t *testing.T) {
	r := pending(epoch.Add(time.Minute))
	actor := Actor{ID: "u1", Role: RoleCustomer}
	if err := r.Cancel(epoch, actor); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	first := *r.CancelledAt
	if err := r.Cancel(epoch.Add(time.Second), actor); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("second Cancel error = %v, want ErrAlreadyTerminal", err)
	}
	if !r.CancelledAt.Equal(first) {
		t.Fatal("second Cancel mutated CancelledAt")
	}
	if r.CancelledBy != "CUSTOMER:u1" {
		t.Fatalf("CancelledBy = %q", r.CancelledBy)
	}
}

func TestExpireOnlyFromPending(t *testing.T) {
	r := pending(epoch)
	if !r.Expire(epoch) {
		t.Fatal("Expire on PENDING reported no change")
	}
	if r.Expire(epoch) {
		t.Fatal("Expire on EXPIRED reported a change")
	}
	c := pending(epoch)
	c.State = StateConfirmed
	if c.Expire(epoch) || c.State != StateConfirmed {
		t.Fatal("Expire touched a CONFIRMED reservation")
	}
}

func TestNormalizeSeats(t *testing.T) {
	got := NormalizeSeats([]int{5, 3, 5, 4, 3})
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("NormalizeSeats = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NormalizeSeats = %v, want %v", got, want)
		}
	}
}

func TestReservationCode(t *testing.T) {
	code := NewReservationCode(epoch)
	if !strings.HasPrefix(code, "RES1772366400") || len(code) != len("RES1772366400")+4 {
		t.Fatalf("code = %q", code)
	}
}

func TestScheduleChecks(t *testing.T) {
	s := Schedule{ID: "s1", Capacity: 2, DepartureAt: epoch.Add(time.Hour), Status: ScheduleScheduled}
	if err := s.CheckSeats(nil); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("CheckSeats(nil) = %v", err)
	}
	if err := s.CheckSeats([]int{0}); !errors.Is(err, ErrInvalidSeat) {
		t.Fatalf("CheckSeats(0) = %v", err)
	}
	if err := s.CheckSeats([]int{3}); !errors.Is(err, ErrInvalidSeat) {
		t.Fatalf("CheckSeats(3) = %v", err)
	}
	if err := s.CheckSeats([]int{1, 2}); err != nil {
		t.Fatalf("CheckSeats(1,2) = %v", err)
	}
	if err := s.CheckOpen(epoch, 0); err != nil {
		t.Fatalf("CheckOpen = %v", err)
	}
	if err := s.CheckOpen(epoch, 2*time.Hour); !errors.Is(err, ErrScheduleClosed) {
		t.Fatalf("CheckOpen inside cutoff = %v", err)
	}
	s.Status = ScheduleCancelled
	if err := s.CheckOpen(epoch, 0); !errors.Is(err, ErrScheduleClosed) {
		t.Fatalf("CheckOpen cancelled = %v", err)
	}
}

func TestSeatConflictError(t *testing.T) {
	var err error = &SeatConflictError{ScheduleID: "s1", Seats: []int{4, 2}}
	if !errors.Is(err, ErrSeatConflict) {
		t.Fatal("SeatConflictError does not match ErrSeatConflict")
	}
	if got := ConflictingSeats(err); len(got) != 2 {
		t.Fatalf("ConflictingSeats = %v", got)
	}
	if !IsExpected(err) {
		t.Fatal("seat conflict should be an expected outcome")
	}
	if IsExpected(errors.New("disk on fire")) {
		t.Fatal("arbitrary error classified as expected")
	}
	if want := "seat conflict on schedule s1: seats [2,4]"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
