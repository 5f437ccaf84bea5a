package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

func TestSweepOrphanedPending(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	// A PENDING reservation left behind by a crash: no hold exists.
	if _, err := h.ledger.CreatePending(ctx, model.PendingRequest{
		ID: "orphan", ScheduleID: "s1", UserID: "u", Seats: []int{4}, ExpiresAt: epoch.Add(time.Minute),
	}); err != nil {
		t.Fatal(err)
	}
	if stats := h.sweep(t); stats.Expired != 0 {
		t.Fatalf("expired before deadline: %+v", stats)
	}
	h.clock.Advance(2 * time.Minute)
	if stats := h.sweep(t); stats.Expired != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := h.book(t, alice, 0, 4); err != nil {
		t.Fatalf("orphaned seat not reclaimed: %v", err)
	}
}

// failingLedger refuses to expire reservations of one schedule.
type failingLedger struct {
	repository.Ledger
	bad map[string]string
}

func (f *failingLedger) Expire(ctx context.Context, id string) (model.Reservation, bool, error) {
	if _, ok := f.bad[id]; ok {
		return model.Reservation{}, false, errors.New("storage unavailable")
	}
	return f.Ledger.Expire(ctx, id)
}

func TestSweepIsolatesSchedules(t *testing.T) {
	h := newHarness(t, 10)
	h.dir.Put(model.Schedule{ID: "s2", Capacity: 10, DepartureAt: epoch.Add(24 * time.Hour), Status: model.ScheduleScheduled})
	ctx := context.Background()
	r1, err := h.book(t, alice, time.Minute, 1)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := h.engine.BookSeats(ctx, BookRequest{ScheduleID: "s2", Actor: bob, Seats: []int{1}, HoldTTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}

	fl := &failingLedger{Ledger: h.ledger, bad: map[string]string{r1.ID: "s1"}}
	sw := NewSweeper(fl, h.holds, nil, h.clock, quietLogger(), SweeperConfig{})
	h.clock.Advance(2 * time.Minute)
	stats, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed == 0 || stats.Expired != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if got, _ := h.ledger.Get(ctx, r2.ID); got.State != model.StateExpired {
		t.Fatalf("healthy schedule not swept: %s", got.State)
	}
	if got, _ := h.ledger.Get(ctx, r1.ID); got.State != model.StatePending {
		t.Fatalf("failing schedule changed: %s", got.State)
	}
	if _, err := h.holds.Get(ctx, "s1", r1.ID); err != nil {
		t.Fatalf("hold released although the ledger still says PENDING: %v", err)
	}
}

func TestSweeperRunStops(t *testing.T) {
	h := newHarness(t, 10)
	sw := NewSweeper(h.ledger, h.holds, nil, h.clock, quietLogger(), SweeperConfig{Interval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
