package booking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/clock"
	"github.com/iliyamo/bus-seat-reservation/internal/hold"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/seatmap"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var (
	alice = model.Actor{ID: "alice", Role: model.RoleCustomer}
	bob   = model.Actor{ID: "bob", Role: model.RoleCustomer}
	carol = model.Actor{ID: "carol", Role: model.RoleCustomer}
	admin = model.Actor{ID: "root", Role: model.RoleAdmin}
)

type events struct {
	mu  sync.Mutex
	got []model.Event
}

func (e *events) Notify(_ context.Context, ev model.Event) error {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
	return nil
}

func (e *events) count(t model.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.got {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	engine  *Engine
	sweeper *Sweeper
	ledger  *repository.MemoryLedger
	holds   *hold.MemoryManager
	dir     *repository.MemoryDirectory
	clock   *clock.Fake
	events  *events
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newHarness(t *testing.T, capacity int) *harness {
	t.Helper()
	fc := clock.NewFake(epoch)
	ev := &events{}
	dir := repository.NewMemoryDirectory(model.Schedule{
		ID: "s1", Capacity: capacity, SeatsPerRow: 4, PriceCents: 2000,
		DepartureAt: epoch.Add(24 * time.Hour), Status: model.ScheduleScheduled,
	})
	ledger := repository.NewMemoryLedger(dir, repository.Options{Clock: fc, Notifier: ev, Logger: quietLogger()})
	holds := hold.NewMemoryManager(hold.Config{Clock: fc, MaxTTL: 15 * time.Minute})
	view := seatmap.NewView(ledger, seatmap.NewMemoryCache(time.Minute, fc), quietLogger())
	engine := NewEngine(Deps{
		Ledger: ledger, Holds: holds, Directory: dir, View: view, Clock: fc, Logger: quietLogger(),
	}, Config{HoldTTL: 5 * time.Minute, ConfirmExtension: 30 * time.Second})
	sweeper := NewSweeper(ledger, holds, view, fc, quietLogger(), SweeperConfig{Interval: time.Second})
	return &harness{engine: engine, sweeper: sweeper, ledger: ledger, holds: holds, dir: dir, clock: fc, events: ev}
}

func (h *harness) book(t *testing.T, actor model.Actor, ttl time.Duration, seats ...int) (model.Reservation, error) {
	t.Helper()
	return h.engine.BookSeats(context.Background(), BookRequest{ScheduleID: "s1", Actor: actor, Seats: seats, HoldTTL: ttl})
}

func (h *harness) sweep(t *testing.T) SweepStats {
	t.Helper()
	stats, err := h.sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return stats
}

// assertDisjoint checks the core invariant on the ledger.
func (h *harness) assertDisjoint(t *testing.T) {
	t.Helper()
	active, err := h.ledger.ListActive(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	owner := map[int]string{}
	for _, r := range active {
		for _, n := range r.Seats {
			if prev, ok := owner[n]; ok {
				t.Fatalf("seat %d owned by %s and %s", n, prev, r.ID)
			}
			owner[n] = r.ID
		}
	}
}

func TestBookAndConfirm(t *testing.T) {
	h := newHarness(t, 40)
	ctx := context.Background()
	r, err := h.book(t, alice, 0, 5, 6)
	if err != nil {
		t.Fatal(err)
	}
	if r.State != model.StatePending || r.TotalCents != 4000 || !r.HoldExpiresAt.Equal(epoch.Add(5*time.Minute)) {
		t.Fatalf("unexpected reservation %+v", r)
	}
	if _, err := h.holds.Get(ctx, "s1", r.ID); err != nil {
		t.Fatalf("hold missing: %v", err)
	}
	avail, err := h.engine.SearchAvailability(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(avail.Available) != 38 || contains(avail.Available, 5) || contains(avail.Available, 6) {
		t.Fatalf("availability = %v", avail.Available)
	}

	h.clock.Advance(2 * time.Minute)
	if _, err := h.engine.ConfirmBooking(ctx, r.ID, bob); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("foreign confirm err = %v", err)
	}
	c, err := h.engine.ConfirmBooking(ctx, r.ID, alice)
	if err != nil || c.State != model.StateConfirmed {
		t.Fatalf("confirm = %+v %v", c, err)
	}
	if _, err := h.holds.Get(ctx, "s1", r.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("hold not released after confirm: %v", err)
	}
	if _, err := h.book(t, bob, 0, 6); !errors.Is(err, model.ErrSeatConflict) {
		t.Fatalf("confirmed seat rebooked: %v", err)
	}
	if _, err := h.engine.ConfirmBooking(ctx, r.ID, alice); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Fatalf("second confirm err = %v", err)
	}
	if n := h.events.count(model.EventReservationConfirmed); n != 1 {
		t.Fatalf("confirmed events = %d", n)
	}
}

func TestBookValidation(t *testing.T) {
	h := newHarness(t, 10)
	tests := []struct {
		name  string
		seats []int
		want  error
	}{
		{"empty", nil, model.ErrEmptySelection},
		{"out of layout", []int{11}, model.ErrInvalidSeat},
		{"zero", []int{0}, model.ErrInvalidSeat},
	}
	for _, tt := range tests {
		if _, err := h.book(t, alice, 0, tt.seats...); !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}

	h.dir.Put(model.Schedule{ID: "s1", Capacity: 10, DepartureAt: epoch.Add(-time.Hour), Status: model.ScheduleScheduled})
	if _, err := h.book(t, alice, 0, 1); !errors.Is(err, model.ErrScheduleClosed) {
		t.Fatalf("departed schedule err = %v", err)
	}
	h.dir.Put(model.Schedule{ID: "s1", Capacity: 10, DepartureAt: epoch.Add(time.Hour), Status: model.ScheduleCancelled})
	if _, err := h.book(t, alice, 0, 1); !errors.Is(err, model.ErrScheduleClosed) {
		t.Fatalf("cancelled schedule err = %v", err)
	}
	if _, err := h.engine.BookSeats(context.Background(), BookRequest{ScheduleID: "nope", Actor: alice, Seats: []int{1}}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("unknown schedule err = %v", err)
	}
}

func TestSingleSeatRace(t *testing.T) {
	h := newHarness(t, 40)
	const n = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := h.book(t, model.Actor{ID: fmt.Sprintf("u%d", i), Role: model.RoleCustomer}, 0, 17)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, model.ErrSeatConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins=%d conflicts=%d", wins, conflicts)
	}
	h.assertDisjoint(t)
}

func TestOverlappingSetsRace(t *testing.T) {
	h := newHarness(t, 12)
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			first := i%10 + 1
			_, _ = h.book(t, model.Actor{ID: fmt.Sprintf("u%d", i)}, 0, first, first+1, first+2)
		}(i)
	}
	wg.Wait()
	h.assertDisjoint(t)
}

func TestAllOrNothing(t *testing.T) {
	h := newHarness(t, 10)
	if _, err := h.book(t, alice, 0, 4); err != nil {
		t.Fatal(err)
	}
	_, err := h.book(t, bob, 0, 3, 4, 5)
	if !errors.Is(err, model.ErrSeatConflict) || !reflect.DeepEqual(model.ConflictingSeats(err), []int{4}) {
		t.Fatalf("err = %v", err)
	}
	avail, _ := h.engine.SearchAvailability(context.Background(), "s1")
	if !contains(avail.Available, 3) || !contains(avail.Available, 5) {
		t.Fatalf("seats 3 and 5 not available: %v", avail.Available)
	}
	if _, err := h.book(t, carol, 0, 3, 5); err != nil {
		t.Fatalf("seats 3 and 5 not bookable: %v", err)
	}
}

func TestExpiryReleasesCapacity(t *testing.T) {
	h := newHarness(t, 10)
	r, err := h.book(t, alice, time.Minute, 2)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(61 * time.Second)
	if _, err := h.book(t, bob, 0, 2); !errors.Is(err, model.ErrSeatConflict) {
		t.Fatalf("seat free before sweep: %v", err)
	}
	stats := h.sweep(t)
	if stats.Expired != 1 || stats.HoldsReleased != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got, _ := h.ledger.Get(context.Background(), r.ID)
	if got.State != model.StateExpired {
		t.Fatalf("state = %s", got.State)
	}
	if _, err := h.book(t, bob, 0, 2); err != nil {
		t.Fatalf("rebook after sweep: %v", err)
	}
	if n := h.events.count(model.EventReservationExpired); n != 1 {
		t.Fatalf("expired events = %d", n)
	}
}

func TestConfirmAfterExpiryFailsClosed(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	r, err := h.book(t, alice, time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Minute)
	if _, err := h.engine.ConfirmBooking(ctx, r.ID, alice); !errors.Is(err, model.ErrHoldExpired) {
		t.Fatalf("late confirm err = %v", err)
	}
	if _, err := h.book(t, bob, 0, 3); err != nil {
		t.Fatalf("seat not released after late confirm: %v", err)
	}
	if _, err := h.engine.ConfirmBooking(ctx, r.ID, alice); !errors.Is(err, model.ErrHoldExpired) {
		t.Fatalf("repeat late confirm err = %v", err)
	}
}

func TestConfirmSurvivesSweepDuringExtension(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	r, err := h.book(t, alice, time.Minute, 3)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(59 * time.Second)
	if _, err := h.holds.Extend(ctx, "s1", r.ID, h.clock.Now().Add(30*time.Second)); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(2 * time.Second)
	h.sweep(t)
	got, _ := h.ledger.Get(ctx, r.ID)
	if got.State != model.StatePending {
		t.Fatalf("sweeper expired a reservation with a live hold: %s", got.State)
	}
}

func TestCancelIdempotent(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	r, err := h.book(t, alice, 0, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.CancelBooking(ctx, r.ID, bob); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("foreign cancel err = %v", err)
	}
	c, err := h.engine.CancelBooking(ctx, r.ID, alice)
	if err != nil || c.State != model.StateCancelled {
		t.Fatalf("cancel = %+v %v", c, err)
	}
	if _, err := h.engine.CancelBooking(ctx, r.ID, alice); !errors.Is(err, model.ErrAlreadyTerminal) {
		t.Fatalf("second cancel err = %v", err)
	}
	if n := h.events.count(model.EventReservationCancelled); n != 1 {
		t.Fatalf("cancelled events = %d", n)
	}
	if _, err := h.holds.Get(ctx, "s1", r.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("hold survived cancel: %v", err)
	}
	if _, err := h.book(t, bob, 0, 1, 2); err != nil {
		t.Fatalf("cancelled seats not bookable: %v", err)
	}
}

// Bus with two seats: A holds seat 1 for 5s, B is refused, C gets the seat
// after 6s and a sweep.
func TestCapacityTwoScenario(t *testing.T) {
	h := newHarness(t, 2)
	a, err := h.book(t, alice, 5*time.Second, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(3 * time.Second)
	if _, err := h.book(t, bob, 5*time.Second, 1); !errors.Is(err, model.ErrSeatConflict) {
		t.Fatalf("B err = %v", err)
	}
	h.clock.Advance(3 * time.Second)
	h.sweep(t)
	c, err := h.book(t, carol, 5*time.Second, 1)
	if err != nil {
		t.Fatalf("C err = %v", err)
	}
	if c.State != model.StatePending || c.ID == a.ID {
		t.Fatalf("C reservation %+v", c)
	}
	h.assertDisjoint(t)
}

func TestLedgerFailureReleasesHold(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	// Fill the seat map cache, then record a reservation behind the
	// engine's back so that the cached map is stale and only the ledger
	// notices the conflict.
	if _, err := h.engine.SearchAvailability(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.ledger.CreatePending(ctx, model.PendingRequest{
		ID: "manual", ScheduleID: "s1", UserID: "ops", Seats: []int{7}, ExpiresAt: epoch.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	_, err := h.book(t, alice, 0, 7, 8)
	if !errors.Is(err, model.ErrSeatConflict) {
		t.Fatalf("err = %v", err)
	}
	if due, _ := h.holds.Expired(ctx, epoch.Add(time.Hour), 0); len(due) != 0 {
		t.Fatalf("hold leaked: %+v", due)
	}
	if _, err := h.book(t, bob, 0, 8); err != nil {
		t.Fatalf("seat 8 blocked by leaked hold: %v", err)
	}
}

func TestSuggestSeats(t *testing.T) {
	h := newHarness(t, 8)
	if _, err := h.book(t, alice, 0, 1, 2); err != nil {
		t.Fatal(err)
	}
	seats, err := h.engine.SuggestSeats(context.Background(), SuggestRequest{ScheduleID: "s1", Count: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(seats) != 2 || seats[0].Number != 3 || seats[1].Number != 4 {
		t.Fatalf("suggested %+v", seats)
	}
	if seats[1].Label != "Row 1, Seat D (Window)" {
		t.Fatalf("label = %q", seats[1].Label)
	}
	if _, err := h.engine.SuggestSeats(context.Background(), SuggestRequest{ScheduleID: "s1", Count: 7}); !errors.Is(err, model.ErrInsufficientSeats) {
		t.Fatalf("err = %v", err)
	}
}

func TestCloseSchedule(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	a, _ := h.book(t, alice, 0, 1)
	b, _ := h.book(t, bob, 0, 2)
	if _, err := h.engine.ConfirmBooking(ctx, b.ID, bob); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.CloseSchedule(ctx, "s1", alice); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("customer close err = %v", err)
	}
	res, err := h.engine.CloseSchedule(ctx, "s1", admin)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Cancelled) != 2 {
		t.Fatalf("cancelled %v", res.Cancelled)
	}
	for _, id := range []string{a.ID, b.ID} {
		r, _ := h.ledger.Get(ctx, id)
		if r.State != model.StateCancelled || r.CancelledBy != "ADMIN:root" {
			t.Fatalf("reservation %s = %+v", id, r)
		}
	}
	if _, err := h.holds.Get(ctx, "s1", a.ID); !errors.Is(err, model.ErrNotFound) {
		t.Fatal("hold of closed schedule survived")
	}
}

func TestListAndGet(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	r, _ := h.book(t, alice, 0, 1)
	h.clock.Advance(time.Second)
	_, _ = h.book(t, alice, 0, 2)
	_, _ = h.book(t, bob, 0, 3)

	mine, err := h.engine.ListReservations(ctx, alice)
	if err != nil || len(mine) != 2 {
		t.Fatalf("list = %v %v", mine, err)
	}
	if _, err := h.engine.GetReservation(ctx, r.ID, bob); !errors.Is(err, model.ErrForbidden) {
		t.Fatalf("foreign get err = %v", err)
	}
	if got, err := h.engine.GetReservation(ctx, r.ID, admin); err != nil || got.ID != r.ID {
		t.Fatalf("admin get = %+v %v", got, err)
	}
}

func contains(xs []int, n int) bool {
	for _, x := range xs {
		if x == n {
			return true
		}
	}
	return false
}
