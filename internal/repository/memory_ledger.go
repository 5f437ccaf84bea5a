package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// book holds the reservations of one schedule.  Its mutex is the
// per-schedule lock; no operation ever holds two books at once.
type book struct {
	mu   sync.Mutex
	byID map[string]*model.Reservation
	// seat number -> id of the active reservation covering it
	owner map[int]string
	order []string
}

// MemoryLedger is a Ledger kept in process memory.  It loses its contents
// on restart and is meant for tests and single-node development.
type MemoryLedger struct {
	dir  ScheduleDirectory
	opts Options

	mu       sync.Mutex
	books    map[string]*book
	schedule map[string]string // reservation id -> schedule id
}

// NewMemoryLedger returns an empty ledger validating schedules against dir.
func NewMemoryLedger(dir ScheduleDirectory, opts Options) *MemoryLedger {
	return &MemoryLedger{
		dir:      dir,
		opts:     opts.withDefaults(),
		books:    make(map[string]*book),
		schedule: make(map[string]string),
	}
}

func (l *MemoryLedger) book(scheduleID string) *book {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.books[scheduleID]
	if !ok {
		b = &book{byID: make(map[string]*model.Reservation), owner: make(map[int]string)}
		l.books[scheduleID] = b
	}
	return b
}

func (l *MemoryLedger) locate(id string) (*book, error) {
	l.mu.Lock()
	sid, ok := l.schedule[id]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	return l.book(sid), nil
}

func (l *MemoryLedger) CreatePending(ctx context.Context, req model.PendingRequest) (model.Reservation, error) {
	sched, err := l.dir.Lookup(ctx, req.ScheduleID)
	if err != nil {
		return model.Reservation{}, err
	}
	seats := model.NormalizeSeats(req.Seats)
	if err := sched.CheckOpen(l.opts.Clock.Now(), 0); err != nil {
		return model.Reservation{}, err
	}
	if err := sched.CheckSeats(seats); err != nil {
		return model.Reservation{}, err
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	b := l.book(req.ScheduleID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.byID[id]; dup {
		return model.Reservation{}, fmt.Errorf("reservation %s already recorded: %w", id, model.ErrAlreadyTerminal)
	}
	var taken []int
	for _, n := range seats {
		if _, ok := b.owner[n]; ok {
			taken = append(taken, n)
		}
	}
	if len(taken) > 0 {
		return model.Reservation{}, &model.SeatConflictError{ScheduleID: req.ScheduleID, Seats: taken}
	}
	now := l.opts.Clock.Now()
	deadline := req.ExpiresAt
	r := &model.Reservation{
		ID:            id,
		Code:          model.NewReservationCode(now),
		ScheduleID:    req.ScheduleID,
		UserID:        req.UserID,
		Seats:         seats,
		State:         model.StatePending,
		TotalCents:    sched.PriceCents * int64(len(seats)),
		CreatedAt:     now,
		HoldExpiresAt: &deadline,
	}
	b.byID[id] = r
	b.order = append(b.order, id)
	for _, n := range seats {
		b.owner[n] = id
	}
	l.mu.Lock()
	l.schedule[id] = req.ScheduleID
	l.mu.Unlock()
	return r.Clone(), nil
}

// transition applies fn to the reservation under its schedule lock and
// frees the seats when the reservation leaves the active states.  The
// event is emitted after the lock is released.
func (l *MemoryLedger) transition(ctx context.Context, id, actor string, fn func(r *model.Reservation, now time.Time) (bool, error)) (model.Reservation, bool, error) {
	b, err := l.locate(id)
	if err != nil {
		return model.Reservation{}, false, err
	}
	b.mu.Lock()
	r := b.byID[id]
	next := r.Clone()
	changed, err := fn(&next, l.opts.Clock.Now())
	if err != nil || !changed {
		b.mu.Unlock()
		return next, false, err
	}
	*r = next
	if !r.State.Active() {
		for _, n := range r.Seats {
			if b.owner[n] == id {
				delete(b.owner, n)
			}
		}
	}
	out := r.Clone()
	b.mu.Unlock()

	l.opts.emit(ctx, model.NewEvent(eventFor(out.State), out, actor, l.opts.Clock.Now()))
	return out, true, nil
}

func (l *MemoryLedger) Confirm(ctx context.Context, id string, acceptedAt time.Time) (model.Reservation, error) {
	r, _, err := l.transition(ctx, id, "", func(r *model.Reservation, now time.Time) (bool, error) {
		return true, r.Confirm(now, acceptedAt)
	})
	return r, err
}

func (l *MemoryLedger) Cancel(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	r, _, err := l.transition(ctx, id, actor.String(), func(r *model.Reservation, now time.Time) (bool, error) {
		return true, r.Cancel(now, actor)
	})
	return r, err
}

func (l *MemoryLedger) Expire(ctx context.Context, id string) (model.Reservation, bool, error) {
	return l.transition(ctx, id, model.SystemActor.String(), func(r *model.Reservation, now time.Time) (bool, error) {
		return r.Expire(now), nil
	})
}

func (l *MemoryLedger) Get(_ context.Context, id string) (model.Reservation, error) {
	b, err := l.locate(id)
	if err != nil {
		return model.Reservation{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byID[id].Clone(), nil
}

func (l *MemoryLedger) ListActive(_ context.Context, scheduleID string) ([]model.Reservation, error) {
	b := l.book(scheduleID)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, id := range b.order {
		if r := b.byID[id]; r.State.Active() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

// snapshot copies every reservation matching keep.  Books are visited one
// at a time.
func (l *MemoryLedger) snapshot(keep func(*model.Reservation) bool) []model.Reservation {
	l.mu.Lock()
	books := make([]*book, 0, len(l.books))
	for _, b := range l.books {
		books = append(books, b)
	}
	l.mu.Unlock()

	var out []model.Reservation
	for _, b := range books {
		b.mu.Lock()
		for _, id := range b.order {
			if r := b.byID[id]; keep(r) {
				out = append(out, r.Clone())
			}
		}
		b.mu.Unlock()
	}
	return out
}

func (l *MemoryLedger) ListByUser(_ context.Context, userID string) ([]model.Reservation, error) {
	out := l.snapshot(func(r *model.Reservation) bool { return r.UserID == userID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (l *MemoryLedger) ExpiredPending(_ context.Context, before time.Time, limit int) ([]model.Reservation, error) {
	out := l.snapshot(func(r *model.Reservation) bool {
		return r.State == model.StatePending && r.DeadlinePassed(before)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].HoldExpiresAt.Before(*out[j].HoldExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (l *MemoryLedger) PendingScheduleIDs(_ context.Context) ([]string, error) {
	pending := l.snapshot(func(r *model.Reservation) bool { return r.State == model.StatePending })
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, r := range pending {
		if _, ok := seen[r.ScheduleID]; !ok {
			seen[r.ScheduleID] = struct{}{}
			ids = append(ids, r.ScheduleID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
