package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// SQLLedger stores reservations in the reservations and reservation_seats
// tables.  Every transition locks the schedule row with SELECT ... FOR
// UPDATE, which serialises writers per schedule while leaving other
// schedules untouched.  As a second line of defence reservation_seats
// carries UNIQUE(schedule_id, seat_number, occupied) where occupied is 1
// for active reservations and NULL otherwise.
type SQLLedger struct {
	db      *sql.DB
	dialect Dialect
	opts    Options
}

// NewSQLLedger returns a ledger bound to db.
func NewSQLLedger(db *sql.DB, dialect Dialect, opts Options) *SQLLedger {
	return &SQLLedger{db: db, dialect: dialect, opts: opts.withDefaults()}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const reservationColumns = `id, code, schedule_id, user_id, state, total_cents, created_at,
hold_expires_at, confirmed_at, cancelled_at, expired_at, cancelled_by`

type scanner interface{ Scan(dest ...any) error }

func scanReservation(s scanner) (model.Reservation, error) {
	var (
		r                              model.Reservation
		state                          string
		hold, conf, cancelled, expired sql.NullTime
	)
	if err := s.Scan(&r.ID, &r.Code, &r.ScheduleID, &r.UserID, &state, &r.TotalCents, &r.CreatedAt,
		&hold, &conf, &cancelled, &expired, &r.CancelledBy); err != nil {
		return model.Reservation{}, err
	}
	r.State = model.State(state)
	r.CreatedAt = r.CreatedAt.UTC()
	r.HoldExpiresAt = nullTime(hold)
	r.ConfirmedAt = nullTime(conf)
	r.CancelledAt = nullTime(cancelled)
	r.ExpiredAt = nullTime(expired)
	return r, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func (l *SQLLedger) lockSchedule(ctx context.Context, tx *sql.Tx, scheduleID string) (model.Schedule, error) {
	q := l.dialect.Rebind(`SELECT id, capacity, departure_at, price_cents, status FROM schedules WHERE id = ? FOR UPDATE`)
	var s model.Schedule
	var status string
	err := tx.QueryRowContext(ctx, q, scheduleID).Scan(&s.ID, &s.Capacity, &s.DepartureAt, &s.PriceCents, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	if err != nil {
		return model.Schedule{}, fmt.Errorf("lock schedule %s: %w", scheduleID, err)
	}
	s.Status = model.ScheduleStatus(status)
	return s, nil
}

func (l *SQLLedger) CreatePending(ctx context.Context, req model.PendingRequest) (model.Reservation, error) {
	seats := model.NormalizeSeats(req.Seats)
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reservation{}, err
	}
	defer tx.Rollback()

	sched, err := l.lockSchedule(ctx, tx, req.ScheduleID)
	if err != nil {
		return model.Reservation{}, err
	}
	if err := sched.CheckOpen(l.opts.Clock.Now(), 0); err != nil {
		return model.Reservation{}, err
	}
	if err := sched.CheckSeats(seats); err != nil {
		return model.Reservation{}, err
	}

	args := make([]any, 0, len(seats)+1)
	args = append(args, req.ScheduleID)
	for _, n := range seats {
		args = append(args, n)
	}
	rows, err := tx.QueryContext(ctx, l.dialect.Rebind(`SELECT seat_number FROM reservation_seats
WHERE schedule_id = ? AND occupied = 1 AND seat_number IN (`+placeholders(len(seats))+`)
ORDER BY seat_number`), args...)
	if err != nil {
		return model.Reservation{}, err
	}
	taken, err := scanInts(rows)
	if err != nil {
		return model.Reservation{}, err
	}
	if len(taken) > 0 {
		return model.Reservation{}, &model.SeatConflictError{ScheduleID: req.ScheduleID, Seats: taken}
	}

	now := l.opts.Clock.Now().UTC()
	deadline := req.ExpiresAt.UTC()
	r := model.Reservation{
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
	if err := l.insertReservation(ctx, tx, &r, now); err != nil {
		return model.Reservation{}, err
	}

	query := `INSERT INTO reservation_seats (reservation_id, schedule_id, seat_number, occupied) VALUES `
	seatArgs := make([]any, 0, len(seats)*3)
	for i, n := range seats {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?, ?, 1)"
		seatArgs = append(seatArgs, r.ID, r.ScheduleID, n)
	}
	if _, err := tx.ExecContext(ctx, l.dialect.Rebind(query), seatArgs...); err != nil {
		if isDuplicateKey(err) {
			return model.Reservation{}, &model.SeatConflictError{ScheduleID: req.ScheduleID, Seats: seats}
		}
		return model.Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

// codeAttempts bounds how often a colliding reservation code is redrawn.
const codeAttempts = 5

// insertReservation writes the reservations row, drawing a fresh code when
// the current one is already taken.  PostgreSQL aborts the transaction on
// a failed statement, so each attempt there runs under a savepoint.
func (l *SQLLedger) insertReservation(ctx context.Context, tx *sql.Tx, r *model.Reservation, now time.Time) error {
	savepoint := l.dialect == Postgres
	for attempt := 1; ; attempt++ {
		if savepoint {
			if _, err := tx.ExecContext(ctx, `SAVEPOINT reservation_code`); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, l.dialect.Rebind(`INSERT INTO reservations
(id, code, schedule_id, user_id, state, total_cents, created_at, hold_expires_at, cancelled_by)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, '')`),
			r.ID, r.Code, r.ScheduleID, r.UserID, string(r.State), r.TotalCents, r.CreatedAt, *r.HoldExpiresAt)
		switch {
		case err == nil:
			return nil
		case isCodeCollision(err) && attempt < codeAttempts:
			l.opts.Logger.Warn("reservation code collision, redrawing", "reservation_id", r.ID, "code", r.Code)
			if savepoint {
				if _, err := tx.ExecContext(ctx, `ROLLBACK TO SAVEPOINT reservation_code`); err != nil {
					return err
				}
			}
			r.Code = model.NewReservationCode(now)
		case isCodeCollision(err):
			return fmt.Errorf("reservation %s: no free code after %d attempts: %w", r.ID, attempt, err)
		case isDuplicateKey(err):
			return fmt.Errorf("reservation %s already recorded: %w", r.ID, model.ErrAlreadyTerminal)
		default:
			return err
		}
	}
}

// transition locks the schedule, then the reservation, applies fn and
// writes the result back.  Seats are released in the same transaction when
// the reservation becomes terminal.
func (l *SQLLedger) transition(ctx context.Context, id, actor string, fn func(r *model.Reservation, now time.Time) (bool, error)) (model.Reservation, bool, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Reservation{}, false, err
	}
	defer tx.Rollback()

	var scheduleID string
	err = tx.QueryRowContext(ctx, l.dialect.Rebind(`SELECT schedule_id FROM reservations WHERE id = ?`), id).Scan(&scheduleID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, false, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Reservation{}, false, err
	}
	if _, err := l.lockSchedule(ctx, tx, scheduleID); err != nil {
		return model.Reservation{}, false, err
	}
	r, err := scanReservation(tx.QueryRowContext(ctx,
		l.dialect.Rebind(`SELECT `+reservationColumns+` FROM reservations WHERE id = ? FOR UPDATE`), id))
	if err != nil {
		return model.Reservation{}, false, err
	}
	if err := l.attachSeats(ctx, tx, []*model.Reservation{&r}); err != nil {
		return model.Reservation{}, false, err
	}

	changed, err := fn(&r, l.opts.Clock.Now().UTC())
	if err != nil || !changed {
		return r, false, err
	}
	if _, err := tx.ExecContext(ctx, l.dialect.Rebind(`UPDATE reservations
SET state = ?, hold_expires_at = ?, confirmed_at = ?, cancelled_at = ?, expired_at = ?, cancelled_by = ?
WHERE id = ?`),
		string(r.State), timeArg(r.HoldExpiresAt), timeArg(r.ConfirmedAt), timeArg(r.CancelledAt),
		timeArg(r.ExpiredAt), r.CancelledBy, r.ID); err != nil {
		return model.Reservation{}, false, err
	}
	if !r.State.Active() {
		if _, err := tx.ExecContext(ctx, l.dialect.Rebind(`UPDATE reservation_seats SET occupied = NULL WHERE reservation_id = ?`), r.ID); err != nil {
			return model.Reservation{}, false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return model.Reservation{}, false, err
	}
	l.opts.emit(ctx, model.NewEvent(eventFor(r.State), r, actor, l.opts.Clock.Now()))
	return r, true, nil
}

func (l *SQLLedger) Confirm(ctx context.Context, id string, acceptedAt time.Time) (model.Reservation, error) {
	r, _, err := l.transition(ctx, id, "", func(r *model.Reservation, now time.Time) (bool, error) {
		return true, r.Confirm(now, acceptedAt)
	})
	return r, err
}

func (l *SQLLedger) Cancel(ctx context.Context, id string, actor model.Actor) (model.Reservation, error) {
	r, _, err := l.transition(ctx, id, actor.String(), func(r *model.Reservation, now time.Time) (bool, error) {
		return true, r.Cancel(now, actor)
	})
	return r, err
}

func (l *SQLLedger) Expire(ctx context.Context, id string) (model.Reservation, bool, error) {
	return l.transition(ctx, id, model.SystemActor.String(), func(r *model.Reservation, now time.Time) (bool, error) {
		return r.Expire(now), nil
	})
}

func (l *SQLLedger) Get(ctx context.Context, id string) (model.Reservation, error) {
	r, err := scanReservation(l.db.QueryRowContext(ctx,
		l.dialect.Rebind(`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Reservation{}, fmt.Errorf("reservation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Reservation{}, err
	}
	if err := l.attachSeats(ctx, l.db, []*model.Reservation{&r}); err != nil {
		return model.Reservation{}, err
	}
	return r, nil
}

func (l *SQLLedger) ListActive(ctx context.Context, scheduleID string) ([]model.Reservation, error) {
	return l.list(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE schedule_id = ? AND state IN ('PENDING', 'CONFIRMED')
ORDER BY created_at, id`, scheduleID)
}

func (l *SQLLedger) ListByUser(ctx context.Context, userID string) ([]model.Reservation, error) {
	return l.list(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE user_id = ?
ORDER BY created_at DESC, id`, userID)
}

func (l *SQLLedger) ExpiredPending(ctx context.Context, before time.Time, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 500
	}
	return l.list(ctx, `SELECT `+reservationColumns+` FROM reservations
WHERE state = 'PENDING' AND hold_expires_at < ?
ORDER BY hold_expires_at
LIMIT ?`, before.UTC(), limit)
}

func (l *SQLLedger) PendingScheduleIDs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT schedule_id FROM reservations WHERE state = 'PENDING' ORDER BY schedule_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (l *SQLLedger) list(ctx context.Context, query string, args ...any) ([]model.Reservation, error) {
	rows, err := l.db.QueryContext(ctx, l.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	out := make([]model.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*model.Reservation, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := l.attachSeats(ctx, l.db, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

// attachSeats loads the seat numbers of every reservation in one query.
func (l *SQLLedger) attachSeats(ctx context.Context, q queryer, rs []*model.Reservation) error {
	if len(rs) == 0 {
		return nil
	}
	ids := make([]any, len(rs))
	index := make(map[string]*model.Reservation, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
		r.Seats = []int{}
		index[r.ID] = r
	}
	rows, err := q.QueryContext(ctx, l.dialect.Rebind(`SELECT reservation_id, seat_number FROM reservation_seats
WHERE reservation_id IN (`+placeholders(len(ids))+`)
ORDER BY reservation_id, seat_number`), ids...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return err
		}
		if r, ok := index[id]; ok {
			r.Seats = append(r.Seats, n)
		}
	}
	return rows.Err()
}

func scanInts(rows *sql.Rows) ([]int, error) {
	defer rows.Close()
	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
