package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// ScheduleRepo reads schedules from the schedules table.  Rows are owned
// by the administration service; the engine only looks them up and, for
// local setups, seeds them.
type ScheduleRepo struct {
	db      *sql.DB
	dialect Dialect
}

// NewScheduleRepo returns a ScheduleRepo bound to db.
func NewScheduleRepo(db *sql.DB, dialect Dialect) *ScheduleRepo {
	return &ScheduleRepo{db: db, dialect: dialect}
}

// Lookup returns the schedule with the given ID or model.ErrNotFound.
func (r *ScheduleRepo) Lookup(ctx context.Context, scheduleID string) (model.Schedule, error) {
	const q = `SELECT id, route_id, bus_id, capacity, seats_per_row, departure_at, price_cents, status
FROM schedules WHERE id = ?`
	var s model.Schedule
	var status string
	err := r.db.QueryRowContext(ctx, r.dialect.Rebind(q), scheduleID).Scan(
		&s.ID, &s.RouteID, &s.BusID, &s.Capacity, &s.SeatsPerRow, &s.DepartureAt, &s.PriceCents, &status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, fmt.Errorf("schedule %s: %w", scheduleID, model.ErrNotFound)
	}
	if err != nil {
		return model.Schedule{}, err
	}
	s.Status = model.ScheduleStatus(status)
	s.DepartureAt = s.DepartureAt.UTC()
	return s, nil
}

// Create inserts a schedule.  It is used by the migrate command to seed
// development databases.
func (r *ScheduleRepo) Create(ctx context.Context, s model.Schedule) error {
	const q = `INSERT INTO schedules (id, route_id, bus_id, capacity, seats_per_row, departure_at, price_cents, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	status := s.Status
	if status == "" {
		status = model.ScheduleScheduled
	}
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(q),
		s.ID, s.RouteID, s.BusID, s.Capacity, s.RowWidth(), s.DepartureAt.UTC(), s.PriceCents, string(status))
	if isDuplicateKey(err) {
		return fmt.Errorf("schedule %s already exists", s.ID)
	}
	return err
}
