// Package repository holds the reservation ledger and the schedule
// directory.  Both come in an in-memory flavour used by tests and
// single-process deployments and a SQL flavour for MySQL or PostgreSQL.
// Business outcomes are reported with the sentinel errors of package
// model; storage failures are returned wrapped but otherwise untouched.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrUnknownDialect is returned when a SQL ledger is built for a driver
// other than mysql or postgres.
var ErrUnknownDialect = errors.New("unknown sql dialect")

// isDuplicateKey reports whether err is a unique constraint violation.
// For reservation_seats that means another active reservation holds one
// of the seats.
func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// codeConstraint is the unique key on reservations.code in both schemas.
const codeConstraint = "uq_reservations_code"

// isCodeCollision reports whether err is a violation of the reservation
// code key rather than of the primary key.
func isCodeCollision(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062 && strings.Contains(me.Message, codeConstraint)
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		return pe.Code == "23505" && pe.ConstraintName == codeConstraint
	}
	return false
}
