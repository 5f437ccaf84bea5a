package repository

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect adapts the ledger's queries, written with '?' placeholders, to
// the target database.
type Dialect struct {
	Name     string
	numbered bool
}

var (
	MySQL    = Dialect{Name: "mysql"}
	Postgres = Dialect{Name: "postgres", numbered: true}
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "mysql":
		return MySQL, nil
	case "postgres", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("%q: %w", driver, ErrUnknownDialect)
}

// Rebind rewrites '?' placeholders as $1, $2, ... for PostgreSQL.
func (d Dialect) Rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
