package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/iliyamo/bus-seat-reservation/internal/repository"
)

//go:embed migrations
var migrations embed.FS

// Migrate applies every embedded migration for driver that is not yet
// recorded in schema_migrations, in file name order.  It returns the
// names of the files it applied.
func Migrate(ctx context.Context, db *sql.DB, driver string) ([]string, error) {
	dialect, err := repository.DialectFor(driver)
	if err != nil {
		return nil, err
	}
	dir := path.Join("migrations", dialect.Name)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(255) PRIMARY KEY)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, f := range files {
		var n int
		if err := db.QueryRowContext(ctx,
			dialect.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), f).Scan(&n); err != nil {
			return applied, err
		}
		if n > 0 {
			continue
		}
		b, err := migrations.ReadFile(path.Join(dir, f))
		if err != nil {
			return applied, err
		}
		// the mysql driver rejects multi-statement strings by default
		for _, stmt := range Statements(string(b)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return applied, fmt.Errorf("apply %s: %w", f, err)
			}
		}
		if _, err := db.ExecContext(ctx,
			dialect.Rebind(`INSERT INTO schema_migrations (version) VALUES (?)`), f); err != nil {
			return applied, err
		}
		applied = append(applied, f)
	}
	return applied, nil
}

// Statements splits a migration file on semicolons, dropping comment
// lines and empty statements.
func Statements(src string) []string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, s := range strings.Split(b.String(), ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
