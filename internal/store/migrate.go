package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsDir = "migrations"

// Migrate applies every embedded migration step not yet recorded in
// schema_migrations, in filename order. Each step runs in its own
// transaction; the tracking insert happens as a separate statement outside
// that transaction so auto-committing DDL (e.g. CREATE INDEX CONCURRENTLY on
// some dialects, or TimescaleDB's hypertable calls) is tolerated. A syntax
// error in a step rolls back that step only; it is not recorded, so the next
// call to Migrate retries from it.
func Migrate(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INT PRIMARY KEY,
			filename    TEXT NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return 0, fmt.Errorf("read applied migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read applied migrations: %w", err)
	}

	steps, err := loadSteps()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, step := range steps {
		if applied[step.version] {
			continue
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return count, fmt.Errorf("begin migration %d: %w", step.version, err)
		}
		if _, err := tx.Exec(ctx, step.sql); err != nil {
			tx.Rollback(ctx)
			return count, fmt.Errorf("apply migration %d (%s): %w", step.version, step.filename, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return count, fmt.Errorf("commit migration %d: %w", step.version, err)
		}

		if _, err := pool.Exec(ctx,
			`INSERT INTO schema_migrations (version, filename) VALUES ($1, $2)`,
			step.version, step.filename,
		); err != nil {
			return count, fmt.Errorf("record migration %d: %w", step.version, err)
		}
		count++
	}

	return count, nil
}

type migrationStep struct {
	version  int
	filename string
	sql      string
}

func loadSteps() ([]migrationStep, error) {
	entries, err := fs.ReadDir(migrationFS, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	steps := make([]migrationStep, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		version, err := parseVersion(e.Name())
		if err != nil {
			return nil, fmt.Errorf("migration filename %q: %w", e.Name(), err)
		}
		data, err := migrationFS.ReadFile(migrationsDir + "/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", e.Name(), err)
		}
		steps = append(steps, migrationStep{version: version, filename: e.Name(), sql: string(data)})
	}

	sort.Slice(steps, func(i, j int) bool { return steps[i].version < steps[j].version })
	return steps, nil
}

func parseVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("expected <version>_<name>.sql")
	}
	return strconv.Atoi(prefix)
}
