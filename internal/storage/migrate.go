package storage

import (
	"context"
	"fmt"

	"github.com/basket/coordkernel/internal/errs"
)

// Migration is one monotonically-versioned, idempotent forward step.
// Version numbers must be unique across every feature domain sharing this
// schema (events, cells, memory, stream reservations) — a collision is a
// Fatal bug, not a runtime condition to recover from.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx Tx) error
}

// Migrate applies every migration in order whose version is not yet
// recorded in schema_version, all inside one transaction. Any failure
// aborts the whole run (§4.2: "any failure aborts the whole migration").
func Migrate(ctx context.Context, a Adapter, migrations []Migration) error {
	createVersions := `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at_ms INTEGER NOT NULL
	);`
	if _, err := a.Exec(ctx, createVersions); err != nil {
		return errs.Wrap(errs.Fatal, "create schema_version table", err)
	}

	applied := map[int]bool{}
	rows, err := a.Query(ctx, `SELECT version FROM schema_version;`)
	if err != nil {
		return errs.Wrap(errs.Fatal, "read schema_version", err)
	}
	for _, r := range rows {
		switch v := r["version"].(type) {
		case int64:
			applied[int(v)] = true
		case float64:
			applied[int(v)] = true
		}
	}

	seen := map[int]bool{}
	for _, m := range migrations {
		if seen[m.Version] {
			return errs.Newf(errs.Fatal, "duplicate migration version %d (%s)", m.Version, m.Description)
		}
		seen[m.Version] = true
	}

	return a.Transaction(ctx, func(tx Tx) error {
		for _, m := range migrations {
			if applied[m.Version] {
				continue
			}
			if err := m.Up(ctx, tx); err != nil {
				return errs.Wrap(errs.Fatal, fmt.Sprintf("migration %d (%s)", m.Version, m.Description), err)
			}
			insert := fmt.Sprintf(`INSERT INTO schema_version (version, description, applied_at_ms) VALUES (%s, %s, %s);`,
				tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
			if _, err := tx.Exec(ctx, insert, m.Version, m.Description, nowMs()); err != nil {
				return errs.Wrap(errs.Fatal, fmt.Sprintf("record migration %d", m.Version), err)
			}
		}
		return nil
	})
}
