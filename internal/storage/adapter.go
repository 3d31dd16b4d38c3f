// Package storage exposes a narrow, dialect-agnostic query/exec/transaction
// surface (C1) over two concrete engines: SQLite (mattn/go-sqlite3) and
// Postgres (jackc/pgx/v5). No call site outside this package branches on
// which backend is active; adapters translate placeholder syntax, JSON
// encoding, timestamp representation, and vector column type internally.
package storage

import (
	"context"
	"database/sql"
)

// Row is one normalised result row: JSON columns are already parsed into
// Go values (map[string]any / []any), and timestamp columns are either an
// int64 (milliseconds since epoch) or an RFC3339 string.
type Row map[string]any

// Backend names the concrete SQL dialect an Adapter speaks.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Adapter is the uniform surface every projection/query call site uses.
type Adapter interface {
	Backend() Backend

	// Query runs a read and returns normalised rows. sql uses the
	// adapter's native placeholder syntax ('?' for SQLite, '$N' for
	// Postgres); callers should use Placeholder to stay portable.
	Query(ctx context.Context, query string, args ...any) ([]Row, error)

	// Exec runs a write with no result rows expected.
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)

	// Transaction runs fn inside a single database transaction. fn may
	// call Query/Exec on the Tx it is given. Any error returned by fn
	// rolls back the transaction; a rollback failure after a caller
	// error is surfaced as a single composite Transient error naming
	// both, per spec §4.1.
	Transaction(ctx context.Context, fn func(tx Tx) error) error

	// Placeholder returns the positional-parameter token for index n
	// (1-based) in this adapter's dialect.
	Placeholder(n int) string

	// VectorLiteral renders a float32 embedding as the dialect's vector
	// column literal/parameter value ready to bind as an Exec/Query arg.
	VectorLiteral(embedding []float32) any

	// DB exposes the underlying *sql.DB for migrations and health checks.
	DB() *sql.DB

	Close() error
}

// Tx is the subset of Adapter usable inside a Transaction callback.
type Tx interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Placeholder(n int) string
	VectorLiteral(embedding []float32) any
}
