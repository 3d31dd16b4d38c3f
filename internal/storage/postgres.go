package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/basket/coordkernel/internal/errs"
)

// postgresAdapter is Variant A: a Postgres-compatible engine reached via
// database/sql through pgx's stdlib driver (grounded on
// chirino-memory-service's use of database/sql over pgx/gorm), with a
// true vector(1024) column type (pgvector-go) and GIN/tsvector full text.
type postgresAdapter struct {
	db *sql.DB
}

// OpenPostgres connects to dsn (a standard postgres:// connection string).
func OpenPostgres(dsn string) (Adapter, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, "open postgres", err)
	}
	if err := db.Ping(); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "ping postgres", err)
	}
	return &postgresAdapter{db: db}, nil
}

func (a *postgresAdapter) Backend() Backend { return BackendPostgres }
func (a *postgresAdapter) DB() *sql.DB      { return a.db }
func (a *postgresAdapter) Close() error     { return a.db.Close() }

func (a *postgresAdapter) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (a *postgresAdapter) VectorLiteral(embedding []float32) any {
	return pgvector.NewVector(embedding)
}

func (a *postgresAdapter) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translatePostgresErr(err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, translatePostgresErr(err)
	}
	return out, nil
}

func (a *postgresAdapter) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translatePostgresErr(err)
	}
	return res, nil
}

func (a *postgresAdapter) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Transient, "begin transaction", err)
	}
	tx := &postgresTx{tx: sqlTx}
	callErr := fn(tx)
	if callErr != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errs.Newf(errs.Transient, "rollback after error %q failed: %v", callErr, rbErr)
		}
		return callErr
	}
	if err := sqlTx.Commit(); err != nil {
		return errs.Wrap(errs.Transient, "commit transaction", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (t *postgresTx) VectorLiteral(embedding []float32) any {
	return pgvector.NewVector(embedding)
}

func (t *postgresTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translatePostgresErr(err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, translatePostgresErr(err)
	}
	return out, nil
}

func (t *postgresTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translatePostgresErr(err)
	}
	return res, nil
}

func translatePostgresErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23514": // unique/fk/check violation
			return errs.Wrap(errs.Conflict, "constraint violation", err)
		case "40001", "40P01": // serialization failure / deadlock
			return errs.Wrap(errs.Transient, "transaction conflict", err)
		case "57014": // query canceled
			return errs.Wrap(errs.Transient, "query canceled", err)
		}
		return errs.Wrap(errs.Fatal, fmt.Sprintf("postgres error %s", pgErr.Code), err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.NotFound, "no matching row", err)
	}
	return errs.Wrap(errs.Unavailable, "postgres error", err)
}
