package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/basket/coordkernel/internal/errs"
)

// sqliteAdapter is Variant B: embedded SQLite via mattn/go-sqlite3, with
// FTS5 virtual tables and vectors stored as fixed-width float32 BLOBs
// (§4.1's "F32_BLOB(1024)"). Cosine distance is computed application-side
// after reading the blob back, since the plain sqlite3 driver ships no
// vector extension.
type sqliteAdapter struct {
	db *sql.DB
}

// OpenSQLite opens (creating parent directories as needed) a SQLite
// database file, grounded on the teacher's persistence.Open pragma set:
// a single writer connection, WAL, foreign keys and a busy timeout so
// concurrent OS processes sharing the file serialise cleanly.
func OpenSQLite(path string) (Adapter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errs.Wrap(errs.Fatal, "create db directory", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.Fatal, "open sqlite3", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &sqliteAdapter{db: db}, nil
}

func (a *sqliteAdapter) Backend() Backend { return BackendSQLite }
func (a *sqliteAdapter) DB() *sql.DB      { return a.db }
func (a *sqliteAdapter) Close() error     { return a.db.Close() }

func (a *sqliteAdapter) Placeholder(int) string { return "?" }

func (a *sqliteAdapter) VectorLiteral(embedding []float32) any {
	return EncodeVectorBlob(embedding)
}

func (a *sqliteAdapter) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateSQLiteErr(err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, translateSQLiteErr(err)
	}
	return out, nil
}

func (a *sqliteAdapter) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateSQLiteErr(err)
	}
	return res, nil
}

func (a *sqliteAdapter) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.Transient, "begin transaction", err)
	}
	tx := &sqliteTx{tx: sqlTx}
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

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Placeholder(int) string { return "?" }

func (t *sqliteTx) VectorLiteral(embedding []float32) any {
	return EncodeVectorBlob(embedding)
}

func (t *sqliteTx) Query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateSQLiteErr(err)
	}
	defer rows.Close()
	out, err := scanRows(rows)
	if err != nil {
		return nil, translateSQLiteErr(err)
	}
	return out, nil
}

func (t *sqliteTx) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, translateSQLiteErr(err)
	}
	return res, nil
}

func translateSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrConstraint:
			return errs.Wrap(errs.Conflict, "constraint violation", err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errs.Wrap(errs.Transient, "database locked", err)
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.Wrap(errs.NotFound, "no matching row", err)
	}
	return errs.Wrap(errs.Unavailable, "sqlite error", err)
}

// EncodeVectorBlob packs a []float32 into a little-endian byte slice, the
// on-disk shape of a fixed-width float-blob vector column.
func EncodeVectorBlob(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVectorBlob reverses EncodeVectorBlob.
func DecodeVectorBlob(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

var jsonLikePattern = regexp.MustCompile(`^\s*[\[{]`)

func looksLikeJSON(s string) bool {
	return jsonLikePattern.MatchString(s) && (strings.HasSuffix(strings.TrimSpace(s), "}") || strings.HasSuffix(strings.TrimSpace(s), "]"))
}
