// Package kernel implements the event-sourced core: the append-only event
// store (C3) and the projection registry that keeps every materialised
// view (C4) consistent with it inside the same transaction.
package kernel

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

var tracer = otel.Tracer("coordkernel/kernel")

// Store is the event store plus projection registry over one Adapter.
type Store struct {
	adapter storage.Adapter
	logger  *slog.Logger
}

// New wires a Store over an already-migrated Adapter.
func New(adapter storage.Adapter, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{adapter: adapter, logger: logger}
}

// Adapter exposes the underlying storage.Adapter for components (cells,
// messaging, reservations, memory) that issue their own projection reads.
func (s *Store) Adapter() storage.Adapter { return s.adapter }

// AppendEvent assigns a sequence, inserts the event, and applies its
// projection, all inside one transaction (§4.3). No event is visible to
// readers before its projection is updated.
func (s *Store) AppendEvent(ctx context.Context, ev eventlog.Event) (eventlog.Event, error) {
	ctx, span := tracer.Start(ctx, "kernel.AppendEvent", trace.WithAttributes(
		attribute.String("event.type", string(ev.Type)),
		attribute.String("project_key", ev.ProjectKey),
	))
	defer span.End()

	var applied eventlog.Event
	err := s.adapter.Transaction(ctx, func(tx storage.Tx) error {
		seq, err := nextSequence(ctx, tx)
		if err != nil {
			return err
		}
		ev.Sequence = seq
		id, err := insertEvent(ctx, tx, ev)
		if err != nil {
			return err
		}
		ev.ID = id

		fn, ok := registry[ev.Type]
		if !ok {
			return errs.Newf(errs.Invalid, "no projection registered for event type %q", ev.Type)
		}
		if err := fn(ctx, tx, ev); err != nil {
			return err
		}
		if err := touchAgentActivity(ctx, tx, ev); err != nil {
			return err
		}
		applied = ev
		return nil
	})
	if err != nil {
		return eventlog.Event{}, err
	}
	return applied, nil
}

// AppendEvents appends a batch in a single transaction, preserving order.
func (s *Store) AppendEvents(ctx context.Context, evs []eventlog.Event) ([]eventlog.Event, error) {
	ctx, span := tracer.Start(ctx, "kernel.AppendEvents", trace.WithAttributes(attribute.Int("count", len(evs))))
	defer span.End()

	out := make([]eventlog.Event, len(evs))
	err := s.adapter.Transaction(ctx, func(tx storage.Tx) error {
		for i, ev := range evs {
			seq, err := nextSequence(ctx, tx)
			if err != nil {
				return err
			}
			ev.Sequence = seq
			id, err := insertEvent(ctx, tx, ev)
			if err != nil {
				return err
			}
			ev.ID = id
			fn, ok := registry[ev.Type]
			if !ok {
				return errs.Newf(errs.Invalid, "no projection registered for event type %q", ev.Type)
			}
			if err := fn(ctx, tx, ev); err != nil {
				return err
			}
			if err := touchAgentActivity(ctx, tx, ev); err != nil {
				return err
			}
			out[i] = ev
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadFilter selects a slice of the event log.
type ReadFilter struct {
	ProjectKey    string
	Types         []eventlog.Type
	AfterSequence int64
	FromTimestamp int64
	ToTimestamp   int64
	Limit         int
	Offset        int
}

// ReadEvents returns events in ascending sequence order. AfterSequence is
// strict (sequence > AfterSequence) and is the primary resumption tool.
func (s *Store) ReadEvents(ctx context.Context, f ReadFilter) ([]eventlog.Event, error) {
	where := []string{"1=1"}
	args := []any{}
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, s.adapter.Placeholder(len(args))))
	}
	if f.ProjectKey != "" {
		add("project_key = %s", f.ProjectKey)
	}
	if f.AfterSequence > 0 {
		add("sequence > %s", f.AfterSequence)
	}
	if f.FromTimestamp > 0 {
		add("timestamp_ms >= %s", f.FromTimestamp)
	}
	if f.ToTimestamp > 0 {
		add("timestamp_ms <= %s", f.ToTimestamp)
	}
	if len(f.Types) > 0 {
		placeholders := make([]string, len(f.Types))
		for i, t := range f.Types {
			args = append(args, string(t))
			placeholders[i] = s.adapter.Placeholder(len(args))
		}
		where = append(where, fmt.Sprintf("type IN (%s)", joinComma(placeholders)))
	}

	query := fmt.Sprintf(`SELECT id, sequence, type, project_key, timestamp_ms, data FROM events WHERE %s ORDER BY sequence ASC`, joinAnd(where))
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := s.adapter.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rowsToEvents(rows)
}

// GetLatestSequence returns 0 when the log is empty for projectKey (or
// globally, when projectKey is empty).
func (s *Store) GetLatestSequence(ctx context.Context, projectKey string) (int64, error) {
	query := "SELECT COALESCE(MAX(sequence), 0) AS seq FROM events"
	args := []any{}
	if projectKey != "" {
		query += fmt.Sprintf(" WHERE project_key = %s", s.adapter.Placeholder(1))
		args = append(args, projectKey)
	}
	rows, err := s.adapter.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return toInt64(rows[0]["seq"]), nil
}

// Stats is a point-in-time snapshot of a project's event log and
// projection sizes, used for operational visibility rather than any
// query path the projections themselves rely on.
type Stats struct {
	EventCountsByType  map[string]int64 `json:"event_counts_by_type"`
	ActiveReservations int64            `json:"active_reservations"`
	OpenCells          int64            `json:"open_cells"`
	BlockedCells       int64            `json:"blocked_cells"`
}

// Stats reports event counts by type plus active-reservation and
// open/blocked cell counts for projectKey.
func (s *Store) Stats(ctx context.Context, projectKey string) (Stats, error) {
	out := Stats{EventCountsByType: map[string]int64{}}

	typeRows, err := s.adapter.Query(ctx,
		fmt.Sprintf(`SELECT type, COUNT(*) AS n FROM events WHERE project_key = %s GROUP BY type`, s.adapter.Placeholder(1)),
		projectKey)
	if err != nil {
		return Stats{}, err
	}
	for _, r := range typeRows {
		out.EventCountsByType[fmt.Sprint(r["type"])] = toInt64(r["n"])
	}

	resRows, err := s.adapter.Query(ctx,
		fmt.Sprintf(`SELECT COUNT(*) AS n FROM reservations WHERE project_key = %s AND released_at IS NULL`, s.adapter.Placeholder(1)),
		projectKey)
	if err != nil {
		return Stats{}, err
	}
	if len(resRows) > 0 {
		out.ActiveReservations = toInt64(resRows[0]["n"])
	}

	cellRows, err := s.adapter.Query(ctx,
		fmt.Sprintf(`SELECT status, COUNT(*) AS n FROM cells WHERE project_key = %s AND deleted_at IS NULL GROUP BY status`, s.adapter.Placeholder(1)),
		projectKey)
	if err != nil {
		return Stats{}, err
	}
	for _, r := range cellRows {
		switch fmt.Sprint(r["status"]) {
		case "open":
			out.OpenCells = toInt64(r["n"])
		case "blocked":
			out.BlockedCells = toInt64(r["n"])
		}
	}

	return out, nil
}

// nextSequence returns one more than the highest sequence of any event in
// the database, so sequences increase strictly across every project's
// appends.
func nextSequence(ctx context.Context, tx storage.Tx) (int64, error) {
	rows, err := tx.Query(ctx, `SELECT COALESCE(MAX(sequence), 0) AS seq FROM events`)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 1, nil
	}
	return toInt64(rows[0]["seq"]) + 1, nil
}

func insertEvent(ctx context.Context, tx storage.Tx, ev eventlog.Event) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO events (sequence, type, project_key, timestamp_ms, data) VALUES (%s, %s, %s, %s, %s)`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5))
	res, err := tx.Exec(ctx, query, ev.Sequence, string(ev.Type), ev.ProjectKey, ev.Timestamp, string(ev.Data))
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		// Postgres' driver does not implement LastInsertId; fall back to
		// the sequence, which is unique across the database and monotonic.
		return ev.Sequence, nil
	}
	return id, nil
}

func joinAnd(parts []string) string { return joinWith(parts, " AND ") }
func joinComma(parts []string) string { return joinWith(parts, ", ") }

func joinWith(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func rowsToEvents(rows []storage.Row) ([]eventlog.Event, error) {
	out := make([]eventlog.Event, 0, len(rows))
	for _, r := range rows {
		data, err := dataToRaw(r["data"])
		if err != nil {
			return nil, err
		}
		out = append(out, eventlog.Event{
			ID:         toInt64(r["id"]),
			Sequence:   toInt64(r["sequence"]),
			Type:       eventlog.Type(fmt.Sprint(r["type"])),
			ProjectKey: fmt.Sprint(r["project_key"]),
			Timestamp:  toInt64(r["timestamp_ms"]),
			Data:       data,
		})
	}
	return out, nil
}
