// Package reservations implements the file-reservation arbiter (C6):
// glob-pattern claims with exclusivity, TTL expiry, conflict detection,
// idempotent renewal, and scoped auto-release.
package reservations

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/kernel"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// Reservations exposes the arbiter's operations over a kernel.Store.
type Reservations struct {
	store *kernel.Store
}

func New(store *kernel.Store) *Reservations { return &Reservations{store: store} }

// Reservation is the read-side shape of an active or historical claim.
type Reservation struct {
	ID          string `json:"id"`
	ProjectKey  string `json:"project_key"`
	AgentName   string `json:"agent_name"`
	PathPattern string `json:"path_pattern"`
	Exclusive   bool   `json:"exclusive"`
	Reason      string `json:"reason"`
	AcquiredAt  int64  `json:"acquired_at"`
	ExpiresAt   *int64 `json:"expires_at,omitempty"`
	ReleasedAt  *int64 `json:"released_at,omitempty"`
}

// ReserveOptions carries the optional fields on ReserveFiles.
type ReserveOptions struct {
	Reason     string
	Exclusive  bool
	TTLSeconds int64
}

// ReserveFiles emits file_reserved after checking overlap against every
// currently active reservation (§4.6). Retrying with identical
// (agent, paths, exclusive) while a matching active reservation exists is
// a no-op success.
func (r *Reservations) ReserveFiles(ctx context.Context, projectKey, agent string, paths []string, opts ReserveOptions) ([]Reservation, error) {
	if len(paths) == 0 {
		return nil, errs.New(errs.Invalid, "reserveFiles requires at least one path pattern")
	}
	active, err := r.listActive(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	var records []eventlog.ReservationRecord
	var results []Reservation
	ts := nowMs()
	for _, pattern := range paths {
		var alreadyHeld *Reservation
		for i := range active {
			existing := active[i]
			if !overlaps(existing.PathPattern, pattern) {
				continue
			}
			sameAgent := existing.AgentName == agent
			if existing.Exclusive && !sameAgent {
				return nil, errs.Newf(errs.Conflict, "path %q conflicts with exclusive reservation held by %q", pattern, existing.AgentName)
			}
			if opts.Exclusive && !sameAgent {
				return nil, errs.Newf(errs.Conflict, "exclusive reservation of %q conflicts with reservation held by %q", pattern, existing.AgentName)
			}
			if sameAgent && existing.PathPattern == pattern && existing.Exclusive == opts.Exclusive {
				alreadyHeld = &existing
			}
		}
		if alreadyHeld != nil {
			results = append(results, *alreadyHeld)
			continue
		}
		id := "res_" + uuid.NewString()
		var expiresAt *int64
		if opts.TTLSeconds > 0 {
			exp := ts + opts.TTLSeconds*1000
			expiresAt = &exp
		}
		records = append(records, eventlog.ReservationRecord{
			ID: id, AgentName: agent, PathPattern: pattern, Exclusive: opts.Exclusive, Reason: opts.Reason, ExpiresAt: expiresAt,
		})
		results = append(results, Reservation{
			ID: id, ProjectKey: projectKey, AgentName: agent, PathPattern: pattern,
			Exclusive: opts.Exclusive, Reason: opts.Reason, AcquiredAt: ts, ExpiresAt: expiresAt,
		})
	}
	if len(records) == 0 {
		return results, nil // every requested path was already held identically (idempotent retry).
	}
	ev, err := eventlog.NewEvent(eventlog.TypeFileReserved, projectKey, ts, eventlog.FileReservedPayload{Reservations: records})
	if err != nil {
		return nil, err
	}
	if _, err := r.store.AppendEvent(ctx, ev); err != nil {
		return nil, err
	}
	return results, nil
}

// ReleaseFiles emits file_released, releasing all of agent's active
// reservations matching paths (or all, when paths is empty).
func (r *Reservations) ReleaseFiles(ctx context.Context, projectKey, agent string, paths []string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeFileReleased, projectKey, nowMs(), eventlog.FileReleasedPayload{AgentName: agent, Paths: paths})
	if err != nil {
		return err
	}
	_, err = r.store.AppendEvent(ctx, ev)
	return err
}

// ScopedReservation acquires paths, runs fn, and guarantees release on
// every exit path including a panic or error return (§4.6, §9).
func (r *Reservations) ScopedReservation(ctx context.Context, projectKey, agent string, paths []string, opts ReserveOptions, fn func(ctx context.Context, reserved []Reservation) error) (err error) {
	reserved, err := r.ReserveFiles(ctx, projectKey, agent, paths, opts)
	if err != nil {
		return err
	}
	defer func() {
		releaseErr := r.ReleaseFiles(ctx, projectKey, agent, paths)
		if err == nil {
			err = releaseErr
		}
	}()
	return fn(ctx, reserved)
}

// ExpireTick marks reservations whose TTL has passed as released. Expiry
// is a derived truth (§4.6) and emits no event.
func (r *Reservations) ExpireTick(ctx context.Context, now int64) (int64, error) {
	adapter := r.store.Adapter()
	query := fmt.Sprintf(`UPDATE reservations SET released_at = %s WHERE released_at IS NULL AND expires_at IS NOT NULL AND expires_at <= %s`,
		adapter.Placeholder(1), adapter.Placeholder(2))
	res, err := adapter.Exec(ctx, query, now, now)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Reservations) listActive(ctx context.Context, projectKey string) ([]Reservation, error) {
	adapter := r.store.Adapter()
	now := nowMs()
	query := fmt.Sprintf(`SELECT id, project_key, agent_name, path_pattern, exclusive, reason, acquired_at, expires_at, released_at
		FROM reservations WHERE project_key = %s AND released_at IS NULL AND (expires_at IS NULL OR expires_at > %s)`,
		adapter.Placeholder(1), adapter.Placeholder(2))
	rows, err := adapter.Query(ctx, query, projectKey, now)
	if err != nil {
		return nil, err
	}
	out := make([]Reservation, 0, len(rows))
	for _, row := range rows {
		out = append(out, Reservation{
			ID:          fmt.Sprint(row["id"]),
			ProjectKey:  fmt.Sprint(row["project_key"]),
			AgentName:   fmt.Sprint(row["agent_name"]),
			PathPattern: fmt.Sprint(row["path_pattern"]),
			Exclusive:   asBool(row["exclusive"]),
			Reason:      fmt.Sprint(row["reason"]),
			AcquiredAt:  toInt64(row["acquired_at"]),
		})
	}
	return out, nil
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return false
	}
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
