package kernel

import (
	"context"
	"fmt"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

func applyFileReserved(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.FileReservedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode file_reserved", err)
	}
	for _, r := range p.Reservations {
		activeQuery := fmt.Sprintf(`SELECT id FROM reservations WHERE project_key = %s AND agent_name = %s AND path_pattern = %s
			AND exclusive = %s AND released_at IS NULL`,
			tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4))
		existing, err := tx.Query(ctx, activeQuery, ev.ProjectKey, r.AgentName, r.PathPattern, r.Exclusive)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			continue // idempotent retry: identical active reservation already recorded.
		}
		var expiresAt any
		if r.ExpiresAt != nil {
			expiresAt = *r.ExpiresAt
		}
		insert := fmt.Sprintf(`INSERT INTO reservations (id, project_key, agent_name, path_pattern, exclusive, reason, acquired_at, expires_at)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s)`,
			tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4),
			tx.Placeholder(5), tx.Placeholder(6), tx.Placeholder(7), tx.Placeholder(8))
		if _, err := tx.Exec(ctx, insert, r.ID, ev.ProjectKey, r.AgentName, r.PathPattern, r.Exclusive, r.Reason, ev.Timestamp, expiresAt); err != nil {
			return err
		}
	}
	return nil
}

func applyFileReleased(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.FileReleasedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode file_released", err)
	}
	if len(p.Paths) == 0 {
		query := fmt.Sprintf(`UPDATE reservations SET released_at = %s WHERE project_key = %s AND agent_name = %s AND released_at IS NULL`,
			tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
		_, err := tx.Exec(ctx, query, ev.Timestamp, ev.ProjectKey, p.AgentName)
		return err
	}
	for _, path := range p.Paths {
		query := fmt.Sprintf(`UPDATE reservations SET released_at = %s WHERE project_key = %s AND agent_name = %s AND path_pattern = %s AND released_at IS NULL`,
			tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4))
		if _, err := tx.Exec(ctx, query, ev.Timestamp, ev.ProjectKey, p.AgentName, path); err != nil {
			return err
		}
	}
	return nil
}
