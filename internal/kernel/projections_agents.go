package kernel

import (
	"context"
	"fmt"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

func applyAgentRegistered(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.AgentRegisteredPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode agent_registered", err)
	}
	if p.Name == "" {
		return errs.New(errs.Invalid, "agent_registered requires a name")
	}
	// Upsert: a re-registration updates fields but keeps registered_at.
	existing, err := tx.Query(ctx, fmt.Sprintf(`SELECT name FROM agents WHERE project_key = %s AND name = %s`,
		tx.Placeholder(1), tx.Placeholder(2)), ev.ProjectKey, p.Name)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		query := fmt.Sprintf(`UPDATE agents SET program = %s, model = %s, task_description = %s, last_active_at = %s WHERE project_key = %s AND name = %s`,
			tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5), tx.Placeholder(6))
		_, err := tx.Exec(ctx, query, p.Program, p.Model, p.TaskDescription, ev.Timestamp, ev.ProjectKey, p.Name)
		return err
	}
	query := fmt.Sprintf(`INSERT INTO agents (project_key, name, program, model, task_description, registered_at, last_active_at) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5), tx.Placeholder(6), tx.Placeholder(7))
	_, err = tx.Exec(ctx, query, ev.ProjectKey, p.Name, p.Program, p.Model, p.TaskDescription, ev.Timestamp, ev.Timestamp)
	return err
}
