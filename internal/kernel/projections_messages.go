package kernel

import (
	"context"
	"fmt"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

func applyMessageSent(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.MessageSentPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode message_sent", err)
	}
	if len(p.ToAgents) == 0 {
		return errs.New(errs.Invalid, "message_sent requires at least one recipient")
	}
	var threadID any
	if p.ThreadID != "" {
		threadID = p.ThreadID
	}
	query := fmt.Sprintf(`INSERT INTO messages (id, project_key, from_agent, subject, body, thread_id, importance, sent_at, sequence)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5),
		tx.Placeholder(6), tx.Placeholder(7), tx.Placeholder(8), tx.Placeholder(9))
	if _, err := tx.Exec(ctx, query, p.ID, ev.ProjectKey, p.FromAgent, p.Subject, p.Body, threadID, p.Importance, ev.Timestamp, ev.Sequence); err != nil {
		return err
	}
	for _, recipient := range p.ToAgents {
		ins := fmt.Sprintf(`INSERT INTO message_recipients (message_id, agent) VALUES (%s, %s)`, tx.Placeholder(1), tx.Placeholder(2))
		if _, err := tx.Exec(ctx, ins, p.ID, recipient); err != nil {
			return err
		}
	}
	return nil
}

// applyMessageRead / applyMessageAcked are idempotent on repeat (§4.4):
// re-applying the same event only ever sets the timestamp, it does not
// error or duplicate rows.
func applyMessageRead(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.MessageReadPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode message_read", err)
	}
	query := fmt.Sprintf(`UPDATE message_recipients SET read_at = %s WHERE message_id = %s AND agent = %s AND read_at IS NULL`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	_, err := tx.Exec(ctx, query, ev.Timestamp, p.MessageID, p.Agent)
	return err
}

func applyMessageAcked(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.MessageReadPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode message_acked", err)
	}
	query := fmt.Sprintf(`UPDATE message_recipients SET acked_at = %s WHERE message_id = %s AND agent = %s AND acked_at IS NULL`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	_, err := tx.Exec(ctx, query, ev.Timestamp, p.MessageID, p.Agent)
	return err
}
