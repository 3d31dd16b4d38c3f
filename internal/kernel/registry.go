package kernel

import (
	"context"
	"fmt"

	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

// ApplyFunc writes the projection tables for one event. It MUST be pure
// with respect to (event, current projection state) so that replay is
// deterministic (§4.4). Event-driven projection writes all go through
// this registry. Three writers bypass it without an event:
// reservations.ExpireTick's TTL sweep, cells.ClearDirty's export flag,
// and replay's projection-table truncation.
type ApplyFunc func(ctx context.Context, tx storage.Tx, ev eventlog.Event) error

var registry = map[eventlog.Type]ApplyFunc{
	eventlog.TypeAgentRegistered: applyAgentRegistered,

	eventlog.TypeMessageSent:  applyMessageSent,
	eventlog.TypeMessageRead:  applyMessageRead,
	eventlog.TypeMessageAcked: applyMessageAcked,

	eventlog.TypeFileReserved: applyFileReserved,
	eventlog.TypeFileReleased: applyFileReleased,

	eventlog.TypeBeadCreated:          applyBeadCreated,
	eventlog.TypeBeadUpdated:          applyBeadUpdated,
	eventlog.TypeBeadStatusChanged:    applyBeadStatusChanged,
	eventlog.TypeBeadClosed:           applyBeadClosed,
	eventlog.TypeBeadReopened:         applyBeadReopened,
	eventlog.TypeBeadDeleted:          applyBeadDeleted,
	eventlog.TypeBeadDependencyAdded:  applyBeadDependencyAdded,
	eventlog.TypeBeadDependencyRemove: applyBeadDependencyRemoved,
	eventlog.TypeBeadLabelAdded:       applyBeadLabelAdded,
	eventlog.TypeBeadLabelRemoved:     applyBeadLabelRemoved,
	eventlog.TypeBeadCommentAdded:     applyBeadCommentAdded,
	eventlog.TypeBeadCommentUpdated:   applyBeadCommentUpdated,
	eventlog.TypeBeadCommentDeleted:   applyBeadCommentDeleted,
	eventlog.TypeBeadChildAdded:       applyBeadChildAdded,
	eventlog.TypeBeadChildRemoved:     applyBeadChildRemoved,

	eventlog.TypeMemoryStored:    applyMemoryStored,
	eventlog.TypeMemoryRemoved:   applyMemoryRemoved,
	eventlog.TypeMemoryValidated: applyMemoryValidated,

	eventlog.TypeCheckpointTaken: applyNoop,
	eventlog.TypeOutcomeRecorded: applyNoop,
}

// applyNoop backs event types that are recorded in the log for audit
// purposes but carry no materialised view of their own (checkpoints,
// outcome records — consumed by the out-of-scope coordinator/eval layer).
func applyNoop(context.Context, storage.Tx, eventlog.Event) error { return nil }

func touchAgentActivity(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	name := extractAgentName(ev)
	if name == "" {
		return nil
	}
	query := fmt.Sprintf(`UPDATE agents SET last_active_at = %s WHERE project_key = %s AND name = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	_, err := tx.Exec(ctx, query, ev.Timestamp, ev.ProjectKey, name)
	return err
}

func extractAgentName(ev eventlog.Event) string {
	switch ev.Type {
	case eventlog.TypeAgentRegistered:
		return "" // registration itself sets registered_at/last_active_at in applyAgentRegistered
	case eventlog.TypeMessageSent:
		var p eventlog.MessageSentPayload
		if ev.Decode(&p) == nil {
			return p.FromAgent
		}
	case eventlog.TypeMessageRead:
		var p eventlog.MessageReadPayload
		if ev.Decode(&p) == nil {
			return p.Agent
		}
	case eventlog.TypeMessageAcked:
		var p eventlog.MessageReadPayload
		if ev.Decode(&p) == nil {
			return p.Agent
		}
	case eventlog.TypeFileReserved:
		var p eventlog.FileReservedPayload
		if ev.Decode(&p) == nil && len(p.Reservations) > 0 {
			return p.Reservations[0].AgentName
		}
	case eventlog.TypeFileReleased:
		var p eventlog.FileReleasedPayload
		if ev.Decode(&p) == nil {
			return p.AgentName
		}
	}
	return ""
}
