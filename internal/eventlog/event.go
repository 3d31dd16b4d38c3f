// Package eventlog defines the append-only event record and its closed set
// of type tags. An Event's Data field is a tagged union on Type: callers
// construct the matching *Payload struct, marshal it into Data, and the
// projection registry (see internal/kernel) unmarshals it back by Type.
package eventlog

import "encoding/json"

// Type is one of the closed set of event-type tags declared below.
type Type string

const (
	// Agent domain.
	TypeAgentRegistered Type = "agent_registered"

	// Messaging domain.
	TypeMessageSent   Type = "message_sent"
	TypeMessageRead   Type = "message_read"
	TypeMessageAcked  Type = "message_acked"

	// Reservation domain.
	TypeFileReserved Type = "file_reserved"
	TypeFileReleased Type = "file_released"

	// Cell (bead) domain.
	TypeBeadCreated          Type = "bead_created"
	TypeBeadUpdated          Type = "bead_updated"
	TypeBeadStatusChanged    Type = "bead_status_changed"
	TypeBeadClosed           Type = "bead_closed"
	TypeBeadReopened         Type = "bead_reopened"
	TypeBeadDeleted          Type = "bead_deleted"
	TypeBeadDependencyAdded  Type = "bead_dependency_added"
	TypeBeadDependencyRemove Type = "bead_dependency_removed"
	TypeBeadLabelAdded       Type = "bead_label_added"
	TypeBeadLabelRemoved     Type = "bead_label_removed"
	TypeBeadCommentAdded     Type = "bead_comment_added"
	TypeBeadCommentUpdated   Type = "bead_comment_updated"
	TypeBeadCommentDeleted   Type = "bead_comment_deleted"
	TypeBeadChildAdded       Type = "bead_child_added"
	TypeBeadChildRemoved     Type = "bead_child_removed"

	// Memory domain.
	TypeMemoryStored    Type = "memory_stored"
	TypeMemoryRemoved   Type = "memory_removed"
	TypeMemoryValidated Type = "memory_validated"

	// Checkpoint / outcome domain.
	TypeCheckpointTaken Type = "checkpoint_taken"
	TypeOutcomeRecorded Type = "outcome_recorded"
)

// Event is an immutable, sequenced record. Sequence and ID are assigned by
// the store on append; everything else is supplied by the caller.
type Event struct {
	ID         int64           `json:"id"`
	Sequence   int64           `json:"sequence"`
	Type       Type            `json:"type"`
	ProjectKey string          `json:"project_key"`
	Timestamp  int64           `json:"timestamp_ms"`
	Data       json.RawMessage `json:"data"`
}

// Decode unmarshals Data into dst, the concrete payload type for e.Type.
func (e Event) Decode(dst any) error {
	return json.Unmarshal(e.Data, dst)
}

// NewEvent builds an unsequenced Event ready for appending. payload is
// marshaled to JSON; callers pass one of the Payload structs below.
func NewEvent(typ Type, projectKey string, timestampMs int64, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, ProjectKey: projectKey, Timestamp: timestampMs, Data: data}, nil
}
