// Package messaging implements agent registration and the directed inbox
// (C5): thread/importance/read-receipt semantics on top of the kernel's
// event log and message/message_recipients projections.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/schema"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// Importance levels, ordered urgent-first for inbox sort weight.
const (
	ImportanceLow    = "low"
	ImportanceNormal = "normal"
	ImportanceHigh   = "high"
	ImportanceUrgent = "urgent"
)

var importanceWeight = map[string]int{
	ImportanceUrgent: 4,
	ImportanceHigh:   3,
	ImportanceNormal: 2,
	ImportanceLow:    1,
}

// DefaultBodyPreviewBytes bounds inbox summary bodies (§4.5).
const DefaultBodyPreviewBytes = 240

// Messages exposes registration and inbox operations over a kernel.Store.
type Messages struct {
	store          *kernel.Store
	metadataSchema *schema.Validator
}

func New(store *kernel.Store) *Messages { return &Messages{store: store} }

// SetMetadataSchema installs a JSON Schema that every SendMessage call's
// metadata must satisfy. Passing nil disables validation.
func (m *Messages) SetMetadataSchema(v *schema.Validator) { m.metadataSchema = v }

// Message is the read-side shape returned by Inbox/ReadMessage.
type Message struct {
	ID         string `json:"id"`
	ProjectKey string `json:"project_key"`
	FromAgent  string `json:"from_agent"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ThreadID   string `json:"thread_id,omitempty"`
	Importance string `json:"importance"`
	SentAt     int64  `json:"sent_at"`
	Sequence   int64  `json:"sequence"`
	ReadAt     *int64 `json:"read_at,omitempty"`
	AckedAt    *int64 `json:"acked_at,omitempty"`
}

// RegisterAgent emits agent_registered. Re-registering an existing agent
// updates its fields (see kernel.applyAgentRegistered) without resetting
// registered_at.
func (m *Messages) RegisterAgent(ctx context.Context, projectKey, name string, program, model, taskDescription string) error {
	if name == "" {
		return errs.New(errs.Invalid, "agent name is required")
	}
	ev, err := eventlog.NewEvent(eventlog.TypeAgentRegistered, projectKey, nowMs(), eventlog.AgentRegisteredPayload{
		Name: name, Program: program, Model: model, TaskDescription: taskDescription,
	})
	if err != nil {
		return err
	}
	_, err = m.store.AppendEvent(ctx, ev)
	return err
}

// SendOptions carries the optional fields on SendMessage.
type SendOptions struct {
	Importance string
	ThreadID   string
	Metadata   map[string]any
}

// SendMessage emits message_sent. Fails when to is empty (§4.5).
func (m *Messages) SendMessage(ctx context.Context, projectKey, from string, to []string, subject, body string, opts SendOptions) (Message, error) {
	if len(to) == 0 {
		return Message{}, errs.New(errs.Invalid, "sendMessage requires at least one recipient")
	}
	importance := opts.Importance
	if importance == "" {
		importance = ImportanceNormal
	}
	if _, ok := importanceWeight[importance]; !ok {
		return Message{}, errs.Newf(errs.Invalid, "unknown importance %q", importance)
	}
	if err := m.metadataSchema.Validate(opts.Metadata); err != nil {
		return Message{}, err
	}
	id := "msg_" + uuid.NewString()
	ts := nowMs()
	ev, err := eventlog.NewEvent(eventlog.TypeMessageSent, projectKey, ts, eventlog.MessageSentPayload{
		ID: id, FromAgent: from, ToAgents: to, Subject: subject, Body: body,
		ThreadID: opts.ThreadID, Importance: importance, Metadata: opts.Metadata,
	})
	if err != nil {
		return Message{}, err
	}
	applied, err := m.store.AppendEvent(ctx, ev)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID: id, ProjectKey: projectKey, FromAgent: from, Subject: subject, Body: body,
		ThreadID: opts.ThreadID, Importance: importance, SentAt: ts, Sequence: applied.Sequence,
	}, nil
}

// InboxFilter narrows an Inbox query.
type InboxFilter struct {
	Limit         int
	Offset        int
	UnreadOnly    bool
	ThreadID      string
	SinceSequence int64
}

// Inbox returns messages addressed to agent, importance-first then
// recency (§4.5), with bodies truncated to DefaultBodyPreviewBytes.
func (m *Messages) Inbox(ctx context.Context, projectKey, agent string, f InboxFilter) ([]Message, error) {
	adapter := m.store.Adapter()
	where := []string{"m.project_key = " + adapter.Placeholder(1), "r.agent = " + adapter.Placeholder(2)}
	args := []any{projectKey, agent}
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, adapter.Placeholder(len(args))))
	}
	if f.UnreadOnly {
		where = append(where, "r.read_at IS NULL")
	}
	if f.ThreadID != "" {
		add("m.thread_id = %s", f.ThreadID)
	}
	if f.SinceSequence > 0 {
		add("m.sequence > %s", f.SinceSequence)
	}
	query := fmt.Sprintf(`
		SELECT m.id, m.project_key, m.from_agent, m.subject, m.body, m.thread_id, m.importance, m.sent_at, m.sequence, r.read_at, r.acked_at
		FROM messages m JOIN message_recipients r ON r.message_id = m.id
		WHERE %s
		ORDER BY
			CASE m.importance WHEN 'urgent' THEN 4 WHEN 'high' THEN 3 WHEN 'normal' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC,
			m.sent_at DESC`, joinAnd(where))
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, f.Offset)

	rows, err := adapter.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(rows))
	for _, r := range rows {
		msg := rowToMessage(r)
		msg.Body = truncate(msg.Body, DefaultBodyPreviewBytes)
		out = append(out, msg)
	}
	return out, nil
}

// ReadMessage returns the full message body and emits message_read.
func (m *Messages) ReadMessage(ctx context.Context, projectKey, id, agent string) (Message, error) {
	adapter := m.store.Adapter()
	query := fmt.Sprintf(`
		SELECT m.id, m.project_key, m.from_agent, m.subject, m.body, m.thread_id, m.importance, m.sent_at, m.sequence, r.read_at, r.acked_at
		FROM messages m JOIN message_recipients r ON r.message_id = m.id
		WHERE m.project_key = %s AND m.id = %s AND r.agent = %s`,
		adapter.Placeholder(1), adapter.Placeholder(2), adapter.Placeholder(3))
	rows, err := adapter.Query(ctx, query, projectKey, id, agent)
	if err != nil {
		return Message{}, err
	}
	if len(rows) == 0 {
		return Message{}, errs.Newf(errs.NotFound, "message %q not addressed to %q", id, agent)
	}
	ev, err := eventlog.NewEvent(eventlog.TypeMessageRead, projectKey, nowMs(), eventlog.MessageReadPayload{MessageID: id, Agent: agent})
	if err != nil {
		return Message{}, err
	}
	if _, err := m.store.AppendEvent(ctx, ev); err != nil {
		return Message{}, err
	}
	return rowToMessage(rows[0]), nil
}

// AckMessage emits message_acked; idempotent on repeat (§4.4).
func (m *Messages) AckMessage(ctx context.Context, projectKey, id, agent string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeMessageAcked, projectKey, nowMs(), eventlog.MessageReadPayload{MessageID: id, Agent: agent})
	if err != nil {
		return err
	}
	_, err = m.store.AppendEvent(ctx, ev)
	return err
}

func rowToMessage(r map[string]any) Message {
	msg := Message{
		ID:         fmt.Sprint(r["id"]),
		ProjectKey: fmt.Sprint(r["project_key"]),
		FromAgent:  fmt.Sprint(r["from_agent"]),
		Subject:    fmt.Sprint(r["subject"]),
		Body:       fmt.Sprint(r["body"]),
		Importance: fmt.Sprint(r["importance"]),
		SentAt:     toInt64(r["sent_at"]),
		Sequence:   toInt64(r["sequence"]),
	}
	if tid, ok := r["thread_id"]; ok && tid != nil {
		msg.ThreadID = fmt.Sprint(tid)
	}
	if v, ok := r["read_at"]; ok && v != nil {
		t := toInt64(v)
		msg.ReadAt = &t
	}
	if v, ok := r["acked_at"]; ok && v != nil {
		t := toInt64(v)
		msg.AckedAt = &t
	}
	return msg
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}

func joinAnd(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += " AND "
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
