// Package cells implements the work-item graph (C7): typed cells with
// status/priority, typed dependencies, epic/child relations, ready-cell
// and blocked-cell queries, and the dirty-set used for JSONL export.
package cells

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/storage"
)

func nowMs() int64 { return time.Now().UnixMilli() }

// Cells exposes the work-item graph's operations over a kernel.Store.
type Cells struct {
	store *kernel.Store
}

func New(store *kernel.Store) *Cells { return &Cells{store: store} }

// Cell is the read-side shape of a work item.
type Cell struct {
	ID           string  `json:"id"`
	ProjectKey   string  `json:"project_key"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	IssueType    string  `json:"issue_type"`
	Status       string  `json:"status"`
	Priority     int     `json:"priority"`
	ParentID     string  `json:"parent_id,omitempty"`
	Assignee     string  `json:"assignee,omitempty"`
	CreatedAt    int64   `json:"created_at"`
	UpdatedAt    int64   `json:"updated_at"`
	ClosedAt     *int64  `json:"closed_at,omitempty"`
	ClosedReason string  `json:"closed_reason,omitempty"`
	DeletedAt    *int64  `json:"deleted_at,omitempty"`
	DeletedBy    string  `json:"deleted_by,omitempty"`
	DeleteReason string  `json:"delete_reason,omitempty"`
	Dirty        bool    `json:"-"`
}

// generateID mints an opaque cell id: a project-key-derived prefix plus
// timestamp and random suffix, per §3's "hash + timestamp + randomness".
func generateID(projectKey string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("c_%s_%x_%s", shortHash(projectKey), nowMs(), hex.EncodeToString(buf))
}

func shortHash(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)[:6]
}

// CreateOptions carries the optional fields on CreateBead.
type CreateOptions struct {
	IssueType   string
	Priority    int
	ParentID    string
	Assignee    string
	// ID, when set, is persisted as the cell's id instead of minting one
	// through generateID. Only ImportJSONL uses this, so a re-imported
	// cell keeps the identity any dependency/label/comment referencing it
	// was recorded against (§4.9).
	ID string
}

// CreateBead emits bead_created; default status='open', priority=2 (§4.4).
func (c *Cells) CreateBead(ctx context.Context, projectKey, title, description string, opts CreateOptions) (Cell, error) {
	if title == "" {
		return Cell{}, errs.New(errs.Invalid, "cell title is required")
	}
	issueType := opts.IssueType
	if issueType == "" {
		issueType = "task"
	}
	if !validIssueTypes[issueType] {
		return Cell{}, errs.Newf(errs.Invalid, "unknown issue_type %q", issueType)
	}
	priority := opts.Priority
	if priority == 0 {
		priority = 2
	}
	id := opts.ID
	if id == "" {
		id = generateID(projectKey)
	}
	ts := nowMs()
	ev, err := eventlog.NewEvent(eventlog.TypeBeadCreated, projectKey, ts, eventlog.BeadCreatedPayload{
		ID: id, Title: title, Description: description, IssueType: issueType, Priority: priority,
		ParentID: opts.ParentID, Assignee: opts.Assignee,
	})
	if err != nil {
		return Cell{}, err
	}
	if _, err := c.store.AppendEvent(ctx, ev); err != nil {
		return Cell{}, err
	}
	return c.GetBead(ctx, projectKey, id)
}

var validIssueTypes = map[string]bool{"epic": true, "task": true, "bug": true, "feature": true, "chore": true, "message": true}

// GetBead fetches one cell by exact id, excluding soft-deleted
// (tombstoned) rows.
func (c *Cells) GetBead(ctx context.Context, projectKey, id string) (Cell, error) {
	return c.getBead(ctx, projectKey, id, false)
}

func (c *Cells) getBead(ctx context.Context, projectKey, id string, includeDeleted bool) (Cell, error) {
	adapter := c.store.Adapter()
	query := fmt.Sprintf(`SELECT %s FROM cells WHERE project_key = %s AND id = %s`, cellColumns, adapter.Placeholder(1), adapter.Placeholder(2))
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}
	rows, err := adapter.Query(ctx, query, projectKey, id)
	if err != nil {
		return Cell{}, err
	}
	if len(rows) == 0 {
		return Cell{}, errs.Newf(errs.NotFound, "cell %q not found", id)
	}
	return rowToCell(rows[0]), nil
}

const cellColumns = "id, project_key, title, description, issue_type, status, priority, parent_id, assignee, created_at, updated_at, closed_at, closed_reason, deleted_at, deleted_by, delete_reason, dirty"

func rowToCell(r map[string]any) Cell {
	cell := Cell{
		ID:          fmt.Sprint(r["id"]),
		ProjectKey:  fmt.Sprint(r["project_key"]),
		Title:       fmt.Sprint(r["title"]),
		Description: fmt.Sprint(r["description"]),
		IssueType:   fmt.Sprint(r["issue_type"]),
		Status:      fmt.Sprint(r["status"]),
		Priority:    int(toInt64(r["priority"])),
		CreatedAt:   toInt64(r["created_at"]),
		UpdatedAt:   toInt64(r["updated_at"]),
		Dirty:       asBool(r["dirty"]),
	}
	if v, ok := r["parent_id"]; ok && v != nil {
		cell.ParentID = fmt.Sprint(v)
	}
	if v, ok := r["assignee"]; ok && v != nil {
		cell.Assignee = fmt.Sprint(v)
	}
	if v, ok := r["closed_at"]; ok && v != nil {
		t := toInt64(v)
		cell.ClosedAt = &t
	}
	if v, ok := r["closed_reason"]; ok && v != nil {
		cell.ClosedReason = fmt.Sprint(v)
	}
	if v, ok := r["deleted_at"]; ok && v != nil {
		t := toInt64(v)
		cell.DeletedAt = &t
	}
	if v, ok := r["deleted_by"]; ok && v != nil {
		cell.DeletedBy = fmt.Sprint(v)
	}
	if v, ok := r["delete_reason"]; ok && v != nil {
		cell.DeleteReason = fmt.Sprint(v)
	}
	return cell
}

// QueryFilter narrows QueryBeads.
type QueryFilter struct {
	Status         string
	IssueType      string
	Assignee       string
	ParentID       string
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// QueryBeads lists cells for a project matching filter, newest first.
func (c *Cells) QueryBeads(ctx context.Context, projectKey string, f QueryFilter) ([]Cell, error) {
	adapter := c.store.Adapter()
	where := []string{"project_key = " + adapter.Placeholder(1)}
	args := []any{projectKey}
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, adapter.Placeholder(len(args))))
	}
	if f.Status != "" {
		add("status = %s", f.Status)
	}
	if f.IssueType != "" {
		add("issue_type = %s", f.IssueType)
	}
	if f.Assignee != "" {
		add("assignee = %s", f.Assignee)
	}
	if f.ParentID != "" {
		add("parent_id = %s", f.ParentID)
	}
	if !f.IncludeDeleted {
		where = append(where, "deleted_at IS NULL")
	}
	query := fmt.Sprintf(`SELECT %s FROM cells WHERE %s ORDER BY created_at DESC`, cellColumns, strings.Join(where, " AND "))
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, f.Offset)
	rows, err := adapter.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]Cell, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToCell(r))
	}
	return out, nil
}

// UpdateOptions carries the partial-field patch for UpdateBead.
type UpdateOptions struct {
	Title       *string
	Description *string
	Priority    *int
	Assignee    *string
}

func (c *Cells) UpdateBead(ctx context.Context, projectKey, id string, opts UpdateOptions) (Cell, error) {
	resolved, err := c.ResolveShortID(ctx, projectKey, id)
	if err != nil {
		return Cell{}, err
	}
	ev, err := eventlog.NewEvent(eventlog.TypeBeadUpdated, projectKey, nowMs(), eventlog.BeadUpdatedPayload{
		ID: resolved, Title: opts.Title, Description: opts.Description, Priority: opts.Priority, Assignee: opts.Assignee,
	})
	if err != nil {
		return Cell{}, err
	}
	if _, err := c.store.AppendEvent(ctx, ev); err != nil {
		return Cell{}, err
	}
	return c.GetBead(ctx, projectKey, resolved)
}

// ChangeBeadStatus validates and applies a status transition (§4.4).
func (c *Cells) ChangeBeadStatus(ctx context.Context, projectKey, id, to, reason string) (Cell, error) {
	resolved, err := c.ResolveShortID(ctx, projectKey, id)
	if err != nil {
		return Cell{}, err
	}
	current, err := c.GetBead(ctx, projectKey, resolved)
	if err != nil {
		return Cell{}, err
	}
	ev, err := eventlog.NewEvent(eventlog.TypeBeadStatusChanged, projectKey, nowMs(), eventlog.BeadStatusChangedPayload{
		ID: resolved, From: current.Status, To: to, Reason: reason,
	})
	if err != nil {
		return Cell{}, err
	}
	if _, err := c.store.AppendEvent(ctx, ev); err != nil {
		return Cell{}, err
	}
	return c.GetBead(ctx, projectKey, resolved)
}

func (c *Cells) CloseBead(ctx context.Context, projectKey, id, reason string) (Cell, error) {
	resolved, err := c.ResolveShortID(ctx, projectKey, id)
	if err != nil {
		return Cell{}, err
	}
	ev, err := eventlog.NewEvent(eventlog.TypeBeadClosed, projectKey, nowMs(), eventlog.BeadClosedPayload{ID: resolved, Reason: reason})
	if err != nil {
		return Cell{}, err
	}
	if _, err := c.store.AppendEvent(ctx, ev); err != nil {
		return Cell{}, err
	}
	return c.GetBead(ctx, projectKey, resolved)
}

func (c *Cells) ReopenBead(ctx context.Context, projectKey, id string) (Cell, error) {
	resolved, err := c.ResolveShortID(ctx, projectKey, id)
	if err != nil {
		return Cell{}, err
	}
	ev, err := eventlog.NewEvent(eventlog.TypeBeadReopened, projectKey, nowMs(), eventlog.BeadStatusChangedPayload{ID: resolved, From: "closed", To: "open"})
	if err != nil {
		return Cell{}, err
	}
	if _, err := c.store.AppendEvent(ctx, ev); err != nil {
		return Cell{}, err
	}
	return c.GetBead(ctx, projectKey, resolved)
}

func (c *Cells) DeleteBead(ctx context.Context, projectKey, id, by, reason string) error {
	resolved, err := c.ResolveShortID(ctx, projectKey, id)
	if err != nil {
		return err
	}
	ev, err := eventlog.NewEvent(eventlog.TypeBeadDeleted, projectKey, nowMs(), eventlog.BeadDeletedPayload{ID: resolved, By: by, Reason: reason})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

// AddDependency forbids self-dependency (§3) and, for a "blocks"
// relationship, triggers a blocked-cache rebuild in the projection.
func (c *Cells) AddDependency(ctx context.Context, projectKey, cellID, dependsOnID, relationship string) error {
	cellID, err := c.ResolveShortID(ctx, projectKey, cellID)
	if err != nil {
		return err
	}
	dependsOnID, err = c.ResolveShortID(ctx, projectKey, dependsOnID)
	if err != nil {
		return err
	}
	if cellID == dependsOnID {
		return errs.New(errs.Invalid, "a cell cannot depend on itself")
	}
	ev, err := eventlog.NewEvent(eventlog.TypeBeadDependencyAdded, projectKey, nowMs(), eventlog.BeadDependencyPayload{
		CellID: cellID, DependsOnID: dependsOnID, Relationship: relationship,
	})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

func (c *Cells) RemoveDependency(ctx context.Context, projectKey, cellID, dependsOnID, relationship string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeBeadDependencyRemove, projectKey, nowMs(), eventlog.BeadDependencyPayload{
		CellID: cellID, DependsOnID: dependsOnID, Relationship: relationship,
	})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

// DependencyEdge is one row of cell_dependencies.
type DependencyEdge struct {
	CellID       string `json:"cell_id"`
	DependsOnID  string `json:"depends_on_id"`
	Relationship string `json:"relationship"`
}

func (c *Cells) GetDependencies(ctx context.Context, cellID string) ([]DependencyEdge, error) {
	adapter := c.store.Adapter()
	rows, err := adapter.Query(ctx, fmt.Sprintf(`SELECT cell_id, depends_on_id, relationship FROM cell_dependencies WHERE cell_id = %s`, adapter.Placeholder(1)), cellID)
	if err != nil {
		return nil, err
	}
	return rowsToEdges(rows), nil
}

func (c *Cells) GetDependents(ctx context.Context, cellID string) ([]DependencyEdge, error) {
	adapter := c.store.Adapter()
	rows, err := adapter.Query(ctx, fmt.Sprintf(`SELECT cell_id, depends_on_id, relationship FROM cell_dependencies WHERE depends_on_id = %s`, adapter.Placeholder(1)), cellID)
	if err != nil {
		return nil, err
	}
	return rowsToEdges(rows), nil
}

func rowsToEdges(rows []storage.Row) []DependencyEdge {
	out := make([]DependencyEdge, 0, len(rows))
	for _, r := range rows {
		out = append(out, DependencyEdge{
			CellID:       fmt.Sprint(r["cell_id"]),
			DependsOnID:  fmt.Sprint(r["depends_on_id"]),
			Relationship: fmt.Sprint(r["relationship"]),
		})
	}
	return out
}

// IsBlocked reports true iff blocked_cache[cell] is non-empty (§4.7).
func (c *Cells) IsBlocked(ctx context.Context, cellID string) (bool, error) {
	blockers, err := c.GetBlockers(ctx, cellID)
	if err != nil {
		return false, err
	}
	return len(blockers) > 0, nil
}

// GetBlockers reads the blocked_cache row for cellID.
func (c *Cells) GetBlockers(ctx context.Context, cellID string) ([]string, error) {
	adapter := c.store.Adapter()
	rows, err := adapter.Query(ctx, fmt.Sprintf(`SELECT blocker_ids FROM blocked_cache WHERE cell_id = %s`, adapter.Placeholder(1)), cellID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var blockers []string
	switch v := rows[0]["blocker_ids"].(type) {
	case nil:
		return nil, nil
	case []any:
		// The adapter has already decoded the stored JSON array.
		for _, id := range v {
			blockers = append(blockers, fmt.Sprint(id))
		}
	default:
		raw := fmt.Sprint(v)
		if b, ok := v.([]byte); ok {
			raw = string(b)
		}
		if raw == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(raw), &blockers); err != nil {
			return nil, errs.Wrap(errs.Corruption, "decode blocked_cache row", err)
		}
	}
	return blockers, nil
}

func (c *Cells) AddLabel(ctx context.Context, projectKey, cellID, label string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeBeadLabelAdded, projectKey, nowMs(), eventlog.BeadLabelPayload{CellID: cellID, Label: label})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

func (c *Cells) RemoveLabel(ctx context.Context, projectKey, cellID, label string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeBeadLabelRemoved, projectKey, nowMs(), eventlog.BeadLabelPayload{CellID: cellID, Label: label})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

// Comment is the read-side shape of a cell_comments row.
type Comment struct {
	ID        string `json:"id"`
	CellID    string `json:"cell_id"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	ParentID  string `json:"parent_id,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

func (c *Cells) AddComment(ctx context.Context, projectKey, cellID, author, body, parentID string) (string, error) {
	id := "cmt_" + shortHash(fmt.Sprintf("%s%s%d", cellID, author, nowMs()))
	ev, err := eventlog.NewEvent(eventlog.TypeBeadCommentAdded, projectKey, nowMs(), eventlog.BeadCommentPayload{
		ID: id, CellID: cellID, Author: author, Body: body, ParentID: parentID,
	})
	if err != nil {
		return "", err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return id, err
}

func (c *Cells) UpdateComment(ctx context.Context, projectKey, id, body string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeBeadCommentUpdated, projectKey, nowMs(), eventlog.BeadCommentPayload{ID: id, Body: body})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

func (c *Cells) DeleteComment(ctx context.Context, projectKey, id string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeBeadCommentDeleted, projectKey, nowMs(), eventlog.BeadCommentPayload{ID: id})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

func (c *Cells) AddChildToEpic(ctx context.Context, projectKey, epicID, childID string) error {
	epic, err := c.GetBead(ctx, projectKey, epicID)
	if err != nil {
		return err
	}
	if epic.IssueType != "epic" {
		return errs.Newf(errs.Invalid, "cell %q is not an epic", epicID)
	}
	ev, err := eventlog.NewEvent(eventlog.TypeBeadChildAdded, projectKey, nowMs(), eventlog.BeadChildPayload{EpicID: epicID, ChildID: childID})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

func (c *Cells) RemoveChildFromEpic(ctx context.Context, projectKey, epicID, childID string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeBeadChildRemoved, projectKey, nowMs(), eventlog.BeadChildPayload{EpicID: epicID, ChildID: childID})
	if err != nil {
		return err
	}
	_, err = c.store.AppendEvent(ctx, ev)
	return err
}

func (c *Cells) GetEpicChildren(ctx context.Context, projectKey, epicID string) ([]Cell, error) {
	return c.QueryBeads(ctx, projectKey, QueryFilter{ParentID: epicID, Limit: 1000})
}

// IsEpicClosureEligible: all children of epic are closed or tombstone.
func (c *Cells) IsEpicClosureEligible(ctx context.Context, projectKey, epicID string) (bool, error) {
	children, err := c.QueryBeads(ctx, projectKey, QueryFilter{ParentID: epicID, IncludeDeleted: true, Limit: 1000})
	if err != nil {
		return false, err
	}
	for _, child := range children {
		if child.Status != "closed" && child.Status != "tombstone" {
			return false, nil
		}
	}
	return true, nil
}

// GetNextReadyBead returns the open, unblocked cell with lowest priority,
// tie-broken by created_at ascending (§4.7).
func (c *Cells) GetNextReadyBead(ctx context.Context, projectKey string) (*Cell, error) {
	adapter := c.store.Adapter()
	query := fmt.Sprintf(`
		SELECT %s FROM cells c WHERE c.project_key = %s AND c.status = 'open' AND c.deleted_at IS NULL
		AND NOT EXISTS (SELECT 1 FROM blocked_cache b WHERE b.cell_id = c.id)
		ORDER BY c.priority ASC, c.created_at ASC LIMIT 1`, cellColumns, adapter.Placeholder(1))
	rows, err := adapter.Query(ctx, query, projectKey)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	cell := rowToCell(rows[0])
	return &cell, nil
}

func (c *Cells) GetInProgressBeads(ctx context.Context, projectKey string) ([]Cell, error) {
	return c.QueryBeads(ctx, projectKey, QueryFilter{Status: "in_progress", Limit: 1000})
}

func (c *Cells) GetBlockedBeads(ctx context.Context, projectKey string) ([]Cell, error) {
	return c.QueryBeads(ctx, projectKey, QueryFilter{Status: "blocked", Limit: 1000})
}

// RecoverStaleCells requeues in_progress cells that have gone silent for
// longer than staleAfterMs (no bead_updated/bead_status_changed event
// touching them) back to open, appending a bead_status_changed event with
// reason "lease_expired". This is crash recovery for an agent that claimed
// a cell and then disappeared without ever closing or reopening it; it
// does not distinguish a dead agent from a slow one, so callers should
// size staleAfterMs well above any expected legitimate work duration.
// Returns the ids of the recovered cells.
func (c *Cells) RecoverStaleCells(ctx context.Context, projectKey string, staleAfterMs int64) ([]string, error) {
	inProgress, err := c.GetInProgressBeads(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	cutoff := nowMs() - staleAfterMs
	var recovered []string
	for _, cell := range inProgress {
		if cell.UpdatedAt > cutoff {
			continue
		}
		if _, err := c.ChangeBeadStatus(ctx, projectKey, cell.ID, "open", "lease_expired"); err != nil {
			return recovered, err
		}
		recovered = append(recovered, cell.ID)
	}
	return recovered, nil
}

// ResolveShortID resolves an id prefix/substring to a unique stored id.
// Ambiguous matches fail with Conflict rather than picking one (§4.7,
// property 8).
func (c *Cells) ResolveShortID(ctx context.Context, projectKey, s string) (string, error) {
	adapter := c.store.Adapter()
	rows, err := adapter.Query(ctx, fmt.Sprintf(`SELECT id FROM cells WHERE project_key = %s AND id = %s`, adapter.Placeholder(1), adapter.Placeholder(2)), projectKey, s)
	if err != nil {
		return "", err
	}
	if len(rows) == 1 {
		return fmt.Sprint(rows[0]["id"]), nil
	}
	rows, err = adapter.Query(ctx, fmt.Sprintf(`SELECT id FROM cells WHERE project_key = %s`, adapter.Placeholder(1)), projectKey)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, r := range rows {
		id := fmt.Sprint(r["id"])
		if strings.Contains(id, s) {
			matches = append(matches, id)
		}
	}
	switch len(matches) {
	case 0:
		return "", errs.Newf(errs.NotFound, "no cell id contains %q", s)
	case 1:
		return matches[0], nil
	default:
		return "", errs.Newf(errs.Conflict, "%q matches %d cell ids ambiguously", s, len(matches))
	}
}

// GetDirtyBeads returns every cell marked dirty for JSONL export (§4.9).
func (c *Cells) GetDirtyBeads(ctx context.Context, projectKey string) ([]Cell, error) {
	adapter := c.store.Adapter()
	query := fmt.Sprintf(`SELECT %s FROM cells WHERE project_key = %s AND dirty = %s`, cellColumns, adapter.Placeholder(1), adapter.Placeholder(2))
	rows, err := adapter.Query(ctx, query, projectKey, true)
	if err != nil {
		return nil, err
	}
	out := make([]Cell, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToCell(r))
	}
	return out, nil
}

// ClearDirty clears the dirty flag after a successful JSONL export.
func (c *Cells) ClearDirty(ctx context.Context, projectKey string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	adapter := c.store.Adapter()
	// Placeholder text must be emitted in the same order args are passed:
	// SQLite's "?" binds positionally by occurrence in the query string,
	// regardless of what numeral a "$N"-style placeholder would carry.
	args := []any{false, projectKey}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		placeholders[i] = adapter.Placeholder(len(args))
	}
	query := fmt.Sprintf(`UPDATE cells SET dirty = %s WHERE project_key = %s AND id IN (%s)`,
		adapter.Placeholder(1), adapter.Placeholder(2), strings.Join(placeholders, ", "))
	_, err := adapter.Exec(ctx, query, args...)
	return err
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
