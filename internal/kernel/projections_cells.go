package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

// openStatuses are the cell statuses that count as "still blocking" a
// dependent cell, per §4.7 isBlocked.
var openStatuses = map[string]bool{"open": true, "in_progress": true, "blocked": true}

func applyBeadCreated(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadCreatedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_created", err)
	}
	if p.IssueType == "" {
		p.IssueType = "task"
	}
	priority := p.Priority
	if priority == 0 {
		priority = 2
	}
	var parentID, assignee any
	if p.ParentID != "" {
		parentID = p.ParentID
	}
	if p.Assignee != "" {
		assignee = p.Assignee
	}
	query := fmt.Sprintf(`INSERT INTO cells (id, project_key, title, description, issue_type, status, priority, parent_id, assignee, created_at, updated_at, dirty)
		VALUES (%s, %s, %s, %s, %s, 'open', %s, %s, %s, %s, %s, %s)`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5),
		tx.Placeholder(6), tx.Placeholder(7), tx.Placeholder(8), tx.Placeholder(9), tx.Placeholder(10), tx.Placeholder(11))
	dirty := true
	_, err := tx.Exec(ctx, query, p.ID, ev.ProjectKey, p.Title, p.Description, p.IssueType, priority, parentID, assignee, ev.Timestamp, ev.Timestamp, dirty)
	return err
}

func applyBeadUpdated(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadUpdatedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_updated", err)
	}
	sets := []string{}
	args := []any{}
	addSet := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = %s", col, tx.Placeholder(len(args))))
	}
	if p.Title != nil {
		addSet("title", *p.Title)
	}
	if p.Description != nil {
		addSet("description", *p.Description)
	}
	if p.Priority != nil {
		addSet("priority", *p.Priority)
	}
	if p.Assignee != nil {
		addSet("assignee", *p.Assignee)
	}
	addSet("updated_at", ev.Timestamp)
	addSet("dirty", true)
	args = append(args, p.ID)
	query := fmt.Sprintf(`UPDATE cells SET %s WHERE id = %s`, joinComma(sets), tx.Placeholder(len(args)))
	_, err := tx.Exec(ctx, query, args...)
	return err
}

var allowedStatusTransitions = map[string]map[string]bool{
	"open":        {"in_progress": true, "blocked": true, "closed": true},
	"in_progress": {"open": true, "blocked": true, "closed": true},
	"blocked":     {"open": true, "in_progress": true, "closed": true},
	"closed":      {"open": true, "in_progress": true, "blocked": true},
}

// ValidateStatusTransition enforces §4.4: any status to any except
// tombstone (tombstone is terminal and only reachable via deletion), and
// closed -> anything else clears closed_at.
func ValidateStatusTransition(from, to string) error {
	if from == to {
		return nil
	}
	if from == "tombstone" {
		return errs.Newf(errs.Invalid, "cannot transition out of tombstone status")
	}
	allowed, ok := allowedStatusTransitions[from]
	if !ok || !allowed[to] {
		return errs.Newf(errs.Invalid, "invalid status transition %q -> %q", from, to)
	}
	return nil
}

func applyBeadStatusChanged(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadStatusChangedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_status_changed", err)
	}
	if err := ValidateStatusTransition(p.From, p.To); err != nil {
		return err
	}
	var closedAt any
	if p.To == "closed" {
		closedAt = ev.Timestamp
	}
	query := fmt.Sprintf(`UPDATE cells SET status = %s, closed_at = %s, updated_at = %s, dirty = %s WHERE id = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5))
	if _, err := tx.Exec(ctx, query, p.To, closedAt, ev.Timestamp, true, p.ID); err != nil {
		return err
	}
	// A status change on p.ID may unblock or re-block any cell that
	// depends on it via a 'blocks' relationship (§4.4 cascade).
	return rebuildDependentsBlockedCache(ctx, tx, ev.ProjectKey, p.ID)
}

func applyBeadClosed(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadClosedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_closed", err)
	}
	query := fmt.Sprintf(`UPDATE cells SET status = 'closed', closed_at = %s, closed_reason = %s, updated_at = %s, dirty = %s WHERE id = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5))
	if _, err := tx.Exec(ctx, query, ev.Timestamp, p.Reason, ev.Timestamp, true, p.ID); err != nil {
		return err
	}
	return rebuildDependentsBlockedCache(ctx, tx, ev.ProjectKey, p.ID)
}

func applyBeadReopened(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadStatusChangedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_reopened", err)
	}
	query := fmt.Sprintf(`UPDATE cells SET status = 'open', closed_at = NULL, closed_reason = NULL, updated_at = %s, dirty = %s WHERE id = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	if _, err := tx.Exec(ctx, query, ev.Timestamp, true, p.ID); err != nil {
		return err
	}
	return rebuildDependentsBlockedCache(ctx, tx, ev.ProjectKey, p.ID)
}

func applyBeadDeleted(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadDeletedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_deleted", err)
	}
	query := fmt.Sprintf(`UPDATE cells SET status = 'tombstone', deleted_at = %s, deleted_by = %s, delete_reason = %s, updated_at = %s, dirty = %s WHERE id = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5), tx.Placeholder(6))
	if _, err := tx.Exec(ctx, query, ev.Timestamp, p.By, p.Reason, ev.Timestamp, true, p.ID); err != nil {
		return err
	}
	return rebuildDependentsBlockedCache(ctx, tx, ev.ProjectKey, p.ID)
}

func applyBeadDependencyAdded(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadDependencyPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_dependency_added", err)
	}
	if p.CellID == p.DependsOnID {
		return errs.New(errs.Invalid, "a cell cannot depend on itself")
	}
	rel := p.Relationship
	if rel == "" {
		rel = "blocks"
	}
	query := fmt.Sprintf(`INSERT INTO cell_dependencies (cell_id, depends_on_id, relationship) VALUES (%s, %s, %s)`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	if _, err := tx.Exec(ctx, query, p.CellID, p.DependsOnID, rel); err != nil {
		return err
	}
	if rel == "blocks" {
		return rebuildBlockedCache(ctx, tx, p.CellID)
	}
	return nil
}

func applyBeadDependencyRemoved(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadDependencyPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_dependency_removed", err)
	}
	rel := p.Relationship
	if rel == "" {
		rel = "blocks"
	}
	query := fmt.Sprintf(`DELETE FROM cell_dependencies WHERE cell_id = %s AND depends_on_id = %s AND relationship = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	if _, err := tx.Exec(ctx, query, p.CellID, p.DependsOnID, rel); err != nil {
		return err
	}
	if rel == "blocks" {
		return rebuildBlockedCache(ctx, tx, p.CellID)
	}
	return nil
}

func applyBeadLabelAdded(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadLabelPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_label_added", err)
	}
	query := fmt.Sprintf(`INSERT INTO cell_labels (cell_id, label) VALUES (%s, %s)`, tx.Placeholder(1), tx.Placeholder(2))
	_, err := tx.Exec(ctx, query, p.CellID, p.Label)
	return err
}

func applyBeadLabelRemoved(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadLabelPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_label_removed", err)
	}
	query := fmt.Sprintf(`DELETE FROM cell_labels WHERE cell_id = %s AND label = %s`, tx.Placeholder(1), tx.Placeholder(2))
	_, err := tx.Exec(ctx, query, p.CellID, p.Label)
	return err
}

func applyBeadCommentAdded(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadCommentPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_comment_added", err)
	}
	var parentID any
	if p.ParentID != "" {
		parentID = p.ParentID
	}
	query := fmt.Sprintf(`INSERT INTO cell_comments (id, cell_id, author, body, parent_id, created_at, updated_at) VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5), tx.Placeholder(6), tx.Placeholder(7))
	_, err := tx.Exec(ctx, query, p.ID, p.CellID, p.Author, p.Body, parentID, ev.Timestamp, ev.Timestamp)
	return err
}

func applyBeadCommentUpdated(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadCommentPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_comment_updated", err)
	}
	query := fmt.Sprintf(`UPDATE cell_comments SET body = %s, updated_at = %s WHERE id = %s`, tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	_, err := tx.Exec(ctx, query, p.Body, ev.Timestamp, p.ID)
	return err
}

func applyBeadCommentDeleted(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadCommentPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_comment_deleted", err)
	}
	query := fmt.Sprintf(`UPDATE cell_comments SET deleted_at = %s WHERE id = %s`, tx.Placeholder(1), tx.Placeholder(2))
	_, err := tx.Exec(ctx, query, ev.Timestamp, p.ID)
	return err
}

func applyBeadChildAdded(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadChildPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_child_added", err)
	}
	query := fmt.Sprintf(`UPDATE cells SET parent_id = %s, updated_at = %s, dirty = %s WHERE id = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4))
	_, err := tx.Exec(ctx, query, p.EpicID, ev.Timestamp, true, p.ChildID)
	return err
}

func applyBeadChildRemoved(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.BeadChildPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode bead_child_removed", err)
	}
	query := fmt.Sprintf(`UPDATE cells SET parent_id = NULL, updated_at = %s, dirty = %s WHERE id = %s AND parent_id = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4))
	_, err := tx.Exec(ctx, query, ev.Timestamp, true, p.ChildID, p.EpicID)
	return err
}

// rebuildBlockedCache recomputes blocked_cache[cellID] from cellID's
// current 'blocks' dependencies (§4.4/§4.7).
func rebuildBlockedCache(ctx context.Context, tx storage.Tx, cellID string) error {
	depsQuery := fmt.Sprintf(`SELECT depends_on_id FROM cell_dependencies WHERE cell_id = %s AND relationship = 'blocks'`, tx.Placeholder(1))
	deps, err := tx.Query(ctx, depsQuery, cellID)
	if err != nil {
		return err
	}
	var blockers []string
	for _, d := range deps {
		targetID := fmt.Sprint(d["depends_on_id"])
		statusQuery := fmt.Sprintf(`SELECT status FROM cells WHERE id = %s`, tx.Placeholder(1))
		rows, err := tx.Query(ctx, statusQuery, targetID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}
		status := fmt.Sprint(rows[0]["status"])
		if openStatuses[status] {
			blockers = append(blockers, targetID)
		}
	}
	blob, err := json.Marshal(blockers)
	if err != nil {
		return err
	}
	del := fmt.Sprintf(`DELETE FROM blocked_cache WHERE cell_id = %s`, tx.Placeholder(1))
	if _, err := tx.Exec(ctx, del, cellID); err != nil {
		return err
	}
	if len(blockers) == 0 {
		return nil
	}
	ins := fmt.Sprintf(`INSERT INTO blocked_cache (cell_id, blocker_ids) VALUES (%s, %s)`, tx.Placeholder(1), tx.Placeholder(2))
	_, err = tx.Exec(ctx, ins, cellID, string(blob))
	return err
}

// rebuildDependentsBlockedCache recomputes blocked_cache for every cell
// that names targetID as a 'blocks' dependency, cascading a status change.
func rebuildDependentsBlockedCache(ctx context.Context, tx storage.Tx, projectKey, targetID string) error {
	query := fmt.Sprintf(`SELECT DISTINCT cell_id FROM cell_dependencies WHERE depends_on_id = %s AND relationship = 'blocks'`, tx.Placeholder(1))
	rows, err := tx.Query(ctx, query, targetID)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := rebuildBlockedCache(ctx, tx, fmt.Sprint(r["cell_id"])); err != nil {
			return err
		}
	}
	return nil
}
