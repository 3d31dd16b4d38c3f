package cells

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/storage"
)

func newTestCells(t *testing.T) *Cells {
	t.Helper()
	dir := t.TempDir()
	adapter, err := storage.OpenSQLite(filepath.Join(dir, "cells.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	if err := storage.Migrate(context.Background(), adapter, storage.SQLiteMigrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return New(kernel.New(adapter, nil))
}

func TestCreateBeadRejectsEmptyTitle(t *testing.T) {
	c := newTestCells(t)
	_, err := c.CreateBead(context.Background(), "proj-1", "", "", CreateOptions{})
	if errs.KindOf(err) != errs.Invalid {
		t.Fatalf("CreateBead with empty title: got %v, want Invalid", err)
	}
}

func TestCreateBeadRejectsUnknownIssueType(t *testing.T) {
	c := newTestCells(t)
	_, err := c.CreateBead(context.Background(), "proj-1", "title", "", CreateOptions{IssueType: "not-a-type"})
	if errs.KindOf(err) != errs.Invalid {
		t.Fatalf("CreateBead with unknown issue_type: got %v, want Invalid", err)
	}
}

func TestCreateBeadAppliesDefaults(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	cell, err := c.CreateBead(ctx, "proj-1", "fix the bug", "desc", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if cell.IssueType != "task" {
		t.Errorf("IssueType default: got %q, want task", cell.IssueType)
	}
	if cell.Priority != 2 {
		t.Errorf("Priority default: got %d, want 2", cell.Priority)
	}
	if cell.Status != "open" {
		t.Errorf("Status default: got %q, want open", cell.Status)
	}
}

func TestChangeBeadStatusAndCloseReopen(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	cell, err := c.CreateBead(ctx, "proj-1", "task one", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}

	updated, err := c.ChangeBeadStatus(ctx, "proj-1", cell.ID, "in_progress", "")
	if err != nil {
		t.Fatalf("ChangeBeadStatus: %v", err)
	}
	if updated.Status != "in_progress" {
		t.Fatalf("Status after change: got %q, want in_progress", updated.Status)
	}

	closed, err := c.CloseBead(ctx, "proj-1", cell.ID, "done")
	if err != nil {
		t.Fatalf("CloseBead: %v", err)
	}
	if closed.Status != "closed" {
		t.Fatalf("Status after close: got %q, want closed", closed.Status)
	}
	if closed.ClosedAt == nil {
		t.Fatalf("ClosedAt not set after close")
	}

	reopened, err := c.ReopenBead(ctx, "proj-1", cell.ID)
	if err != nil {
		t.Fatalf("ReopenBead: %v", err)
	}
	if reopened.Status != "open" {
		t.Fatalf("Status after reopen: got %q, want open", reopened.Status)
	}
}

func TestDeleteBeadTombstonesAndExcludesFromQuery(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	cell, err := c.CreateBead(ctx, "proj-1", "to delete", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if err := c.DeleteBead(ctx, "proj-1", cell.ID, "agent-a", "no longer needed"); err != nil {
		t.Fatalf("DeleteBead: %v", err)
	}
	if _, err := c.GetBead(ctx, "proj-1", cell.ID); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("GetBead after delete: got %v, want NotFound", err)
	}
	beads, err := c.QueryBeads(ctx, "proj-1", QueryFilter{})
	if err != nil {
		t.Fatalf("QueryBeads: %v", err)
	}
	for _, b := range beads {
		if b.ID == cell.ID {
			t.Fatalf("deleted cell %q still present in default query", cell.ID)
		}
	}
}

func TestAddDependencyRejectsSelfDependency(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	cell, err := c.CreateBead(ctx, "proj-1", "solo", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	err = c.AddDependency(ctx, "proj-1", cell.ID, cell.ID, "blocks")
	if errs.KindOf(err) != errs.Invalid {
		t.Fatalf("AddDependency self-dependency: got %v, want Invalid", err)
	}
}

func TestBlocksDependencyDrivesBlockedCache(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()

	blocker, err := c.CreateBead(ctx, "proj-1", "blocker task", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead blocker: %v", err)
	}
	blocked, err := c.CreateBead(ctx, "proj-1", "blocked task", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead blocked: %v", err)
	}

	if isBlocked, err := c.IsBlocked(ctx, blocked.ID); err != nil || isBlocked {
		t.Fatalf("IsBlocked before dependency: got (%v, %v), want (false, nil)", isBlocked, err)
	}

	if err := c.AddDependency(ctx, "proj-1", blocked.ID, blocker.ID, "blocks"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	isBlocked, err := c.IsBlocked(ctx, blocked.ID)
	if err != nil {
		t.Fatalf("IsBlocked after dependency: %v", err)
	}
	if !isBlocked {
		t.Fatalf("expected blocked cell to report IsBlocked=true")
	}
	blockers, err := c.GetBlockers(ctx, blocked.ID)
	if err != nil {
		t.Fatalf("GetBlockers: %v", err)
	}
	if len(blockers) != 1 || blockers[0] != blocker.ID {
		t.Fatalf("GetBlockers: got %v, want [%s]", blockers, blocker.ID)
	}

	if _, err := c.CloseBead(ctx, "proj-1", blocker.ID, "resolved"); err != nil {
		t.Fatalf("CloseBead blocker: %v", err)
	}

	stillBlocked, err := c.IsBlocked(ctx, blocked.ID)
	if err != nil {
		t.Fatalf("IsBlocked after blocker closed: %v", err)
	}
	if stillBlocked {
		t.Fatalf("expected blocked cell to be unblocked once blocker closed")
	}
}

func TestGetNextReadyBeadSkipsBlockedAndOrdersByPriority(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()

	blocker, err := c.CreateBead(ctx, "proj-1", "blocker", "", CreateOptions{Priority: 1})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	blocked, err := c.CreateBead(ctx, "proj-1", "blocked, would be top priority", "", CreateOptions{Priority: 1})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if err := c.AddDependency(ctx, "proj-1", blocked.ID, blocker.ID, "blocks"); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}
	low, err := c.CreateBead(ctx, "proj-1", "low priority ready", "", CreateOptions{Priority: 3})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}

	next, err := c.GetNextReadyBead(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetNextReadyBead: %v", err)
	}
	if next == nil {
		t.Fatalf("GetNextReadyBead: got nil, want a ready cell")
	}
	if next.ID != blocker.ID {
		t.Fatalf("GetNextReadyBead: got %q, want blocker %q (highest priority, unblocked)", next.ID, blocker.ID)
	}

	if _, err := c.CloseBead(ctx, "proj-1", blocker.ID, "done"); err != nil {
		t.Fatalf("CloseBead: %v", err)
	}
	next, err = c.GetNextReadyBead(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetNextReadyBead: %v", err)
	}
	if next == nil || next.ID != blocked.ID {
		t.Fatalf("GetNextReadyBead after blocker closed: got %+v, want formerly blocked %q ahead of lower-priority %q", next, blocked.ID, low.ID)
	}
}

func TestAddChildToEpicRejectsNonEpic(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	notEpic, err := c.CreateBead(ctx, "proj-1", "not an epic", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	child, err := c.CreateBead(ctx, "proj-1", "child", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if err := c.AddChildToEpic(ctx, "proj-1", notEpic.ID, child.ID); errs.KindOf(err) != errs.Invalid {
		t.Fatalf("AddChildToEpic on non-epic: got %v, want Invalid", err)
	}
}

func TestIsEpicClosureEligible(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	epic, err := c.CreateBead(ctx, "proj-1", "epic", "", CreateOptions{IssueType: "epic"})
	if err != nil {
		t.Fatalf("CreateBead epic: %v", err)
	}
	child, err := c.CreateBead(ctx, "proj-1", "child", "", CreateOptions{ParentID: epic.ID})
	if err != nil {
		t.Fatalf("CreateBead child: %v", err)
	}

	eligible, err := c.IsEpicClosureEligible(ctx, "proj-1", epic.ID)
	if err != nil {
		t.Fatalf("IsEpicClosureEligible: %v", err)
	}
	if eligible {
		t.Fatalf("expected epic with open child to be ineligible for closure")
	}

	if _, err := c.CloseBead(ctx, "proj-1", child.ID, "done"); err != nil {
		t.Fatalf("CloseBead child: %v", err)
	}
	eligible, err = c.IsEpicClosureEligible(ctx, "proj-1", epic.ID)
	if err != nil {
		t.Fatalf("IsEpicClosureEligible: %v", err)
	}
	if !eligible {
		t.Fatalf("expected epic with only closed children to be eligible for closure")
	}
}

func TestResolveShortID(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	cell, err := c.CreateBead(ctx, "proj-1", "unique-title", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}

	if resolved, err := c.ResolveShortID(ctx, "proj-1", cell.ID); err != nil || resolved != cell.ID {
		t.Fatalf("exact match: got (%q, %v), want (%q, nil)", resolved, err, cell.ID)
	}

	if resolved, err := c.ResolveShortID(ctx, "proj-1", cell.ID[2:8]); err != nil || resolved != cell.ID {
		t.Fatalf("substring match: got (%q, %v), want (%q, nil)", resolved, err, cell.ID)
	}

	if _, err := c.ResolveShortID(ctx, "proj-1", "no-such-fragment-xyz"); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("no match: got %v, want NotFound", err)
	}
}

func TestResolveShortIDAmbiguousMatchConflicts(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	a, err := c.CreateBead(ctx, "proj-1", "alpha", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	b, err := c.CreateBead(ctx, "proj-1", "beta", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	// Every generated id shares the "c_" prefix, so it is always an
	// ambiguous fragment across two or more cells in the same project.
	if _, err := c.ResolveShortID(ctx, "proj-1", "c_"); errs.KindOf(err) != errs.Conflict {
		t.Fatalf("ambiguous fragment across %q and %q: got %v, want Conflict", a.ID, b.ID, err)
	}
}

func TestChangeBeadStatusRejectsTombstone(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	cell, err := c.CreateBead(ctx, "proj-1", "task one", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if _, err := c.ChangeBeadStatus(ctx, "proj-1", cell.ID, "tombstone", ""); errs.KindOf(err) != errs.Invalid {
		t.Fatalf("ChangeBeadStatus to tombstone: got %v, want Invalid (tombstone is only reachable via DeleteBead)", err)
	}
	got, err := c.GetBead(ctx, "proj-1", cell.ID)
	if err != nil {
		t.Fatalf("GetBead: %v", err)
	}
	if got.Status != "open" {
		t.Fatalf("status after rejected transition: got %q, want unchanged open", got.Status)
	}
}

func TestRecoverStaleCellsRequeuesOnlyStaleOnes(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()

	stale, err := c.CreateBead(ctx, "proj-1", "abandoned", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	fresh, err := c.CreateBead(ctx, "proj-1", "still being worked", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	if _, err := c.ChangeBeadStatus(ctx, "proj-1", stale.ID, "in_progress", ""); err != nil {
		t.Fatalf("ChangeBeadStatus stale: %v", err)
	}
	if _, err := c.ChangeBeadStatus(ctx, "proj-1", fresh.ID, "in_progress", ""); err != nil {
		t.Fatalf("ChangeBeadStatus fresh: %v", err)
	}

	// A negative staleAfterMs pushes the cutoff into the future, so every
	// in_progress cell's UpdatedAt (set at ChangeBeadStatus time) reads as
	// stale without needing to wait out a real window.
	recovered, err := c.RecoverStaleCells(ctx, "proj-1", -1000)
	if err != nil {
		t.Fatalf("RecoverStaleCells: %v", err)
	}
	if len(recovered) != 2 {
		t.Fatalf("RecoverStaleCells: got %v, want both cells recovered", recovered)
	}

	got, err := c.GetBead(ctx, "proj-1", stale.ID)
	if err != nil {
		t.Fatalf("GetBead stale: %v", err)
	}
	if got.Status != "open" {
		t.Fatalf("stale cell status after recovery: got %q, want open", got.Status)
	}

	// A staleAfterMs window far in the past never elapses, so nothing
	// still in_progress qualifies.
	if _, err := c.ChangeBeadStatus(ctx, "proj-1", fresh.ID, "in_progress", ""); err != nil {
		t.Fatalf("ChangeBeadStatus fresh again: %v", err)
	}
	recovered, err = c.RecoverStaleCells(ctx, "proj-1", 1000*60*60*24)
	if err != nil {
		t.Fatalf("RecoverStaleCells: %v", err)
	}
	if len(recovered) != 0 {
		t.Fatalf("RecoverStaleCells with a long window: got %v, want none recovered", recovered)
	}
}

func TestDirtySetRoundTrip(t *testing.T) {
	c := newTestCells(t)
	ctx := context.Background()
	a, err := c.CreateBead(ctx, "proj-1", "first", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}
	b, err := c.CreateBead(ctx, "proj-1", "second", "", CreateOptions{})
	if err != nil {
		t.Fatalf("CreateBead: %v", err)
	}

	dirty, err := c.GetDirtyBeads(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetDirtyBeads: %v", err)
	}
	if len(dirty) != 2 {
		t.Fatalf("GetDirtyBeads after create: got %d, want 2", len(dirty))
	}

	if err := c.ClearDirty(ctx, "proj-1", []string{a.ID, b.ID}); err != nil {
		t.Fatalf("ClearDirty: %v", err)
	}

	dirty, err = c.GetDirtyBeads(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetDirtyBeads after clear: %v", err)
	}
	if len(dirty) != 0 {
		t.Fatalf("GetDirtyBeads after clear: got %d, want 0", len(dirty))
	}

	// A later status change must re-dirty the cell for the next export.
	if _, err := c.ChangeBeadStatus(ctx, "proj-1", a.ID, "in_progress", ""); err != nil {
		t.Fatalf("ChangeBeadStatus: %v", err)
	}
	dirty, err = c.GetDirtyBeads(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetDirtyBeads after status change: %v", err)
	}
	if len(dirty) != 1 || dirty[0].ID != a.ID {
		t.Fatalf("GetDirtyBeads after status change: got %+v, want [%s]", dirty, a.ID)
	}
}
