package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/storage"
)

func newTestStore(t *testing.T) *kernel.Store {
	t.Helper()
	dir := t.TempDir()
	adapter, err := storage.OpenSQLite(filepath.Join(dir, "replay.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	if err := storage.Migrate(context.Background(), adapter, storage.SQLiteMigrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return kernel.New(adapter, nil)
}

func TestReplayEventsRebuildsAllProjectedRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ev, err := eventlog.NewEvent(eventlog.TypeAgentRegistered, "proj-1", int64(1000+i), eventlog.AgentRegisteredPayload{Name: "agent"})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if _, err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}
	bead, err := eventlog.NewEvent(eventlog.TypeBeadCreated, "proj-1", 1010, eventlog.BeadCreatedPayload{ID: "c_1", Title: "task"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if _, err := store.AppendEvent(ctx, bead); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	adapter := store.Adapter()
	if _, err := adapter.Exec(ctx, "DELETE FROM agents"); err != nil {
		t.Fatalf("truncate agents: %v", err)
	}
	if _, err := adapter.Exec(ctx, "DELETE FROM cells"); err != nil {
		t.Fatalf("truncate cells: %v", err)
	}

	replayer := New(store)
	result, err := replayer.ReplayEvents(ctx, Options{ProjectKey: "proj-1"})
	if err != nil {
		t.Fatalf("ReplayEvents: %v", err)
	}
	if result.EventsReplayed != 4 {
		t.Fatalf("EventsReplayed: got %d, want 4", result.EventsReplayed)
	}

	rows, err := adapter.Query(ctx, "SELECT COUNT(*) AS n FROM cells WHERE project_key = ?", "proj-1")
	if err != nil {
		t.Fatalf("query cells: %v", err)
	}
	if toInt(rows[0]["n"]) != 1 {
		t.Fatalf("cells after replay: got %v rows, want 1", rows[0]["n"])
	}
}

func TestReplayEventsClearViewsProducesIdenticalStateOnRerun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ev, err := eventlog.NewEvent(eventlog.TypeBeadCreated, "proj-1", 2000, eventlog.BeadCreatedPayload{ID: "c_1", Title: "task one"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if _, err := store.AppendEvent(ctx, ev); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	status, err := eventlog.NewEvent(eventlog.TypeBeadStatusChanged, "proj-1", 2001, eventlog.BeadStatusChangedPayload{ID: "c_1", From: "open", To: "in_progress"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if _, err := store.AppendEvent(ctx, status); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	replayer := New(store)
	first, err := replayer.ReplayEvents(ctx, Options{ProjectKey: "proj-1", ClearViews: true})
	if err != nil {
		t.Fatalf("ReplayEvents first: %v", err)
	}
	second, err := replayer.ReplayEvents(ctx, Options{ProjectKey: "proj-1", ClearViews: true})
	if err != nil {
		t.Fatalf("ReplayEvents second: %v", err)
	}
	if first.EventsReplayed != second.EventsReplayed {
		t.Fatalf("replay not deterministic in event count: %d != %d", first.EventsReplayed, second.EventsReplayed)
	}

	adapter := store.Adapter()
	rows, err := adapter.Query(ctx, "SELECT status FROM cells WHERE id = ?", "c_1")
	if err != nil {
		t.Fatalf("query cells: %v", err)
	}
	if len(rows) != 1 || rows[0]["status"] != "in_progress" {
		t.Fatalf("cell status after two replays: got %+v, want in_progress", rows)
	}
}

func toInt(v any) int64 {
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
