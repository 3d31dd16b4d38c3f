package scheduler

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/coordkernel/internal/cells"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/reservations"
	"github.com/basket/coordkernel/internal/storage"
)

func newTestDeps(t *testing.T) (*reservations.Reservations, *cells.Cells) {
	t.Helper()
	dir := t.TempDir()
	adapter, err := storage.OpenSQLite(filepath.Join(dir, "scheduler.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	if err := storage.Migrate(context.Background(), adapter, storage.SQLiteMigrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	store := kernel.New(adapter, nil)
	return reservations.New(store), cells.New(store)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func TestNewRejectsMalformedCronSpec(t *testing.T) {
	_, err := New(Config{ExpireCronSpec: "not a cron spec", Logger: discardLogger()})
	if err == nil {
		t.Fatalf("New with malformed cron spec: got nil error, want failure")
	}
}

func TestNewDefaultsEmptyCronSpecs(t *testing.T) {
	s, err := New(Config{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.cron == nil {
		t.Fatalf("New: cron runner is nil")
	}
}

func TestSchedulerExpiresReservationsOnTick(t *testing.T) {
	res, cel := newTestDeps(t)
	ctx := context.Background()

	reserved, err := res.ReserveFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}, reservations.ReserveOptions{TTLSeconds: 1})
	if err != nil {
		t.Fatalf("ReserveFiles: %v", err)
	}
	if len(reserved) != 1 {
		t.Fatalf("ReserveFiles: got %d reservations, want 1", len(reserved))
	}

	s, err := New(Config{
		Reservations:   res,
		Cells:          cel,
		ProjectKeys:    func() []string { return nil },
		ExportDir:      func(string) string { return "" },
		Logger:         discardLogger(),
		ExpireCronSpec: "@every 50ms",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := res.ExpireTick(ctx, time.Now().UnixMilli())
		if err != nil {
			t.Fatalf("ExpireTick probe: %v", err)
		}
		if n == 0 {
			// Either already expired by the scheduler's own tick, or not
			// due yet; either way the row eventually disappears from the
			// active set once expires_at has passed.
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(200 * time.Millisecond)

	again, err := res.ReserveFiles(ctx, "proj-1", "agent-b", []string{"src/main.go"}, reservations.ReserveOptions{Exclusive: false})
	if err != nil {
		t.Fatalf("ReserveFiles after expiry: %v", err)
	}
	if len(again) != 1 {
		t.Fatalf("ReserveFiles after expiry: got %d, want 1", len(again))
	}
}

func TestSchedulerExportsDirtyCellsOnTick(t *testing.T) {
	_, cel := newTestDeps(t)
	ctx := context.Background()

	if _, err := cel.CreateBead(ctx, "proj-1", "scheduled export", "", cells.CreateOptions{}); err != nil {
		t.Fatalf("CreateBead: %v", err)
	}

	exportDir := t.TempDir()
	s, err := New(Config{
		Cells:          cel,
		ProjectKeys:    func() []string { return []string{"proj-1"} },
		ExportDir:      func(string) string { return exportDir },
		Logger:         discardLogger(),
		ExportCronSpec: "@every 50ms",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	defer s.Stop()

	path := filepath.Join(exportDir, "issues.jsonl")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(path); err == nil && len(data) > 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("scheduler did not export dirty cells to %s in time", path)
}

func TestExpireReservationsSkipsWhenUnconfigured(t *testing.T) {
	s, err := New(Config{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Should not panic when Reservations is nil.
	s.expireReservations(Config{})()
}

func TestExportDirtyCellsSkipsWhenUnconfigured(t *testing.T) {
	s, err := New(Config{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Should not panic when Cells, ProjectKeys, or ExportDir is nil.
	s.exportDirtyCells(Config{})()
}
