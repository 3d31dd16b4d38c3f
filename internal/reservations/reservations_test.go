package reservations

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/storage"
)

func newTestReservations(t *testing.T) *Reservations {
	t.Helper()
	dir := t.TempDir()
	adapter, err := storage.OpenSQLite(filepath.Join(dir, "reservations.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	if err := storage.Migrate(context.Background(), adapter, storage.SQLiteMigrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return New(kernel.New(adapter, nil))
}

func TestReserveFilesRejectsEmptyPaths(t *testing.T) {
	r := newTestReservations(t)
	_, err := r.ReserveFiles(context.Background(), "proj-1", "agent-a", nil, ReserveOptions{})
	if errs.KindOf(err) != errs.Invalid {
		t.Fatalf("ReserveFiles with no paths: got %v, want Invalid", err)
	}
}

func TestReserveFilesExclusiveConflict(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{Exclusive: true}); err != nil {
		t.Fatalf("ReserveFiles agent-a: %v", err)
	}
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-b", []string{"src/main.go"}, ReserveOptions{}); errs.KindOf(err) != errs.Conflict {
		t.Fatalf("ReserveFiles conflicting agent-b: got %v, want Conflict", err)
	}
}

func TestReserveFilesIdempotentRetry(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()
	first, err := r.ReserveFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{Exclusive: true, Reason: "editing"})
	if err != nil {
		t.Fatalf("ReserveFiles first: %v", err)
	}
	second, err := r.ReserveFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{Exclusive: true, Reason: "editing"})
	if err != nil {
		t.Fatalf("ReserveFiles retry: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("ReserveFiles retry: got %d and %d results, want 1 each", len(first), len(second))
	}
	if first[0].ID != second[0].ID {
		t.Fatalf("ReserveFiles retry minted a new id: %q != %q", first[0].ID, second[0].ID)
	}
}

func TestReserveFilesNonExclusiveDoesNotConflict(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{}); err != nil {
		t.Fatalf("ReserveFiles agent-a: %v", err)
	}
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-b", []string{"src/main.go"}, ReserveOptions{}); err != nil {
		t.Fatalf("ReserveFiles agent-b non-exclusive: %v", err)
	}
}

func TestReleaseFilesFreesPathForOtherAgents(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{Exclusive: true}); err != nil {
		t.Fatalf("ReserveFiles: %v", err)
	}
	if err := r.ReleaseFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}); err != nil {
		t.Fatalf("ReleaseFiles: %v", err)
	}
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-b", []string{"src/main.go"}, ReserveOptions{Exclusive: true}); err != nil {
		t.Fatalf("ReserveFiles agent-b after release: %v", err)
	}
}

func TestScopedReservationReleasesOnSuccess(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()
	err := r.ScopedReservation(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{Exclusive: true}, func(ctx context.Context, reserved []Reservation) error {
		if len(reserved) != 1 {
			t.Fatalf("ScopedReservation callback: got %d reservations, want 1", len(reserved))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ScopedReservation: %v", err)
	}
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-b", []string{"src/main.go"}, ReserveOptions{Exclusive: true}); err != nil {
		t.Fatalf("ReserveFiles agent-b after scope exit: %v", err)
	}
}

func TestScopedReservationReleasesOnError(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()
	boom := errors.New("boom")
	err := r.ScopedReservation(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{Exclusive: true}, func(ctx context.Context, reserved []Reservation) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ScopedReservation: got %v, want %v", err, boom)
	}
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-b", []string{"src/main.go"}, ReserveOptions{Exclusive: true}); err != nil {
		t.Fatalf("ReserveFiles agent-b after failed scope: %v", err)
	}
}

func TestExpireTickReleasesExpiredReservations(t *testing.T) {
	r := newTestReservations(t)
	ctx := context.Background()
	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-a", []string{"src/main.go"}, ReserveOptions{TTLSeconds: 1}); err != nil {
		t.Fatalf("ReserveFiles: %v", err)
	}

	future := nowMs() + 60_000
	n, err := r.ExpireTick(ctx, future)
	if err != nil {
		t.Fatalf("ExpireTick: %v", err)
	}
	if n != 1 {
		t.Fatalf("ExpireTick: got %d rows affected, want 1", n)
	}

	if _, err := r.ReserveFiles(ctx, "proj-1", "agent-b", []string{"src/main.go"}, ReserveOptions{Exclusive: true}); err != nil {
		t.Fatalf("ReserveFiles agent-b after expiry: %v", err)
	}
}
