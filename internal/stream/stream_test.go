package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/storage"
)

func TestParseProjectKey(t *testing.T) {
	cases := []struct {
		path    string
		want    string
		wantOk  bool
	}{
		{"/streams/proj-1", "proj-1", true},
		{"/streams/proj-1/", "proj-1", true},
		{"/streams/", "", false},
		{"/streams", "", false},
		{"/streams/proj-1/extra", "", false},
		{"/other/proj-1", "", false},
	}
	for _, c := range cases {
		got, ok := parseProjectKey(c.path)
		if got != c.want || ok != c.wantOk {
			t.Errorf("parseProjectKey(%q) = (%q, %v), want (%q, %v)", c.path, got, ok, c.want, c.wantOk)
		}
	}
}

func TestParseOffsetDefaultsOnMalformedInput(t *testing.T) {
	cases := map[string]int64{
		"":      0,
		"5":     5,
		"-1":    0,
		"abc":   0,
		"99999": 99999,
	}
	for raw, want := range cases {
		if got := parseOffset(raw); got != want {
			t.Errorf("parseOffset(%q) = %d, want %d", raw, got, want)
		}
	}
}

func TestParseLimitDefaultsOnMalformedInput(t *testing.T) {
	cases := map[string]int{
		"":    0,
		"10":  10,
		"0":   0,
		"-5":  0,
		"foo": 0,
	}
	for raw, want := range cases {
		if got := parseLimit(raw); got != want {
			t.Errorf("parseLimit(%q) = %d, want %d", raw, got, want)
		}
	}
}

func newTestServer(t *testing.T) (*Server, *kernel.Store) {
	t.Helper()
	dir := t.TempDir()
	adapter, err := storage.OpenSQLite(filepath.Join(dir, "stream.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { adapter.Close() })
	if err := storage.Migrate(context.Background(), adapter, storage.SQLiteMigrations()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	store := kernel.New(adapter, nil)
	return New(store, nil), store
}

func TestServeHistoricalReturnsEventsAsFrames(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		ev, err := eventlog.NewEvent(eventlog.TypeAgentRegistered, "proj-1", int64(1000+i), eventlog.AgentRegisteredPayload{Name: "a"})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if _, err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/streams/proj-1", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var frames []Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frames); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("frames: got %d, want 3", len(frames))
	}
	if frames[0].Offset != 1 || frames[2].Offset != 3 {
		t.Fatalf("frame offsets: got %d..%d, want 1..3", frames[0].Offset, frames[2].Offset)
	}
}

func TestServeHistoricalRespectsOffsetAndLimit(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		ev, err := eventlog.NewEvent(eventlog.TypeAgentRegistered, "proj-1", int64(1000+i), eventlog.AgentRegisteredPayload{Name: "a"})
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if _, err := store.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/streams/proj-1?offset=2&limit=2", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var frames []Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frames); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("frames: got %d, want 2", len(frames))
	}
	if frames[0].Offset != 3 {
		t.Fatalf("frames[0].Offset: got %d, want 3", frames[0].Offset)
	}
}

func TestServeHistoricalUnknownProjectReturnsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/streams/no-such-project", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	var frames []Frame
	if err := json.Unmarshal(rec.Body.Bytes(), &frames); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("frames: got %d, want 0", len(frames))
	}
}

func TestServeHTTPUnroutablePathIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/streams/", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: got %d, want 404", rec.Code)
	}
}

func TestServeLiveSendsConnectedCommentAndStopsOnServerStop(t *testing.T) {
	srv, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/streams/proj-1?live=true", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		srv.ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler a moment to write its initial comment and register
	// its subscription, then stop the server so the goroutine exits.
	time.Sleep(50 * time.Millisecond)
	srv.Stop()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("serveLive did not exit after Stop")
	}

	if rec.Body.Len() == 0 {
		t.Fatalf("serveLive wrote no output")
	}
}
