// Package stream implements the durable stream endpoint (C10): offset-
// based historical reads and a live SSE tail, both filtered to one
// project, with clean unsubscription on client disconnect or server stop.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/kernel"
)

// PollInterval is the fixed polling cadence for the live tail (§4.10, §9:
// "a deliberate simplicity choice").
const PollInterval = 100 * time.Millisecond

// pollBatchSize bounds how many events a single poll iteration dispatches.
const pollBatchSize = 100

// Frame is one wire event: {offset, data, timestamp} (§4.10).
type Frame struct {
	Offset    int64           `json:"offset"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Server serves GET /streams/{projectKey} for both historical and live
// modes, and tracks in-flight live subscriptions so Stop can drain them.
type Server struct {
	store  *kernel.Store
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func New(store *kernel.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, logger: logger, subs: map[chan struct{}]struct{}{}}
}

// Stop signals every live subscription to unsubscribe (§4.10, §5's "no
// goroutine/task leaks").
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for done := range s.subs {
		close(done)
	}
	s.subs = map[chan struct{}]struct{}{}
}

// ServeHTTP dispatches on the URL path "/streams/{projectKey}".
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	projectKey, ok := parseProjectKey(req.URL.Path)
	if !ok {
		http.NotFound(w, req)
		return
	}
	query := req.URL.Query()
	offset := parseOffset(query.Get("offset"))
	if query.Get("live") == "true" {
		s.serveLive(w, req, projectKey, query.Has("offset"), offset)
		return
	}
	s.serveHistorical(w, req, projectKey, offset, parseLimit(query.Get("limit")))
}

func parseProjectKey(path string) (string, bool) {
	const prefix = "/streams/"
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}
	key := strings.TrimPrefix(path, prefix)
	key = strings.Trim(key, "/")
	if key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

// parseOffset defaults malformed input to 0 rather than rejecting it
// (§4.10 permits either behaviour; this implementation chooses default).
func parseOffset(raw string) int64 {
	if raw == "" {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (s *Server) serveHistorical(w http.ResponseWriter, req *http.Request, projectKey string, offset int64, limit int) {
	events, err := s.store.ReadEvents(req.Context(), kernel.ReadFilter{
		ProjectKey:    projectKey,
		AfterSequence: offset,
		Limit:         limit,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	frames := make([]Frame, 0, len(events))
	for _, ev := range events {
		frames = append(frames, toFrame(ev))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(frames)
}

func (s *Server) serveLive(w http.ResponseWriter, req *http.Request, projectKey string, hasOffset bool, offset int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	lastSequence := offset
	if !hasOffset {
		latest, err := s.store.GetLatestSequence(req.Context(), projectKey)
		if err == nil {
			lastSequence = latest
		}
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.subs[done] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.subs, done)
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	ctx := req.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			events, err := s.store.ReadEvents(ctx, kernel.ReadFilter{
				ProjectKey:    projectKey,
				AfterSequence: lastSequence,
				Limit:         pollBatchSize,
			})
			if err != nil {
				s.logger.Warn("stream poll failed", "project_key", projectKey, "error", err)
				continue
			}
			for _, ev := range events {
				frame := toFrame(ev)
				b, err := json.Marshal(frame)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", b)
				lastSequence = ev.Sequence
			}
			if len(events) > 0 {
				flusher.Flush()
			}
		}
	}
}

func toFrame(ev eventlog.Event) Frame {
	data, err := json.Marshal(ev)
	if err != nil {
		data = json.RawMessage("null")
	}
	return Frame{Offset: ev.Sequence, Data: data, Timestamp: ev.Timestamp}
}
