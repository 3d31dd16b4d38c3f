// Package memory implements the semantic memory (C8): content plus a
// 1024-D embedding and a confidence scalar, searchable by cosine
// similarity with a full-text fallback, and a read-time confidence decay
// that never mutates stored state.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/kernel"
	"github.com/basket/coordkernel/internal/schema"
	"github.com/basket/coordkernel/internal/storage"
)

func nowMs() int64 { return time.Now().UnixMilli() }

const embeddingDim = 1024

// Embedder is the external collaborator that turns text into a fixed-
// width vector. Ollama or any other embedding backend implements this at
// the boundary; the memory package treats it as pluggable (§4.8).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	HealthCheck(ctx context.Context) (ok bool, model string, err error)
}

// Memory exposes semantic-memory operations over a kernel.Store and an
// Embedder, plus one-shot legacy import from a prior standalone database.
type Memory struct {
	store          *kernel.Store
	embedder       Embedder
	legacyDBPath   string
	metadataSchema *schema.Validator
}

func New(store *kernel.Store, embedder Embedder, legacyDBPath string) *Memory {
	return &Memory{store: store, embedder: embedder, legacyDBPath: legacyDBPath}
}

// SetMetadataSchema installs a JSON Schema that every Store call's
// metadata must satisfy. Passing nil disables validation.
func (m *Memory) SetMetadataSchema(v *schema.Validator) { m.metadataSchema = v }

// Record is the read-side shape of a stored memory.
type Record struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Collection  string         `json:"collection"`
	CreatedAt   int64          `json:"created_at"`
	Confidence  float64        `json:"confidence"`
	ValidatedAt *int64         `json:"validated_at,omitempty"`
}

// Result is one hit from Find.
type Result struct {
	Memory    Record  `json:"memory"`
	Score     float64 `json:"score"`
	MatchType string  `json:"match_type"`
}

// StoreOptions carries the optional fields on Store.
type StoreOptions struct {
	Metadata   map[string]any
	Collection string
	Confidence float64
}

// Store generates a short unique id, computes the embedding via Embedder,
// and writes memory + embedding in one transaction (§4.8).
func (m *Memory) Store(ctx context.Context, projectKey, content string, opts StoreOptions) (string, error) {
	m.ensureLegacyImport(ctx, projectKey)
	if err := m.metadataSchema.Validate(opts.Metadata); err != nil {
		return "", err
	}
	if m.embedder == nil {
		return "", errs.New(errs.Unavailable, "no embedder configured")
	}
	embedding, err := m.embedder.Embed(ctx, content)
	if err != nil {
		return "", errs.Wrap(errs.Unavailable, "embed memory content", err)
	}
	if len(embedding) != embeddingDim {
		return "", errs.Newf(errs.Invalid, "embedding dimension %d != %d", len(embedding), embeddingDim)
	}
	confidence := opts.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	if confidence < 0 || confidence > 1 {
		return "", errs.Newf(errs.Invalid, "confidence %f out of [0,1]", confidence)
	}
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	id := "mem_" + hex.EncodeToString(buf)
	collection := opts.Collection
	if collection == "" {
		collection = "default"
	}
	ev, err := eventlog.NewEvent(eventlog.TypeMemoryStored, projectKey, nowMs(), eventlog.MemoryStoredPayload{
		ID: id, Content: content, Metadata: opts.Metadata, Collection: collection, Confidence: confidence, Embedding: embedding,
	})
	if err != nil {
		return "", err
	}
	if _, err := m.store.AppendEvent(ctx, ev); err != nil {
		return "", err
	}
	return id, nil
}

// FindOptions carries the optional fields on Find.
type FindOptions struct {
	Limit      int
	Threshold  float64
	Collection string
	Expand     bool
	FTS        bool
}

const previewBytes = 280

// Find performs a vector search, falling back to full text when fts is
// requested or the embedder is unreachable (§4.8).
func (m *Memory) Find(ctx context.Context, projectKey, query string, opts FindOptions) ([]Result, error) {
	m.ensureLegacyImport(ctx, projectKey)
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	threshold := opts.Threshold
	if threshold == 0 {
		threshold = 0.3
	}

	useFTS := opts.FTS
	var queryEmbedding []float32
	if !useFTS {
		if m.embedder == nil {
			useFTS = true
		} else {
			emb, err := m.embedder.Embed(ctx, query)
			if err != nil {
				useFTS = true
			} else {
				queryEmbedding = emb
			}
		}
	}

	if useFTS {
		return m.findFTS(ctx, projectKey, query, opts.Collection, limit, opts.Expand)
	}
	return m.findVector(ctx, projectKey, queryEmbedding, opts.Collection, limit, threshold, opts.Expand)
}

func (m *Memory) findVector(ctx context.Context, projectKey string, queryEmbedding []float32, collection string, limit int, threshold float64, expand bool) ([]Result, error) {
	adapter := m.store.Adapter()
	where := []string{"project_key = " + adapter.Placeholder(1), "embedding IS NOT NULL"}
	args := []any{projectKey}
	if collection != "" {
		args = append(args, collection)
		where = append(where, "collection = "+adapter.Placeholder(len(args)))
	}
	query := fmt.Sprintf(`SELECT id, content, metadata, collection, created_at, confidence, validated_at, embedding FROM memory WHERE %s`, strings.Join(where, " AND "))
	rows, err := adapter.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	type scored struct {
		record Record
		score  float64
	}
	var candidates []scored
	for _, r := range rows {
		vec, err := decodeEmbedding(r["embedding"])
		if err != nil {
			continue
		}
		sim := cosineSimilarity(queryEmbedding, vec)
		if sim < threshold {
			continue
		}
		rec := rowToRecord(r)
		candidates = append(candidates, scored{record: rec, score: sim * decayFactor(rec.Confidence, decayAgeDays(rec))})
	}
	sortByScoreDesc(candidates, func(c scored) float64 { return c.score })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		rec := c.record
		if !expand {
			rec.Content = truncate(rec.Content, previewBytes)
		}
		out = append(out, Result{Memory: rec, Score: c.score, MatchType: "vector"})
	}
	return out, nil
}

func (m *Memory) findFTS(ctx context.Context, projectKey, query, collection string, limit int, expand bool) ([]Result, error) {
	adapter := m.store.Adapter()
	var rows []storage.Row
	var err error
	switch adapter.Backend() {
	case storage.BackendSQLite:
		sql := `SELECT m.id, m.content, m.metadata, m.collection, m.created_at, m.confidence, m.validated_at, memory_fts.rank AS rank
			FROM memory_fts JOIN memory m ON m.rowid = memory_fts.rowid
			WHERE memory_fts MATCH ? AND m.project_key = ?`
		args := []any{query, projectKey}
		if collection != "" {
			sql += " AND m.collection = ?"
			args = append(args, collection)
		}
		sql += " ORDER BY rank LIMIT ?"
		args = append(args, limit)
		rows, err = adapter.Query(ctx, sql, args...)
	default:
		sql := fmt.Sprintf(`SELECT id, content, metadata, collection, created_at, confidence, validated_at,
			ts_rank(content_tsv, plainto_tsquery('english', %s)) AS rank
			FROM memory WHERE content_tsv @@ plainto_tsquery('english', %s) AND project_key = %s`,
			adapter.Placeholder(1), adapter.Placeholder(1), adapter.Placeholder(2))
		args := []any{query, projectKey}
		if collection != "" {
			args = append(args, collection)
			sql += fmt.Sprintf(" AND collection = %s", adapter.Placeholder(len(args)))
		}
		sql += fmt.Sprintf(" ORDER BY rank DESC LIMIT %d", limit)
		rows, err = adapter.Query(ctx, sql, args...)
	}
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(rows))
	for _, r := range rows {
		rec := rowToRecord(r)
		if !expand {
			rec.Content = truncate(rec.Content, previewBytes)
		}
		score := 1.0
		if rank, ok := r["rank"]; ok {
			score = math.Abs(toFloat64(rank))
		}
		score *= decayFactor(rec.Confidence, decayAgeDays(rec))
		out = append(out, Result{Memory: rec, Score: score, MatchType: "fts"})
	}
	return out, nil
}

func (m *Memory) Get(ctx context.Context, projectKey, id string) (Record, error) {
	adapter := m.store.Adapter()
	rows, err := adapter.Query(ctx, fmt.Sprintf(`SELECT id, content, metadata, collection, created_at, confidence, validated_at FROM memory WHERE project_key = %s AND id = %s`,
		adapter.Placeholder(1), adapter.Placeholder(2)), projectKey, id)
	if err != nil {
		return Record{}, err
	}
	if len(rows) == 0 {
		return Record{}, errs.Newf(errs.NotFound, "memory %q not found", id)
	}
	return rowToRecord(rows[0]), nil
}

func (m *Memory) Remove(ctx context.Context, projectKey, id string) error {
	ev, err := eventlog.NewEvent(eventlog.TypeMemoryRemoved, projectKey, nowMs(), eventlog.MemoryRemovedPayload{ID: id})
	if err != nil {
		return err
	}
	_, err = m.store.AppendEvent(ctx, ev)
	return err
}

func (m *Memory) List(ctx context.Context, projectKey, collection string) ([]Record, error) {
	adapter := m.store.Adapter()
	query := fmt.Sprintf(`SELECT id, content, metadata, collection, created_at, confidence, validated_at FROM memory WHERE project_key = %s`, adapter.Placeholder(1))
	args := []any{projectKey}
	if collection != "" {
		args = append(args, collection)
		query += fmt.Sprintf(" AND collection = %s", adapter.Placeholder(len(args)))
	}
	query += " ORDER BY created_at DESC"
	rows, err := adapter.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToRecord(r))
	}
	return out, nil
}

// Stats is a summary of the memory store for one project.
type Stats struct {
	Total       int            `json:"total"`
	PerCollection map[string]int `json:"per_collection"`
}

func (m *Memory) Stats(ctx context.Context, projectKey string) (Stats, error) {
	adapter := m.store.Adapter()
	rows, err := adapter.Query(ctx, fmt.Sprintf(`SELECT collection FROM memory WHERE project_key = %s`, adapter.Placeholder(1)), projectKey)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{PerCollection: map[string]int{}}
	for _, r := range rows {
		stats.Total++
		stats.PerCollection[fmt.Sprint(r["collection"])]++
	}
	return stats, nil
}

// Validate resets the decay timer; fails when id is unknown (§4.8).
func (m *Memory) Validate(ctx context.Context, projectKey, id string) error {
	if _, err := m.Get(ctx, projectKey, id); err != nil {
		return err
	}
	ev, err := eventlog.NewEvent(eventlog.TypeMemoryValidated, projectKey, nowMs(), eventlog.MemoryValidatedPayload{ID: id})
	if err != nil {
		return err
	}
	_, err = m.store.AppendEvent(ctx, ev)
	return err
}

func ageDays(createdAtMs int64) float64 {
	return float64(nowMs()-createdAtMs) / (1000 * 60 * 60 * 24)
}

// decayAgeDays measures decay from the last validation, or from creation
// when the record has never been validated.
func decayAgeDays(rec Record) float64 {
	if rec.ValidatedAt != nil {
		return ageDays(*rec.ValidatedAt)
	}
	return ageDays(rec.CreatedAt)
}

func rowToRecord(r map[string]any) Record {
	rec := Record{
		ID:         fmt.Sprint(r["id"]),
		Content:    fmt.Sprint(r["content"]),
		Collection: fmt.Sprint(r["collection"]),
		CreatedAt:  toInt64(r["created_at"]),
		Confidence: toFloat64(r["confidence"]),
	}
	if v, ok := r["metadata"]; ok && v != nil {
		switch t := v.(type) {
		case map[string]any:
			rec.Metadata = t
		case string:
			if t != "" {
				_ = json.Unmarshal([]byte(t), &rec.Metadata)
			}
		}
	}
	if v, ok := r["validated_at"]; ok && v != nil {
		t := toInt64(v)
		rec.ValidatedAt = &t
	}
	return rec
}

func decodeEmbedding(v any) ([]float32, error) {
	switch t := v.(type) {
	case []byte:
		return storage.DecodeVectorBlob(t), nil
	case string:
		// Some drivers surface BLOB columns as a Go string; the byte
		// sequence round-trips through the conversion without mangling
		// since no UTF-8 validation happens on either side.
		return storage.DecodeVectorBlob([]byte(t)), nil
	case []float32:
		return t, nil
	case []float64:
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(f)
		}
		return out, nil
	case []any:
		// Postgres' vector(1024) column round-trips through the generic
		// database/sql scan path as its JSON-looking text encoding,
		// which normalizeValue parses into []any of float64 (§4.1).
		out := make([]float32, len(t))
		for i, f := range t {
			out[i] = float32(toFloat64(f))
		}
		return out, nil
	}
	return nil, errs.New(errs.Corruption, "unrecognised embedding column type")
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortByScoreDesc[T any](items []T, score func(T) float64) {
	for i := 1; i < len(items); i++ {
		j := i
		for j > 0 && score(items[j-1]) < score(items[j]) {
			items[j-1], items[j] = items[j], items[j-1]
			j--
		}
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
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

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
