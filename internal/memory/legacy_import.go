package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

// legacyMigrated holds process-wide, set-once flags, one per project key,
// protecting the one-shot import cost across every Memory instance in
// this process (§4.8, §9's
// "process-wide flag for legacy-migration" note).
var (
	legacyMigratedMu sync.Mutex
	legacyMigrated   = map[string]bool{}
)

// ensureLegacyImport imports rows from a prior standalone memory database
// into the event log, once per project, if the target table is still
// empty. Import errors are logged and swallowed; the store continues
// empty rather than blocking normal operation.
func (m *Memory) ensureLegacyImport(ctx context.Context, projectKey string) {
	if m.legacyDBPath == "" {
		return
	}
	legacyMigratedMu.Lock()
	if legacyMigrated[projectKey] {
		legacyMigratedMu.Unlock()
		return
	}
	legacyMigrated[projectKey] = true
	legacyMigratedMu.Unlock()

	if err := m.importLegacy(ctx, projectKey); err != nil {
		slog.Default().Warn("legacy memory import failed, continuing with empty store", "project_key", projectKey, "error", err)
	}
}

func (m *Memory) importLegacy(ctx context.Context, projectKey string) error {
	existing, err := m.List(ctx, projectKey, "")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	legacyDB, err := sql.Open("sqlite3", m.legacyDBPath)
	if err != nil {
		return err
	}
	defer legacyDB.Close()

	rows, err := legacyDB.QueryContext(ctx, `SELECT id, content, metadata, embedding FROM memory`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var events []eventlog.Event
	for rows.Next() {
		var id, content, metadataJSON string
		var embeddingBlob []byte
		if err := rows.Scan(&id, &content, &metadataJSON, &embeddingBlob); err != nil {
			return err
		}

		var metadata map[string]any
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
				slog.Default().Warn("legacy memory import: skipping row with malformed metadata", "project_key", projectKey, "id", id, "error", err)
				continue
			}
		}

		embedding := storage.DecodeVectorBlob(embeddingBlob)
		if len(embedding) != embeddingDim {
			slog.Default().Warn("legacy memory import: skipping row with wrong embedding dimension", "project_key", projectKey, "id", id, "dimension", len(embedding))
			continue
		}

		ev, err := eventlog.NewEvent(eventlog.TypeMemoryStored, projectKey, nowMs(), eventlog.MemoryStoredPayload{
			ID: id, Content: content, Metadata: metadata, Collection: "default", Confidence: 0.7, Embedding: embedding,
		})
		if err != nil {
			return err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	_, err = m.store.AppendEvents(ctx, events)
	return err
}

// resetMigrationCheck clears the process-wide legacy-import flag; a test
// hook only (§4.8).
func resetMigrationCheck() {
	legacyMigrated = map[string]bool{}
}
