package kernel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basket/coordkernel/internal/errs"
	"github.com/basket/coordkernel/internal/eventlog"
	"github.com/basket/coordkernel/internal/storage"
)

func applyMemoryStored(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.MemoryStoredPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode memory_stored", err)
	}
	if p.Collection == "" {
		p.Collection = "default"
	}
	confidence := p.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	var metaJSON any = "{}"
	if len(p.Metadata) > 0 {
		b, err := json.Marshal(p.Metadata)
		if err != nil {
			return err
		}
		metaJSON = string(b)
	}
	var embeddingCol any
	if len(p.Embedding) > 0 {
		embeddingCol = tx.VectorLiteral(p.Embedding)
	}
	query := fmt.Sprintf(`INSERT INTO memory (id, project_key, content, metadata, collection, confidence, embedding, created_at, validated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, NULL)`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3), tx.Placeholder(4), tx.Placeholder(5),
		tx.Placeholder(6), tx.Placeholder(7), tx.Placeholder(8))
	_, err := tx.Exec(ctx, query, p.ID, ev.ProjectKey, p.Content, metaJSON, p.Collection, confidence, embeddingCol, ev.Timestamp)
	return err
}

func applyMemoryRemoved(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.MemoryRemovedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode memory_removed", err)
	}
	query := fmt.Sprintf(`DELETE FROM memory WHERE id = %s AND project_key = %s`, tx.Placeholder(1), tx.Placeholder(2))
	_, err := tx.Exec(ctx, query, p.ID, ev.ProjectKey)
	return err
}

// applyMemoryValidated bumps validated_at without touching confidence;
// confidence-based decay is computed at read time in the memory package,
// never mutated here, so replay stays deterministic (§4.4).
func applyMemoryValidated(ctx context.Context, tx storage.Tx, ev eventlog.Event) error {
	var p eventlog.MemoryValidatedPayload
	if err := ev.Decode(&p); err != nil {
		return errs.Wrap(errs.Invalid, "decode memory_validated", err)
	}
	query := fmt.Sprintf(`UPDATE memory SET validated_at = %s WHERE id = %s AND project_key = %s`,
		tx.Placeholder(1), tx.Placeholder(2), tx.Placeholder(3))
	_, err := tx.Exec(ctx, query, ev.Timestamp, p.ID, ev.ProjectKey)
	return err
}
