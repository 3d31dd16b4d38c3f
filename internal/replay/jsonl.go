package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/basket/coordkernel/internal/cells"
	"github.com/basket/coordkernel/internal/errs"
)

// cellLine is one line of the .hive/issues.jsonl export (§6). Timestamps
// are written as integer milliseconds. ImportJSONL does not read
// created_at or closed_at back, so a line carrying either an integer or a
// numeric-string timestamp imports the same way.
type cellLine struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Status       string      `json:"status"`
	IssueType    string      `json:"issue_type"`
	Priority     int         `json:"priority"`
	ParentID     string      `json:"parent_id,omitempty"`
	CreatedAt    int64       `json:"created_at"`
	ClosedAt     interface{} `json:"closed_at,omitempty"`
	ClosedReason string      `json:"closed_reason,omitempty"`
}

// ExportJSONL writes one line per dirty cell to path (typically
// "<project>/.hive/issues.jsonl") and clears the dirty flag on success.
func ExportJSONL(ctx context.Context, c *cells.Cells, projectKey, path string) (int, error) {
	dirty, err := c.GetDirtyBeads(ctx, projectKey)
	if err != nil {
		return 0, err
	}
	if len(dirty) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, errs.Wrap(errs.Fatal, "create .hive directory", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errs.Wrap(errs.Fatal, "open jsonl export file", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	ids := make([]string, 0, len(dirty))
	for _, cell := range dirty {
		var closedAt any
		if cell.ClosedAt != nil {
			closedAt = *cell.ClosedAt
		}
		line := cellLine{
			ID: cell.ID, Title: cell.Title, Description: cell.Description, Status: cell.Status,
			IssueType: cell.IssueType, Priority: cell.Priority, ParentID: cell.ParentID,
			CreatedAt: cell.CreatedAt, ClosedAt: closedAt, ClosedReason: cell.ClosedReason,
		}
		b, err := json.Marshal(line)
		if err != nil {
			return 0, err
		}
		if _, err := w.Write(b); err != nil {
			return 0, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return 0, err
		}
		ids = append(ids, cell.ID)
	}
	if err := w.Flush(); err != nil {
		return 0, errs.Wrap(errs.Fatal, "flush jsonl export file", err)
	}
	if err := c.ClearDirty(ctx, projectKey, ids); err != nil {
		return 0, err
	}
	return len(dirty), nil
}

// ImportJSONL reads path and appends bead_created events for any cell id
// not already present in the graph. The line's created_at and closed_at
// are not applied: an imported cell is stamped with the import time, and a
// closed line's closed_at becomes the time its CloseBead call runs.
// Priority is accepted as an integer or a numeric string.
func ImportJSONL(ctx context.Context, c *cells.Cells, projectKey, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errs.Wrap(errs.Unavailable, "open jsonl import file", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	imported := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			return imported, errs.Wrap(errs.Invalid, "decode jsonl line", err)
		}
		id := decodeString(raw["id"])
		if id == "" {
			continue
		}
		if _, err := c.GetBead(ctx, projectKey, id); err == nil {
			continue // already present; import never overwrites live cells.
		}
		if _, err := c.CreateBead(ctx, projectKey, decodeString(raw["title"]), decodeString(raw["description"]), cells.CreateOptions{
			ID:        id,
			IssueType: decodeString(raw["issue_type"]),
			Priority:  int(decodeNumber(raw["priority"])),
			ParentID:  decodeString(raw["parent_id"]),
		}); err != nil {
			return imported, err
		}
		if status := decodeString(raw["status"]); status != "" && status != "open" {
			if status == "closed" {
				if _, err := c.CloseBead(ctx, projectKey, id, decodeString(raw["closed_reason"])); err != nil {
					return imported, err
				}
			} else {
				if _, err := c.ChangeBeadStatus(ctx, projectKey, id, status, ""); err != nil {
					return imported, err
				}
			}
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return imported, errs.Wrap(errs.Invalid, "scan jsonl import file", err)
	}
	return imported, nil
}

func decodeString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return ""
}

func decodeNumber(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			return parsed
		}
	}
	return 0
}
