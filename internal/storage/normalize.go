package storage

import (
	"database/sql"
	"encoding/json"
)

// scanRows drains *sql.Rows into normalised Row maps, decoding any
// TEXT/JSONB column whose value looks like a JSON object or array.
func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		s := string(t)
		if looksLikeJSON(s) {
			var parsed any
			if json.Unmarshal(t, &parsed) == nil {
				return parsed
			}
		}
		return s
	case string:
		if looksLikeJSON(t) {
			var parsed any
			if json.Unmarshal([]byte(t), &parsed) == nil {
				return parsed
			}
		}
		return t
	default:
		return v
	}
}
