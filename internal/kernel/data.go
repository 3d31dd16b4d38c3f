package kernel

import "encoding/json"

// dataToRaw normalises a storage.Row's "data" column back into
// json.RawMessage. Adapters may hand back either the original TEXT/JSONB
// string or an already-decoded map/slice (storage's JSON-looking-value
// heuristic); both are re-serialised to a canonical json.RawMessage here.
func dataToRaw(v any) (json.RawMessage, error) {
	switch t := v.(type) {
	case string:
		return json.RawMessage(t), nil
	case []byte:
		return json.RawMessage(t), nil
	case nil:
		return json.RawMessage("null"), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}
