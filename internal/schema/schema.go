// Package schema compiles and applies JSON Schemas to message and memory
// metadata at the write boundary, the same role the teacher's
// StructuredValidator plays for agent responses.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/coordkernel/internal/errs"
)

// Validator wraps a compiled schema. A nil *Validator is valid and treats
// every value as passing, so callers can wire it in unconditionally and
// leave validation off by leaving the schema unconfigured.
type Validator struct {
	schema *jsonschema.Schema
	raw    json.RawMessage
}

// Compile compiles schemaJSON, the way NewStructuredValidator does for
// agent responses: unmarshal through jsonschema.UnmarshalJSON for correct
// number handling, then add and compile as an in-memory resource.
func Compile(schemaJSON json.RawMessage) (*Validator, error) {
	if len(schemaJSON) == 0 {
		return nil, nil
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("metadata.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("metadata.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled, raw: schemaJSON}, nil
}

// Validate checks value (typically a message or memory metadata map)
// against the compiled schema, returning errs.Invalid on mismatch. A nil
// Validator or a nil value is always valid.
func (v *Validator) Validate(value any) error {
	if v == nil || v.schema == nil || value == nil {
		return nil
	}
	// jsonschema validates decoded JSON values (map[string]any, []any,
	// json.Number, ...), so round-trip through json to normalize numeric
	// types the way an actual wire payload would arrive.
	b, err := json.Marshal(value)
	if err != nil {
		return errs.Wrap(errs.Invalid, "marshal metadata for schema validation", err)
	}
	decoded, err := jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
	if err != nil {
		return errs.Wrap(errs.Invalid, "decode metadata for schema validation", err)
	}
	if err := v.schema.Validate(decoded); err != nil {
		return errs.Wrap(errs.Invalid, "metadata failed schema validation", err)
	}
	return nil
}
