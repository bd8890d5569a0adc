package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"server/internal/domain"
)

// The validation layer runs three passes over raw model output:
//
//  1. alias normalization — the same field is accepted under its canonical
//     snake_case name or a known alternate spelling; alias tables are data,
//     applied to the decoded map before anything inspects it
//  2. structural check — a types-only JSON schema rejects shape mismatches
//     (an object where an array belongs, and so on)
//  3. required-field check — typed per-stage functions collect EVERY missing
//     field path into a single domain.ValidationError
//
// Missing required fields are never reported one at a time.

// fieldList accumulates missing required field paths.
type fieldList struct {
	missing []string
}

func (f *fieldList) add(path string) {
	f.missing = append(f.missing, path)
}

func (f *fieldList) requireString(path, v string) {
	if v == "" {
		f.add(path)
	}
}

func (f *fieldList) err(stage string) error {
	if len(f.missing) == 0 {
		return nil
	}
	return &domain.ValidationError{Stage: stage, Missing: f.missing}
}

// decodeCanonical parses raw JSON into a map and rewrites known aliases to
// their canonical keys. An alias never overwrites a canonical key that is
// already present.
func decodeCanonical(stage string, raw []byte, aliases map[string]string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &domain.ValidationError{Stage: stage, Missing: []string{"(root): not a JSON object"}}
	}
	applyAliases(m, aliases)
	return m, nil
}

func applyAliases(m map[string]any, aliases map[string]string) {
	for alias, canonical := range aliases {
		v, ok := m[alias]
		if !ok {
			continue
		}
		if _, exists := m[canonical]; !exists {
			m[canonical] = v
		}
		delete(m, alias)
	}
}

// applyNestedAliases canonicalizes the keys of an object-valued field.
func applyNestedAliases(m map[string]any, field string, aliases map[string]string) {
	nested, ok := m[field].(map[string]any)
	if !ok {
		return
	}
	applyAliases(nested, aliases)
}

// applyItemAliases canonicalizes the keys of every object in an array field.
func applyItemAliases(m map[string]any, field string, aliases map[string]string) {
	items, ok := m[field].([]any)
	if !ok {
		return
	}
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			applyAliases(obj, aliases)
		}
	}
}

// checkShape validates the canonical map against a types-only schema. Every
// violated location is reported, wrapped as a ValidationError so callers
// treat shape mismatches like any other semantic failure (no auto-retry).
func checkShape(stage string, schema *jsonschema.Schema, m map[string]any) error {
	if err := schema.Validate(normalizeForSchema(m)); err != nil {
		var ve *jsonschema.ValidationError
		if ok := asSchemaError(err, &ve); ok {
			return &domain.ValidationError{Stage: stage, Missing: leafViolations(ve)}
		}
		return &domain.ValidationError{Stage: stage, Missing: []string{err.Error()}}
	}
	return nil
}

func asSchemaError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

func leafViolations(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "(root)"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, cause := range ve.Causes {
		out = append(out, leafViolations(cause)...)
	}
	return out
}

// normalizeForSchema round-trips through encoding/json so numbers carry the
// representation the validator expects.
func normalizeForSchema(m map[string]any) any {
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return m
	}
	return v
}

// decodeInto re-encodes the canonical map into the typed output struct.
func decodeInto(stage string, m map[string]any, out any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("stage %s: re-encode output: %w", stage, err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(out); err != nil {
		return &domain.ValidationError{Stage: stage, Missing: []string{fmt.Sprintf("(root): %v", err)}}
	}
	return nil
}

func mustSchema(name string, m map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(m)
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return schema
}

func objectSchema(props map[string]any) map[string]any {
	return map[string]any{"type": "object", "properties": props}
}

func arrayOfObjects() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "object"}}
}

func arrayOfStrings() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}
