package toolspec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// jsonType maps a tool's declared FieldType onto the JSON Schema type
// keyword used to validate the materialized parameter document.
func jsonType(t FieldType) string {
	switch t {
	case FieldInteger:
		return "integer"
	case FieldNumber:
		return "number"
	case FieldBoolean:
		return "boolean"
	case FieldObject:
		return "object"
	case FieldArray:
		return "array"
	default:
		return "string"
	}
}

// buildJSONSchemaDoc renders an InputSchema as a draft-07 JSON Schema
// object, so a tool's declared fields (type, enum, required) can be
// checked with a real schema validator instead of ad hoc field-by-field
// Go code.
func buildJSONSchemaDoc(s InputSchema) map[string]any {
	props := make(map[string]any, len(s.Fields))
	var required []string
	for name, f := range s.Fields {
		prop := map[string]any{"type": jsonType(f.Type)}
		if len(f.Enum) > 0 {
			enum := make([]any, len(f.Enum))
			for i, v := range f.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		props[name] = prop
		if f.Required {
			required = append(required, name)
		}
	}
	doc := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

// compileInputSchema compiles s into a *jsonschema.Schema keyed by a
// synthetic resource name, so Register can fail fast on a tool whose field
// declarations don't form a coherent schema.
func compileInputSchema(toolName string, s InputSchema) (*jsonschema.Schema, error) {
	doc := buildJSONSchemaDoc(s)
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal derived schema: %w", err)
	}
	resource := "tool://" + toolName
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resource, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateParams runs the materialized parameter document for one tool
// call against the tool's compiled JSON Schema (required fields, enum
// membership, declared type), called once coercion has produced the
// final params map. A nil compiled schema always validates.
func (e Entry) ValidateParams(params map[string]any) error {
	if e.compiled == nil {
		return nil
	}
	// Round-trip through encoding/json so numeric values take the
	// float64/json.Number shape the validator expects, regardless of
	// whether the caller built the map with int64s or native Go values.
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("tool %s: marshal params for validation: %w", e.Spec.Name, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tool %s: unmarshal params for validation: %w", e.Spec.Name, err)
	}
	if err := e.compiled.Validate(doc); err != nil {
		return fmt.Errorf("tool %s: schema validation: %w", e.Spec.Name, err)
	}
	return nil
}
