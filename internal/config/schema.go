package config

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

// jsonSchema is the JSON Schema for the on-disk YAML config shape, reused by
// `coderagentd config validate` to catch structural mistakes (wrong types,
// unknown required fields) before Load's semantic Validate runs.
const jsonSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "server": {"type": "object", "properties": {"listen_addr": {"type": "string"}}},
    "engine": {
      "type": "object",
      "properties": {
        "max_iterations": {"type": "integer", "minimum": 1},
        "max_tool_calls": {"type": "integer", "minimum": 0},
        "checkpoint_retention": {"type": "integer", "minimum": 1},
        "checkpoint_max_bytes": {"type": "integer", "minimum": 0},
        "retry_max_attempts": {"type": "integer", "minimum": 1},
        "default_model": {"type": "string"}
      }
    },
    "observability": {
      "type": "object",
      "properties": {
        "log_level": {"type": "string"},
        "log_format": {"type": "string", "enum": ["json", "text"]}
      }
    },
    "tools": {"type": "object"},
    "providers": {
      "type": "object",
      "properties": {
        "primary": {"type": "string", "enum": ["anthropic", "openai"]},
        "anthropic": {"type": "object"},
        "openai": {"type": "object"}
      }
    },
    "rate_limit": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "requests_per_second": {"type": "number", "minimum": 0},
        "burst_size": {"type": "integer", "minimum": 0}
      }
    },
    "checkpoint": {
      "type": "object",
      "properties": {
        "backend": {"type": "string", "enum": ["memory", "sqlite"]},
        "sqlite_path": {"type": "string"}
      }
    },
    "audit": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "format": {"type": "string", "enum": ["json", "logfmt", "text"]},
        "output": {"type": "string"}
      }
    }
  }
}`

// ValidateSchema validates raw YAML-as-JSON config bytes against the
// package's JSON Schema, independent of the semantic checks in Validate.
func ValidateSchema(raw json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("config.json", stringsReader(jsonSchema)); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	schema, err := compiler.Compile("config.json")
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("config schema validation: %w", err)
	}
	return nil
}
