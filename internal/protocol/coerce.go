package protocol

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/atlas2/coderagent/internal/toolspec"
	"github.com/atlas2/coderagent/pkg/models"
)

// Coerce converts the raw extracted text of a single <PARAM> into a
// ParamValue according to the field's declared type (spec.md §4.1). String
// fields are returned byte-for-byte; everything else is parsed and
// validated, failing with a KindTypeError ParseError on mismatch.
func Coerce(field toolspec.Field, raw string) (models.ParamValue, error) {
	switch field.Type {
	case toolspec.FieldString, "":
		return models.ParamValue{Kind: models.ParamString, Str: raw}, nil
	case toolspec.FieldInteger:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return models.ParamValue{}, newTypeError("", "not an integer: %q", raw)
		}
		return models.ParamValue{Kind: models.ParamInt, Int: n}, nil
	case toolspec.FieldNumber:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return models.ParamValue{}, newTypeError("", "not a number: %q", raw)
		}
		return models.ParamValue{Kind: models.ParamFloat, Float: f}, nil
	case toolspec.FieldBoolean:
		b, ok := coerceBool(raw)
		if !ok {
			return models.ParamValue{}, newTypeError("", "not a boolean: %q", raw)
		}
		return models.ParamValue{Kind: models.ParamBool, Bool: b}, nil
	case toolspec.FieldObject, toolspec.FieldArray:
		return coerceObjectOrArray(raw)
	default:
		return models.ParamValue{Kind: models.ParamString, Str: raw}, nil
	}
}

func coerceBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}

// coerceObjectOrArray implements spec.md §4.1's three-step fallback chain
// for object/array parameters: the nested-tag micro-format, then JSON, then
// a permissive literal form, then the stripped text as a last resort.
func coerceObjectOrArray(raw string) (models.ParamValue, error) {
	if v, ok := parseNestedTags(raw); ok {
		return v, nil
	}
	trimmed := strings.TrimSpace(raw)
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return anyToParamValue(v), nil
	}
	// Permissive literal fallback: a bare comma-separated list decodes to an
	// array of strings; anything else falls through to the stripped text.
	if strings.Contains(trimmed, ",") && !strings.ContainsAny(trimmed, "{}[]") {
		parts := strings.Split(trimmed, ",")
		arr := make([]models.ParamValue, len(parts))
		for i, p := range parts {
			arr[i] = models.ParamValue{Kind: models.ParamString, Str: strings.TrimSpace(p)}
		}
		return models.ParamValue{Kind: models.ParamArray, Array: arr}, nil
	}
	return models.ParamValue{Kind: models.ParamString, Str: trimmed}, nil
}

// paramsToJSONDoc renders a materialized parameter list as a plain
// map[string]any document, the shape the compiled JSON Schema validator
// expects.
func paramsToJSONDoc(params []models.ParamEntry) map[string]any {
	doc := make(map[string]any, len(params))
	for _, p := range params {
		doc[p.Name] = paramValueToAny(p.Value)
	}
	return doc
}

func paramValueToAny(v models.ParamValue) any {
	switch v.Kind {
	case models.ParamString:
		return v.Str
	case models.ParamInt:
		return v.Int
	case models.ParamFloat:
		return v.Float
	case models.ParamBool:
		return v.Bool
	case models.ParamObject:
		obj := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			obj[k] = paramValueToAny(e)
		}
		return obj
	case models.ParamArray:
		arr := make([]any, len(v.Array))
		for i, e := range v.Array {
			arr[i] = paramValueToAny(e)
		}
		return arr
	default:
		return nil
	}
}

func anyToParamValue(v any) models.ParamValue {
	switch t := v.(type) {
	case string:
		return models.ParamValue{Kind: models.ParamString, Str: t}
	case float64:
		if t == float64(int64(t)) {
			return models.ParamValue{Kind: models.ParamInt, Int: int64(t)}
		}
		return models.ParamValue{Kind: models.ParamFloat, Float: t}
	case bool:
		return models.ParamValue{Kind: models.ParamBool, Bool: t}
	case map[string]any:
		obj := make(map[string]models.ParamValue, len(t))
		for k, e := range t {
			obj[k] = anyToParamValue(e)
		}
		return models.ParamValue{Kind: models.ParamObject, Object: obj}
	case []any:
		arr := make([]models.ParamValue, len(t))
		for i, e := range t {
			arr[i] = anyToParamValue(e)
		}
		return models.ParamValue{Kind: models.ParamArray, Array: arr}
	default:
		return models.ParamValue{Kind: models.ParamString, Str: ""}
	}
}
