package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"
)

// validateSchema checks a decoded JSON value against a minimal JSON-Schema
// subset: type, required, properties, items, minItems/maxItems,
// minLength/maxLength, pattern, minimum/maximum, and enum. Constraints are
// applied recursively.
func validateSchema(value any, schema map[string]any, path string) error {
	if schema == nil {
		return fmt.Errorf("%s: nil schema", path)
	}

	if raw, ok := schema["enum"]; ok {
		options, ok := raw.([]any)
		if !ok {
			return fmt.Errorf("%s: enum must be an array", path)
		}
		if !enumContains(options, value) {
			return fmt.Errorf("%s: value not in enum", path)
		}
	}

	typ, err := schemaType(schema)
	if err != nil {
		// A schema without a type still applies its other constraints.
		if _, hasEnum := schema["enum"]; hasEnum {
			return nil
		}
		return fmt.Errorf("%s: %v", path, err)
	}

	switch typ {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object", path)
		}
		if raw, ok := schema["required"]; ok {
			required, err := asStringSlice(raw)
			if err != nil {
				return fmt.Errorf("%s: required: %v", path, err)
			}
			for _, key := range required {
				if _, ok := obj[key]; !ok {
					return fmt.Errorf("%s.%s: missing required field", path, key)
				}
			}
		}
		rawProps, ok := schema["properties"]
		if !ok {
			return nil
		}
		props, ok := rawProps.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: properties must be an object", path)
		}
		for key, rawPropSchema := range props {
			child, ok := obj[key]
			if !ok {
				continue
			}
			propSchema, ok := rawPropSchema.(map[string]any)
			if !ok {
				return fmt.Errorf("%s.%s: schema must be an object", path, key)
			}
			if err := validateSchema(child, propSchema, path+"."+key); err != nil {
				return err
			}
		}
		return nil

	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array", path)
		}
		if n, ok := schemaInt(schema, "minItems"); ok && len(arr) < n {
			return fmt.Errorf("%s: array has %d items, minimum is %d", path, len(arr), n)
		}
		if n, ok := schemaInt(schema, "maxItems"); ok && len(arr) > n {
			return fmt.Errorf("%s: array has %d items, maximum is %d", path, len(arr), n)
		}
		rawItems, ok := schema["items"]
		if !ok {
			return nil
		}
		itemsSchema, ok := rawItems.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: items must be an object", path)
		}
		for i, elem := range arr {
			if err := validateSchema(elem, itemsSchema, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil

	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%s: expected string", path)
		}
		runes := utf8.RuneCountInString(s)
		if n, ok := schemaInt(schema, "minLength"); ok && runes < n {
			return fmt.Errorf("%s: string length %d is below minLength %d", path, runes, n)
		}
		if n, ok := schemaInt(schema, "maxLength"); ok && runes > n {
			return fmt.Errorf("%s: string length %d exceeds maxLength %d", path, runes, n)
		}
		if raw, ok := schema["pattern"]; ok {
			pattern, ok := raw.(string)
			if !ok {
				return fmt.Errorf("%s: pattern must be a string", path)
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return fmt.Errorf("%s: invalid pattern %q: %v", path, pattern, err)
			}
			if !re.MatchString(s) {
				return fmt.Errorf("%s: string does not match pattern %q", path, pattern)
			}
		}
		return nil

	case "number", "integer":
		f, ok := numberValue(value)
		if !ok {
			return fmt.Errorf("%s: expected %s", path, typ)
		}
		if typ == "integer" && math.Trunc(f) != f {
			return fmt.Errorf("%s: expected integer", path)
		}
		if min, ok := schemaFloat(schema, "minimum"); ok && f < min {
			return fmt.Errorf("%s: value %v is below minimum %v", path, f, min)
		}
		if max, ok := schemaFloat(schema, "maximum"); ok && f > max {
			return fmt.Errorf("%s: value %v exceeds maximum %v", path, f, max)
		}
		return nil

	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean", path)
		}
		return nil

	case "null":
		if value != nil {
			return fmt.Errorf("%s: expected null", path)
		}
		return nil

	default:
		return fmt.Errorf("%s: unsupported schema type %q", path, typ)
	}
}

func schemaType(schema map[string]any) (string, error) {
	if raw, ok := schema["type"]; ok {
		s, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("type must be string")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", fmt.Errorf("type must be non-empty")
		}
		return s, nil
	}
	if _, ok := schema["properties"]; ok {
		return "object", nil
	}
	if _, ok := schema["required"]; ok {
		return "object", nil
	}
	if _, ok := schema["items"]; ok {
		return "array", nil
	}
	return "", fmt.Errorf("missing type")
}

func schemaInt(schema map[string]any, key string) (int, bool) {
	raw, ok := schema[key]
	if !ok {
		return 0, false
	}
	return intValue(raw)
}

func schemaFloat(schema map[string]any, key string) (float64, bool) {
	raw, ok := schema[key]
	if !ok {
		return 0, false
	}
	return numberValue(raw)
}

func numberValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asStringSlice(v any) ([]string, error) {
	switch s := v.(type) {
	case []string:
		return s, nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expected string element, got %T", item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string array, got %T", v)
	}
}

func enumContains(options []any, value any) bool {
	for _, opt := range options {
		of, ook := numberValue(opt)
		vf, vok := numberValue(value)
		if ook && vok {
			if of == vf {
				return true
			}
			continue
		}
		if reflect.DeepEqual(opt, value) {
			return true
		}
	}
	return false
}
