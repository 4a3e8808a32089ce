package validation

import (
	"strings"
	"testing"
)

func TestJSONSchemaRule(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type":     "object",
		"required": []any{"name", "items"},
		"properties": map[string]any{
			"name": map[string]any{
				"type":      "string",
				"minLength": 2,
				"maxLength": 10,
				"pattern":   "^[a-z]+$",
			},
			"count": map[string]any{
				"type":    "integer",
				"minimum": 0,
				"maximum": 100,
			},
			"items": map[string]any{
				"type":     "array",
				"minItems": 1,
				"maxItems": 3,
				"items":    map[string]any{"type": "string"},
			},
			"status": map[string]any{
				"enum": []any{"open", "closed"},
			},
		},
	}

	tests := []struct {
		name       string
		output     string
		wantPassed bool
		wantErrSub string
	}{
		{
			name:       "valid document",
			output:     `{"name": "abc", "count": 5, "items": ["a"], "status": "open"}`,
			wantPassed: true,
		},
		{
			name:       "missing required field",
			output:     `{"name": "abc"}`,
			wantErrSub: "missing required field",
		},
		{
			name:       "wrong property type",
			output:     `{"name": 7, "items": ["a"]}`,
			wantErrSub: "expected string",
		},
		{
			name:       "string below minLength",
			output:     `{"name": "a", "items": ["a"]}`,
			wantErrSub: "minLength",
		},
		{
			name:       "pattern mismatch",
			output:     `{"name": "ABC", "items": ["a"]}`,
			wantErrSub: "pattern",
		},
		{
			name:       "integer above maximum",
			output:     `{"name": "abc", "count": 500, "items": ["a"]}`,
			wantErrSub: "maximum",
		},
		{
			name:       "non-integer where integer expected",
			output:     `{"name": "abc", "count": 1.5, "items": ["a"]}`,
			wantErrSub: "expected integer",
		},
		{
			name:       "array too short",
			output:     `{"name": "abc", "items": []}`,
			wantErrSub: "minItems",
		},
		{
			name:       "array too long",
			output:     `{"name": "abc", "items": ["a", "b", "c", "d"]}`,
			wantErrSub: "maxItems",
		},
		{
			name:       "array element wrong type",
			output:     `{"name": "abc", "items": [1]}`,
			wantErrSub: "expected string",
		},
		{
			name:       "enum violation",
			output:     `{"name": "abc", "items": ["a"], "status": "pending"}`,
			wantErrSub: "not in enum",
		},
	}

	rule := Rule{Type: RuleJSONSchema, Value: schema}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Validate(tt.output, []Rule{rule}, 0)
			if got.Passed != tt.wantPassed {
				t.Fatalf("Passed: got %v want %v (errors: %v)", got.Passed, tt.wantPassed, got.Errors)
			}
			if tt.wantErrSub != "" && !strings.Contains(strings.Join(got.Errors, "; "), tt.wantErrSub) {
				t.Fatalf("errors %v do not mention %q", got.Errors, tt.wantErrSub)
			}
		})
	}
}

func TestJSONSchemaNestedObjects(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user": map[string]any{
				"type":     "object",
				"required": []any{"id"},
				"properties": map[string]any{
					"id": map[string]any{"type": "number"},
				},
			},
		},
	}

	rule := Rule{Type: RuleJSONSchema, Value: schema}

	if got := Validate(`{"user": {"id": 1}}`, []Rule{rule}, 0); !got.Passed {
		t.Fatalf("expected pass, got %v", got.Errors)
	}
	got := Validate(`{"user": {}}`, []Rule{rule}, 0)
	if got.Passed {
		t.Fatal("expected nested required violation")
	}
	if !strings.Contains(got.Errors[0], "$.user.id") {
		t.Fatalf("expected error path $.user.id, got %q", got.Errors[0])
	}
}

func TestJSONSchemaStringLengthCountsCharacters(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"greeting": map[string]any{
				"type":      "string",
				"maxLength": 5,
			},
		},
	}

	rule := Rule{Type: RuleJSONSchema, Value: schema}

	// 5 characters, 6 UTF-8 bytes.
	if got := Validate(`{"greeting": "héllo"}`, []Rule{rule}, 0); !got.Passed {
		t.Fatalf("expected pass, got %v", got.Errors)
	}
	got := Validate(`{"greeting": "héllo!"}`, []Rule{rule}, 0)
	if got.Passed {
		t.Fatal("expected maxLength violation")
	}
	if !strings.Contains(got.Errors[0], "string length 6 exceeds maxLength 5") {
		t.Fatalf("unexpected error %q", got.Errors[0])
	}
}
