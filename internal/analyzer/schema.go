package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var legibilitySchema = map[string]any{
	"type":     "object",
	"required": []any{"status"},
	"properties": map[string]any{
		"status": map[string]any{"type": "string", "enum": []any{"ACCEPT", "REJECT"}},
		"reason": map[string]any{"type": []any{"string", "null"}},
	},
}

var discoverySchema = map[string]any{
	"type":     "object",
	"required": []any{"headers_detected"},
	"properties": map[string]any{
		"headers_detected": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": []any{"string", "null"}},
		},
		"data_sample": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object"},
		},
		"suggested_mapping": map[string]any{
			"type":                 []any{"object", "null"},
			"additionalProperties": map[string]any{"type": []any{"string", "null"}},
		},
		"confidence_notes": map[string]any{"type": []any{"string", "null"}},
	},
}

// validateJSON validates data against an in-memory schema document.
func validateJSON(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

var fencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")

// stripFences removes a markdown code fence around model output.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
