package operation

import (
	"encoding/json"
	"fmt"
)

type prop struct {
	name   string
	schema map[string]any
}

// schema builds a closed object schema. Every property is required
// unless named in optional.
func schema(props []prop, optional []string) json.RawMessage {
	skip := make(map[string]bool, len(optional))
	for _, o := range optional {
		skip[o] = true
	}

	properties := make(map[string]any, len(props))
	required := make([]string, 0, len(props))
	for _, p := range props {
		properties[p.name] = p.schema
		if !skip[p.name] {
			required = append(required, p.name)
		}
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("operation: marshal schema: %v", err))
	}
	return raw
}

func repoProps(extra ...prop) []prop {
	return append([]prop{
		{"owner", requiredString()},
		{"repo", requiredString()},
	}, extra...)
}

func projectProps(extra ...prop) []prop {
	return append([]prop{
		{"owner_login", requiredString()},
		{"project_number", positiveInt()},
	}, extra...)
}

func requiredString() map[string]any {
	return map[string]any{"type": "string", "minLength": 1}
}

func optionalString() map[string]any {
	return map[string]any{"type": "string"}
}

func positiveInt() map[string]any {
	return map[string]any{"type": "integer", "minimum": 1}
}

func stateEnum(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

func stringArray() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string", "minLength": 1}}
}

func changesSchema() map[string]any {
	return map[string]any{
		"type":     "array",
		"minItems": 1,
		"items": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":     requiredString(),
				"action":   stateEnum("upsert", "delete"),
				"content":  optionalString(),
				"encoding": stateEnum("utf-8", "base64"),
			},
			"required":             []string{"path", "action"},
			"additionalProperties": false,
		},
	}
}
