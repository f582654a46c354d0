package tool

import (
	"context"
	"fmt"
)

// Tool is a named callable unit in the global tool set.
type Tool interface {
	Name() string
	Description() string
	Schema() *JSONSchema
	Execute(ctx context.Context, params map[string]interface{}) (*ToolResult, error)
}

// ToolResult is what a tool hands back to its caller.
type ToolResult struct {
	Success bool
	Output  string
	Data    interface{}
}

// JSONSchema is the subset of JSON Schema used to describe tool input.
type JSONSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`
}

// Validator checks params against a schema before execution.
type Validator interface {
	Validate(params map[string]interface{}, schema *JSONSchema) error
}

// DefaultValidator enforces required keys and primitive property types.
type DefaultValidator struct{}

// Validate implements Validator.
func (DefaultValidator) Validate(params map[string]interface{}, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	for _, key := range schema.Required {
		if _, ok := params[key]; !ok {
			return fmt.Errorf("missing required field %q", key)
		}
	}
	for key, value := range params {
		raw, ok := schema.Properties[key]
		if !ok {
			continue
		}
		prop, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		want, _ := prop["type"].(string)
		if want == "" || value == nil {
			continue
		}
		if !matchesType(want, value) {
			return fmt.Errorf("field %q must be %s, got %T", key, want, value)
		}
	}
	return nil
}

func matchesType(want string, value interface{}) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number", "integer":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "object":
		_, ok := value.(map[string]interface{})
		return ok
	case "array":
		_, ok := value.([]interface{})
		return ok
	default:
		return true
	}
}
