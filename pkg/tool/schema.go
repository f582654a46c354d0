package tool

import (
	"github.com/invopop/jsonschema"
)

// SchemaFor reflects the input schema of a tool from a Go struct. Fields
// without omitempty are required; descriptions come from jsonschema tags.
func SchemaFor[T any]() *JSONSchema {
	reflector := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	var zero T
	root := reflector.Reflect(&zero)

	out := &JSONSchema{Type: "object", Required: append([]string(nil), root.Required...)}
	if root.Properties == nil {
		return out
	}
	out.Properties = make(map[string]interface{}, root.Properties.Len())
	for pair := root.Properties.Oldest(); pair != nil; pair = pair.Next() {
		out.Properties[pair.Key] = propertySchema(pair.Value)
	}
	return out
}

func propertySchema(s *jsonschema.Schema) map[string]interface{} {
	m := map[string]interface{}{}
	if s == nil {
		return m
	}
	if s.Type != "" {
		m["type"] = s.Type
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		m["enum"] = s.Enum
	}
	if s.Items != nil {
		m["items"] = propertySchema(s.Items)
	}
	return m
}
