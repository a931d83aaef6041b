package tools

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"
)

// TranslateSchema converts a plugin's JSON Schema document into the
// definition format the chat-completions API expects. Authors control the
// schema, so unknown constructs degrade to permissive definitions instead of
// failing tool construction.
func TranslateSchema(raw string) jsonschema.Definition {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return emptyObjectSchema()
	}
	var node map[string]any
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		slog.Warn("plugin schema is not valid json, using permissive fallback", "err", err)
		return emptyObjectSchema()
	}
	def := translateNode(node)
	if def.Type != jsonschema.Object {
		// tool parameters must be an object at the top level
		return emptyObjectSchema()
	}
	return def
}

func translateNode(node map[string]any) jsonschema.Definition {
	def := jsonschema.Definition{}
	if desc, ok := node["description"].(string); ok {
		def.Description = desc
	}
	typeName, _ := node["type"].(string)
	switch typeName {
	case "string":
		def.Type = jsonschema.String
		if rawEnum, ok := node["enum"].([]any); ok {
			for _, item := range rawEnum {
				if s, ok := item.(string); ok {
					def.Enum = append(def.Enum, s)
				}
			}
		}
	case "number":
		def.Type = jsonschema.Number
	case "integer":
		def.Type = jsonschema.Integer
	case "boolean":
		def.Type = jsonschema.Boolean
	case "array":
		def.Type = jsonschema.Array
		if items, ok := node["items"].(map[string]any); ok {
			child := translateNode(items)
			def.Items = &child
		} else {
			child := jsonschema.Definition{Type: jsonschema.String}
			def.Items = &child
		}
	case "object":
		def.Type = jsonschema.Object
		def.Properties = map[string]jsonschema.Definition{}
		if props, ok := node["properties"].(map[string]any); ok {
			for name, rawProp := range props {
				if prop, ok := rawProp.(map[string]any); ok {
					def.Properties[name] = translateNode(prop)
				}
			}
		}
		if rawRequired, ok := node["required"].([]any); ok {
			for _, item := range rawRequired {
				if s, ok := item.(string); ok {
					def.Required = append(def.Required, s)
				}
			}
		}
	default:
		slog.Warn("unknown schema type, treating as string", "type", typeName)
		def.Type = jsonschema.String
	}
	return def
}

func emptyObjectSchema() jsonschema.Definition {
	return jsonschema.Definition{
		Type:       jsonschema.Object,
		Properties: map[string]jsonschema.Definition{},
	}
}
