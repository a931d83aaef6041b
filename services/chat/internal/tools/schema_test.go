package tools

import (
	"testing"

	"github.com/sashabaranov/go-openai/jsonschema"
)

func TestTranslateSchema(t *testing.T) {
	raw := `{
		"type": "object",
		"description": "weather lookup",
		"properties": {
			"city": {"type": "string", "description": "city name"},
			"days": {"type": "integer"},
			"detailed": {"type": "boolean"},
			"coords": {
				"type": "object",
				"properties": {
					"lat": {"type": "number"},
					"lon": {"type": "number"}
				},
				"required": ["lat", "lon"]
			},
			"tags": {"type": "array", "items": {"type": "string"}},
			"unit": {"type": "string", "enum": ["metric", "imperial"]}
		},
		"required": ["city"]
	}`
	def := TranslateSchema(raw)

	if def.Type != jsonschema.Object {
		t.Fatalf("top-level type = %s, want object", def.Type)
	}
	if def.Description != "weather lookup" {
		t.Fatalf("description = %q", def.Description)
	}
	if len(def.Required) != 1 || def.Required[0] != "city" {
		t.Fatalf("required = %v", def.Required)
	}
	if def.Properties["city"].Type != jsonschema.String {
		t.Fatalf("city type = %s", def.Properties["city"].Type)
	}
	if def.Properties["days"].Type != jsonschema.Integer {
		t.Fatalf("days type = %s", def.Properties["days"].Type)
	}
	if def.Properties["detailed"].Type != jsonschema.Boolean {
		t.Fatalf("detailed type = %s", def.Properties["detailed"].Type)
	}
	coords := def.Properties["coords"]
	if coords.Type != jsonschema.Object || len(coords.Required) != 2 {
		t.Fatalf("coords not translated recursively: %+v", coords)
	}
	if coords.Properties["lat"].Type != jsonschema.Number {
		t.Fatalf("lat type = %s", coords.Properties["lat"].Type)
	}
	tags := def.Properties["tags"]
	if tags.Type != jsonschema.Array || tags.Items == nil || tags.Items.Type != jsonschema.String {
		t.Fatalf("tags not translated: %+v", tags)
	}
	unit := def.Properties["unit"]
	if len(unit.Enum) != 2 {
		t.Fatalf("enum not carried: %v", unit.Enum)
	}
}

func TestTranslateSchemaFallbacks(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"invalid json", `{"type": `},
		{"non-object top level", `{"type": "string"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			def := TranslateSchema(tc.raw)
			if def.Type != jsonschema.Object {
				t.Fatalf("fallback type = %s, want object", def.Type)
			}
			if def.Properties == nil || len(def.Properties) != 0 {
				t.Fatalf("fallback should carry an empty properties map")
			}
		})
	}
}

func TestTranslateSchemaUnknownTypeIsPermissive(t *testing.T) {
	def := TranslateSchema(`{"type": "object", "properties": {"blob": {"type": "binary"}}}`)
	if def.Properties["blob"].Type != jsonschema.String {
		t.Fatalf("unknown type should degrade to string, got %s", def.Properties["blob"].Type)
	}
}

func TestTranslateSchemaArrayWithoutItems(t *testing.T) {
	def := TranslateSchema(`{"type": "object", "properties": {"xs": {"type": "array"}}}`)
	xs := def.Properties["xs"]
	if xs.Items == nil || xs.Items.Type != jsonschema.String {
		t.Fatalf("array without items should default to string items: %+v", xs)
	}
}
