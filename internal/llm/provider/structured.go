package provider

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Schema is the JSON Schema subset the structured outputs need: objects,
// arrays and scalars with required fields and descriptions.
type Schema struct {
	Type        string             `json:"type,omitempty"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	// Order lists property names in struct field order.
	Order []string `json:"propertyOrdering,omitempty"`
}

// SchemaFromStruct builds the schema for t. Property names follow json
// tags, descriptions come from description tags and a validate tag
// containing "required" marks the property required.
func SchemaFromStruct(t reflect.Type) *Schema {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: "integer"}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: "number"}
	case reflect.Slice, reflect.Array:
		return &Schema{Type: "array", Items: SchemaFromStruct(t.Elem())}
	case reflect.Map:
		return &Schema{Type: "object"}
	case reflect.Struct:
		return objectSchema(t)
	default:
		return &Schema{}
	}
}

func objectSchema(t reflect.Type) *Schema {
	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, ok := jsonName(f)
		if !ok {
			continue
		}

		prop := SchemaFromStruct(f.Type)
		prop.Description = f.Tag.Get("description")
		s.Properties[name] = prop
		s.Order = append(s.Order, name)

		if strings.Contains(f.Tag.Get("validate"), "required") {
			s.Required = append(s.Required, name)
		}
	}
	return s
}

func jsonName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false
	}
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name, true
	}
	return f.Name, true
}

// RawSchemaFor marshals the schema for the type of v.
func RawSchemaFor(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(SchemaFromStruct(reflect.TypeOf(v)))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	return raw, nil
}

// BuildStructuredPrompt flattens messages into one prompt that asks for a
// bare JSON object, for backends without native schema support.
func BuildStructuredPrompt(messages []Message, schema json.RawMessage) string {
	var sb strings.Builder

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		case "user", "assistant":
			fmt.Fprintf(&sb, "%s: %s\n\n", strings.ToUpper(msg.Role), msg.Content)
		}
	}

	sb.WriteString("Reply with a single JSON object and nothing else: no prose, no code fences.")
	if len(schema) > 0 {
		sb.WriteString(" It must conform to this JSON Schema:\n")
		sb.Write(schema)
	}
	sb.WriteString("\n")
	return sb.String()
}

// ExtractJSON returns the first balanced JSON object in text, or "" when
// there is none. Prose and code fences around the object are ignored.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
