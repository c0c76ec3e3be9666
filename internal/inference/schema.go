package inference

import (
	"reflect"
	"strings"

	"google.golang.org/genai"
)

// Schema is a provider-neutral JSON schema subset: objects, arrays, strings,
// numbers and booleans. Property order is kept for providers that honour it.
type Schema struct {
	Type        string
	Description string
	Properties  map[string]*Schema
	Order       []string
	Items       *Schema
}

const (
	typeObject  = "object"
	typeArray   = "array"
	typeString  = "string"
	typeNumber  = "number"
	typeInteger = "integer"
	typeBoolean = "boolean"
)

// SchemaOf builds a schema from v's type. Only struct fields carrying a desc
// tag are included; the JSON name comes from the json tag.
func SchemaOf(v any) *Schema {
	return schemaForType(reflect.TypeOf(v), "")
}

func schemaForType(t reflect.Type, desc string) *Schema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Struct:
		s := &Schema{Type: typeObject, Description: desc, Properties: map[string]*Schema{}}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			fdesc, ok := f.Tag.Lookup("desc")
			if !ok || !f.IsExported() {
				continue
			}
			name := jsonName(f)
			if name == "" {
				continue
			}
			s.Properties[name] = schemaForType(f.Type, fdesc)
			s.Order = append(s.Order, name)
		}
		return s
	case reflect.Slice, reflect.Array:
		return &Schema{Type: typeArray, Description: desc, Items: schemaForType(t.Elem(), "")}
	case reflect.Bool:
		return &Schema{Type: typeBoolean, Description: desc}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &Schema{Type: typeInteger, Description: desc}
	case reflect.Float32, reflect.Float64:
		return &Schema{Type: typeNumber, Description: desc}
	default:
		return &Schema{Type: typeString, Description: desc}
	}
}

func jsonName(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	if name == "" {
		return f.Name
	}
	return name
}

// ObjectSchema assembles an object schema from named properties in order.
func ObjectSchema(desc string, props ...Property) *Schema {
	s := &Schema{Type: typeObject, Description: desc, Properties: make(map[string]*Schema, len(props))}
	for _, p := range props {
		s.Properties[p.Name] = p.Schema
		s.Order = append(s.Order, p.Name)
	}
	return s
}

type Property struct {
	Name   string
	Schema *Schema
}

func StringSchema(desc string) *Schema  { return &Schema{Type: typeString, Description: desc} }
func BooleanSchema(desc string) *Schema { return &Schema{Type: typeBoolean, Description: desc} }

func ArraySchema(desc string, items *Schema) *Schema {
	return &Schema{Type: typeArray, Description: desc, Items: items}
}

// Required lists the top-level property names. Every property is required.
func (s *Schema) Required() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.Order))
	copy(out, s.Order)
	return out
}

// JSON renders the schema as a strict JSON Schema document: every property
// is required and no additional properties are allowed.
func (s *Schema) JSON() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	switch s.Type {
	case typeObject:
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.JSON()
		}
		out["properties"] = props
		out["required"] = s.Required()
		out["additionalProperties"] = false
	case typeArray:
		out["items"] = s.Items.JSON()
	}
	return out
}

// Genai converts the schema to the Gemini structured output form.
func (s *Schema) Genai() *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{Description: s.Description}
	switch s.Type {
	case typeObject:
		out.Type = genai.TypeObject
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = p.Genai()
		}
		out.PropertyOrdering = s.Required()
		out.Required = s.Required()
	case typeArray:
		out.Type = genai.TypeArray
		out.Items = s.Items.Genai()
	case typeBoolean:
		out.Type = genai.TypeBoolean
	case typeInteger:
		out.Type = genai.TypeInteger
	case typeNumber:
		out.Type = genai.TypeNumber
	default:
		out.Type = genai.TypeString
	}
	return out
}
