// ABOUTME: Recursive value-shape descriptors used for tool parameters and structured replies
// ABOUTME: Compiles descriptors into closed JSON schemas via google/jsonschema-go

package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// Kind is the shape of a descriptor node.
type Kind int

const (
	KindInteger Kind = iota
	KindFloat
	KindBoolean
	KindString
	KindObject
)

// String returns the JSON schema type name for the kind.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor describes a named value. Fields is only used by object nodes.
type Descriptor struct {
	Name        string
	Description string
	Kind        Kind
	Fields      []Descriptor
}

// Integer describes an integer value.
func Integer(name, description string) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindInteger}
}

// Float describes a floating point value.
func Float(name, description string) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindFloat}
}

// Boolean describes a boolean value.
func Boolean(name, description string) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindBoolean}
}

// String describes a string value.
func String(name, description string) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindString}
}

// Object describes an object whose properties are the given fields.
// The field slice is copied.
func Object(name, description string, fields ...Descriptor) Descriptor {
	return Descriptor{
		Name:        name,
		Description: description,
		Kind:        KindObject,
		Fields:      append([]Descriptor(nil), fields...),
	}
}

// Convert compiles a descriptor into a JSON schema.
func Convert(d Descriptor) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:        d.Kind.String(),
		Description: d.Description,
	}
	if d.Kind != KindObject {
		return s
	}

	s.Properties = make(map[string]*jsonschema.Schema, len(d.Fields))
	s.Required = make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		s.Properties[f.Name] = Convert(f)
		s.Required = append(s.Required, f.Name)
	}
	sort.Strings(s.Required)
	// {"not": {}} marshals as the boolean schema false.
	s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	return s
}

// Wire returns the converted schema as a generic JSON object.
func Wire(d Descriptor) (map[string]any, error) {
	data, err := json.Marshal(Convert(d))
	if err != nil {
		return nil, fmt.Errorf("marshaling schema %q: %w", d.Name, err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding schema %q: %w", d.Name, err)
	}
	return out, nil
}

// AssistantResponse describes the structured reply requested from the model
// when structured output is enabled.
var AssistantResponse = Object("response", "The response of assistant",
	String("text", "The text of the response"),
	String("language", "The IETF BCP 47 language tag of the response text"),
	Boolean("sensitive", "Whether the response contains sensitive content"),
)
