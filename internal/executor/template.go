// Package executor defines the stateless Executor contract of spec.md §4.2
// and the template/ConfigField schema it exchanges with callers.
package executor

import "encoding/json"

// FieldType enumerates the ConfigField primitive types (spec.md §6).
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Validation holds the constraints a ConfigField may declare. Only
// non-nil/non-empty members are ever serialized (spec.md §6: "present only
// when any constraint is set").
type Validation struct {
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Pattern   *string  `json:"pattern,omitempty"`
	Enum      []any    `json:"enum,omitempty"`
}

func (v *Validation) isEmpty() bool {
	return v == nil || (v.MinLength == nil && v.MaxLength == nil && v.Min == nil &&
		v.Max == nil && v.Pattern == nil && len(v.Enum) == 0)
}

// ConfigField is one node of a template's configuration schema tree
// (spec.md §4.2, wire shape in §6). It must round-trip byte-for-byte through
// JSON: fromDict(toDict(f)) == f.
type ConfigField struct {
	Key         string                 `json:"key"`
	Type        FieldType              `json:"type"`
	Description string                 `json:"description,omitempty"`
	Default     any                    `json:"default,omitempty"`
	Optional    bool                   `json:"-"`
	Validation  *Validation            `json:"-"`
	Items       *ConfigField           `json:"items,omitempty"`
	Properties  map[string]*ConfigField `json:"properties,omitempty"`
}

// configFieldWire is the exact on-wire shape; ConfigField's MarshalJSON
// builds one of these so "optional" and "validation" are omitted unless set,
// per spec.md §6.
type configFieldWire struct {
	Key         string                   `json:"key"`
	Type        FieldType                `json:"type"`
	Description string                   `json:"description,omitempty"`
	Default     any                      `json:"default,omitempty"`
	Optional    *bool                    `json:"optional,omitempty"`
	Validation  *Validation              `json:"validation,omitempty"`
	Items       *ConfigField             `json:"items,omitempty"`
	Properties  map[string]*ConfigField  `json:"properties,omitempty"`
}

func (f *ConfigField) MarshalJSON() ([]byte, error) {
	w := configFieldWire{
		Key:         f.Key,
		Type:        f.Type,
		Description: f.Description,
		Default:     f.Default,
		Items:       f.Items,
		Properties:  f.Properties,
	}
	if f.Optional {
		w.Optional = &f.Optional
	}
	if !f.Validation.isEmpty() {
		w.Validation = f.Validation
	}
	return json.Marshal(w)
}

func (f *ConfigField) UnmarshalJSON(data []byte) error {
	var w configFieldWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	f.Key = w.Key
	f.Type = w.Type
	f.Description = w.Description
	f.Default = w.Default
	f.Items = w.Items
	f.Properties = w.Properties
	f.Validation = w.Validation
	if w.Optional != nil {
		f.Optional = *w.Optional
	} else {
		f.Optional = false
	}
	return nil
}

// TemplateInfo describes one registered agent template (spec.md §4.2, §6).
type TemplateInfo struct {
	ID          string         `json:"id"`
	Framework   string         `json:"framework"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Version     string         `json:"version"`
	Config      []*ConfigField `json:"config"`
}
