package executor

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// ExportJSONSchema converts a TemplateInfo's ConfigField tree into a
// standard JSON Schema document, for clients that want to validate or
// render configuration forms with off-the-shelf tooling rather than
// interpreting the ConfigField shape directly. Grounded on the
// invopop/jsonschema usage pattern elsewhere in the example pack (schema
// built programmatically, then marshaled to a plain map).
func ExportJSONSchema(t TemplateInfo) (map[string]any, error) {
	root := &jsonschema.Schema{
		Type:       "object",
		Properties: jsonschema.NewProperties(),
	}
	var required []string
	for _, f := range t.Config {
		root.Properties.Set(f.Key, fieldToSchema(f))
		if !f.Optional {
			required = append(required, f.Key)
		}
	}
	root.Required = required

	data, err := json.Marshal(root)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out, nil
}

func fieldToSchema(f *ConfigField) *jsonschema.Schema {
	s := &jsonschema.Schema{
		Description: f.Description,
		Extras:      map[string]any{},
	}

	switch f.Type {
	case FieldString:
		s.Type = "string"
	case FieldNumber:
		s.Type = "number"
	case FieldInteger:
		s.Type = "integer"
	case FieldBoolean:
		s.Type = "boolean"
	case FieldArray:
		s.Type = "array"
		if f.Items != nil {
			s.Items = fieldToSchema(f.Items)
		}
	case FieldObject:
		s.Type = "object"
		if len(f.Properties) > 0 {
			s.Properties = jsonschema.NewProperties()
			var required []string
			for key, prop := range f.Properties {
				s.Properties.Set(key, fieldToSchema(prop))
				if !prop.Optional {
					required = append(required, key)
				}
			}
			s.Required = required
		}
	}

	if f.Default != nil {
		s.Default = f.Default
	}

	// Length and range keywords are injected through Extras rather than
	// typed Schema fields, since their exact Go types vary across jsonschema
	// library versions; Extras always serializes as sibling JSON keys.
	// Pattern and enum use the typed Schema fields.
	if v := f.Validation; v != nil {
		if v.MinLength != nil {
			s.Extras["minLength"] = *v.MinLength
		}
		if v.MaxLength != nil {
			s.Extras["maxLength"] = *v.MaxLength
		}
		if v.Min != nil {
			s.Extras["minimum"] = *v.Min
		}
		if v.Max != nil {
			s.Extras["maximum"] = *v.Max
		}
		if v.Pattern != nil {
			s.Pattern = *v.Pattern
		}
		if len(v.Enum) > 0 {
			s.Enum = v.Enum
		}
	}
	if len(s.Extras) == 0 {
		s.Extras = nil
	}

	return s
}
