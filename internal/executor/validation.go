package executor

import (
	"fmt"
	"regexp"
)

// validateAgainstSchema walks a ConfigField tree against a decoded
// configuration value, collecting every violation before returning rather
// than failing fast (spec.md §9: "all validation errors are collected
// before returning, never raised").
func validateAgainstSchema(fields []*ConfigField, config map[string]any) []string {
	var errs []string
	for _, f := range fields {
		v, present := config[f.Key]
		if !present {
			if f.Default != nil || f.Optional {
				continue
			}
			errs = append(errs, fmt.Sprintf("%s: required field missing", f.Key))
			continue
		}
		errs = append(errs, validateField(f, v)...)
	}
	return errs
}

func validateField(f *ConfigField, v any) []string {
	var errs []string

	switch f.Type {
	case FieldString:
		s, ok := v.(string)
		if !ok {
			return []string{fmt.Sprintf("%s: expected string, got %T", f.Key, v)}
		}
		errs = append(errs, validateStringConstraints(f, s)...)
	case FieldNumber:
		n, ok := toFloat(v)
		if !ok {
			return []string{fmt.Sprintf("%s: expected number, got %T", f.Key, v)}
		}
		errs = append(errs, validateNumericConstraints(f, n)...)
	case FieldInteger:
		n, ok := toFloat(v)
		if !ok || n != float64(int64(n)) {
			return []string{fmt.Sprintf("%s: expected integer, got %v", f.Key, v)}
		}
		errs = append(errs, validateNumericConstraints(f, n)...)
	case FieldBoolean:
		if _, ok := v.(bool); !ok {
			return []string{fmt.Sprintf("%s: expected boolean, got %T", f.Key, v)}
		}
	case FieldArray:
		arr, ok := v.([]any)
		if !ok {
			return []string{fmt.Sprintf("%s: expected array, got %T", f.Key, v)}
		}
		if f.Validation != nil {
			if f.Validation.MinLength != nil && len(arr) < *f.Validation.MinLength {
				errs = append(errs, fmt.Sprintf("%s: array shorter than minLength %d", f.Key, *f.Validation.MinLength))
			}
			if f.Validation.MaxLength != nil && len(arr) > *f.Validation.MaxLength {
				errs = append(errs, fmt.Sprintf("%s: array longer than maxLength %d", f.Key, *f.Validation.MaxLength))
			}
		}
		if f.Items != nil {
			for i, elem := range arr {
				itemField := *f.Items
				itemField.Key = fmt.Sprintf("%s[%d]", f.Key, i)
				errs = append(errs, validateField(&itemField, elem)...)
			}
		}
	case FieldObject:
		obj, ok := v.(map[string]any)
		if !ok {
			return []string{fmt.Sprintf("%s: expected object, got %T", f.Key, v)}
		}
		if len(f.Properties) > 0 {
			sub := make([]*ConfigField, 0, len(f.Properties))
			for _, p := range f.Properties {
				sub = append(sub, p)
			}
			errs = append(errs, validateAgainstSchema(sub, obj)...)
		}
	default:
		errs = append(errs, fmt.Sprintf("%s: unknown field type %q", f.Key, f.Type))
	}

	if f.Validation != nil && len(f.Validation.Enum) > 0 && !enumContains(f.Validation.Enum, v) {
		errs = append(errs, fmt.Sprintf("%s: value %v not in allowed enum", f.Key, v))
	}

	return errs
}

func validateStringConstraints(f *ConfigField, s string) []string {
	if f.Validation == nil {
		return nil
	}
	var errs []string
	if f.Validation.MinLength != nil && len(s) < *f.Validation.MinLength {
		errs = append(errs, fmt.Sprintf("%s: shorter than minLength %d", f.Key, *f.Validation.MinLength))
	}
	if f.Validation.MaxLength != nil && len(s) > *f.Validation.MaxLength {
		errs = append(errs, fmt.Sprintf("%s: longer than maxLength %d", f.Key, *f.Validation.MaxLength))
	}
	if f.Validation.Pattern != nil {
		re, err := regexp.Compile(*f.Validation.Pattern)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid pattern constraint %q", f.Key, *f.Validation.Pattern))
		} else if !re.MatchString(s) {
			errs = append(errs, fmt.Sprintf("%s: does not match pattern %q", f.Key, *f.Validation.Pattern))
		}
	}
	return errs
}

func validateNumericConstraints(f *ConfigField, n float64) []string {
	if f.Validation == nil {
		return nil
	}
	var errs []string
	if f.Validation.Min != nil && n < *f.Validation.Min {
		errs = append(errs, fmt.Sprintf("%s: below minimum %v", f.Key, *f.Validation.Min))
	}
	if f.Validation.Max != nil && n > *f.Validation.Max {
		errs = append(errs, fmt.Sprintf("%s: above maximum %v", f.Key, *f.Validation.Max))
	}
	return errs
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func enumContains(enum []any, v any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}
