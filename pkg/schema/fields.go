// Package schema provides declarative field descriptors for document source
// data: per-field coercion (Clean), constraint checking (Validate), default
// values, and recursive composition into document schemas.
package schema

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

var (
	errNotNullable = errors.New("may not be null")
	errRequired    = errors.New("is required")
)

// FieldOptions carries the behavior flags shared by every field type.
type FieldOptions struct {
	// Required fields must be present when validating a full source.
	// Partial validation never fails on an absent required field.
	Required bool
	// Nullable fields accept an explicit nil value.
	Nullable bool
	// Default fills in an absent value during full validation.
	Default any
}

// Field is one entry of a Schema. Clean coerces a raw value into the
// field's canonical representation; Validate checks constraints on an
// already-cleaned value.
type Field interface {
	Clean(v any) (any, error)
	Validate(v any) error
	Options() FieldOptions
}

// StringField validates string values, optionally constrained to a choice
// set. Numeric raw values are coerced to their decimal representation.
type StringField struct {
	FieldOptions
	Blank   bool
	Choices []string
}

func (f *StringField) Options() FieldOptions { return f.FieldOptions }

func (f *StringField) Clean(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to string", v)
	}
}

func (f *StringField) Validate(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", v)
	}
	if s == "" && !f.Blank {
		return errors.New("may not be blank")
	}
	if len(f.Choices) > 0 {
		for _, c := range f.Choices {
			if s == c {
				return nil
			}
		}
		return fmt.Errorf("%q is not a valid choice", s)
	}
	return nil
}

// NumberField validates numeric values. Integer fields either reject
// (Strict) or truncate non-integral values.
type NumberField struct {
	FieldOptions
	Integer bool
	Strict  bool
	Min     *float64
	Max     *float64
}

func (f *NumberField) Options() FieldOptions { return f.FieldOptions }

func (f *NumberField) Clean(v any) (any, error) {
	n, ok := toFloat(v)
	if !ok {
		return nil, fmt.Errorf("cannot coerce %T to number", v)
	}
	if !f.Integer {
		return n, nil
	}
	if n != math.Trunc(n) {
		if f.Strict {
			return nil, fmt.Errorf("%v is not an integer", n)
		}
		n = math.Trunc(n)
	}
	return int64(n), nil
}

func (f *NumberField) Validate(v any) error {
	n, ok := toFloat(v)
	if !ok {
		return fmt.Errorf("expected number, got %T", v)
	}
	if f.Min != nil && n < *f.Min {
		return fmt.Errorf("%v is below minimum %v", n, *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Errorf("%v is above maximum %v", n, *f.Max)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}

// BooleanField validates boolean values.
type BooleanField struct {
	FieldOptions
}

func (f *BooleanField) Options() FieldOptions { return f.FieldOptions }

func (f *BooleanField) Clean(v any) (any, error) {
	if b, ok := v.(bool); ok {
		return b, nil
	}
	return nil, fmt.Errorf("cannot coerce %T to boolean", v)
}

func (f *BooleanField) Validate(v any) error {
	if _, ok := v.(bool); !ok {
		return fmt.Errorf("expected boolean, got %T", v)
	}
	return nil
}

// AnyField accepts any value as-is. Maps and slices are deep-cloned so the
// caller's data never aliases the cleaned source. Used where the concrete
// shape is enforced elsewhere, like setting values cast through their
// descriptor.
type AnyField struct {
	FieldOptions
}

func (f *AnyField) Options() FieldOptions { return f.FieldOptions }

func (f *AnyField) Clean(v any) (any, error) { return cloneValue(v), nil }

func (f *AnyField) Validate(v any) error { return nil }

// IDField validates an opaque document identifier. Identifiers are
// immutable once assigned; that invariant is enforced by the document
// layer, not here.
type IDField struct {
	FieldOptions
}

func (f *IDField) Options() FieldOptions { return f.FieldOptions }

func (f *IDField) Clean(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("cannot coerce %T to identifier", v)
	}
	return s, nil
}

func (f *IDField) Validate(v any) error {
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("expected identifier string, got %T", v)
	}
	if s == "" {
		return errors.New("identifier may not be empty")
	}
	return nil
}

// ArrayField validates an ordered list, cleaning and validating each
// element with the Element field. Insertion order is preserved.
type ArrayField struct {
	FieldOptions
	Element Field
}

func (f *ArrayField) Options() FieldOptions { return f.FieldOptions }

func (f *ArrayField) Clean(v any) (any, error) {
	raw, err := toSlice(v)
	if err != nil {
		return nil, err
	}
	clean := make([]any, 0, len(raw))
	for i, el := range raw {
		ce, err := f.Element.Clean(el)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		clean = append(clean, ce)
	}
	return clean, nil
}

func (f *ArrayField) Validate(v any) error {
	raw, err := toSlice(v)
	if err != nil {
		return err
	}
	for i, el := range raw {
		if err := f.Element.Validate(el); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// SetField validates an unordered collection, deduplicated by value
// equality. The cleaned result keeps first-seen order for determinism but
// carries no ordering meaning.
type SetField struct {
	FieldOptions
	Element Field
}

func (f *SetField) Options() FieldOptions { return f.FieldOptions }

func (f *SetField) Clean(v any) (any, error) {
	raw, err := toSlice(v)
	if err != nil {
		return nil, err
	}
	clean := make([]any, 0, len(raw))
	for i, el := range raw {
		ce, err := f.Element.Clean(el)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		duplicate := false
		for _, existing := range clean {
			if reflect.DeepEqual(existing, ce) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			clean = append(clean, ce)
		}
	}
	return clean, nil
}

func (f *SetField) Validate(v any) error {
	raw, err := toSlice(v)
	if err != nil {
		return err
	}
	for i, el := range raw {
		if err := f.Element.Validate(el); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

func toSlice(v any) ([]any, error) {
	switch s := v.(type) {
	case []any:
		return s, nil
	case []string:
		out := make([]any, len(s))
		for i, el := range s {
			out[i] = el
		}
		return out, nil
	case []map[string]any:
		out := make([]any, len(s))
		for i, el := range s {
			out[i] = el
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array, got %T", v)
	}
}

// ObjectField accepts a free-form nested record without per-key
// validation. The value is deep-cloned on clean so callers never alias the
// raw input.
type ObjectField struct {
	FieldOptions
}

func (f *ObjectField) Options() FieldOptions { return f.FieldOptions }

func (f *ObjectField) Clean(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return cloneValue(m), nil
}

func (f *ObjectField) Validate(v any) error {
	if _, ok := v.(map[string]any); !ok {
		return fmt.Errorf("expected object, got %T", v)
	}
	return nil
}

// SchemaField nests a complete sub-schema. Partial validation recurses
// with the same partial semantics.
type SchemaField struct {
	FieldOptions
	Schema Schema
}

func (f *SchemaField) Options() FieldOptions { return f.FieldOptions }

func (f *SchemaField) Clean(v any) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected object, got %T", v)
	}
	return f.Schema.Validate(m, Options{})
}

func (f *SchemaField) Validate(v any) error {
	if _, ok := v.(map[string]any); !ok {
		return fmt.Errorf("expected object, got %T", v)
	}
	return nil
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = cloneValue(el)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = cloneValue(el)
		}
		return out
	default:
		return v
	}
}
