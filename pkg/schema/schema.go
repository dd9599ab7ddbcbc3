package schema

// Schema maps field names to their descriptors. Nested SchemaFields produce
// nested records; validation runs recursively and aggregates every failure
// into a single ValidationError keyed by field path.
type Schema map[string]Field

// Options controls a validation pass.
type Options struct {
	// Partial permits validating a change-set: absent fields are skipped
	// entirely, including required ones. Used for dry-run checks before an
	// update is sent.
	Partial bool
}

// Validate cleans and validates source data against the schema, returning
// the cleaned record or a *ValidationError. Unknown keys are dropped.
//
// In a full pass (Partial=false), absent fields receive their default
// value when one is declared; an absent required field without a default
// fails.
func (s Schema) Validate(data map[string]any, opts Options) (map[string]any, error) {
	clean := make(map[string]any, len(data))
	verr := NewValidationError()

	if opts.Partial {
		for name, raw := range data {
			field, ok := s[name]
			if !ok {
				continue
			}
			s.cleanField(name, field, raw, opts, clean, verr)
		}
	} else {
		for name, field := range s {
			raw, present := data[name]
			if !present {
				fo := field.Options()
				switch {
				case fo.Default != nil:
					raw = cloneValue(fo.Default)
				case fo.Required:
					verr.Add(name, errRequired)
					continue
				default:
					// Absent nested schemas still materialize so their own
					// defaults apply all the way down.
					if _, nested := field.(*SchemaField); nested {
						raw = map[string]any{}
						break
					}
					continue
				}
			}
			s.cleanField(name, field, raw, opts, clean, verr)
		}
	}

	if !verr.Empty() {
		return nil, verr
	}
	return clean, nil
}

func (s Schema) cleanField(name string, field Field, raw any, opts Options, clean map[string]any, verr *ValidationError) {
	if raw == nil {
		if field.Options().Nullable {
			clean[name] = nil
		} else {
			verr.Add(name, errNotNullable)
		}
		return
	}

	// Nested schemas recurse with the same partial semantics so a sparse
	// change-set stays sparse all the way down.
	if nested, ok := field.(*SchemaField); ok {
		m, isMap := raw.(map[string]any)
		if !isMap {
			verr.Add(name, nested.Validate(raw))
			return
		}
		sub, err := nested.Schema.Validate(m, opts)
		if err != nil {
			if subErr, isValidation := err.(*ValidationError); isValidation {
				verr.Merge(name, subErr)
			} else {
				verr.Add(name, err)
			}
			return
		}
		clean[name] = sub
		return
	}

	value, err := field.Clean(raw)
	if err != nil {
		verr.Add(name, err)
		return
	}
	if err := field.Validate(value); err != nil {
		verr.Add(name, err)
		return
	}
	clean[name] = value
}
