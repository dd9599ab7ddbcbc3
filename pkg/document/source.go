package document

import "reflect"

// Source manipulation helpers. A document's source is a plain nested
// map[string]any; these functions implement the clone, recursive-merge and
// recursive-diff semantics shared by the operation pipeline and the delta
// overlay compositor.

// Clone deep-copies a source map. Scalars are shared, maps and slices are
// copied.
func Clone(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}
	return cloneAny(source).(map[string]any)
}

func cloneAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = cloneAny(el)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = cloneAny(el)
		}
		return out
	default:
		return v
	}
}

// Merge applies changes onto dst in place using partial-update semantics:
// when both sides of a key hold plain records the merge recurses, otherwise
// the incoming value replaces wholesale. Incoming values are cloned so dst
// never aliases the change-set.
func Merge(dst, changes map[string]any) {
	for key, incoming := range changes {
		existing, ok := dst[key]
		if ok {
			existingMap, existingIsMap := existing.(map[string]any)
			incomingMap, incomingIsMap := incoming.(map[string]any)
			if existingIsMap && incomingIsMap {
				Merge(existingMap, incomingMap)
				continue
			}
		}
		dst[key] = cloneAny(incoming)
	}
}

// Diff computes the minimal change-set that turns old into the states named
// by changes: keys whose value already matches are omitted; keys where both
// sides hold plain records are diffed recursively; anything else replaces
// wholesale. Only keys present in changes participate.
func Diff(old, changes map[string]any) map[string]any {
	diff := make(map[string]any)
	for key, incoming := range changes {
		existing, ok := old[key]
		if !ok {
			diff[key] = incoming
			continue
		}
		existingMap, existingIsMap := existing.(map[string]any)
		incomingMap, incomingIsMap := incoming.(map[string]any)
		if existingIsMap && incomingIsMap {
			if sub := Diff(existingMap, incomingMap); len(sub) > 0 {
				diff[key] = sub
			}
			continue
		}
		if !equalValue(existing, incoming) {
			diff[key] = incoming
		}
	}
	return diff
}

// equalValue compares scalars loosely across numeric kinds so a cleaned
// int64 matches a float64 decoded from the wire.
func equalValue(a, b any) bool {
	if af, aok := toNumber(a); aok {
		if bf, bok := toNumber(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
