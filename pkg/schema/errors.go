package schema

import (
	"fmt"
	"sort"
	"strings"
)

// ValidationError aggregates per-field failures keyed by dot-joined field
// path. It is always raised locally and never crosses the wire.
type ValidationError struct {
	Failures map[string]error
}

func NewValidationError() *ValidationError {
	return &ValidationError{Failures: make(map[string]error)}
}

func (e *ValidationError) Add(path string, err error) {
	e.Failures[path] = err
}

// Merge folds another validation error into this one, prefixing every path.
func (e *ValidationError) Merge(prefix string, other *ValidationError) {
	for path, err := range other.Failures {
		e.Failures[prefix+"."+path] = err
	}
}

func (e *ValidationError) Empty() bool {
	return len(e.Failures) == 0
}

func (e *ValidationError) Error() string {
	paths := make([]string, 0, len(e.Failures))
	for path := range e.Failures {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	b.WriteString("validation failed:")
	for _, path := range paths {
		fmt.Fprintf(&b, " %s: %v;", path, e.Failures[path])
	}
	return strings.TrimSuffix(b.String(), ";")
}
