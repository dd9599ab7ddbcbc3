// Package settings is the registry of typed world settings. Settings are
// plain documents underneath; reads cast the stored value through the
// registered descriptor's closed kind, and writes flow through the
// operation pipeline like any other document mutation.
package settings

import (
	"context"
	"fmt"
	"sync"

	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/pipeline"
	"github.com/rolltable/rolltable.go/pkg/world"
)

// TypeName is the document type settings are stored as.
const TypeName = "setting"

// Kind is the closed set of setting value kinds.
type Kind int

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindRecord
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindRecord:
		return "record"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Descriptor declares one setting: its kind, its default and, for string
// settings, an optional closed choice set.
type Descriptor struct {
	Kind    Kind
	Default any
	Choices []string
}

// Registry maps "namespace.key" names to descriptors and fronts the
// underlying setting documents.
type Registry struct {
	pipe *pipeline.Pipeline
	col  *world.Collection

	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

func NewRegistry(pipe *pipeline.Pipeline, col *world.Collection) *Registry {
	return &Registry{
		pipe:        pipe,
		col:         col,
		descriptors: make(map[string]Descriptor),
	}
}

func settingName(namespace, key string) string {
	return namespace + "." + key
}

// Register declares a setting. The default must itself pass the
// descriptor's cast.
func (r *Registry) Register(namespace, key string, d Descriptor) error {
	name := settingName(namespace, key)
	if d.Default != nil {
		cast, err := d.cast(d.Default)
		if err != nil {
			return fmt.Errorf("setting %s: default %w", name, err)
		}
		d.Default = cast
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[name]; exists {
		return fmt.Errorf("setting %s already registered", name)
	}
	r.descriptors[name] = d
	return nil
}

func (r *Registry) descriptor(namespace, key string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[settingName(namespace, key)]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown setting %s", settingName(namespace, key))
	}
	return d, nil
}

// Get returns the setting's current value cast through its descriptor, or
// the registered default when no document stores it yet.
func (r *Registry) Get(namespace, key string) (any, error) {
	d, err := r.descriptor(namespace, key)
	if err != nil {
		return nil, err
	}
	doc, ok := r.find(settingName(namespace, key))
	if !ok {
		return d.Default, nil
	}
	return d.cast(doc.Get("value"))
}

// Set validates the value against the descriptor and writes it through the
// pipeline: an update when the setting document exists, a create otherwise.
func (r *Registry) Set(ctx context.Context, namespace, key string, value any) error {
	d, err := r.descriptor(namespace, key)
	if err != nil {
		return err
	}
	cast, err := d.cast(value)
	if err != nil {
		return fmt.Errorf("setting %s: %w", settingName(namespace, key), err)
	}

	name := settingName(namespace, key)
	if doc, ok := r.find(name); ok {
		_, err := r.pipe.Update(ctx, TypeName, []map[string]any{
			{"_id": doc.ID(), "value": cast},
		}, pipeline.UpdateOptions{})
		return err
	}
	_, err = r.pipe.Create(ctx, TypeName, []map[string]any{
		{"key": name, "value": cast},
	}, pipeline.CreateOptions{})
	return err
}

func (r *Registry) find(name string) (*document.Document, bool) {
	for _, doc := range r.col.Contents() {
		if k, _ := doc.Get("key").(string); k == name {
			return doc, true
		}
	}
	return nil, false
}

// cast coerces a stored value into the descriptor's kind, failing rather
// than guessing on a mismatch.
func (d Descriptor) cast(v any) (any, error) {
	switch d.Kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		}
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case KindString:
		if s, ok := v.(string); ok {
			if len(d.Choices) == 0 {
				return s, nil
			}
			for _, c := range d.Choices {
				if s == c {
					return s, nil
				}
			}
			return nil, fmt.Errorf("value %q is not a valid choice", s)
		}
	case KindRecord:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	}
	return nil, fmt.Errorf("value %T does not match kind %s", v, d.Kind)
}
