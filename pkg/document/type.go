package document

import (
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/rolltable/rolltable.go/pkg/schema"
)

// Hooks are invoked around every operation in a fixed order: pre-operation
// (may veto the whole batch by returning an error), apply-to-local-state,
// post-operation. Post hooks are side effects only; all post hooks of a
// batch run before the operation's result is returned.
type Hooks struct {
	PreCreate func(data map[string]any, u User) error
	PreUpdate func(d *Document, changes map[string]any, u User) error
	PreDelete func(d *Document, u User) error

	PostCreate func(d *Document, u User)
	PostUpdate func(d *Document, changes map[string]any, u User)
	PostDelete func(d *Document, u User)
}

// Type describes one document type: its schema, its embedded-collection
// hierarchy, lifecycle hooks and permission predicates. Predicates are pure
// functions of (user, document, data); nil predicates fall back to
// ownership-level defaults.
type Type struct {
	Name   string
	Schema schema.Schema

	// Hierarchy maps embedded-collection field names to the child document
	// type name. The named fields hold arrays of child records in source
	// form and are materialized as EmbeddedCollections.
	Hierarchy map[string]string

	Hooks Hooks

	CanCreate func(u User, parent *Document, data map[string]any) bool
	CanUpdate func(u User, d *Document, changes map[string]any) bool
	CanDelete func(u User, d *Document) bool

	// PrepareBaseData and PrepareDerivedData recompute transient derived
	// state after every applied operation. Derived state never enters the
	// source and is never diffed.
	PrepareBaseData    func(d *Document)
	PrepareDerivedData func(d *Document)
}

// CanUserCreate evaluates the creation predicate: a custom predicate when
// registered, otherwise GM or ownership of the prospective parent.
func (t *Type) CanUserCreate(u User, parent *Document, data map[string]any) bool {
	return t.canCreate(u, parent, data)
}

func (t *Type) canCreate(u User, parent *Document, data map[string]any) bool {
	if t.CanCreate != nil {
		return t.CanCreate(u, parent, data)
	}
	if u.GM {
		return true
	}
	if parent != nil {
		return parent.TestUserPermission(u, LevelOwner, false)
	}
	return false
}

func (t *Type) canUpdate(u User, d *Document, changes map[string]any) bool {
	if t.CanUpdate != nil {
		return t.CanUpdate(u, d, changes)
	}
	return d.TestUserPermission(u, LevelOwner, false)
}

func (t *Type) canDelete(u User, d *Document) bool {
	if t.CanDelete != nil {
		return t.CanDelete(u, d)
	}
	return d.TestUserPermission(u, LevelOwner, false)
}

// Types is the explicit per-session registry of document types. It is
// constructed once at session start and passed by reference; there is no
// package-level singleton.
type Types struct {
	byName map[string]*Type
}

func NewTypes() *Types {
	return &Types{byName: make(map[string]*Type)}
}

func (t *Types) Register(dt *Type) error {
	if dt.Name == "" {
		return fmt.Errorf("document type requires a name")
	}
	if _, exists := t.byName[dt.Name]; exists {
		return fmt.Errorf("document type %q already registered", dt.Name)
	}
	t.byName[dt.Name] = dt
	return nil
}

func (t *Types) Get(name string) (*Type, bool) {
	dt, ok := t.byName[name]
	return dt, ok
}

func (t *Types) Names() []string {
	names := maps.Keys(t.byName)
	sort.Strings(names)
	return names
}
