package document

import (
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rolltable/rolltable.go/pkg/schema"
)

// State tracks a document's lifecycle: Unbound → Initialized → (Updated)*
// → Deleted. Deleted is terminal; any further mutation fails with a
// StaleDocumentError.
type State int

const (
	StateUnbound State = iota
	StateInitialized
	StateDeleted
)

// Stats is the bookkeeping envelope carried by every document.
type Stats struct {
	CreatedTime    int64  `cbor:"createdTime"`
	ModifiedTime   int64  `cbor:"modifiedTime"`
	LastModifiedBy string `cbor:"lastModifiedBy"`
	SystemVersion  string `cbor:"systemVersion"`
}

// DescendantEvent notifies ancestors that a document somewhere below them
// in the embedded hierarchy was created, updated or deleted.
type DescendantEvent struct {
	Action  string // "create", "update" or "delete"
	Doc     *Document
	Changes map[string]any // update only
}

// NewID returns a fresh document identifier. ULIDs from the same client
// order by creation time, which keeps index iteration stable.
func NewID() string {
	return ulid.Make().String()
}

// Document is the unit of persistence: a stable identifier, a type tag, a
// schema-validated source object, an ownership map, an optional parent and
// a stats envelope. The source is exclusively owned by the document; only
// the operation pipeline mutates it, and all other readers must treat it as
// immutable between settled operations.
type Document struct {
	id        string
	typ       *Type
	types     *Types
	source    map[string]any
	derived   map[string]any
	ownership Ownership
	parent    *Document
	stats     Stats
	state     State

	collections map[string]*EmbeddedCollection

	updateListeners     []func(changes map[string]any)
	descendantListeners []func(ev DescendantEvent)
}

// New constructs a document of the named type from source data. The data
// may carry "_id", "ownership", "_stats" and hierarchy fields alongside the
// schema fields; everything else is validated against the type's schema.
// Hierarchy fields are materialized into embedded collections whose members
// point back at this document as their parent.
func (t *Types) New(typeName string, data map[string]any, parent *Document) (*Document, error) {
	typ, ok := t.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("unknown document type %q", typeName)
	}

	d := &Document{
		typ:         typ,
		types:       t,
		parent:      parent,
		derived:     make(map[string]any),
		ownership:   Ownership{DefaultOwnershipKey: LevelNone},
		collections: make(map[string]*EmbeddedCollection),
	}

	if id, ok := data["_id"].(string); ok && id != "" {
		d.id = id
	} else {
		d.id = NewID()
	}

	if raw, ok := data["ownership"].(map[string]any); ok {
		d.ownership = decodeOwnership(raw)
	}

	d.stats = decodeStats(data["_stats"])
	if d.stats.CreatedTime == 0 {
		d.stats.CreatedTime = time.Now().UnixMilli()
	}

	fields := make(map[string]any, len(data))
	for key, v := range data {
		if key == "_id" || key == "ownership" || key == "_stats" {
			continue
		}
		if _, isChild := typ.Hierarchy[key]; isChild {
			continue
		}
		fields[key] = v
	}
	source, err := typ.Schema.Validate(fields, schema.Options{})
	if err != nil {
		return nil, err
	}
	d.source = source

	for field, childTypeName := range typ.Hierarchy {
		records, err := toRecords(data[field])
		if err != nil {
			return nil, fmt.Errorf("hierarchy field %q: %w", field, err)
		}
		col, err := newEmbeddedCollection(d, field, childTypeName, records)
		if err != nil {
			return nil, fmt.Errorf("hierarchy field %q: %w", field, err)
		}
		d.collections[field] = col
	}

	d.state = StateInitialized
	d.prepare()
	return d, nil
}

func decodeStats(raw any) Stats {
	m, ok := raw.(map[string]any)
	if !ok {
		return Stats{}
	}
	var s Stats
	if n, ok := toNumber(m["createdTime"]); ok {
		s.CreatedTime = int64(n)
	}
	if n, ok := toNumber(m["modifiedTime"]); ok {
		s.ModifiedTime = int64(n)
	}
	s.LastModifiedBy, _ = m["lastModifiedBy"].(string)
	s.SystemVersion, _ = m["systemVersion"].(string)
	return s
}

func toRecords(raw any) ([]map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	switch list := raw.(type) {
	case []map[string]any:
		return list, nil
	case []any:
		out := make([]map[string]any, 0, len(list))
		for i, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d: expected record, got %T", i, el)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected array of records, got %T", raw)
	}
}

func (d *Document) ID() string        { return d.id }
func (d *Document) Type() *Type       { return d.typ }
func (d *Document) TypeName() string  { return d.typ.Name }
func (d *Document) Parent() *Document { return d.parent }
func (d *Document) State() State      { return d.state }
func (d *Document) Deleted() bool     { return d.state == StateDeleted }
func (d *Document) Stats() Stats      { return d.stats }

// UUID is the fully qualified identifier locating this document through its
// ancestor chain, e.g. "actor.<id>.item.<id>".
func (d *Document) UUID() string {
	own := d.typ.Name + "." + d.id
	if d.parent == nil {
		return own
	}
	return d.parent.UUID() + "." + own
}

// ParseUUID splits a document UUID into (type, id) pairs, outermost first.
func ParseUUID(uuid string) ([][2]string, error) {
	parts := strings.Split(uuid, ".")
	if len(parts) == 0 || len(parts)%2 != 0 {
		return nil, fmt.Errorf("malformed document uuid %q", uuid)
	}
	pairs := make([][2]string, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		pairs = append(pairs, [2]string{parts[i], parts[i+1]})
	}
	return pairs, nil
}

// Source returns the document's schema-validated source object. Callers
// must treat it as immutable; mutation belongs to the operation pipeline.
func (d *Document) Source() map[string]any { return d.source }

// SourceClone returns a deep copy safe to mutate.
func (d *Document) SourceClone() map[string]any { return Clone(d.source) }

// Get resolves a dot path inside the source, e.g. "hp.value".
func (d *Document) Get(path string) any {
	var current any = d.source
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = m[part]
	}
	return current
}

func (d *Document) Ownership() Ownership { return d.ownership }

// TestUserPermission reports whether the user's effective ownership level
// reaches (or, with exact, equals) the given level.
func (d *Document) TestUserPermission(u User, level Level, exact bool) bool {
	effective := d.ownership.Effective(u)
	if exact {
		return effective == level
	}
	return effective >= level
}

// CanUserCreate, CanUserUpdate and CanUserDelete evaluate the type's
// permission predicates for this document.
func (d *Document) CanUserUpdate(u User, changes map[string]any) bool {
	return d.typ.canUpdate(u, d, changes)
}

func (d *Document) CanUserDelete(u User) bool {
	return d.typ.canDelete(u, d)
}

// Collection returns the embedded collection backing a hierarchy field.
func (d *Document) Collection(field string) (*EmbeddedCollection, bool) {
	col, ok := d.collections[field]
	return col, ok
}

// OnUpdated registers a listener fired after every applied update. Used by
// the delta overlay compositor to recompute synthetics when the base
// changes.
func (d *Document) OnUpdated(fn func(changes map[string]any)) {
	d.updateListeners = append(d.updateListeners, fn)
}

// OnDescendant registers a listener fired when any document below this one
// in the embedded hierarchy is created, updated or deleted. A top-level
// registry uses this to react to changes arbitrarily deep in the tree.
func (d *Document) OnDescendant(fn func(ev DescendantEvent)) {
	d.descendantListeners = append(d.descendantListeners, fn)
}

// SetDerived stores transient derived state. Derived values are never part
// of the source and never cross the wire.
func (d *Document) SetDerived(key string, v any) { d.derived[key] = v }

func (d *Document) GetDerived(key string) (any, bool) {
	v, ok := d.derived[key]
	return v, ok
}

func (d *Document) prepare() {
	for k := range d.derived {
		delete(d.derived, k)
	}
	if d.typ.PrepareBaseData != nil {
		d.typ.PrepareBaseData(d)
	}
	if d.typ.PrepareDerivedData != nil {
		d.typ.PrepareDerivedData(d)
	}
}

// ApplyUpdate merges an accepted change-set into the source, reconciles
// embedded collections for hierarchy fields, bumps stats, recomputes
// derived state and fires update listeners. Only the operation pipeline
// (and broadcast replay) may call it.
func (d *Document) ApplyUpdate(changes map[string]any, by User) error {
	if d.state == StateDeleted {
		return &StaleDocumentError{Type: d.typ.Name, ID: d.id}
	}

	applied := make(map[string]any, len(changes))
	for key, v := range changes {
		if key == "_id" || key == "_stats" {
			continue
		}
		applied[key] = v
	}

	if raw, ok := applied["ownership"].(map[string]any); ok {
		edits := make(map[string]Level, len(raw))
		for key, v := range raw {
			if n, ok := toNumber(v); ok {
				edits[key] = Level(int(n))
			}
		}
		d.ownership = d.ownership.ApplyEdit(edits)
		delete(applied, "ownership")
	}

	for field := range d.typ.Hierarchy {
		raw, ok := applied[field]
		if !ok {
			continue
		}
		records, err := toRecords(raw)
		if err != nil {
			return fmt.Errorf("hierarchy field %q: %w", field, err)
		}
		if err := d.collections[field].reconcile(records, by); err != nil {
			return err
		}
		delete(applied, field)
	}

	Merge(d.source, applied)

	d.stats.ModifiedTime = time.Now().UnixMilli()
	d.stats.LastModifiedBy = by.ID
	d.prepare()

	for _, fn := range d.updateListeners {
		fn(changes)
	}
	d.emitDescendant(DescendantEvent{Action: "update", Doc: d, Changes: changes})
	return nil
}

// MarkDeleted transitions the document to its terminal state and cascades
// through embedded collections: children die with the parent without a
// second round trip.
func (d *Document) MarkDeleted() {
	if d.state == StateDeleted {
		return
	}
	d.state = StateDeleted
	for _, col := range d.collections {
		for _, child := range col.Contents() {
			child.MarkDeleted()
		}
	}
	d.emitDescendant(DescendantEvent{Action: "delete", Doc: d})
}

// emitDescendant walks the ancestor chain notifying every registered
// listener, not only the immediate parent.
func (d *Document) emitDescendant(ev DescendantEvent) {
	for cur := d.parent; cur != nil; cur = cur.parent {
		for _, fn := range cur.descendantListeners {
			fn(ev)
		}
	}
}

// ToRecord serializes the document to its full wire form: source fields
// plus identifier, ownership, stats and embedded hierarchy arrays.
func (d *Document) ToRecord() map[string]any {
	record := d.SourceClone()
	record["_id"] = d.id
	record["ownership"] = d.ownership.encode()
	record["_stats"] = map[string]any{
		"createdTime":    d.stats.CreatedTime,
		"modifiedTime":   d.stats.ModifiedTime,
		"lastModifiedBy": d.stats.LastModifiedBy,
		"systemVersion":  d.stats.SystemVersion,
	}
	for field, col := range d.collections {
		children := make([]any, 0, col.Size())
		for _, child := range col.Contents() {
			children = append(children, child.ToRecord())
		}
		record[field] = children
	}
	return record
}
