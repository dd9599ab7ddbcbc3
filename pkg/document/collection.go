package document

import (
	"fmt"
	"sort"
)

// EmbeddedCollection is an ordered, identifier-keyed set of child documents
// whose lifetime is bound to a parent document. Ordering is expressed by
// the numeric "sort" field on each member, never by array position.
type EmbeddedCollection struct {
	parent        *Document
	field         string
	childTypeName string
	docs          map[string]*Document
}

func newEmbeddedCollection(parent *Document, field, childTypeName string, records []map[string]any) (*EmbeddedCollection, error) {
	col := &EmbeddedCollection{
		parent:        parent,
		field:         field,
		childTypeName: childTypeName,
		docs:          make(map[string]*Document, len(records)),
	}
	for _, record := range records {
		child, err := parent.types.New(childTypeName, record, parent)
		if err != nil {
			return nil, err
		}
		col.docs[child.ID()] = child
	}
	return col, nil
}

func (c *EmbeddedCollection) Field() string { return c.field }
func (c *EmbeddedCollection) Size() int     { return len(c.docs) }

func (c *EmbeddedCollection) Get(id string) (*Document, bool) {
	d, ok := c.docs[id]
	return d, ok
}

// Manages reports whether the identifier currently belongs to this
// collection. Used to detect whether an update actually targets a document
// nested further down the tree.
func (c *EmbeddedCollection) Manages(id string) bool {
	_, ok := c.docs[id]
	return ok
}

// Set inserts a child. The child's parent must be the collection's owner.
func (c *EmbeddedCollection) Set(id string, d *Document) error {
	if d.parent != c.parent {
		return fmt.Errorf("document %s does not belong to parent %s", id, c.parent.ID())
	}
	c.docs[id] = d
	return nil
}

// CreateChild constructs a child from an accepted record, inserts it and
// surfaces the descendant-create event to every ancestor.
func (c *EmbeddedCollection) CreateChild(record map[string]any) (*Document, error) {
	child, err := c.parent.types.New(c.childTypeName, record, c.parent)
	if err != nil {
		return nil, err
	}
	c.docs[child.ID()] = child
	child.emitDescendant(DescendantEvent{Action: "create", Doc: child})
	return child, nil
}

func (c *EmbeddedCollection) Delete(id string) bool {
	if _, ok := c.docs[id]; !ok {
		return false
	}
	delete(c.docs, id)
	return true
}

// Contents returns a snapshot ordered by the numeric "sort" field
// ascending, ties broken by identifier for determinism.
func (c *EmbeddedCollection) Contents() []*Document {
	out := make([]*Document, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := sortValue(out[i]), sortValue(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

func sortValue(d *Document) float64 {
	if n, ok := toNumber(d.source["sort"]); ok {
		return n
	}
	return 0
}

// reconcile re-derives membership from an authoritative hierarchy-field
// value: records with known ids are updated, unknown ids are created,
// members absent from the incoming set are deleted. Each outcome surfaces
// as a descendant-lifecycle event to every ancestor.
func (c *EmbeddedCollection) reconcile(records []map[string]any, by User) error {
	incoming := make(map[string]bool, len(records))

	for _, record := range records {
		id, _ := record["_id"].(string)
		if id != "" {
			if existing, ok := c.docs[id]; ok {
				incoming[id] = true
				rec := stripMeta(record)
				if raw, ok := rec["ownership"].(map[string]any); ok && ownershipEqual(existing.ownership, raw) {
					delete(rec, "ownership")
				}
				changes := Diff(existing.source, rec)
				if len(changes) == 0 {
					continue
				}
				if err := existing.ApplyUpdate(changes, by); err != nil {
					return err
				}
				continue
			}
		}

		child, err := c.parent.types.New(c.childTypeName, record, c.parent)
		if err != nil {
			return err
		}
		c.docs[child.ID()] = child
		incoming[child.ID()] = true
		child.emitDescendant(DescendantEvent{Action: "create", Doc: child})
	}

	for id, child := range c.docs {
		if incoming[id] {
			continue
		}
		delete(c.docs, id)
		child.MarkDeleted()
	}
	return nil
}

func ownershipEqual(current Ownership, raw map[string]any) bool {
	decoded := decodeOwnership(raw)
	if len(decoded) != len(current) {
		return false
	}
	for key, level := range decoded {
		if current[key] != level {
			return false
		}
	}
	return true
}

func stripMeta(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	for key, v := range record {
		if key == "_id" || key == "_stats" {
			continue
		}
		out[key] = v
	}
	return out
}
