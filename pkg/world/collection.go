// Package world holds the top-level registries of root documents, one
// collection per document type, plus import helpers for compendium data.
package world

import (
	"sort"
	"sync"

	"github.com/rolltable/rolltable.go/pkg/document"
)

// Collection indexes the root documents of one type. It is kept in sync by
// the operation pipeline: local acknowledgments and peer broadcasts both
// land here through Insert and Remove. Descendant lifecycle events of every
// member fan out to the collection's subscribers, so a listener sees
// changes arbitrarily deep in the embedded tree.
type Collection struct {
	typeName string

	mu   sync.RWMutex
	docs map[string]*document.Document

	listeners []func(ev document.DescendantEvent)
}

func NewCollection(typeName string) *Collection {
	return &Collection{
		typeName: typeName,
		docs:     make(map[string]*document.Document),
	}
}

func (c *Collection) TypeName() string { return c.typeName }

func (c *Collection) Get(id string) (*document.Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.docs[id]
	return d, ok
}

func (c *Collection) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Insert registers the document and hooks its descendant event stream into
// the collection's subscribers.
func (c *Collection) Insert(d *document.Document) {
	c.mu.Lock()
	c.docs[d.ID()] = d
	c.mu.Unlock()

	d.OnDescendant(func(ev document.DescendantEvent) {
		c.mu.RLock()
		subs := append(([]func(document.DescendantEvent))(nil), c.listeners...)
		c.mu.RUnlock()
		for _, fn := range subs {
			fn(ev)
		}
	})
}

func (c *Collection) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.docs, id)
}

// Contents returns a snapshot ordered by the numeric "sort" field ascending,
// ties broken by id.
func (c *Collection) Contents() []*document.Document {
	c.mu.RLock()
	out := make([]*document.Document, 0, len(c.docs))
	for _, d := range c.docs {
		out = append(out, d)
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		si, sj := sortValue(out[i]), sortValue(out[j])
		if si != sj {
			return si < sj
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// OnDescendant subscribes to create/update/delete events of every member
// document and its embedded descendants.
func (c *Collection) OnDescendant(fn func(ev document.DescendantEvent)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func sortValue(d *document.Document) float64 {
	switch n := d.Get("sort").(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

// FolderOwnership translates a folder-level ownership edit into the
// concrete per-document update payloads the pipeline sends. Folder
// ownership is never stored as its own level; an INHERIT entry clears the
// member's explicit entry instead.
func FolderOwnership(docs []*document.Document, edits map[string]document.Level) []map[string]any {
	updates := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		ownership := make(map[string]any, len(edits))
		for key, level := range edits {
			ownership[key] = int64(level)
		}
		updates = append(updates, map[string]any{
			"_id":       d.ID(),
			"ownership": ownership,
		})
	}
	return updates
}
