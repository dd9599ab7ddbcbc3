// Package overlay derives synthetic documents: a movable placeable carries
// a sparse override of a base document, and the document the rest of the
// system sees is the base's source with the override merged on top.
package overlay

import (
	"fmt"

	"github.com/rolltable/rolltable.go/pkg/document"
	"github.com/rolltable/rolltable.go/pkg/logger"
)

// OverrideID derives the override document's identifier from its owning
// placeable. It is never the base's identifier: two placeables over the
// same base hold distinct overrides.
func OverrideID(placeableID string) string {
	return placeableID
}

// Synthesize computes the synthetic record: a clone of the base's full
// record with the sparse override merged on top, carrying the override's
// derived identifier. The base is never mutated.
func Synthesize(base *document.Document, placeableID string, override map[string]any) map[string]any {
	record := base.ToRecord()
	if len(override) > 0 {
		document.Merge(record, override)
	}
	record["_id"] = OverrideID(placeableID)
	return record
}

// Compositor owns one placeable's synthetic document and keeps it current.
// Re-derivation is explicit: the compositor registers Recompute as an
// update listener on the base rather than watching identity changes.
type Compositor struct {
	types       *document.Types
	log         logger.Logger
	base        *document.Document
	placeableID string

	// linked placeables mirror the base directly; their (empty) override
	// never participates.
	linked bool

	override  map[string]any
	synthetic *document.Document
}

type Params struct {
	Types       *document.Types
	Logger      logger.Logger
	Base        *document.Document
	PlaceableID string
	Linked      bool
	// Override is the placeable's sparse override source; ignored for
	// linked placeables.
	Override map[string]any
}

func New(p Params) (*Compositor, error) {
	log := p.Logger
	if log == nil {
		log = logger.Default()
	}
	override := document.Clone(p.Override)
	if override == nil {
		override = map[string]any{}
	}
	c := &Compositor{
		types:       p.Types,
		log:         log,
		base:        p.Base,
		placeableID: p.PlaceableID,
		linked:      p.Linked,
		override:    override,
	}
	if err := c.Recompute(); err != nil {
		return nil, err
	}
	c.base.OnUpdated(func(changes map[string]any) {
		if err := c.Recompute(); err != nil {
			c.log.Error("synthetic recompute failed", "placeable", c.placeableID, "error", err)
		}
	})
	return c, nil
}

// Synthetic returns the current synthetic document. For linked placeables
// this is the base itself.
func (c *Compositor) Synthetic() *document.Document {
	if c.linked {
		return c.base
	}
	return c.synthetic
}

// Override returns a clone of the sparse override source.
func (c *Compositor) Override() map[string]any {
	return document.Clone(c.override)
}

// ApplyOverride merges additional sparse changes into the override and
// re-derives the synthetic document.
func (c *Compositor) ApplyOverride(changes map[string]any) error {
	if c.linked {
		return fmt.Errorf("placeable %s is linked; edit the base document instead", c.placeableID)
	}
	document.Merge(c.override, changes)
	return c.Recompute()
}

// Recompute rebuilds the synthetic document from the current base and
// override. Explicit entry point; also wired as the base's update listener.
func (c *Compositor) Recompute() error {
	if c.linked {
		return nil
	}
	record := Synthesize(c.base, c.placeableID, c.override)
	synthetic, err := c.types.New(c.base.TypeName(), record, nil)
	if err != nil {
		return fmt.Errorf("synthesizing %s over %s: %w", c.placeableID, c.base.ID(), err)
	}
	c.synthetic = synthetic
	return nil
}
