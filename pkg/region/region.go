package region

import (
	"github.com/rolltable/rolltable.go/pkg/document"
)

// BehaviorsField is the region document's embedded collection of behavior
// documents.
const BehaviorsField = "behaviors"

// Region is a read-side wrapper over a region document. Geometry and
// elevation are decoded on demand from the live source, so the wrapper
// never holds stale shape data across an update.
type Region struct {
	doc *document.Document
}

func Wrap(doc *document.Document) *Region {
	return &Region{doc: doc}
}

func (r *Region) Doc() *document.Document { return r.doc }
func (r *Region) ID() string              { return r.doc.ID() }
func (r *Region) UUID() string            { return r.doc.UUID() }

func (r *Region) Shapes() []Shape {
	list, _ := r.doc.Get("shapes").([]any)
	shapes := make([]Shape, 0, len(list))
	for _, el := range list {
		raw, ok := el.(map[string]any)
		if !ok {
			continue
		}
		s, err := shapeFromRecord(raw)
		if err != nil {
			continue
		}
		shapes = append(shapes, s)
	}
	return shapes
}

func (r *Region) Elevation() ElevationRange {
	var er ElevationRange
	if v := r.doc.Get("elevation.bottom"); v != nil {
		b := numVal(v)
		er.Bottom = &b
	}
	if v := r.doc.Get("elevation.top"); v != nil {
		t := numVal(v)
		er.Top = &t
	}
	return er
}

// Contains evaluates the point against the region's geometry: inside the
// elevation range and at least one non-hole shape, and outside every hole.
func (r *Region) Contains(p Point) bool {
	if !r.Elevation().Contains(p.Elevation) {
		return false
	}
	inside := false
	for _, s := range r.Shapes() {
		if !s.Contains(p.X, p.Y) {
			continue
		}
		if s.Hole {
			return false
		}
		inside = true
	}
	return inside
}

// Behaviors returns the region's behavior documents in attachment order.
func (r *Region) Behaviors() []*document.Document {
	col, ok := r.doc.Collection(BehaviorsField)
	if !ok {
		return nil
	}
	return col.Contents()
}
