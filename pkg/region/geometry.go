// Package region implements spatial regions: shape geometry, elevation
// ranges, behavior documents and the containment-driven event dispatcher.
package region

import "fmt"

// Point is a subject's rest position. Containment is always evaluated at
// rest positions; intermediate animation frames never feed the dispatcher.
type Point struct {
	X         float64
	Y         float64
	Elevation float64
}

const (
	ShapeRectangle = "rectangle"
	ShapeCircle    = "circle"
	ShapePolygon   = "polygon"
)

// Shape is one member of a region's geometry. A Hole shape carves its area
// out of the union of the non-hole shapes.
type Shape struct {
	Type string
	Hole bool

	// rectangle
	X, Y          float64
	Width, Height float64

	// circle
	Radius float64

	// polygon, as flat x,y pairs
	Points []float64
}

// Contains reports whether the x,y position falls inside the shape.
// Boundaries count as inside.
func (s Shape) Contains(x, y float64) bool {
	switch s.Type {
	case ShapeRectangle:
		return x >= s.X && x <= s.X+s.Width && y >= s.Y && y <= s.Y+s.Height
	case ShapeCircle:
		dx, dy := x-s.X, y-s.Y
		return dx*dx+dy*dy <= s.Radius*s.Radius
	case ShapePolygon:
		return polygonContains(s.Points, x, y)
	default:
		return false
	}
}

// polygonContains ray-casts along +x, counting edge crossings.
func polygonContains(points []float64, x, y float64) bool {
	n := len(points) / 2
	if n < 3 {
		return false
	}
	inside := false
	j := n - 1
	for i := 0; i < n; i++ {
		xi, yi := points[2*i], points[2*i+1]
		xj, yj := points[2*j], points[2*j+1]
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

// ElevationRange bounds a region vertically. Nil bounds are open.
type ElevationRange struct {
	Bottom *float64
	Top    *float64
}

func (r ElevationRange) Contains(elevation float64) bool {
	if r.Bottom != nil && elevation < *r.Bottom {
		return false
	}
	if r.Top != nil && elevation > *r.Top {
		return false
	}
	return true
}

// shapeFromRecord decodes one geometry record out of a region document's
// "shapes" array.
func shapeFromRecord(raw map[string]any) (Shape, error) {
	s := Shape{
		Type: stringVal(raw["type"]),
		Hole: boolVal(raw["hole"]),
	}
	switch s.Type {
	case ShapeRectangle:
		s.X = numVal(raw["x"])
		s.Y = numVal(raw["y"])
		s.Width = numVal(raw["width"])
		s.Height = numVal(raw["height"])
	case ShapeCircle:
		s.X = numVal(raw["x"])
		s.Y = numVal(raw["y"])
		s.Radius = numVal(raw["radius"])
	case ShapePolygon:
		list, _ := raw["points"].([]any)
		if len(list)%2 != 0 {
			return Shape{}, fmt.Errorf("polygon points must be x,y pairs, got %d values", len(list))
		}
		s.Points = make([]float64, len(list))
		for i, el := range list {
			s.Points[i] = numVal(el)
		}
	default:
		return Shape{}, fmt.Errorf("unknown shape type %q", s.Type)
	}
	return s, nil
}

func stringVal(v any) string {
	s, _ := v.(string)
	return s
}

func boolVal(v any) bool {
	b, _ := v.(bool)
	return b
}

func numVal(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
