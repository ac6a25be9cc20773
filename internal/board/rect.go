package board

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidRectangle is returned when a rectangle has no usable area.
var ErrInvalidRectangle = errors.New("invalid board rectangle")

// Point is an integer screen coordinate in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Vec is a screen coordinate as reported by the recognition service.
type Vec struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned board rectangle in screen space.
type Rect struct {
	TopLeft     Vec `json:"topLeft"`
	BottomRight Vec `json:"bottomRight"`
}

// NewRect builds a normalized rectangle from two arbitrary corners.
func NewRect(x1, y1, x2, y2 float64) Rect {
	return Rect{
		TopLeft:     Vec{X: math.Min(x1, x2), Y: math.Min(y1, y2)},
		BottomRight: Vec{X: math.Max(x1, x2), Y: math.Max(y1, y2)},
	}
}

// Normalize swaps corners so TopLeft holds the minimum coordinates.
func (r Rect) Normalize() Rect {
	return NewRect(r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y)
}

func (r Rect) Width() float64  { return r.BottomRight.X - r.TopLeft.X }
func (r Rect) Height() float64 { return r.BottomRight.Y - r.TopLeft.Y }
func (r Rect) Area() float64   { return r.Width() * r.Height() }

func (r Rect) Center() Vec {
	return Vec{
		X: (r.TopLeft.X + r.BottomRight.X) / 2,
		Y: (r.TopLeft.Y + r.BottomRight.Y) / 2,
	}
}

// Valid reports whether the rectangle has positive finite extent.
func (r Rect) Valid() bool {
	for _, v := range []float64{r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return r.Width() > 0 && r.Height() > 0
}

// Contains reports whether p lies inside the rectangle, edges included.
func (r Rect) Contains(p Point) bool {
	x, y := float64(p.X), float64(p.Y)
	return x >= r.TopLeft.X && x <= r.BottomRight.X && y >= r.TopLeft.Y && y <= r.BottomRight.Y
}

func (r Rect) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", r.TopLeft.X, r.TopLeft.Y, r.BottomRight.X, r.BottomRight.Y)
}

// Adjustment is the manual fine-tuning applied on top of the accepted rectangle.
type Adjustment struct {
	OffsetX float64 `json:"offsetX" yaml:"offsetX"`
	OffsetY float64 `json:"offsetY" yaml:"offsetY"`
	Scale   float64 `json:"scale" yaml:"scale"`
}

// Identity leaves the rectangle untouched.
var Identity = Adjustment{Scale: 1}

// Apply returns the effective rectangle: translated by the offsets and scaled
// around its own center. A non-positive scale counts as 1.
func (a Adjustment) Apply(r Rect) Rect {
	scale := a.Scale
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1
	}
	c := r.Center()
	halfW := r.Width() * scale / 2
	halfH := r.Height() * scale / 2
	cx := c.X + a.OffsetX
	cy := c.Y + a.OffsetY
	return Rect{
		TopLeft:     Vec{X: cx - halfW, Y: cy - halfH},
		BottomRight: Vec{X: cx + halfW, Y: cy + halfH},
	}
}

// ParseRect parses "x1,y1,x2,y2" in any corner order.
func ParseRect(raw string) (Rect, error) {
	parts := strings.Split(strings.TrimSpace(raw), ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("%w: want x1,y1,x2,y2, got %q", ErrInvalidRectangle, raw)
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Rect{}, fmt.Errorf("%w: %q: %v", ErrInvalidRectangle, raw, err)
		}
		vals[i] = v
	}
	r := NewRect(vals[0], vals[1], vals[2], vals[3])
	if !r.Valid() {
		return Rect{}, fmt.Errorf("%w: %q has no area", ErrInvalidRectangle, raw)
	}
	return r, nil
}
