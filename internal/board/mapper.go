package board

import (
	"fmt"
	"math"
)

// Mapper converts board squares to screen pixels and back.
type Mapper struct{}

// SquareCenter returns the pixel center of sq inside the effective rectangle.
// Unflipped boards have a8 at the top-left; flipped boards mirror both axes.
func (Mapper) SquareCenter(sq Square, eff Rect, flipped bool) Point {
	sw := eff.Width() / 8
	sh := eff.Height() / 8
	col := float64(sq.File) + 0.5
	row := float64(8-sq.Rank) + 0.5

	var x, y float64
	if flipped {
		x = eff.BottomRight.X - col*sw
		y = eff.BottomRight.Y - row*sh
	} else {
		x = eff.TopLeft.X + col*sw
		y = eff.TopLeft.Y + row*sh
	}
	return Point{X: int(math.Round(x)), Y: int(math.Round(y))}
}

// NearestSquare maps a pixel back to the square containing it.
func (Mapper) NearestSquare(p Point, eff Rect, flipped bool) (Square, bool) {
	if !eff.Valid() || !eff.Contains(p) {
		return Square{}, false
	}
	sw := eff.Width() / 8
	sh := eff.Height() / 8

	var col, row float64
	if flipped {
		col = (eff.BottomRight.X - float64(p.X)) / sw
		row = (eff.BottomRight.Y - float64(p.Y)) / sh
	} else {
		col = (float64(p.X) - eff.TopLeft.X) / sw
		row = (float64(p.Y) - eff.TopLeft.Y) / sh
	}
	f := clamp(int(math.Floor(col)), 0, 7)
	r := 8 - clamp(int(math.Floor(row)), 0, 7)
	return Square{File: f, Rank: r}, true
}

// MoveEndpoints maps a move token to drag start and end pixels.
func (m Mapper) MoveEndpoints(token string, eff Rect, flipped bool) (Point, Point, error) {
	if !eff.Valid() {
		return Point{}, Point{}, ErrInvalidRectangle
	}
	mv, err := ParseMove(token)
	if err != nil {
		return Point{}, Point{}, fmt.Errorf("map move: %w", err)
	}
	return m.SquareCenter(mv.From, eff, flipped), m.SquareCenter(mv.To, eff, flipped), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
