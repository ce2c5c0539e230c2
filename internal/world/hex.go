// Package world provides the hex grid and the tile graph the classification
// workflows run over. Uses axial coordinates (q, r) with a flat-top layout.
package world

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Add returns h + o.
func (h HexCoord) Add(o HexCoord) HexCoord {
	return HexCoord{Q: h.Q + o.Q, R: h.R + o.R}
}

// Scale returns h * k.
func (h HexCoord) Scale(k int) HexCoord {
	return HexCoord{Q: h.Q * k, R: h.R * k}
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = h.Add(dir)
	}
	return result
}

// Ring returns the hexes at exactly the given distance from h, walking
// counter-clockwise from the south-west corner. Radius 0 is h itself.
func (h HexCoord) Ring(radius int) []HexCoord {
	if radius <= 0 {
		return []HexCoord{h}
	}
	result := make([]HexCoord, 0, 6*radius)
	cur := h.Add(HexNeighborDirections[4].Scale(radius))
	for side := 0; side < 6; side++ {
		for step := 0; step < radius; step++ {
			result = append(result, cur)
			cur = cur.Add(HexNeighborDirections[side])
		}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := a.Q - b.Q
	dr := a.R - b.R
	ds := a.S() - b.S()
	if dq < 0 {
		dq = -dq
	}
	if dr < 0 {
		dr = -dr
	}
	if ds < 0 {
		ds = -ds
	}
	// Max of the three absolute differences in cube coordinates.
	max := dq
	if dr > max {
		max = dr
	}
	if ds > max {
		max = ds
	}
	return max
}

// ToPixel returns the flat-top center of h for hexes of the given size
// (center to corner).
func (h HexCoord) ToPixel(size float64) mgl64.Vec2 {
	x := size * 1.5 * float64(h.Q)
	y := size * math.Sqrt(3.0) * (float64(h.R) + float64(h.Q)/2.0)
	return mgl64.Vec2{x, y}
}

// FractionalHex is an axial position that has not been snapped to a cell.
type FractionalHex struct {
	Q, R float64
}

// PixelToFractional inverts ToPixel.
func PixelToFractional(p mgl64.Vec2, size float64) FractionalHex {
	q := (2.0 / 3.0 * p.X()) / size
	r := (-1.0/3.0*p.X() + math.Sqrt(3.0)/3.0*p.Y()) / size
	return FractionalHex{Q: q, R: r}
}

// Round snaps to the nearest hex, fixing up whichever cube component
// carried the largest rounding error.
func (f FractionalHex) Round() HexCoord {
	s := -f.Q - f.R
	q := math.Round(f.Q)
	r := math.Round(f.R)
	rs := math.Round(s)

	dq := math.Abs(q - f.Q)
	dr := math.Abs(r - f.R)
	ds := math.Abs(rs - s)

	if dq > dr && dq > ds {
		q = -r - rs
	} else if dr > ds {
		r = -q - rs
	}
	return HexCoord{Q: int(q), R: int(r)}
}

// PixelToHex returns the hex containing p.
func PixelToHex(p mgl64.Vec2, size float64) HexCoord {
	return PixelToFractional(p, size).Round()
}

// CornerOffsets returns the six flat-top corner offsets of a hex of the given
// size, corner i at 60*i degrees.
func CornerOffsets(size float64) [6]mgl64.Vec2 {
	var out [6]mgl64.Vec2
	for i := 0; i < 6; i++ {
		angle := mgl64.DegToRad(60 * float64(i))
		out[i] = mgl64.Vec2{math.Cos(angle) * size, math.Sin(angle) * size}
	}
	return out
}
