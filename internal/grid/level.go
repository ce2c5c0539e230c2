package grid

import (
	"math"

	"github.com/talgya/hexworld/internal/world"
)

// GatewayLevel is the lowest block level that connectivity and island
// searches may traverse.
const GatewayLevel = 3

// Criteria decides whether a single tile is blocked for one classification
// mode (walking or building).
type Criteria struct {
	AltitudeRatio float64 // Fraction of MaxAltitude above which a tile is blocked
	SlopeRatio    float64 // Fraction of pi/2 above which a tile is blocked
	MaxAltitude   float64
	WaterBase     float64
	HalfWidth     float64
	HalfHeight    float64
}

// InBounds reports whether t lies strictly inside the map extent.
func (c Criteria) InBounds(t *world.Tile) bool {
	return math.Abs(t.Position.X()) < c.HalfWidth && math.Abs(t.Position.Y()) < c.HalfHeight
}

// Blocked reports whether t fails the admissibility test.
func (c Criteria) Blocked(t *world.Tile) bool {
	return !c.InBounds(t) ||
		t.AvgPositionZ > c.AltitudeRatio*c.MaxAltitude ||
		t.AvgPositionZ < c.WaterBase ||
		t.AngleToUp > math.Pi*c.SlopeRatio/2.0
}

// Loosen raises both ratios by step, saturating at 1.
func (c *Criteria) Loosen(step float64) {
	c.AltitudeRatio = math.Min(1, c.AltitudeRatio+step)
	c.SlopeRatio = math.Min(1, c.SlopeRatio+step)
}

// OpenLevel is the level of a tile with no blocked tile within r rings.
func OpenLevel(r int) int {
	return r + 1
}

// ExtendedLevel is the highest level the extension pass can assign.
func ExtendedLevel(r int) int {
	return 2*r + 1
}

// RingLevel returns the block level of tile i: 0 if the tile itself is
// blocked, otherwise the radius of the nearest ring holding a blocked
// neighbor, or OpenLevel(R) when no ring up to R does.
func RingLevel(g *world.Graph, i int, c Criteria) int {
	t := g.Tile(i)
	if c.Blocked(t) {
		return 0
	}

	for ring := 0; ring < g.NeighborRange; ring++ {
		found := false
		g.EachNeighbor(i, ring, func(j int) bool {
			if c.Blocked(g.Tiles[j]) {
				found = true
				return false
			}
			return true
		})
		if found {
			return ring + 1
		}
	}
	return OpenLevel(g.NeighborRange)
}

// ExtendLevel re-derives the level of a tile sitting at OpenLevel(R) from
// its outermost ring: the minimum of R plus each present neighbor's level,
// capped at ExtendedLevel(R). Tiles at any other level are returned
// unchanged. level reads the current level of a tile.
func ExtendLevel(g *world.Graph, i int, level func(t *world.Tile) int) int {
	r := g.NeighborRange
	current := level(g.Tile(i))
	if current != OpenLevel(r) {
		return current
	}

	extended := ExtendedLevel(r)
	g.EachNeighbor(i, r-1, func(j int) bool {
		if v := r + level(g.Tiles[j]); v < extended {
			extended = v
		}
		return true
	})
	return extended
}

func walkingLevel(t *world.Tile) int  { return t.WalkingBlockLevel }
func buildingLevel(t *world.Tile) int { return t.BuildingBlockLevel }
