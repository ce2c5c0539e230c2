package world

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	origin := HexCoord{}
	assert.Equal(t, 0, Distance(origin, origin))
	for _, n := range origin.Neighbors() {
		assert.Equal(t, 1, Distance(origin, n))
	}
	assert.Equal(t, 3, Distance(HexCoord{Q: 2, R: -3}, origin))
	assert.Equal(t, 4, Distance(HexCoord{Q: -2, R: -2}, origin))
}

func TestRing(t *testing.T) {
	center := HexCoord{Q: 1, R: -2}
	assert.Equal(t, []HexCoord{center}, center.Ring(0))

	for radius := 1; radius <= 4; radius++ {
		ring := center.Ring(radius)
		require.Len(t, ring, 6*radius)
		seen := make(map[HexCoord]bool)
		for _, c := range ring {
			assert.Equal(t, radius, Distance(center, c))
			assert.False(t, seen[c], "duplicate %v", c)
			seen[c] = true
		}
	}
}

func TestPixelRoundTrip(t *testing.T) {
	const size = 100.0
	for q := -4; q <= 4; q++ {
		for r := -4; r <= 4; r++ {
			c := HexCoord{Q: q, R: r}
			p := c.ToPixel(size)
			assert.Equal(t, c, PixelToHex(p, size))

			// A point slightly inside the hex still snaps to it.
			nudged := p.Add(mgl64.Vec2{size * 0.3, -size * 0.2})
			assert.Equal(t, c, PixelToHex(nudged, size))
		}
	}
}

func TestCornerOffsets(t *testing.T) {
	corners := CornerOffsets(2)
	assert.InDelta(t, 2.0, corners[0].X(), 1e-9)
	assert.InDelta(t, 0.0, corners[0].Y(), 1e-9)
	assert.InDelta(t, -2.0, corners[3].X(), 1e-9)
	for _, c := range corners {
		assert.InDelta(t, 2.0, c.Len(), 1e-9)
	}
}

func TestBuildHexagon(t *testing.T) {
	g := BuildHexagon(10, 3, 2)
	require.Equal(t, HexagonTileCount(3), g.Len())
	assert.Equal(t, 37, g.Len())

	for i, tile := range g.Tiles {
		j, ok := g.Lookup(tile.Coord)
		require.True(t, ok)
		assert.Equal(t, i, j)
		require.Len(t, tile.Neighbors, 2)
		assert.Equal(t, LevelUnset, tile.WalkingBlockLevel)
	}

	center, ok := g.Lookup(HexCoord{})
	require.True(t, ok)
	present := 0
	g.EachNeighbor(center, 0, func(int) bool { present++; return true })
	assert.Equal(t, 6, present)

	// A corner tile has ring entries outside the grid which are skipped.
	corner, ok := g.Lookup(HexCoord{Q: 3, R: 0})
	require.True(t, ok)
	present = 0
	g.EachNeighbor(corner, 0, func(int) bool { present++; return true })
	assert.Equal(t, 3, present)
	assert.Len(t, g.Tile(corner).Neighbors[0], 6)

	// Out of range rings are ignored.
	g.EachNeighbor(corner, 5, func(int) bool { t.Fatal("unexpected"); return true })
}
