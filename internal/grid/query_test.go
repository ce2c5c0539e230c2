package grid

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/world"
)

func doneGrid(t *testing.T, opts ...Option) (*Grid, *world.Graph) {
	t.Helper()
	layout, wall := wallLayout()
	g := runGrid(t, testConfig(writeGraph(t, layout), 100), newFakeTerrain(layout, wall), opts...)
	require.True(t, g.Done(), "%v", g.Err())
	return g, layout
}

func TestQueriesBeforeDone(t *testing.T) {
	layout := world.BuildHexagon(testTileSize, 2, 1)
	loop := flow.NewLoop()
	g := New(testConfig(writeGraph(t, layout), 1), loop, newFakeTerrain(layout, scattered))
	g.Start()
	loop.Drain(8)

	require.False(t, g.Done())
	_, ok := g.Lookup(world.HexCoord{})
	assert.False(t, ok)
	_, ok = g.TileAt(0)
	assert.False(t, ok)
	_, ok = g.Pick(mgl64.Vec2{})
	assert.False(t, ok)
	assert.Nil(t, g.Highlight(0, 1))
	assert.Nil(t, g.Graph())
	assert.Nil(t, g.PlaceSites(DefaultPlacementConfig()))
	assert.Equal(t, Summary{}, g.Summarize())
}

func TestLookupAndTileAt(t *testing.T) {
	g, layout := doneGrid(t)
	for i, want := range layout.Tiles {
		j, ok := g.Lookup(want.Coord)
		require.True(t, ok)
		assert.Equal(t, i, j)

		tile, ok := g.TileAt(i)
		require.True(t, ok)
		assert.Equal(t, want.Coord, tile.Coord)
	}
	_, ok := g.Lookup(world.HexCoord{Q: 40, R: 0})
	assert.False(t, ok)
	_, ok = g.TileAt(-1)
	assert.False(t, ok)

	// TileAt hands out copies.
	tile, _ := g.TileAt(0)
	tile.IsLand = !tile.IsLand
	again, _ := g.TileAt(0)
	assert.NotEqual(t, tile.IsLand, again.IsLand)
}

func TestPick(t *testing.T) {
	g, layout := doneGrid(t)
	for i, tile := range layout.Tiles {
		got, ok := g.Pick(tile.Position)
		require.True(t, ok)
		assert.Equal(t, i, got, "center of %v", tile.Coord)

		nudged := tile.Position.Add(mgl64.Vec2{testTileSize * 0.3, -testTileSize * 0.2})
		got, ok = g.Pick(nudged)
		require.True(t, ok)
		assert.Equal(t, i, got, "inside %v", tile.Coord)
	}

	_, ok := g.Pick(mgl64.Vec2{1e5, 1e5})
	assert.False(t, ok)
}

func TestHighlight(t *testing.T) {
	g, _ := doneGrid(t)
	center, ok := g.Lookup(world.HexCoord{})
	require.True(t, ok)

	assert.Equal(t, []int{center}, g.Highlight(center, 0))
	ring := g.Highlight(center, 1)
	assert.Len(t, ring, 7)
	assert.Equal(t, center, ring[0])

	// Clamped to the single loaded ring.
	assert.Equal(t, ring, g.Highlight(center, 5))

	corner, _ := g.Lookup(world.HexCoord{Q: 6, R: 0})
	assert.Len(t, g.Highlight(corner, 1), 4)
	assert.Nil(t, g.Highlight(-3, 1))
}

func TestDrawInstances(t *testing.T) {
	var sink Instances
	g, _ := doneGrid(t, WithSink(&sink))

	require.Equal(t, countDrawable(g), len(sink))
	require.NotEmpty(t, sink)
	walkMax := g.walkingMax()
	for _, inst := range sink {
		tile, ok := g.TileAt(inst.Tile)
		require.True(t, ok)
		assert.Greater(t, tile.WalkingBlockLevel, 0)
		assert.False(t, tile.IsLand)
		assert.Equal(t, tile.Coord, inst.Coord)
		assert.InDelta(t, tile.AvgPositionZ+2, inst.Position.Z(), 1e-9)
		assert.InDelta(t, testTileSize/100, inst.Scale, 1e-9)

		h, s, v := inst.Color.Hsv()
		assert.InDelta(t, 120.0/float64(walkMax)*float64(tile.WalkingBlockLevel), h, 1e-6)
		assert.GreaterOrEqual(t, s, 0.5)
		assert.InDelta(t, 1.0, v, 1e-9)

		// The rotation carries the up axis onto the tile normal.
		assert.True(t, inst.Rotation.Rotate(mgl64.Vec3{0, 0, 1}).ApproxEqualThreshold(tile.Normal, 1e-9))
	}
}

func TestDrawDisabled(t *testing.T) {
	layout, wall := wallLayout()
	cfg := testConfig(writeGraph(t, layout), 100)
	cfg.ShowGrid = false
	var sink Instances
	g := runGrid(t, cfg, newFakeTerrain(layout, wall), WithSink(&sink))
	require.True(t, g.Done())
	assert.Empty(t, sink)
}

func TestPlaceSites(t *testing.T) {
	g, _ := doneGrid(t)
	cfg := DefaultPlacementConfig()
	cfg.Seed = 9
	sites := g.PlaceSites(cfg)
	require.NotEmpty(t, sites)
	assert.Equal(t, sites, g.PlaceSites(cfg), "deterministic for a seed")

	minDist := map[SiteSize]int{SiteLarge: cfg.LargeDist, SiteMedium: cfg.MediumDist, SiteSmall: cfg.SmallDist}
	for k, site := range sites {
		tile, ok := g.TileAt(site.Tile)
		require.True(t, ok)
		assert.False(t, tile.IsLand)
		assert.True(t, tile.WalkingConnection)
		assert.Greater(t, site.Score, 0.0)
		for _, earlier := range sites[:k] {
			assert.GreaterOrEqual(t, world.Distance(site.Coord, earlier.Coord), minDist[site.Size])
		}
	}
	assert.Equal(t, SiteLarge, sites[0].Size)
}

func TestProgress(t *testing.T) {
	layout := world.BuildHexagon(testTileSize, 3, 1)
	loop := flow.NewLoop()
	g := New(testConfig(writeGraph(t, layout), 1), loop, newFakeTerrain(layout, scattered))
	g.Start()

	for g.State() != StateSetTilesPosZ {
		require.Equal(t, 1, loop.Drain(1))
	}
	assert.Zero(t, g.Progress())
	loop.Drain(5)
	require.Equal(t, StateSetTilesPosZ, g.State())
	assert.InDelta(t, 10.0/float64(layout.Len()), g.Progress(), 1e-9)

	loop.Drain(0)
	assert.Equal(t, 1.0, g.Progress())
}
