package grid

import (
	"io/fs"
	"os"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/loader"
	"github.com/talgya/hexworld/internal/world"
)

const testTileSize = 10.0

// fakeTerrain is flat at zero except for raised discs around the given
// centers. A disc covers exactly the corners of the tile at its center, so
// a raised tile is flat at peak height and its neighbors share at most
// three raised corners.
type fakeTerrain struct {
	peaks      []mgl64.Vec2
	peak       float64
	polls      int
	readyAfter int
	failed     bool
}

func newFakeTerrain(g *world.Graph, raised func(c world.HexCoord) bool) *fakeTerrain {
	f := &fakeTerrain{peak: 10}
	for _, t := range g.Tiles {
		if raised(t.Coord) {
			f.peaks = append(f.peaks, t.Position)
		}
	}
	return f
}

func (f *fakeTerrain) Altitude(p mgl64.Vec2) float64 {
	for _, c := range f.peaks {
		if c.Sub(p).Len() <= testTileSize*1.01 {
			return f.peak
		}
	}
	return 0
}

func (f *fakeTerrain) MaxAltitude() float64 { return f.peak }
func (f *fakeTerrain) WaterBase() float64   { return -1 }
func (f *fakeTerrain) Width() float64       { return 1e6 }
func (f *fakeTerrain) Height() float64      { return 1e6 }
func (f *fakeTerrain) Failed() bool         { return f.failed }

func (f *fakeTerrain) Ready() bool {
	f.polls++
	return !f.failed && f.polls > f.readyAfter
}

// writeGraph stores g as data files and returns them as a filesystem.
func writeGraph(t *testing.T, g *world.Graph) fs.FS {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, loader.WriteDir(dir, g))
	return os.DirFS(dir)
}

// testConfig: raised tiles (avg 10) are blocked, tiles touching them
// (avg at most 5) are not.
func testConfig(data fs.FS, countLimit int) Config {
	cfg := DefaultConfig(data)
	cfg.WalkingAltitudeRatio = 0.6
	cfg.WalkingSlopeRatio = 0.8
	cfg.BuildingAltitudeRatio = 0.6
	cfg.BuildingSlopeRatio = 0.8
	cfg.WaitRate = 0
	cfg.Budget = flow.Budget{Rate: 0, CountLimit: countLimit}
	return cfg
}

// runGrid drives a grid workflow to completion on a fresh loop.
func runGrid(t *testing.T, cfg Config, terrain Terrain, opts ...Option) *Grid {
	t.Helper()
	loop := flow.NewLoop()
	g := New(cfg, loop, terrain, opts...)
	g.Start()
	loop.Drain(0)
	require.Zero(t, loop.Pending())
	return g
}

// gridSquare builds an n x n parallelogram of axial coordinates with
// neighborRange rings, ring entries outside the square kept.
func gridSquare(n, neighborRange int) *world.Graph {
	g := world.NewGraph(testTileSize, n, neighborRange)
	for q := 0; q < n; q++ {
		for r := 0; r < n; r++ {
			c := world.HexCoord{Q: q, R: r}
			tile := world.NewTile(c, c.ToPixel(testTileSize))
			tile.Neighbors = make([][]world.HexCoord, neighborRange)
			for ring := range tile.Neighbors {
				tile.Neighbors[ring] = c.Ring(ring + 1)
			}
			g.Append(tile)
		}
	}
	return g
}

// snapshot copies every tile for comparison.
func snapshot(g *world.Graph) []world.Tile {
	out := make([]world.Tile, g.Len())
	for i, t := range g.Tiles {
		out[i] = *t
	}
	return out
}

func minDistance(c world.HexCoord, targets []world.HexCoord) int {
	best := -1
	for _, tc := range targets {
		if d := world.Distance(c, tc); best < 0 || d < best {
			best = d
		}
	}
	return best
}
