package grid

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/hexworld/internal/world"
)

// Query methods read the graph once the workflow is Done. Nothing writes
// it after that, so they are safe to call from other goroutines.

// State returns the current workflow stage.
func (g *Grid) State() State {
	return g.state
}

// Err returns the error that stopped the workflow, if any.
func (g *Grid) Err() error {
	return g.err
}

// Done reports whether classification has finished.
func (g *Grid) Done() bool {
	return g.state == StateDone
}

// Graph returns the classified graph, or nil before Done.
func (g *Grid) Graph() *world.Graph {
	if !g.Done() {
		return nil
	}
	return g.graph
}

// Retries returns how many connectivity retries ran.
func (g *Grid) Retries() int {
	return g.retries
}

// WalkingCriteria returns the walking criteria in effect.
func (g *Grid) WalkingCriteria() Criteria {
	return g.walking
}

// BuildingCriteria returns the building criteria in effect.
func (g *Grid) BuildingCriteria() Criteria {
	return g.building
}

// Chunks returns the connectivity chunks, largest first once verified.
func (g *Grid) Chunks() []Chunk {
	if g.chunker == nil {
		return nil
	}
	return g.chunker.Chunks
}

// Progress returns the completion fraction of the current stage.
func (g *Grid) Progress() float64 {
	if g.state == StateDone {
		return 1
	}
	ls, ok := g.loops[g.state]
	if !ok || g.graph == nil {
		return 0
	}

	total := g.graph.Len()
	switch g.state {
	case StateLoadTileIndices, StateLoadTiles:
		total = 0
	case StateLoadNeighbors:
		total = g.graph.Len() * g.graph.NeighborRange
	case StateWalkingBlockLevelEx:
		total = len(g.openPool)
	case StateChunkConnectivity:
		total = len(g.walkPool)
	case StateVerifyConnectivity:
		total = len(g.Chunks())
	}
	if total <= 0 {
		return 0
	}
	return math.Min(1, float64(ls.Count)/float64(total))
}

// Lookup returns the tile index for coord.
func (g *Grid) Lookup(coord world.HexCoord) (int, bool) {
	if !g.Done() {
		return 0, false
	}
	return g.graph.Lookup(coord)
}

// TileAt returns a copy of tile i.
func (g *Grid) TileAt(i int) (world.Tile, bool) {
	if !g.Done() {
		return world.Tile{}, false
	}
	t := g.graph.Tile(i)
	if t == nil {
		return world.Tile{}, false
	}
	return *t, true
}

// Pick returns the tile whose center is nearest p among the four cells
// obtained by rounding the fractional axial position toward and away from
// zero.
func (g *Grid) Pick(p mgl64.Vec2) (int, bool) {
	if !g.Done() {
		return 0, false
	}

	f := world.PixelToFractional(p, g.graph.TileSize)
	qa, qt := roundFromZero(f.Q), math.Trunc(f.Q)
	ra, rt := roundFromZero(f.R), math.Trunc(f.R)
	candidates := [4]world.HexCoord{
		{Q: int(qa), R: int(ra)},
		{Q: int(qa), R: int(rt)},
		{Q: int(qt), R: int(ra)},
		{Q: int(qt), R: int(rt)},
	}

	best, bestDist, found := 0, math.Inf(1), false
	for _, c := range candidates {
		i, ok := g.graph.Lookup(c)
		if !ok {
			continue
		}
		if d := g.graph.Tiles[i].Position.Sub(p).Len(); d < bestDist {
			best, bestDist, found = i, d, true
		}
	}
	return best, found
}

func roundFromZero(v float64) float64 {
	if v < 0 {
		return math.Floor(v)
	}
	return math.Ceil(v)
}

// Highlight returns tile i followed by its present neighbors out to radius,
// ring by ring. radius is clamped to the neighbor range.
func (g *Grid) Highlight(i, radius int) []int {
	if !g.Done() || g.graph.Tile(i) == nil {
		return nil
	}
	radius = max(0, min(radius, g.graph.NeighborRange))

	out := []int{i}
	for ring := 0; ring < radius; ring++ {
		g.graph.EachNeighbor(i, ring, func(j int) bool {
			out = append(out, j)
			return true
		})
	}
	return out
}

// Summary counts tiles by classification.
type Summary struct {
	Tiles        int `json:"tiles"`
	Blocked      int `json:"blocked"`
	MaxOpen      int `json:"max_open"`
	Land         int `json:"land"`
	Disconnected int `json:"disconnected"`
	Buildable    int `json:"buildable"`
	Chunks       int `json:"chunks"`
}

// Summarize returns classification counts. Zero before Done.
func (g *Grid) Summarize() Summary {
	if !g.Done() {
		return Summary{}
	}
	s := Summary{Tiles: g.graph.Len(), Chunks: len(g.Chunks())}
	walkMax, buildMax := g.walkingMax(), g.buildingMax()
	for _, t := range g.graph.Tiles {
		if t.WalkingBlockLevel == 0 {
			s.Blocked++
		}
		if t.WalkingBlockLevel == walkMax {
			s.MaxOpen++
		}
		if t.IsLand {
			s.Land++
		}
		if !t.WalkingConnection {
			s.Disconnected++
		}
		if t.BuildingBlockLevel == buildMax {
			s.Buildable++
		}
	}
	return s
}
