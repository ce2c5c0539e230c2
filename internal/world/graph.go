package world

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
)

// LevelUnset marks a block level that no classification pass has written.
const LevelUnset = -1

// Tile is a single hex cell of the grid.
type Tile struct {
	Coord    HexCoord   `json:"coord"`
	Position mgl64.Vec2 `json:"position"` // World-space center

	// Corner geometry, set by the vertex stage.
	Vertices  [6]mgl64.Vec2 `json:"-"`
	VerticesZ [6]float64    `json:"-"`

	// Height samples, set once by the terrain sampling stage.
	PositionZ    float64 `json:"position_z"`
	AvgPositionZ float64 `json:"avg_position_z"`

	// Surface orientation, derived from the corner heights.
	Normal    mgl64.Vec3 `json:"normal"`
	AngleToUp float64    `json:"angle_to_up"`

	// Neighbors[i] holds the coordinates at hex distance i+1. Entries may
	// reference coordinates outside the grid; those are skipped.
	Neighbors [][]HexCoord `json:"-"`

	WalkingBlockLevel  int  `json:"walking_block_level"`
	BuildingBlockLevel int  `json:"building_block_level"`
	IsLand             bool `json:"is_land"`
	WalkingConnection  bool `json:"walking_connection"`
}

// NewTile creates a tile with unset block levels.
func NewTile(coord HexCoord, pos mgl64.Vec2) *Tile {
	return &Tile{
		Coord:              coord,
		Position:           pos,
		WalkingBlockLevel:  LevelUnset,
		BuildingBlockLevel: LevelUnset,
		WalkingConnection:  true,
	}
}

// Graph holds every tile of the grid plus the axial lookup index.
type Graph struct {
	Tiles []*Tile
	Index map[HexCoord]int

	TileSize      float64
	GridRange     int
	NeighborRange int // Number of neighbor rings (R)
}

// NewGraph creates an empty graph.
func NewGraph(tileSize float64, gridRange, neighborRange int) *Graph {
	return &Graph{
		Index:         make(map[HexCoord]int),
		TileSize:      tileSize,
		GridRange:     gridRange,
		NeighborRange: neighborRange,
	}
}

// Len returns the number of tiles.
func (g *Graph) Len() int {
	return len(g.Tiles)
}

// Lookup returns the tile index for coord.
func (g *Graph) Lookup(coord HexCoord) (int, bool) {
	i, ok := g.Index[coord]
	if !ok || i < 0 || i >= len(g.Tiles) {
		return 0, false
	}
	return i, true
}

// Tile returns the tile at index i, or nil if out of range.
func (g *Graph) Tile(i int) *Tile {
	if i < 0 || i >= len(g.Tiles) {
		return nil
	}
	return g.Tiles[i]
}

// Append adds a tile and indexes it.
func (g *Graph) Append(t *Tile) int {
	i := len(g.Tiles)
	g.Tiles = append(g.Tiles, t)
	g.Index[t.Coord] = i
	return i
}

// EachNeighbor calls fn with the index of every present neighbor in ring of
// tile i (ring 0 is radius 1). Stops early when fn returns false. Missing
// rings and coordinates absent from the index are skipped.
func (g *Graph) EachNeighbor(i, ring int, fn func(j int) bool) {
	t := g.Tile(i)
	if t == nil || ring < 0 || ring >= len(t.Neighbors) {
		return
	}
	for _, coord := range t.Neighbors[ring] {
		j, ok := g.Lookup(coord)
		if !ok {
			continue
		}
		if !fn(j) {
			return
		}
	}
}

// String returns a summary of the graph.
func (g *Graph) String() string {
	return fmt.Sprintf("Graph(tiles=%d, range=%d, rings=%d)", g.Len(), g.GridRange, g.NeighborRange)
}
