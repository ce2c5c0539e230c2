package world

// BuildHexagon creates the complete graph for a hexagon-shaped grid: every
// hex with max(|q|, |r|, |s|) <= gridRange, flat-top positions for the given
// tile size, and neighborRange rings per tile. Ring entries that fall
// outside the hexagon are kept; consumers skip them through the index.
//
// Tiles are ordered by q, then r, matching the data files cmd/gridgen writes.
func BuildHexagon(tileSize float64, gridRange, neighborRange int) *Graph {
	g := NewGraph(tileSize, gridRange, neighborRange)

	for q := -gridRange; q <= gridRange; q++ {
		for r := -gridRange; r <= gridRange; r++ {
			coord := HexCoord{Q: q, R: r}
			if Distance(coord, HexCoord{}) > gridRange {
				continue
			}

			tile := NewTile(coord, coord.ToPixel(tileSize))
			tile.Neighbors = make([][]HexCoord, neighborRange)
			for radius := 1; radius <= neighborRange; radius++ {
				tile.Neighbors[radius-1] = coord.Ring(radius)
			}
			g.Append(tile)
		}
	}

	return g
}

// HexagonTileCount returns how many tiles BuildHexagon produces.
func HexagonTileCount(gridRange int) int {
	if gridRange < 0 {
		return 0
	}
	return 3*gridRange*(gridRange+1) + 1
}
