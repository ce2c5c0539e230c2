package loader

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/talgya/hexworld/internal/world"
)

// WriteDir writes g as a set of data files into dir, creating it if needed.
func WriteDir(dir string, g *world.Graph) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	err := writeFile(filepath.Join(dir, ParamsFile), func(w *bufio.Writer) {
		fmt.Fprintf(w, "%s|%d|%d\n", formatFloat(g.TileSize), g.GridRange, g.NeighborRange)
	})
	if err != nil {
		return err
	}

	err = writeFile(filepath.Join(dir, TileIndicesFile), func(w *bufio.Writer) {
		for i, t := range g.Tiles {
			fmt.Fprintf(w, "%d,%d|%d\n", t.Coord.Q, t.Coord.R, i)
		}
	})
	if err != nil {
		return err
	}

	err = writeFile(filepath.Join(dir, TilesFile), func(w *bufio.Writer) {
		for _, t := range g.Tiles {
			fmt.Fprintf(w, "%d,%d|%s,%s\n", t.Coord.Q, t.Coord.R,
				formatFloat(t.Position.X()), formatFloat(t.Position.Y()))
		}
	})
	if err != nil {
		return err
	}

	for radius := 1; radius <= g.NeighborRange; radius++ {
		ring := radius - 1
		err = writeFile(filepath.Join(dir, NeighborFile(radius)), func(w *bufio.Writer) {
			for i, t := range g.Tiles {
				var coords []string
				if ring < len(t.Neighbors) {
					coords = make([]string, len(t.Neighbors[ring]))
					for k, c := range t.Neighbors[ring] {
						coords[k] = fmt.Sprintf("%d,%d", c.Q, c.R)
					}
				}
				fmt.Fprintf(w, "%d|%s\n", i, strings.Join(coords, " "))
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, fill func(w *bufio.Writer)) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	fill(w)
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Load reads a complete graph from fsys in one call. The grid workflow
// reads the same files incrementally; Load is for tools and inspection.
func Load(fsys fs.FS) (*world.Graph, error) {
	params, err := ReadParams(fsys, ParamsFile)
	if err != nil {
		return nil, err
	}
	g := world.NewGraph(params.TileSize, params.GridRange, params.NeighborRange)

	indices, err := Open(fsys, TileIndicesFile)
	if err != nil {
		return nil, err
	}
	defer indices.Close()
	for indices.More() {
		coord, index, err := ParseTileIndexLine(indices.Take())
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", TileIndicesFile, indices.Line(), err)
		}
		g.Index[coord] = index
	}
	if err := indices.Err(); err != nil {
		return nil, err
	}

	tiles, err := Open(fsys, TilesFile)
	if err != nil {
		return nil, err
	}
	defer tiles.Close()
	for tiles.More() {
		line := tiles.Take()
		if err := AppendTile(g, line); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", TilesFile, tiles.Line(), err)
		}
	}
	if err := tiles.Err(); err != nil {
		return nil, err
	}

	for radius := 1; radius <= params.NeighborRange; radius++ {
		name := NeighborFile(radius)
		r, err := Open(fsys, name)
		if err != nil {
			return nil, err
		}
		for r.More() {
			if err := SetNeighbors(g, radius, r.Take()); err != nil {
				r.Close()
				return nil, fmt.Errorf("%s line %d: %w", name, r.Line(), err)
			}
		}
		err = r.Err()
		r.Close()
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// AppendTile parses a Tiles.data line and appends the tile to g. The tile
// must be the next index and agree with the index map.
func AppendTile(g *world.Graph, line string) error {
	coord, pos, err := ParseTileLine(line)
	if err != nil {
		return err
	}
	want := g.Len()
	if index, ok := g.Index[coord]; !ok || index != want {
		return fmt.Errorf("%w: tile %v is index %d, map says %d (present=%t)", ErrMalformed, coord, want, index, ok)
	}
	t := world.NewTile(coord, pos)
	t.Neighbors = make([][]world.HexCoord, g.NeighborRange)
	g.Tiles = append(g.Tiles, t)
	return nil
}

// SetNeighbors parses an N<radius>.data line into the ring of its tile.
func SetNeighbors(g *world.Graph, radius int, line string) error {
	index, ring, err := ParseNeighborsLine(line)
	if err != nil {
		return err
	}
	t := g.Tile(index)
	if t == nil {
		return fmt.Errorf("%w: ring %d references tile %d of %d", ErrMalformed, radius, index, g.Len())
	}
	if radius < 1 || radius > len(t.Neighbors) {
		return fmt.Errorf("%w: ring radius %d out of range", ErrMalformed, radius)
	}
	t.Neighbors[radius-1] = ring
	return nil
}
