// Package loader reads and writes the hex grid data files.
//
// The files are line oriented. Fields are separated by '|', components of a
// coordinate or position by ',' and list items by ' '.
//
//	Params.data       tileSize|gridRange|neighborRange
//	TileIndices.data  q,r|index
//	Tiles.data        q,r|x,y           (line k is tile k)
//	N<radius>.data    index|q,r q,r ... (radius 1..neighborRange)
package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/hexworld/internal/world"
)

// Default file names.
const (
	ParamsFile      = "Params.data"
	TileIndicesFile = "TileIndices.data"
	TilesFile       = "Tiles.data"
)

const (
	pipeDelim  = "|"
	commaDelim = ","
	paramNum   = 3
)

// ErrMalformed is returned for lines that do not match the file format.
var ErrMalformed = errors.New("malformed data line")

// NeighborFile returns the ring file name for radius.
func NeighborFile(radius int) string {
	return fmt.Sprintf("N%d.data", radius)
}

// Params is the grid header.
type Params struct {
	TileSize      float64
	GridRange     int
	NeighborRange int
}

// ParseParams parses the single line of Params.data.
func ParseParams(line string) (Params, error) {
	fields := splitFields(line, pipeDelim)
	if len(fields) != paramNum {
		return Params{}, fmt.Errorf("%w: params want %d fields, got %d", ErrMalformed, paramNum, len(fields))
	}

	size, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return Params{}, fmt.Errorf("%w: tile size: %v", ErrMalformed, err)
	}
	gridRange, err := strconv.Atoi(fields[1])
	if err != nil {
		return Params{}, fmt.Errorf("%w: grid range: %v", ErrMalformed, err)
	}
	neighborRange, err := strconv.Atoi(fields[2])
	if err != nil {
		return Params{}, fmt.Errorf("%w: neighbor range: %v", ErrMalformed, err)
	}
	if size <= 0 || gridRange < 0 || neighborRange < 1 {
		return Params{}, fmt.Errorf("%w: params out of range %q", ErrMalformed, line)
	}
	return Params{TileSize: size, GridRange: gridRange, NeighborRange: neighborRange}, nil
}

// ParseTileIndexLine parses "q,r|index".
func ParseTileIndexLine(line string) (world.HexCoord, int, error) {
	fields := splitFields(line, pipeDelim)
	if len(fields) != 2 {
		return world.HexCoord{}, 0, fmt.Errorf("%w: tile index %q", ErrMalformed, line)
	}
	coord, err := parseCoord(fields[0])
	if err != nil {
		return world.HexCoord{}, 0, err
	}
	index, err := strconv.Atoi(fields[1])
	if err != nil || index < 0 {
		return world.HexCoord{}, 0, fmt.Errorf("%w: tile index %q", ErrMalformed, fields[1])
	}
	return coord, index, nil
}

// ParseTileLine parses "q,r|x,y".
func ParseTileLine(line string) (world.HexCoord, mgl64.Vec2, error) {
	fields := splitFields(line, pipeDelim)
	if len(fields) != 2 {
		return world.HexCoord{}, mgl64.Vec2{}, fmt.Errorf("%w: tile %q", ErrMalformed, line)
	}
	coord, err := parseCoord(fields[0])
	if err != nil {
		return world.HexCoord{}, mgl64.Vec2{}, err
	}
	pos, err := parseVec2(fields[1])
	if err != nil {
		return world.HexCoord{}, mgl64.Vec2{}, err
	}
	return coord, pos, nil
}

// ParseNeighborsLine parses "index|q,r q,r ...". The ring may be empty.
func ParseNeighborsLine(line string) (int, []world.HexCoord, error) {
	fields := strings.SplitN(strings.TrimSpace(line), pipeDelim, 2)
	if len(fields) != 2 {
		return 0, nil, fmt.Errorf("%w: neighbors %q", ErrMalformed, line)
	}
	index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil || index < 0 {
		return 0, nil, fmt.Errorf("%w: neighbors index %q", ErrMalformed, fields[0])
	}

	items := strings.Fields(fields[1])
	ring := make([]world.HexCoord, 0, len(items))
	for _, item := range items {
		coord, err := parseCoord(item)
		if err != nil {
			return 0, nil, err
		}
		ring = append(ring, coord)
	}
	return index, ring, nil
}

func parseCoord(s string) (world.HexCoord, error) {
	parts := splitFields(s, commaDelim)
	if len(parts) != 2 {
		return world.HexCoord{}, fmt.Errorf("%w: coordinate %q", ErrMalformed, s)
	}
	q, err := strconv.Atoi(parts[0])
	if err != nil {
		return world.HexCoord{}, fmt.Errorf("%w: coordinate %q", ErrMalformed, s)
	}
	r, err := strconv.Atoi(parts[1])
	if err != nil {
		return world.HexCoord{}, fmt.Errorf("%w: coordinate %q", ErrMalformed, s)
	}
	return world.HexCoord{Q: q, R: r}, nil
}

func parseVec2(s string) (mgl64.Vec2, error) {
	parts := splitFields(s, commaDelim)
	if len(parts) != 2 {
		return mgl64.Vec2{}, fmt.Errorf("%w: position %q", ErrMalformed, s)
	}
	x, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return mgl64.Vec2{}, fmt.Errorf("%w: position %q", ErrMalformed, s)
	}
	y, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return mgl64.Vec2{}, fmt.Errorf("%w: position %q", ErrMalformed, s)
	}
	return mgl64.Vec2{x, y}, nil
}

// splitFields splits on sep, trims whitespace and drops empty fields.
func splitFields(s, sep string) []string {
	raw := strings.Split(s, sep)
	out := raw[:0]
	for _, f := range raw {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// LineReader reads a data file one non-blank line at a time. It stays open
// across workflow activations so a stage can stop between lines and pick up
// where it left off.
type LineReader struct {
	name string
	f    fs.File
	sc   *bufio.Scanner

	line       int // Lines handed out so far
	pending    string
	hasPending bool
}

// Open opens name in fsys.
func Open(fsys fs.FS, name string) (*LineReader, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &LineReader{name: name, f: f, sc: sc}, nil
}

// Name returns the file name.
func (r *LineReader) Name() string {
	return r.name
}

// More reports whether another line is available without consuming it.
func (r *LineReader) More() bool {
	if r.hasPending {
		return true
	}
	for r.sc.Scan() {
		text := r.sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		r.pending = text
		r.hasPending = true
		return true
	}
	return false
}

// Take consumes the line More found.
func (r *LineReader) Take() string {
	if !r.More() {
		return ""
	}
	r.hasPending = false
	r.line++
	return r.pending
}

// Line returns the number of lines consumed.
func (r *LineReader) Line() int {
	return r.line
}

// Err returns the first read error.
func (r *LineReader) Err() error {
	if err := r.sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", r.name, err)
	}
	return nil
}

// Close closes the underlying file.
func (r *LineReader) Close() error {
	return r.f.Close()
}

// ReadParams reads Params.data.
func ReadParams(fsys fs.FS, name string) (Params, error) {
	r, err := Open(fsys, name)
	if err != nil {
		return Params{}, err
	}
	defer r.Close()

	if !r.More() {
		if err := r.Err(); err != nil {
			return Params{}, err
		}
		return Params{}, fmt.Errorf("%w: %s is empty", ErrMalformed, name)
	}
	return ParseParams(r.Take())
}
