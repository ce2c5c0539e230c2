package loader

import (
	"errors"
	"io/fs"
	"os"
	"testing"
	"testing/fstest"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexworld/internal/world"
)

func TestParseParams(t *testing.T) {
	p, err := ParseParams("100.5|12|3")
	require.NoError(t, err)
	assert.Equal(t, Params{TileSize: 100.5, GridRange: 12, NeighborRange: 3}, p)

	for _, line := range []string{"", "1|2", "1|2|3|4", "a|2|3", "1|b|3", "1|2|c", "0|2|3", "1|2|0"} {
		_, err := ParseParams(line)
		assert.ErrorIs(t, err, ErrMalformed, line)
	}
}

func TestParseLines(t *testing.T) {
	coord, index, err := ParseTileIndexLine("-2,3|17")
	require.NoError(t, err)
	assert.Equal(t, world.HexCoord{Q: -2, R: 3}, coord)
	assert.Equal(t, 17, index)

	coord, pos, err := ParseTileLine("1,-1|150,-86.6")
	require.NoError(t, err)
	assert.Equal(t, world.HexCoord{Q: 1, R: -1}, coord)
	assert.Equal(t, mgl64.Vec2{150, -86.6}, pos)

	index, ring, err := ParseNeighborsLine("4|0,1 1,0 -1,1")
	require.NoError(t, err)
	assert.Equal(t, 4, index)
	assert.Equal(t, []world.HexCoord{{Q: 0, R: 1}, {Q: 1, R: 0}, {Q: -1, R: 1}}, ring)

	index, ring, err = ParseNeighborsLine("9|")
	require.NoError(t, err)
	assert.Equal(t, 9, index)
	assert.Empty(t, ring)

	bad := []func() error{
		func() error { _, _, err := ParseTileIndexLine("1,2"); return err },
		func() error { _, _, err := ParseTileIndexLine("1|2"); return err },
		func() error { _, _, err := ParseTileIndexLine("1,2|-1"); return err },
		func() error { _, _, err := ParseTileLine("1,2|x,1"); return err },
		func() error { _, _, err := ParseTileLine("1,2|3"); return err },
		func() error { _, _, err := ParseNeighborsLine("0 1,1"); return err },
		func() error { _, _, err := ParseNeighborsLine("0|1,1 2"); return err },
	}
	for i, f := range bad {
		assert.ErrorIs(t, f(), ErrMalformed, "case %d", i)
	}
}

func TestLineReaderSkipsBlankLines(t *testing.T) {
	fsys := fstest.MapFS{"f.data": {Data: []byte("a\n\n  \nb\nc\n\n")}}
	r, err := Open(fsys, "f.data")
	require.NoError(t, err)
	defer r.Close()

	var got []string
	for r.More() {
		assert.True(t, r.More(), "More must not consume")
		got = append(got, r.Take())
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 3, r.Line())
	assert.Equal(t, "", r.Take())
}

func TestOpenMissing(t *testing.T) {
	_, err := Open(fstest.MapFS{}, TilesFile)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = ReadParams(fstest.MapFS{ParamsFile: {Data: []byte("\n")}}, ParamsFile)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestWriteDirRoundTrip(t *testing.T) {
	built := world.BuildHexagon(100, 3, 2)
	dir := t.TempDir()
	require.NoError(t, WriteDir(dir, built))

	loaded, err := Load(os.DirFS(dir))
	require.NoError(t, err)

	assert.Equal(t, built.TileSize, loaded.TileSize)
	assert.Equal(t, built.GridRange, loaded.GridRange)
	assert.Equal(t, built.NeighborRange, loaded.NeighborRange)
	require.Equal(t, built.Len(), loaded.Len())
	for i, want := range built.Tiles {
		got := loaded.Tile(i)
		assert.Equal(t, want.Coord, got.Coord)
		assert.InDelta(t, want.Position.X(), got.Position.X(), 1e-9)
		assert.InDelta(t, want.Position.Y(), got.Position.Y(), 1e-9)
		assert.Equal(t, want.Neighbors, got.Neighbors)
		assert.Equal(t, world.LevelUnset, got.WalkingBlockLevel)
	}
}

func TestLoadIndexMismatch(t *testing.T) {
	fsys := fstest.MapFS{
		ParamsFile:      {Data: []byte("10|1|1\n")},
		TileIndicesFile: {Data: []byte("0,0|0\n1,0|1\n")},
		TilesFile:       {Data: []byte("1,0|15,8\n0,0|0,0\n")},
		"N1.data":       {Data: []byte("0|\n1|\n")},
	}
	_, err := Load(fsys)
	assert.ErrorIs(t, err, ErrMalformed)

	fsys[TilesFile] = &fstest.MapFile{Data: []byte("0,0|0,0\n1,0|15,8\n")}
	g, err := Load(fsys)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Len())

	fsys["N1.data"] = &fstest.MapFile{Data: []byte("5|0,0\n")}
	_, err = Load(fsys)
	assert.True(t, errors.Is(err, ErrMalformed))

	delete(fsys, "N1.data")
	_, err = Load(fsys)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}
