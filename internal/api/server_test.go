package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/grid"
	"github.com/talgya/hexworld/internal/loader"
	"github.com/talgya/hexworld/internal/metrics"
	"github.com/talgya/hexworld/internal/persistence"
	"github.com/talgya/hexworld/internal/terrain"
	"github.com/talgya/hexworld/internal/world"
)

type fixture struct {
	grid   *grid.Grid
	layout *world.Graph
	reg    *prometheus.Registry
}

func classified(t *testing.T) fixture {
	t.Helper()
	tcfg := terrain.DefaultConfig()
	tcfg.Seed = 5
	tcfg.Rows = 10
	tcfg.Columns = 10
	tcfg.TileSize = 20
	tcfg.TileHeight = 200
	tcfg.Horizon = 0

	layout := world.BuildHexagon(15, 3, 2)
	dir := t.TempDir()
	require.NoError(t, loader.WriteDir(dir, layout))

	gcfg := grid.DefaultConfig(os.DirFS(dir))
	gcfg.WalkingAltitudeRatio = 0.9
	gcfg.WalkingSlopeRatio = 0.9
	gcfg.BuildingAltitudeRatio = 0.9
	gcfg.BuildingSlopeRatio = 0.9
	gcfg.WaitRate = 0
	gcfg.Budget = flow.Budget{CountLimit: 50}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	loop := flow.NewLoop()
	tr := terrain.New(tcfg, loop, terrain.WithLoop(0, 100), terrain.WithMetrics(rec))
	g := grid.New(gcfg, loop, tr, grid.WithMetrics(rec))
	tr.Start()
	g.Start()
	loop.Drain(0)
	require.True(t, g.Done(), "%v", g.Err())
	return fixture{grid: g, layout: layout, reg: reg}
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestNotReady(t *testing.T) {
	g := grid.New(grid.DefaultConfig(nil), flow.NewLoop(), nil)
	h := (&Server{Grid: g}).Handler(nil)

	var status map[string]any
	decode(t, get(t, h, "/api/v1/status"), &status)
	assert.Equal(t, "Init", status["state"])
	assert.NotContains(t, status, "summary")

	for _, target := range []string{
		"/api/v1/tile?q=0&r=0",
		"/api/v1/tile/0",
		"/api/v1/pick?x=0&y=0",
		"/api/v1/chunks",
		"/api/v1/sites",
	} {
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, target).Code, target)
	}
}

func TestStatus(t *testing.T) {
	f := classified(t)
	s := &Server{Grid: f.grid}
	s.SetRunID("run-1")
	h := s.Handler(nil)

	var status struct {
		State    string       `json:"state"`
		Progress float64      `json:"progress"`
		RunID    string       `json:"run_id"`
		Summary  grid.Summary `json:"summary"`
	}
	decode(t, get(t, h, "/api/v1/status"), &status)
	assert.Equal(t, "Done", status.State)
	assert.Equal(t, 1.0, status.Progress)
	assert.Equal(t, "run-1", status.RunID)
	assert.Equal(t, f.grid.Summarize(), status.Summary)
	assert.Equal(t, f.layout.Len(), status.Summary.Tiles)
}

func TestTileEndpoints(t *testing.T) {
	f := classified(t)
	h := (&Server{Grid: f.grid}).Handler(nil)

	var byCoord struct {
		Index int            `json:"index"`
		Coord world.HexCoord `json:"coord"`
		Level int            `json:"walking_block_level"`
	}
	decode(t, get(t, h, "/api/v1/tile?q=1&r=-1"), &byCoord)
	want, ok := f.grid.Lookup(world.HexCoord{Q: 1, R: -1})
	require.True(t, ok)
	assert.Equal(t, want, byCoord.Index)
	assert.Equal(t, world.HexCoord{Q: 1, R: -1}, byCoord.Coord)
	tile, _ := f.grid.TileAt(want)
	assert.Equal(t, tile.WalkingBlockLevel, byCoord.Level)

	var byIndex struct {
		Index int            `json:"index"`
		Coord world.HexCoord `json:"coord"`
	}
	decode(t, get(t, h, fmt.Sprintf("/api/v1/tile/%d", want)), &byIndex)
	assert.Equal(t, byCoord.Coord, byIndex.Coord)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/tile?q=x&r=0").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/tile?q=50&r=0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/tile/abc").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/tile/100000").Code)
}

func TestPickEndpoint(t *testing.T) {
	f := classified(t)
	h := (&Server{Grid: f.grid}).Handler(nil)

	center, _ := f.layout.Lookup(world.HexCoord{})
	pos := f.layout.Tiles[center].Position

	var pick struct {
		Index     int            `json:"index"`
		Coord     world.HexCoord `json:"coord"`
		Highlight []int          `json:"highlight"`
	}
	decode(t, get(t, h, fmt.Sprintf("/api/v1/pick?x=%g&y=%g&radius=2", pos.X()+1, pos.Y()-1)), &pick)
	assert.Equal(t, center, pick.Index)
	assert.Equal(t, world.HexCoord{}, pick.Coord)
	assert.Len(t, pick.Highlight, 19)

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/pick?x=1").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/pick?x=1&y=1&radius=-1").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/pick?x=9000&y=9000").Code)
}

func TestChunksEndpoint(t *testing.T) {
	f := classified(t)
	h := (&Server{Grid: f.grid}).Handler(nil)

	var chunks []struct {
		Size      int  `json:"size"`
		Connected bool `json:"connected"`
	}
	decode(t, get(t, h, "/api/v1/chunks"), &chunks)
	require.Len(t, chunks, len(f.grid.Chunks()))
	for k := 1; k < len(chunks); k++ {
		assert.GreaterOrEqual(t, chunks[k-1].Size, chunks[k].Size)
	}
	if len(chunks) > 0 {
		assert.True(t, chunks[0].Connected)
	}
}

func TestSitesEndpoint(t *testing.T) {
	f := classified(t)
	s := &Server{Grid: f.grid, Placement: grid.DefaultPlacementConfig()}
	h := s.Handler(NewRateLimiter(2, time.Minute))

	var sites []grid.Site
	decode(t, get(t, h, "/api/v1/sites?seed=4"), &sites)
	cfg := grid.DefaultPlacementConfig()
	cfg.Seed = 4
	assert.Len(t, sites, len(f.grid.PlaceSites(cfg)))

	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/sites?seed=x").Code)

	limited := get(t, h, "/api/v1/sites")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))
}

func TestLatestRunEndpoint(t *testing.T) {
	f := classified(t)
	db, err := persistence.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	defer db.Close()

	h := (&Server{Grid: f.grid, DB: db}).Handler(nil)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/latest").Code)

	id, err := db.SaveGrid(f.grid)
	require.NoError(t, err)

	var run persistence.Run
	decode(t, get(t, h, "/api/v1/runs/latest"), &run)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, f.layout.Len(), run.Tiles)

	noDB := (&Server{Grid: f.grid}).Handler(nil)
	assert.Equal(t, http.StatusNotFound, get(t, noDB, "/api/v1/runs/latest").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := classified(t)
	h := (&Server{Grid: f.grid, Gatherer: f.reg}).Handler(nil)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hexworld_activations_total{stage="SetTilesPosZ",workflow="hexgrid"}`)
	assert.Contains(t, rec.Body.String(), `hexworld_stages_completed_total{stage="DrawMesh",workflow="terrain"}`)
}

func TestCORS(t *testing.T) {
	g := grid.New(grid.DefaultConfig(nil), flow.NewLoop(), nil)
	h := (&Server{Grid: g}).Handler(nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
