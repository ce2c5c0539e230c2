// Package api provides the read-only HTTP API over a classified hex grid.
// Handlers only touch the grid once its workflow has stopped, so the server
// must not be started while the scheduler is still running it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talgya/hexworld/internal/grid"
	"github.com/talgya/hexworld/internal/persistence"
	"github.com/talgya/hexworld/internal/world"
)

// Server serves the grid over HTTP.
type Server struct {
	Grid      *grid.Grid
	DB        *persistence.DB      // Optional; enables /api/v1/runs/latest
	Gatherer  prometheus.Gatherer  // Optional; enables /metrics
	Placement grid.PlacementConfig // Defaults for /api/v1/sites
	Addr      string

	// SitesPerMinute limits site placement requests per client. Zero
	// means 30.
	SitesPerMinute int

	mu    sync.Mutex
	runID string
}

// SetRunID records the persisted run the grid was saved under.
func (s *Server) SetRunID(id string) {
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
}

func (s *Server) currentRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// Handler builds the routed handler. limiter may be nil.
func (s *Server) Handler(limiter *RateLimiter) http.Handler {
	if limiter == nil {
		limiter = s.newLimiter()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/tile", s.handleTileByCoord)
	mux.HandleFunc("GET /api/v1/tile/{index}", s.handleTileByIndex)
	mux.HandleFunc("GET /api/v1/pick", s.handlePick)
	mux.HandleFunc("GET /api/v1/chunks", s.handleChunks)
	mux.HandleFunc("GET /api/v1/sites", RateLimitMiddleware(limiter, s.handleSites))
	if s.DB != nil {
		mux.HandleFunc("GET /api/v1/runs/latest", s.handleLatestRun)
	}
	if s.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return corsMiddleware(mux)
}

func (s *Server) newLimiter() *RateLimiter {
	perMinute := s.SitesPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	return NewRateLimiter(perMinute, time.Minute)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	limiter := s.newLimiter()
	go limiter.Sweep(ctx)

	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", s.Addr, "persistence", s.DB != nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS to a comma-separated list of extra allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"state":    s.Grid.State().String(),
		"progress": s.Grid.Progress(),
		"retries":  s.Grid.Retries(),
		"walking": map[string]float64{
			"altitude_ratio": s.Grid.WalkingCriteria().AltitudeRatio,
			"slope_ratio":    s.Grid.WalkingCriteria().SlopeRatio,
		},
		"building": map[string]float64{
			"altitude_ratio": s.Grid.BuildingCriteria().AltitudeRatio,
			"slope_ratio":    s.Grid.BuildingCriteria().SlopeRatio,
		},
	}
	if err := s.Grid.Err(); err != nil {
		status["error"] = err.Error()
	}
	if s.Grid.Done() {
		status["summary"] = s.Grid.Summarize()
	}
	if id := s.currentRunID(); id != "" {
		status["run_id"] = id
	}
	writeJSON(w, status)
}

// ready writes 503 and returns false until classification is done.
func (s *Server) ready(w http.ResponseWriter) bool {
	if s.Grid.Done() {
		return true
	}
	http.Error(w, "grid not ready: "+s.Grid.State().String(), http.StatusServiceUnavailable)
	return false
}

type tileResponse struct {
	Index int `json:"index"`
	world.Tile
}

func (s *Server) writeTile(w http.ResponseWriter, i int) {
	tile, ok := s.Grid.TileAt(i)
	if !ok {
		http.Error(w, "tile not found", http.StatusNotFound)
		return
	}
	writeJSON(w, tileResponse{Index: i, Tile: tile})
}

// handleTileByCoord serves GET /api/v1/tile?q=&r=.
func (s *Server) handleTileByCoord(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	q, err1 := strconv.Atoi(r.URL.Query().Get("q"))
	rr, err2 := strconv.Atoi(r.URL.Query().Get("r"))
	if err1 != nil || err2 != nil {
		http.Error(w, "usage: /api/v1/tile?q=<int>&r=<int>", http.StatusBadRequest)
		return
	}

	i, ok := s.Grid.Lookup(world.HexCoord{Q: q, R: rr})
	if !ok {
		http.Error(w, "tile not found", http.StatusNotFound)
		return
	}
	s.writeTile(w, i)
}

// handleTileByIndex serves GET /api/v1/tile/{index}.
func (s *Server) handleTileByIndex(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		http.Error(w, "invalid tile index", http.StatusBadRequest)
		return
	}
	s.writeTile(w, i)
}

// handlePick serves GET /api/v1/pick?x=&y=[&radius=], the mouse-over query:
// the tile under a world-space point and its highlighted rings.
func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	query := r.URL.Query()
	x, err1 := strconv.ParseFloat(query.Get("x"), 64)
	y, err2 := strconv.ParseFloat(query.Get("y"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "usage: /api/v1/pick?x=<float>&y=<float>[&radius=<int>]", http.StatusBadRequest)
		return
	}
	radius := 0
	if v := query.Get("radius"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid radius", http.StatusBadRequest)
			return
		}
		radius = n
	}

	i, ok := s.Grid.Pick(mgl64.Vec2{x, y})
	if !ok {
		http.Error(w, "no tile at point", http.StatusNotFound)
		return
	}
	tile, _ := s.Grid.TileAt(i)
	writeJSON(w, map[string]any{
		"index":     i,
		"coord":     tile.Coord,
		"highlight": s.Grid.Highlight(i, radius),
	})
}

// handleChunks serves GET /api/v1/chunks: chunk sizes largest first and
// whether each reaches the largest one.
func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	type chunkInfo struct {
		Size      int            `json:"size"`
		Head      world.HexCoord `json:"head"`
		Connected bool           `json:"connected"`
	}
	chunks := s.Grid.Chunks()
	out := make([]chunkInfo, 0, len(chunks))
	for _, c := range chunks {
		head, _ := s.Grid.TileAt(c[0])
		out = append(out, chunkInfo{Size: len(c), Head: head.Coord, Connected: head.WalkingConnection})
	}
	writeJSON(w, out)
}

// handleSites serves GET /api/v1/sites[?seed=].
func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	cfg := s.Placement
	if v := r.URL.Query().Get("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			http.Error(w, "invalid seed", http.StatusBadRequest)
			return
		}
		cfg.Seed = seed
	}
	sites := s.Grid.PlaceSites(cfg)
	if sites == nil {
		sites = []grid.Site{}
	}
	writeJSON(w, sites)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.DB.LatestRun()
	if err != nil {
		slog.Warn("latest run lookup failed", "error", err)
		http.Error(w, "no saved run", http.StatusNotFound)
		return
	}
	writeJSON(w, run)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
