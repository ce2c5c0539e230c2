// Command hexworld generates a terrain heightmap, classifies a hex grid over
// it, stores the result and serves it over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/talgya/hexworld/internal/api"
	"github.com/talgya/hexworld/internal/config"
	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/grid"
	"github.com/talgya/hexworld/internal/loader"
	"github.com/talgya/hexworld/internal/metrics"
	"github.com/talgya/hexworld/internal/persistence"
	"github.com/talgya/hexworld/internal/terrain"
	"github.com/talgya/hexworld/internal/world"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default $"+config.EnvPath+")")
	fast := flag.Bool("fast", false, "run the workflows without pacing delays")
	serve := flag.Bool("serve", true, "serve the HTTP API after classification")
	inspect := flag.Bool("inspect", false, "print the latest stored run and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if path := cfg.Persistence.Path; path != "" {
		os.MkdirAll(filepath.Dir(path), 0755)
		db, err = persistence.Open(path)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", path)
	}

	if *inspect {
		if db == nil {
			slog.Error("inspect needs persistence.path")
			os.Exit(1)
		}
		if err := inspectLatest(db); err != nil {
			slog.Error("inspect failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// ── Tile data ─────────────────────────────────────────────────────
	data, err := prepareData(cfg.Data)
	if err != nil {
		slog.Error("failed to prepare tile data", "error", err)
		os.Exit(1)
	}

	// ── Workflows ─────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	rec := metrics.New(reg)

	loop := flow.NewLoop()
	tr := terrain.New(cfg.TerrainConfig(), loop,
		terrain.WithMetrics(rec),
		terrain.WithBudgets(cfg.Loop.Budget(), cfg.Loop.TerrainBudgets()),
	)
	var instances grid.Instances
	g := grid.New(cfg.GridConfig(data), loop, tr,
		grid.WithMetrics(rec),
		grid.WithSink(&instances),
	)
	tr.Start()
	g.Start()
	reportProgress(loop, tr, g)

	started := time.Now()
	if *fast {
		n := loop.Drain(0)
		slog.Info("workflows drained", "activations", humanize.Comma(int64(n)))
	} else if err := loop.Run(ctx); err != nil {
		slog.Warn("interrupted before classification finished", "state", g.State().String())
		return
	}

	if !g.Done() {
		slog.Error("hex grid classification failed", "state", g.State().String(), "error", g.Err(), "terrain_error", tr.Err())
		os.Exit(1)
	}
	summary := g.Summarize()
	slog.Info("hex grid classified",
		"took", time.Since(started).Round(time.Millisecond),
		"tiles", humanize.Comma(int64(summary.Tiles)),
		"blocked", humanize.Comma(int64(summary.Blocked)),
		"land", humanize.Comma(int64(summary.Land)),
		"chunks", summary.Chunks,
		"retries", g.Retries(),
		"instances", humanize.Comma(int64(len(instances))),
	)

	// ── Persist ───────────────────────────────────────────────────────
	placement := grid.DefaultPlacementConfig()
	placement.Seed = cfg.Terrain.Seed
	server := &api.Server{
		Grid:      g,
		DB:        db,
		Gatherer:  reg,
		Placement: placement,
		Addr:      cfg.API.Address(),
	}
	if db != nil {
		id, err := db.SaveGrid(g)
		if err != nil {
			slog.Error("failed to save grid", "error", err)
			os.Exit(1)
		}
		if err := db.SaveSites(id, g.PlaceSites(placement)); err != nil {
			slog.Error("failed to save sites", "error", err)
		}
		if err := db.SaveMeta("seed", strconv.FormatInt(cfg.Terrain.Seed, 10)); err != nil {
			slog.Error("failed to save meta", "error", err)
		}
		server.SetRunID(id)
	}

	if !*serve {
		return
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	fmt.Printf("API: http://localhost%s/api/v1/status\n", server.Addr)
	if err := server.Run(ctx); err != nil {
		slog.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	slog.Info("shut down")
}

// prepareData returns the tile data directory, writing a hexagon there first
// when generation is enabled and no parameter file exists yet.
func prepareData(dc config.DataConfig) (fs.FS, error) {
	if dc.Generate {
		_, err := os.Stat(filepath.Join(dc.Dir, dc.ParamsFile))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			g := world.BuildHexagon(dc.TileSize, dc.GridRange, dc.NeighborRange)
			slog.Info("writing tile data", "dir", dc.Dir, "tiles", humanize.Comma(int64(g.Len())))
			if err := loader.WriteDir(dc.Dir, g); err != nil {
				return nil, fmt.Errorf("write tile data: %w", err)
			}
		case err != nil:
			return nil, err
		}
	}
	return os.DirFS(dc.Dir), nil
}

// reportProgress logs stage progress once a second of loop time until both
// workflows stop.
func reportProgress(loop *flow.Loop, tr *terrain.Terrain, g *grid.Grid) {
	var tick func()
	tick = func() {
		if g.State().Terminal() {
			return
		}
		if !tr.Done() {
			slog.Info("terrain progress", "stage", tr.State().String(), "progress", fmt.Sprintf("%.0f%%", 100*tr.Progress()))
		} else {
			slog.Info("hex grid progress", "stage", g.State().String(), "progress", fmt.Sprintf("%.0f%%", 100*g.Progress()))
		}
		loop.After(time.Second, tick)
	}
	loop.After(time.Second, tick)
}

func inspectLatest(db *persistence.DB) error {
	run, err := db.LatestRun()
	if err != nil {
		return err
	}
	tiles, err := db.LoadTiles(run.ID)
	if err != nil {
		return fmt.Errorf("load tiles: %w", err)
	}
	sites, err := db.LoadSites(run.ID)
	if err != nil {
		return fmt.Errorf("load sites: %w", err)
	}

	blocked, land, disconnected := 0, 0, 0
	levels := make(map[int]int)
	for _, t := range tiles {
		levels[t.WalkingBlockLevel]++
		if t.WalkingBlockLevel == 0 {
			blocked++
		}
		if t.IsLand {
			land++
		}
		if !t.WalkingConnection {
			disconnected++
		}
	}

	fmt.Printf("run %s (%s)\n", run.ID, humanize.Time(time.Unix(run.CreatedAt, 0)))
	fmt.Printf("  tiles        %s (range %d, rings %d, size %g)\n",
		humanize.Comma(int64(run.Tiles)), run.GridRange, run.NeighborRange, run.TileSize)
	fmt.Printf("  blocked      %s\n", humanize.Comma(int64(blocked)))
	fmt.Printf("  land         %s\n", humanize.Comma(int64(land)))
	fmt.Printf("  disconnected %s in %d chunks\n", humanize.Comma(int64(disconnected)), run.Chunks)
	fmt.Printf("  retries      %d (walking ratios %.2f/%.2f)\n",
		run.Retries, run.WalkingAltitudeRatio, run.WalkingSlopeRatio)
	for level := 0; level <= 2*run.NeighborRange+1; level++ {
		if n := levels[level]; n > 0 {
			fmt.Printf("  level %-2d     %s\n", level, humanize.Comma(int64(n)))
		}
	}
	fmt.Printf("  sites        %d\n", len(sites))
	return nil
}
