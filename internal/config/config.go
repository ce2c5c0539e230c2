// Package config loads the hexworld YAML configuration. Every field has a
// default, so an absent file or an empty document yields a working setup.
package config

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/grid"
	"github.com/talgya/hexworld/internal/loader"
	"github.com/talgya/hexworld/internal/terrain"
)

// EnvPath names the environment variable consulted when Load gets no path.
const EnvPath = "HEXWORLD_CONFIG"

// EnvAddr overrides the API listen address when the file leaves it empty.
const EnvAddr = "HEXWORLD_ADDR"

const defaultAddr = ":8080"

// Config is the root configuration document.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Terrain     TerrainConfig     `yaml:"terrain"`
	Grid        GridConfig        `yaml:"grid"`
	Loop        LoopConfig        `yaml:"loop"`
	Data        DataConfig        `yaml:"data"`
	Persistence PersistenceConfig `yaml:"persistence"`
	API         APIConfig         `yaml:"api"`
}

type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn or error
}

type TerrainConfig struct {
	Seed       int64   `yaml:"seed"`
	Noise      string  `yaml:"noise"`
	Fractal    string  `yaml:"fractal"`
	Frequency  float64 `yaml:"frequency"`
	Octaves    int     `yaml:"octaves"`
	Lacunarity float64 `yaml:"lacunarity"`
	Gain       float64 `yaml:"gain"`
	Rows       int     `yaml:"rows"`
	Columns    int     `yaml:"columns"`
	TileScale  float64 `yaml:"tile_scale"`
	TileSize   float64 `yaml:"tile_size"`
	TileHeight float64 `yaml:"tile_height"`
	UVScale    float64 `yaml:"uv_scale"`
	Horizon    float64 `yaml:"horizon"`
	WaterLevel float64 `yaml:"water_level"`
}

type GridConfig struct {
	WalkingAltitudeRatio   float64       `yaml:"walking_altitude_ratio"`
	WalkingSlopeRatio      float64       `yaml:"walking_slope_ratio"`
	BuildingAltitudeRatio  float64       `yaml:"building_altitude_ratio"`
	BuildingSlopeRatio     float64       `yaml:"building_slope_ratio"`
	Extension              bool          `yaml:"extension"`
	ConnectivityPolicy     string        `yaml:"connectivity_policy"`
	MaxConnectivityRetries int           `yaml:"max_connectivity_retries"`
	ShowGrid               bool          `yaml:"show_grid"`
	ShowMode               string        `yaml:"show_mode"`
	MeshSize               float64       `yaml:"mesh_size"`
	MeshOffset             float64       `yaml:"mesh_offset"`
	WaitRate               time.Duration `yaml:"wait_rate"`
}

// LoopConfig is the chunked loop pacing. Stage overrides are keyed by the
// stage names the workflows log, e.g. "SetTilesPosZ" or "CreateVertices".
type LoopConfig struct {
	Rate       time.Duration             `yaml:"rate"`
	CountLimit int                       `yaml:"count_limit"`
	Terrain    map[string]BudgetOverride `yaml:"terrain"`
	Grid       map[string]BudgetOverride `yaml:"grid"`
}

// BudgetOverride replaces the fields it sets.
type BudgetOverride struct {
	Rate       *time.Duration `yaml:"rate"`
	CountLimit *int           `yaml:"count_limit"`
}

// DataConfig locates the tile data files. With Generate set, a missing
// parameter file is produced from an in-memory hexagon first.
type DataConfig struct {
	Dir             string  `yaml:"dir"`
	ParamsFile      string  `yaml:"params_file"`
	TileIndicesFile string  `yaml:"tile_indices_file"`
	TilesFile       string  `yaml:"tiles_file"`
	Generate        bool    `yaml:"generate"`
	TileSize        float64 `yaml:"tile_size"`
	GridRange       int     `yaml:"grid_range"`
	NeighborRange   int     `yaml:"neighbor_range"`
}

type PersistenceConfig struct {
	Path string `yaml:"path"` // Empty disables persistence
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tc := terrain.DefaultConfig()
	gc := grid.DefaultConfig(nil)
	return &Config{
		Log: LogConfig{Level: "info"},
		Terrain: TerrainConfig{
			Seed:       tc.Seed,
			Noise:      tc.Noise,
			Fractal:    tc.Fractal,
			Frequency:  tc.Frequency,
			Octaves:    tc.Octaves,
			Lacunarity: tc.Lacunarity,
			Gain:       tc.Gain,
			Rows:       tc.Rows,
			Columns:    tc.Columns,
			TileScale:  tc.TileScale,
			TileSize:   tc.TileSize,
			TileHeight: tc.TileHeight,
			UVScale:    tc.UVScale,
			Horizon:    tc.Horizon,
			WaterLevel: tc.WaterLevel,
		},
		Grid: GridConfig{
			WalkingAltitudeRatio:   gc.WalkingAltitudeRatio,
			WalkingSlopeRatio:      gc.WalkingSlopeRatio,
			BuildingAltitudeRatio:  gc.BuildingAltitudeRatio,
			BuildingSlopeRatio:     gc.BuildingSlopeRatio,
			Extension:              gc.Extension,
			ConnectivityPolicy:     gc.ConnectivityPolicy,
			MaxConnectivityRetries: gc.MaxConnectivityRetries,
			ShowGrid:               gc.ShowGrid,
			ShowMode:               gc.ShowMode,
			MeshSize:               gc.MeshSize,
			MeshOffset:             gc.MeshOffset,
			WaitRate:               gc.WaitRate,
		},
		Loop: LoopConfig{
			Rate:       flow.DefaultRate,
			CountLimit: flow.DefaultCountLimit,
		},
		Data: DataConfig{
			Dir:             "data/grid",
			ParamsFile:      loader.ParamsFile,
			TileIndicesFile: loader.TileIndicesFile,
			TilesFile:       loader.TilesFile,
			Generate:        true,
			TileSize:        tc.TileSize,
			GridRange:       60,
			NeighborRange:   3,
		},
		Persistence: PersistenceConfig{Path: "data/hexworld.db"},
	}
}

// Load reads the YAML file at path over the defaults. An empty path falls
// back to $HEXWORLD_CONFIG, and to the defaults alone when that is unset.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvPath)
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the workflows would only fail on later.
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Grid.ConnectivityPolicy {
	case grid.PolicyTolerate, grid.PolicyRetry:
	default:
		return fmt.Errorf("grid.connectivity_policy: unknown policy %q", c.Grid.ConnectivityPolicy)
	}
	switch c.Grid.ShowMode {
	case grid.ShowWalking, grid.ShowBuilding:
	default:
		return fmt.Errorf("grid.show_mode: unknown mode %q", c.Grid.ShowMode)
	}
	if c.Grid.MaxConnectivityRetries < 0 {
		return fmt.Errorf("grid.max_connectivity_retries: must not be negative")
	}
	for name := range c.Loop.Terrain {
		if _, ok := terrain.ParseState(name); !ok {
			return fmt.Errorf("loop.terrain: unknown stage %q", name)
		}
	}
	for name := range c.Loop.Grid {
		if _, ok := grid.ParseState(name); !ok {
			return fmt.Errorf("loop.grid: unknown stage %q", name)
		}
	}
	if c.Data.Generate && (c.Data.TileSize <= 0 || c.Data.GridRange < 0 || c.Data.NeighborRange < 1) {
		return fmt.Errorf("data: generated grid needs tile_size > 0, grid_range >= 0, neighbor_range >= 1")
	}
	return nil
}

// SlogLevel parses the log level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// Address returns the API listen address with priority config, env, default.
func (a APIConfig) Address() string {
	if a.Addr != "" {
		return a.Addr
	}
	if env := os.Getenv(EnvAddr); env != "" {
		return env
	}
	return defaultAddr
}

// Budget returns the default loop budget.
func (l LoopConfig) Budget() flow.Budget {
	return flow.Budget{Rate: l.Rate, CountLimit: l.CountLimit}
}

// TerrainBudgets resolves the terrain stage overrides against the default.
func (l LoopConfig) TerrainBudgets() map[string]flow.Budget {
	return l.resolve(l.Terrain)
}

// GridBudgets resolves the grid stage overrides against the default.
func (l LoopConfig) GridBudgets() map[string]flow.Budget {
	return l.resolve(l.Grid)
}

func (l LoopConfig) resolve(overrides map[string]BudgetOverride) map[string]flow.Budget {
	if len(overrides) == 0 {
		return nil
	}
	out := make(map[string]flow.Budget, len(overrides))
	for name, o := range overrides {
		b := l.Budget()
		if o.Rate != nil {
			b.Rate = *o.Rate
		}
		if o.CountLimit != nil {
			b.CountLimit = *o.CountLimit
		}
		out[name] = b
	}
	return out
}

// TerrainConfig converts the terrain section.
func (c *Config) TerrainConfig() terrain.Config {
	t := c.Terrain
	return terrain.Config{
		Seed:       t.Seed,
		Noise:      t.Noise,
		Fractal:    t.Fractal,
		Frequency:  t.Frequency,
		Octaves:    t.Octaves,
		Lacunarity: t.Lacunarity,
		Gain:       t.Gain,
		Rows:       t.Rows,
		Columns:    t.Columns,
		TileScale:  t.TileScale,
		TileSize:   t.TileSize,
		TileHeight: t.TileHeight,
		UVScale:    t.UVScale,
		Horizon:    t.Horizon,
		WaterLevel: t.WaterLevel,
	}
}

// GridConfig converts the grid, data and loop sections into a grid
// configuration reading from data.
func (c *Config) GridConfig(data fs.FS) grid.Config {
	g := c.Grid
	return grid.Config{
		Data:                   data,
		ParamsFile:             c.Data.ParamsFile,
		TileIndicesFile:        c.Data.TileIndicesFile,
		TilesFile:              c.Data.TilesFile,
		WalkingAltitudeRatio:   g.WalkingAltitudeRatio,
		WalkingSlopeRatio:      g.WalkingSlopeRatio,
		BuildingAltitudeRatio:  g.BuildingAltitudeRatio,
		BuildingSlopeRatio:     g.BuildingSlopeRatio,
		Extension:              g.Extension,
		ConnectivityPolicy:     g.ConnectivityPolicy,
		MaxConnectivityRetries: g.MaxConnectivityRetries,
		ShowGrid:               g.ShowGrid,
		ShowMode:               g.ShowMode,
		MeshSize:               g.MeshSize,
		MeshOffset:             g.MeshOffset,
		WaitRate:               g.WaitRate,
		Budget:                 c.Loop.Budget(),
		Stages:                 c.Loop.GridBudgets(),
	}
}
