// Package persistence provides SQLite storage for classified hex grids.
package persistence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/hexworld/internal/grid"
	"github.com/talgya/hexworld/internal/world"
)

// DB wraps a SQLite connection for grid persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grid_runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		tile_size REAL NOT NULL,
		grid_range INTEGER NOT NULL,
		neighbor_range INTEGER NOT NULL,
		tiles INTEGER NOT NULL,
		chunks INTEGER NOT NULL,
		retries INTEGER NOT NULL,
		walking_altitude_ratio REAL NOT NULL,
		walking_slope_ratio REAL NOT NULL,
		building_altitude_ratio REAL NOT NULL,
		building_slope_ratio REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hex_tiles (
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		q INTEGER NOT NULL,
		r INTEGER NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		position_z REAL NOT NULL,
		avg_position_z REAL NOT NULL,
		normal_x REAL NOT NULL,
		normal_y REAL NOT NULL,
		normal_z REAL NOT NULL,
		angle_to_up REAL NOT NULL,
		walking_block_level INTEGER NOT NULL,
		building_block_level INTEGER NOT NULL,
		is_land INTEGER NOT NULL,
		walking_connection INTEGER NOT NULL,
		PRIMARY KEY (run_id, idx)
	);

	CREATE TABLE IF NOT EXISTS grid_sites (
		run_id TEXT NOT NULL,
		tile INTEGER NOT NULL,
		q INTEGER NOT NULL,
		r INTEGER NOT NULL,
		size TEXT NOT NULL,
		score REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS grid_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tiles_coord ON hex_tiles(run_id, q, r);
	CREATE INDEX IF NOT EXISTS idx_sites_run ON grid_sites(run_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Run describes one stored classification.
type Run struct {
	ID                    string  `db:"id" json:"id"`
	CreatedAt             int64   `db:"created_at" json:"created_at"`
	TileSize              float64 `db:"tile_size" json:"tile_size"`
	GridRange             int     `db:"grid_range" json:"grid_range"`
	NeighborRange         int     `db:"neighbor_range" json:"neighbor_range"`
	Tiles                 int     `db:"tiles" json:"tiles"`
	Chunks                int     `db:"chunks" json:"chunks"`
	Retries               int     `db:"retries" json:"retries"`
	WalkingAltitudeRatio  float64 `db:"walking_altitude_ratio" json:"walking_altitude_ratio"`
	WalkingSlopeRatio     float64 `db:"walking_slope_ratio" json:"walking_slope_ratio"`
	BuildingAltitudeRatio float64 `db:"building_altitude_ratio" json:"building_altitude_ratio"`
	BuildingSlopeRatio    float64 `db:"building_slope_ratio" json:"building_slope_ratio"`
}

// TileRecord is one stored tile.
type TileRecord struct {
	Index              int     `db:"idx"`
	Q                  int     `db:"q"`
	R                  int     `db:"r"`
	X                  float64 `db:"x"`
	Y                  float64 `db:"y"`
	PositionZ          float64 `db:"position_z"`
	AvgPositionZ       float64 `db:"avg_position_z"`
	NormalX            float64 `db:"normal_x"`
	NormalY            float64 `db:"normal_y"`
	NormalZ            float64 `db:"normal_z"`
	AngleToUp          float64 `db:"angle_to_up"`
	WalkingBlockLevel  int     `db:"walking_block_level"`
	BuildingBlockLevel int     `db:"building_block_level"`
	IsLand             bool    `db:"is_land"`
	WalkingConnection  bool    `db:"walking_connection"`
}

// Coord returns the axial coordinate of the record.
func (t TileRecord) Coord() world.HexCoord {
	return world.HexCoord{Q: t.Q, R: t.R}
}

// SiteRecord is one stored building site.
type SiteRecord struct {
	Tile  int     `db:"tile"`
	Q     int     `db:"q"`
	R     int     `db:"r"`
	Size  string  `db:"size"`
	Score float64 `db:"score"`
}

// SaveGrid stores a finished classification under a new run id and marks
// it as the latest run.
func (db *DB) SaveGrid(g *grid.Grid) (string, error) {
	graph := g.Graph()
	if graph == nil {
		return "", fmt.Errorf("save grid: workflow not done (state %s)", g.State())
	}

	walking, building := g.WalkingCriteria(), g.BuildingCriteria()
	run := Run{
		ID:                    uuid.NewString(),
		CreatedAt:             time.Now().Unix(),
		TileSize:              graph.TileSize,
		GridRange:             graph.GridRange,
		NeighborRange:         graph.NeighborRange,
		Tiles:                 graph.Len(),
		Chunks:                len(g.Chunks()),
		Retries:               g.Retries(),
		WalkingAltitudeRatio:  walking.AltitudeRatio,
		WalkingSlopeRatio:     walking.SlopeRatio,
		BuildingAltitudeRatio: building.AltitudeRatio,
		BuildingSlopeRatio:    building.SlopeRatio,
	}
	slog.Info("saving hex grid", "run", run.ID, "tiles", run.Tiles, "chunks", run.Chunks)

	if err := db.saveRun(run, graph.Tiles); err != nil {
		return "", fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if err := db.SaveMeta("latest_run", run.ID); err != nil {
		return "", fmt.Errorf("save meta: %w", err)
	}

	slog.Info("hex grid saved", "run", run.ID)
	return run.ID, nil
}

func (db *DB) saveRun(run Run, tiles []*world.Tile) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.NamedExec(`INSERT INTO grid_runs
		(id, created_at, tile_size, grid_range, neighbor_range, tiles, chunks, retries,
		 walking_altitude_ratio, walking_slope_ratio, building_altitude_ratio, building_slope_ratio)
		VALUES (:id, :created_at, :tile_size, :grid_range, :neighbor_range, :tiles, :chunks, :retries,
		 :walking_altitude_ratio, :walking_slope_ratio, :building_altitude_ratio, :building_slope_ratio)`,
		run); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO hex_tiles
		(run_id, idx, q, r, x, y, position_z, avg_position_z, normal_x, normal_y, normal_z,
		 angle_to_up, walking_block_level, building_block_level, is_land, walking_connection)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, t := range tiles {
		_, err := stmt.Exec(
			run.ID, i, t.Coord.Q, t.Coord.R, t.Position.X(), t.Position.Y(),
			t.PositionZ, t.AvgPositionZ, t.Normal.X(), t.Normal.Y(), t.Normal.Z(),
			t.AngleToUp, t.WalkingBlockLevel, t.BuildingBlockLevel,
			boolInt(t.IsLand), boolInt(t.WalkingConnection),
		)
		if err != nil {
			return fmt.Errorf("insert tile %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// SaveSites replaces the stored building sites of a run.
func (db *DB) SaveSites(runID string, sites []grid.Site) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM grid_sites WHERE run_id = ?", runID); err != nil {
		return err
	}
	for _, s := range sites {
		_, err := tx.Exec(
			"INSERT INTO grid_sites (run_id, tile, q, r, size, score) VALUES (?, ?, ?, ?, ?, ?)",
			runID, s.Tile, s.Coord.Q, s.Coord.R, s.Size.String(), s.Score,
		)
		if err != nil {
			return fmt.Errorf("insert site %d: %w", s.Tile, err)
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in grid metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO grid_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM grid_meta WHERE key = ?", key)
	return value, err
}

// LatestRun returns the most recently saved run.
func (db *DB) LatestRun() (Run, error) {
	id, err := db.GetMeta("latest_run")
	if err != nil {
		return Run{}, fmt.Errorf("latest run: %w", err)
	}
	return db.GetRun(id)
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(id string) (Run, error) {
	var run Run
	err := db.conn.Get(&run, "SELECT * FROM grid_runs WHERE id = ?", id)
	return run, err
}

// LoadTiles returns the tiles of a run in index order.
func (db *DB) LoadTiles(runID string) ([]TileRecord, error) {
	var tiles []TileRecord
	err := db.conn.Select(&tiles,
		`SELECT idx, q, r, x, y, position_z, avg_position_z, normal_x, normal_y, normal_z,
		 angle_to_up, walking_block_level, building_block_level, is_land, walking_connection
		 FROM hex_tiles WHERE run_id = ? ORDER BY idx`,
		runID,
	)
	return tiles, err
}

// LoadSites returns the stored sites of a run in placement order.
func (db *DB) LoadSites(runID string) ([]SiteRecord, error) {
	var sites []SiteRecord
	err := db.conn.Select(&sites,
		"SELECT tile, q, r, size, score FROM grid_sites WHERE run_id = ? ORDER BY rowid",
		runID,
	)
	return sites, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
