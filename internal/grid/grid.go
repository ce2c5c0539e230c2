// Package grid overlays a hex tile graph on the terrain and classifies every
// tile by walkability and buildability. The work runs as an incremental
// workflow: each scheduler callback advances the current stage by at most
// one loop budget and then reschedules itself.
package grid

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/loader"
	"github.com/talgya/hexworld/internal/metrics"
	"github.com/talgya/hexworld/internal/world"
)

const workflowName = "hexgrid"

// Connectivity policies.
const (
	// PolicyTolerate flags unreachable chunks as disconnected and moves on.
	PolicyTolerate = "tolerate"
	// PolicyRetry loosens the walking criteria and reruns classification.
	PolicyRetry = "retry"
)

// RatioStep is how much each walking ratio rises per connectivity retry.
const RatioStep = 0.1

// Show modes for instance drawing.
const (
	ShowWalking  = "walking"
	ShowBuilding = "building"
)

// Terrain is the height source the grid samples.
type Terrain interface {
	Altitude(p mgl64.Vec2) float64
	MaxAltitude() float64
	WaterBase() float64
	Width() float64
	Height() float64
	Ready() bool
	Failed() bool
}

// Config holds hex grid workflow parameters.
type Config struct {
	Data            fs.FS
	ParamsFile      string
	TileIndicesFile string
	TilesFile       string

	WalkingAltitudeRatio  float64
	WalkingSlopeRatio     float64
	BuildingAltitudeRatio float64
	BuildingSlopeRatio    float64

	Extension              bool   // Run the Ex stages
	ConnectivityPolicy     string // tolerate or retry
	MaxConnectivityRetries int

	ShowGrid   bool
	ShowMode   string  // walking or building
	MeshSize   float64 // Size of the instanced hex mesh, for scaling
	MeshOffset float64 // Height of instances above the tile

	WaitRate time.Duration // Poll interval while waiting on terrain
	Budget   flow.Budget
	Stages   map[string]flow.Budget // Per-stage overrides keyed by state name
}

// DefaultConfig returns the default grid configuration reading from data.
func DefaultConfig(data fs.FS) Config {
	return Config{
		Data:                   data,
		ParamsFile:             loader.ParamsFile,
		TileIndicesFile:        loader.TileIndicesFile,
		TilesFile:              loader.TilesFile,
		WalkingAltitudeRatio:   0.3,
		WalkingSlopeRatio:      0.3,
		BuildingAltitudeRatio:  0.3,
		BuildingSlopeRatio:     0.1,
		Extension:              true,
		ConnectivityPolicy:     PolicyTolerate,
		MaxConnectivityRetries: 5,
		ShowGrid:               true,
		ShowMode:               ShowWalking,
		MeshSize:               100,
		MeshOffset:             2,
		WaitRate:               flow.DefaultRate,
		Budget:                 flow.DefaultBudget(),
	}
}

// Grid is the hex grid actor. All methods except the queries must be called
// from the scheduler goroutine.
type Grid struct {
	cfg     Config
	sched   flow.Scheduler
	terrain Terrain
	sink    InstanceSink
	metrics *metrics.Recorder
	log     *slog.Logger

	state State
	err   error
	graph *world.Graph

	walking  Criteria
	building Criteria
	retries  int
	up       mgl64.Vec3

	loops  map[State]*flow.LoopState
	reader *loader.LineReader

	openPool  []int // Tiles at OpenLevel after the walking ring scan
	walkPool  []int // Tiles at the final walking maximum
	chunker   *Chunker
	verifier  *verifier
	islands   *islandResolver
	instances int
}

// Option customizes a Grid.
type Option func(*Grid)

// WithSink sets the instance consumer.
func WithSink(sink InstanceSink) Option {
	return func(g *Grid) { g.sink = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(g *Grid) { g.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Grid) { g.log = l }
}

// loopStages are the stages that iterate through a LoopState.
var loopStages = []State{
	StateLoadTileIndices,
	StateLoadTiles,
	StateLoadNeighbors,
	StateCreateTilesVertices,
	StateSetTilesPosZ,
	StateCalTilesNormal,
	StateWalkingBlockLevel,
	StateWalkingBlockLevelEx,
	StateChunkConnectivity,
	StateVerifyConnectivity,
	StateFindIsland,
	StateBuildingBlockLevel,
	StateBuildingBlockLevelEx,
	StateDrawInstances,
}

// New creates a grid actor in StateInit. terrain may be nil, in which case
// the workflow fails while waiting for it. Call Start to begin.
func New(cfg Config, sched flow.Scheduler, terrain Terrain, opts ...Option) *Grid {
	g := &Grid{
		cfg:     cfg,
		sched:   sched,
		terrain: terrain,
		log:     slog.Default().With("actor", workflowName),
		loops:   make(map[State]*flow.LoopState, len(loopStages)),
		up:      mgl64.Vec3{0, 0, 1},
	}
	for _, s := range loopStages {
		ls := flow.NewLoopState()
		b, ok := cfg.Stages[s.String()]
		if !ok {
			b = cfg.Budget
		}
		ls.Apply(b)
		g.loops[s] = ls
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start schedules the first activation.
func (g *Grid) Start() {
	g.state = StateInit
	g.sched.After(0, g.Step)
}

// Step runs one activation of the current stage.
func (g *Grid) Step() {
	stage := g.state
	started := time.Now()
	var act *flow.Activation
	if ls, ok := g.loops[stage]; ok {
		act = ls.Begin(g.sched, g.Step)
	}

	switch g.state {
	case StateInit:
		g.initWorkflow()
	case StateWaitTerrain:
		g.waitTerrain()
	case StateLoadParams:
		g.loadParams()
	case StateLoadTileIndices:
		g.loadTileIndices(act)
	case StateLoadTiles:
		g.loadTiles(act)
	case StateLoadNeighbors:
		g.loadNeighbors(act)
	case StateCreateTilesVertices:
		g.tilesLoop(act, nil, g.createTileVertices, StateSetTilesPosZ)
	case StateSetTilesPosZ:
		g.tilesLoop(act, nil, g.setTilePosZ, StateCalTilesNormal)
	case StateCalTilesNormal:
		g.tilesLoop(act, nil, g.calTileNormal, StateWalkingBlockLevel)
	case StateWalkingBlockLevel:
		g.tilesLoop(act, g.initWalkingBlockLevel, g.setWalkingBlockLevel, StateWalkingBlockLevelEx)
	case StateWalkingBlockLevelEx:
		g.walkingBlockLevelEx(act)
	case StateInitConnectivity:
		g.initConnectivity()
		// Data-free: chunking starts in the same activation.
		stage = g.state
		act = g.loops[StateChunkConnectivity].Begin(g.sched, g.Step)
		fallthrough
	case StateChunkConnectivity:
		g.chunkConnectivity(act)
	case StateVerifyConnectivity:
		g.verifyConnectivity(act)
	case StateFindIsland:
		g.tilesLoop(act, g.initFindIsland, g.findIsland, StateBuildingBlockLevel)
	case StateBuildingBlockLevel:
		g.tilesLoop(act, nil, g.setBuildingBlockLevel, StateBuildingBlockLevelEx)
	case StateBuildingBlockLevelEx:
		g.buildingBlockLevelEx(act)
	case StateDrawInstances:
		g.drawInstances(act)
	case StateDone:
		return
	case StateError:
		g.log.Warn("hex grid workflow error", "error", g.err)
		return
	}

	iterations, yielded := 0, false
	if act != nil {
		iterations, yielded = act.Iterations(), act.Yielded()
	}
	g.metrics.Activation(workflowName, stage.String(), iterations, yielded, time.Since(started))
}

// rate returns the delay before the activation following stage s.
func (g *Grid) rate(s State) time.Duration {
	if ls, ok := g.loops[s]; ok {
		return ls.Rate
	}
	return flow.DefaultRate
}

// advance completes the current stage and schedules next.
func (g *Grid) advance(next State) {
	done := g.state
	g.metrics.StageDone(workflowName, done.String())
	g.state = next
	g.sched.After(g.rate(done), g.Step)
}

func (g *Grid) fail(err error) {
	g.err = fmt.Errorf("%s: %w", g.state, err)
	g.metrics.Failure(workflowName, g.state.String())
	g.log.Warn("hex grid workflow failed", "stage", g.state.String(), "error", err)
	g.closeReader()
	g.state = StateError
	g.sched.After(g.rate(g.state), g.Step)
}

func (g *Grid) closeReader() {
	if g.reader != nil {
		g.reader.Close()
		g.reader = nil
	}
}

// tilesLoop runs body over every tile index and advances to next when the
// whole range is done. setup runs once per stage.
func (g *Grid) tilesLoop(act *flow.Activation, setup func(), body func(i int), next State) {
	ls := g.loops[g.state]
	ls.Setup(setup)
	if !ls.Range(act, g.graph.Len(), body) {
		return
	}
	g.log.Info("hex grid stage done", "stage", g.state.String(), "tiles", humanize.Comma(int64(g.graph.Len())))
	g.advance(next)
}

func (g *Grid) initWorkflow() {
	if g.cfg.Data == nil {
		g.fail(errors.New("no data filesystem configured"))
		return
	}
	switch g.cfg.ConnectivityPolicy {
	case PolicyTolerate, PolicyRetry:
	case "":
		g.cfg.ConnectivityPolicy = PolicyTolerate
	default:
		g.fail(fmt.Errorf("unknown connectivity policy %q", g.cfg.ConnectivityPolicy))
		return
	}

	g.err = nil
	g.closeReader()
	g.graph = nil
	g.retries = 0
	g.instances = 0
	g.resetLoops(StateLoadTileIndices)
	g.log.Info("hex grid init done", "policy", g.cfg.ConnectivityPolicy, "extension", g.cfg.Extension)
	g.advance(StateWaitTerrain)
}

// resetLoops rewinds the loop state of from and every later stage.
func (g *Grid) resetLoops(from State) {
	for _, s := range loopStages {
		if s >= from {
			g.loops[s].Reset()
		}
	}
	g.openPool = nil
	g.walkPool = nil
	g.chunker = nil
	g.verifier = nil
	g.islands = nil
}

func (g *Grid) waitTerrain() {
	if g.terrain == nil {
		g.fail(errors.New("no terrain"))
		return
	}
	if g.terrain.Failed() {
		g.fail(errors.New("terrain workflow failed"))
		return
	}
	if !g.terrain.Ready() {
		g.sched.After(g.cfg.WaitRate, g.Step)
		return
	}

	g.walking = g.criteria(g.cfg.WalkingAltitudeRatio, g.cfg.WalkingSlopeRatio)
	g.building = g.criteria(g.cfg.BuildingAltitudeRatio, g.cfg.BuildingSlopeRatio)
	g.advance(StateLoadParams)
}

func (g *Grid) criteria(altitudeRatio, slopeRatio float64) Criteria {
	return Criteria{
		AltitudeRatio: altitudeRatio,
		SlopeRatio:    slopeRatio,
		MaxAltitude:   g.terrain.MaxAltitude(),
		WaterBase:     g.terrain.WaterBase(),
		HalfWidth:     g.terrain.Width() / 2,
		HalfHeight:    g.terrain.Height() / 2,
	}
}

func (g *Grid) loadParams() {
	params, err := loader.ReadParams(g.cfg.Data, g.cfg.ParamsFile)
	if err != nil {
		g.fail(err)
		return
	}
	g.graph = world.NewGraph(params.TileSize, params.GridRange, params.NeighborRange)
	g.log.Info("load params done",
		"tile_size", params.TileSize,
		"grid_range", params.GridRange,
		"neighbor_range", params.NeighborRange,
	)
	g.advance(StateLoadTileIndices)
}

// openOnce opens name the first time the current stage runs.
func (g *Grid) openOnce(name string) bool {
	var err error
	g.loops[g.state].Setup(func() {
		g.closeReader()
		g.reader, err = loader.Open(g.cfg.Data, name)
	})
	if err != nil {
		g.fail(err)
		return false
	}
	return g.reader != nil
}

// finishReader checks the reader for errors and closes it.
func (g *Grid) finishReader() bool {
	err := g.reader.Err()
	g.closeReader()
	if err != nil {
		g.fail(err)
		return false
	}
	return true
}

func (g *Grid) loadTileIndices(act *flow.Activation) {
	if !g.openOnce(g.cfg.TileIndicesFile) {
		return
	}
	for g.reader.More() {
		if act.Yield(g.reader.Line()) {
			return
		}
		coord, index, err := loader.ParseTileIndexLine(g.reader.Take())
		if err != nil {
			g.fail(fmt.Errorf("%s line %d: %w", g.reader.Name(), g.reader.Line(), err))
			return
		}
		g.graph.Index[coord] = index
	}
	if !g.finishReader() {
		return
	}
	g.log.Info("load tile indices done", "indices", humanize.Comma(int64(len(g.graph.Index))))
	g.advance(StateLoadTiles)
}

func (g *Grid) loadTiles(act *flow.Activation) {
	if !g.openOnce(g.cfg.TilesFile) {
		return
	}
	for g.reader.More() {
		if act.Yield(g.reader.Line()) {
			return
		}
		line := g.reader.Take()
		if err := loader.AppendTile(g.graph, line); err != nil {
			g.fail(fmt.Errorf("%s line %d: %w", g.reader.Name(), g.reader.Line(), err))
			return
		}
	}
	if !g.finishReader() {
		return
	}
	if g.graph.Len() != len(g.graph.Index) {
		g.fail(fmt.Errorf("%w: %d tiles for %d indices", loader.ErrMalformed, g.graph.Len(), len(g.graph.Index)))
		return
	}
	g.log.Info("load tiles done", "tiles", humanize.Comma(int64(g.graph.Len())))
	g.advance(StateLoadNeighbors)
}

// loadNeighbors reads N1..NR. Saved[0] holds the ring being read and the
// open reader carries the line position.
func (g *Grid) loadNeighbors(act *flow.Activation) {
	ls := g.loops[g.state]
	for ring := ls.Saved[0]; ring < g.graph.NeighborRange; ring++ {
		radius := ring + 1
		if g.reader == nil {
			r, err := loader.Open(g.cfg.Data, loader.NeighborFile(radius))
			if err != nil {
				g.fail(err)
				return
			}
			g.reader = r
		}

		for g.reader.More() {
			if act.Yield(ring, g.reader.Line()) {
				return
			}
			if err := loader.SetNeighbors(g.graph, radius, g.reader.Take()); err != nil {
				g.fail(fmt.Errorf("%s line %d: %w", g.reader.Name(), g.reader.Line(), err))
				return
			}
		}
		if !g.finishReader() {
			return
		}
	}
	g.log.Info("load neighbors done", "rings", g.graph.NeighborRange)
	g.advance(StateCreateTilesVertices)
}

func (g *Grid) createTileVertices(i int) {
	t := g.graph.Tiles[i]
	for k, off := range world.CornerOffsets(g.graph.TileSize) {
		t.Vertices[k] = t.Position.Add(off)
	}
}

func (g *Grid) setTilePosZ(i int) {
	t := g.graph.Tiles[i]
	t.PositionZ = g.terrain.Altitude(t.Position)
	sum := 0.0
	for k, v := range t.Vertices {
		t.VerticesZ[k] = g.terrain.Altitude(v)
		sum += t.VerticesZ[k]
	}
	t.AvgPositionZ = sum / 6.0
}

// calTileNormal sums the normals of the two triangles spanned by alternate
// corners.
func (g *Grid) calTileNormal(i int) {
	t := g.graph.Tiles[i]
	corner := func(k int) mgl64.Vec3 {
		return mgl64.Vec3{t.Vertices[k].X(), t.Vertices[k].Y(), t.VerticesZ[k]}
	}

	var n mgl64.Vec3
	for k := 0; k < 2; k++ {
		v0, v1, v2 := corner(k), corner(2+k), corner(4+k)
		n = n.Add(v2.Sub(v0).Cross(v2.Sub(v1)))
	}
	if n.Len() == 0 {
		n = g.up
	}
	t.Normal = n.Normalize()
	t.AngleToUp = math.Acos(math.Max(-1, math.Min(1, g.up.Dot(t.Normal))))
}

func (g *Grid) initWalkingBlockLevel() {
	g.openPool = g.openPool[:0]
	for _, t := range g.graph.Tiles {
		t.WalkingConnection = true
	}
}

func (g *Grid) setWalkingBlockLevel(i int) {
	level := RingLevel(g.graph, i, g.walking)
	g.graph.Tiles[i].WalkingBlockLevel = level
	if level == OpenLevel(g.graph.NeighborRange) {
		g.openPool = append(g.openPool, i)
	}
}

// walkingMax is the level of the maximally open walking tiles.
func (g *Grid) walkingMax() int {
	if g.cfg.Extension {
		return ExtendedLevel(g.graph.NeighborRange)
	}
	return OpenLevel(g.graph.NeighborRange)
}

// walkingBlockLevelEx extends the open pool. Only open tiles can change, so
// the loop runs over the pool rather than over every tile.
func (g *Grid) walkingBlockLevelEx(act *flow.Activation) {
	if !g.cfg.Extension {
		g.walkPool = g.openPool
		g.advance(StateInitConnectivity)
		return
	}

	ls := g.loops[g.state]
	ls.Setup(func() { g.walkPool = nil })
	maxLevel := g.walkingMax()
	done := ls.Range(act, len(g.openPool), func(k int) {
		i := g.openPool[k]
		level := ExtendLevel(g.graph, i, walkingLevel)
		g.graph.Tiles[i].WalkingBlockLevel = level
		if level == maxLevel {
			g.walkPool = append(g.walkPool, i)
		}
	})
	if !done {
		return
	}
	g.log.Info("walking block level extension done",
		"open", humanize.Comma(int64(len(g.openPool))),
		"max", humanize.Comma(int64(len(g.walkPool))),
	)
	g.advance(StateInitConnectivity)
}

func (g *Grid) initConnectivity() {
	g.chunker = NewChunker(g.graph, g.walkPool)
	g.verifier = nil
	g.metrics.StageDone(workflowName, g.state.String())
	g.state = StateChunkConnectivity
}

func (g *Grid) chunkConnectivity(act *flow.Activation) {
	if !g.chunker.Run(act) {
		return
	}
	g.log.Info("chunk connectivity done",
		"chunks", len(g.chunker.Chunks),
		"tiles", humanize.Comma(int64(len(g.walkPool))),
	)
	g.advance(StateVerifyConnectivity)
}

func (g *Grid) tolerating() bool {
	return g.cfg.ConnectivityPolicy != PolicyRetry || g.retries >= g.cfg.MaxConnectivityRetries
}

func (g *Grid) verifyConnectivity(act *flow.Activation) {
	ls := g.loops[g.state]
	ls.Setup(func() {
		g.verifier = newVerifier(g.chunker.Chunks)
		if g.cfg.ConnectivityPolicy == PolicyRetry && g.tolerating() {
			g.log.Warn("connectivity retries exhausted, tolerating disconnected chunks",
				"retries", g.retries)
		}
	})

	outcome, k := g.verifier.run(g.graph, ls, act, g.tolerating())
	switch outcome {
	case verifyPending:
		return
	case verifyFailed:
		g.retryConnectivity(k)
		return
	}

	disconnected := 0
	for _, ok := range g.verifier.connected {
		if !ok {
			disconnected++
		}
	}
	g.log.Info("verify connectivity done",
		"chunks", len(g.verifier.chunks),
		"disconnected", disconnected,
		"retries", g.retries,
	)
	g.advance(StateFindIsland)
}

// retryConnectivity loosens the walking criteria and rewinds to the walking
// level stage.
func (g *Grid) retryConnectivity(chunk int) {
	g.retries++
	g.walking.Loosen(RatioStep)
	g.metrics.Retry(workflowName)
	g.log.Warn("connectivity check failed, loosening walking criteria",
		"chunk", chunk,
		"retry", g.retries,
		"altitude_ratio", g.walking.AltitudeRatio,
		"slope_ratio", g.walking.SlopeRatio,
	)

	g.resetLoops(StateWalkingBlockLevel)
	g.state = StateWalkingBlockLevel
	g.sched.After(g.rate(StateVerifyConnectivity), g.Step)
}

func (g *Grid) initFindIsland() {
	g.islands = newIslandResolver(g.graph, g.walkingMax())
}

func (g *Grid) findIsland(i int) {
	g.graph.Tiles[i].IsLand = g.islands.isLand(i)
}

func (g *Grid) setBuildingBlockLevel(i int) {
	g.graph.Tiles[i].BuildingBlockLevel = RingLevel(g.graph, i, g.building)
}

func (g *Grid) buildingBlockLevelEx(act *flow.Activation) {
	if !g.cfg.Extension {
		g.advance(StateDrawInstances)
		return
	}
	ls := g.loops[g.state]
	if !ls.Range(act, g.graph.Len(), func(i int) {
		g.graph.Tiles[i].BuildingBlockLevel = ExtendLevel(g.graph, i, buildingLevel)
	}) {
		return
	}
	g.log.Info("building block level extension done", "tiles", humanize.Comma(int64(g.graph.Len())))
	g.advance(StateDrawInstances)
}

// buildingMax is the level of the most buildable tiles.
func (g *Grid) buildingMax() int {
	if g.cfg.Extension {
		return ExtendedLevel(g.graph.NeighborRange)
	}
	return OpenLevel(g.graph.NeighborRange)
}
