// Package terrain generates the heightmapped terrain mesh the hex grid sits
// on. Generation runs as an incremental workflow driven by a flow.Scheduler
// so no single callback does more than one loop budget of work.
package terrain

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/metrics"
)

const workflowName = "terrain"

// State is a terrain workflow stage.
type State uint8

const (
	StateInit State = iota
	StateCreateVertices
	StateCreateTriangles
	StateCalNormalsInit
	StateCalNormalsAcc
	StateNormalizeNormals
	StateDrawMesh
	StateDone
	StateError
)

var stateNames = [...]string{
	"Init", "CreateVertices", "CreateTriangles", "CalNormalsInit",
	"CalNormalsAcc", "NormalizeNormals", "DrawMesh", "Done", "Error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

// ParseState returns the state with the given name.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return 0, false
}

// Config holds terrain generation parameters.
type Config struct {
	Seed       int64
	Noise      string  // simplex or perlin
	Fractal    string  // fbm or ridged
	Frequency  float64 // Applied to tile-unit coordinates
	Octaves    int
	Lacunarity float64
	Gain       float64

	Rows       int
	Columns    int
	TileScale  float64
	TileSize   float64 // World units per heightmap cell before scaling
	TileHeight float64 // Altitude at noise maximum before scaling
	UVScale    float64
	Horizon    float64 // Noise fraction mapped to altitude zero (0..1)
	WaterLevel float64 // Water baseline as a fraction of MaxAltitude
}

// DefaultConfig returns a reasonable starting configuration.
func DefaultConfig() Config {
	return Config{
		Seed:       0,
		Noise:      NoiseSimplex,
		Fractal:    FractalRidged,
		Frequency:  0.02,
		Octaves:    8,
		Lacunarity: 2.0,
		Gain:       0.5,
		Rows:       200,
		Columns:    200,
		TileScale:  1.0,
		TileSize:   100.0,
		TileHeight: 10000.0,
		UVScale:    1.0,
		Horizon:    0.5,
		WaterLevel: 0.01,
	}
}

// Mesh is the render buffer handed to the MeshSink.
type Mesh struct {
	Vertices  []mgl64.Vec3
	UVs       []mgl64.Vec2
	Triangles []int
	Normals   []mgl64.Vec3
}

// MeshSink consumes the finished mesh.
type MeshSink interface {
	DrawMesh(m Mesh)
}

// Terrain is the terrain actor.
type Terrain struct {
	cfg     Config
	sched   flow.Scheduler
	sink    MeshSink
	metrics *metrics.Recorder
	log     *slog.Logger

	state State
	err   error
	noise Source

	sizeMultiplier   float64
	heightMultiplier float64

	createVertices   *flow.LoopState
	createTriangles  *flow.LoopState
	calNormalsInit   *flow.LoopState
	calNormalsAcc    *flow.LoopState
	normalizeNormals *flow.LoopState

	progressTarget int
	progressLoop   *flow.LoopState

	mesh       Mesh
	normalsAcc []mgl64.Vec3
}

// Option customizes a Terrain.
type Option func(*Terrain)

// WithSink sets the mesh consumer.
func WithSink(sink MeshSink) Option {
	return func(t *Terrain) { t.sink = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(t *Terrain) { t.metrics = m }
}

// WithLoop overrides the loop budget of every stage.
func WithLoop(rate time.Duration, countLimit int) Option {
	return func(t *Terrain) {
		for _, s := range t.loopStates() {
			s.Apply(flow.Budget{Rate: rate, CountLimit: countLimit})
		}
	}
}

// WithBudgets applies def to every stage, then the per-stage entries of
// stages keyed by stage name.
func WithBudgets(def flow.Budget, stages map[string]flow.Budget) Option {
	return func(t *Terrain) {
		for state, s := range t.loopsByState() {
			b, ok := stages[state.String()]
			if !ok {
				b = def
			}
			s.Apply(b)
		}
	}
}

// New creates a terrain actor in StateInit. Call Start to begin generation.
func New(cfg Config, sched flow.Scheduler, opts ...Option) *Terrain {
	t := &Terrain{
		cfg:              cfg,
		sched:            sched,
		log:              slog.Default().With("actor", workflowName),
		createVertices:   flow.NewLoopState(),
		createTriangles:  flow.NewLoopState(),
		calNormalsInit:   flow.NewLoopState(),
		calNormalsAcc:    flow.NewLoopState(),
		normalizeNormals: flow.NewLoopState(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Terrain) loopsByState() map[State]*flow.LoopState {
	return map[State]*flow.LoopState{
		StateCreateVertices:   t.createVertices,
		StateCreateTriangles:  t.createTriangles,
		StateCalNormalsInit:   t.calNormalsInit,
		StateCalNormalsAcc:    t.calNormalsAcc,
		StateNormalizeNormals: t.normalizeNormals,
	}
}

func (t *Terrain) loopStates() []*flow.LoopState {
	return []*flow.LoopState{
		t.createVertices, t.createTriangles, t.calNormalsInit,
		t.calNormalsAcc, t.normalizeNormals,
	}
}

// Start schedules the first activation.
func (t *Terrain) Start() {
	t.state = StateInit
	t.sched.After(0, t.Step)
}

// State returns the current workflow stage.
func (t *Terrain) State() State {
	return t.state
}

// Err returns the error that stopped the workflow, if any.
func (t *Terrain) Err() error {
	return t.err
}

// IsStageComplete reports whether the workflow has moved past stage.
func (t *Terrain) IsStageComplete(stage State) bool {
	if t.state == StateError {
		return false
	}
	return t.state > stage
}

// Ready reports whether altitude queries are available.
func (t *Terrain) Ready() bool {
	return t.IsStageComplete(StateInit)
}

// Failed reports whether the workflow stopped in the error state.
func (t *Terrain) Failed() bool {
	return t.state == StateError
}

// Done reports whether the mesh has been drawn.
func (t *Terrain) Done() bool {
	return t.state == StateDone
}

// Mesh returns the generated mesh. Only complete once Done.
func (t *Terrain) Mesh() Mesh {
	return t.mesh
}

// Progress returns the completion fraction of the running stage.
func (t *Terrain) Progress() float64 {
	if t.progressTarget == 0 || t.progressLoop == nil {
		return 0
	}
	return math.Min(1, float64(t.progressLoop.Count)/float64(t.progressTarget))
}

// Step runs one activation of the current stage. It is the callback the
// scheduler invokes.
func (t *Terrain) Step() {
	stage := t.state
	started := time.Now()
	var act *flow.Activation

	switch t.state {
	case StateInit:
		t.initWorkflow()
	case StateCreateVertices:
		act = t.createVertices.Begin(t.sched, t.Step)
		t.stepCreateVertices(act)
	case StateCreateTriangles:
		act = t.createTriangles.Begin(t.sched, t.Step)
		t.stepCreateTriangles(act)
	case StateCalNormalsInit:
		act = t.calNormalsInit.Begin(t.sched, t.Step)
		t.stepCalNormalsInit(act)
	case StateCalNormalsAcc:
		act = t.calNormalsAcc.Begin(t.sched, t.Step)
		t.stepCalNormalsAcc(act)
	case StateNormalizeNormals:
		act = t.normalizeNormals.Begin(t.sched, t.Step)
		t.stepNormalizeNormals(act)
	case StateDrawMesh:
		t.drawMesh()
	case StateDone:
	case StateError:
		t.log.Warn("terrain workflow error", "error", t.err)
	}

	if act != nil {
		t.metrics.Activation(workflowName, stage.String(), act.Iterations(), act.Yielded(), time.Since(started))
	} else {
		t.metrics.Activation(workflowName, stage.String(), 0, false, time.Since(started))
	}
}

// advance moves to next and schedules its first activation.
func (t *Terrain) advance(next State, rate time.Duration) {
	t.metrics.StageDone(workflowName, t.state.String())
	t.log.Info("terrain stage done", "stage", t.state.String())
	t.state = next
	t.progressTarget = 0
	t.progressLoop = nil
	t.sched.After(rate, t.Step)
}

func (t *Terrain) fail(err error) {
	t.err = err
	t.metrics.Failure(workflowName, t.state.String())
	t.log.Warn("terrain workflow failed", "stage", t.state.String(), "error", err)
	t.state = StateError
	t.sched.After(flow.DefaultRate, t.Step)
}

func (t *Terrain) initWorkflow() {
	if t.cfg.Rows <= 0 || t.cfg.Columns <= 0 {
		t.fail(fmt.Errorf("invalid terrain size %dx%d", t.cfg.Rows, t.cfg.Columns))
		return
	}
	if t.cfg.Horizon < 0 || t.cfg.Horizon >= 1 {
		t.fail(fmt.Errorf("horizon %.3f out of range [0, 1)", t.cfg.Horizon))
		return
	}

	base, err := NewSource(t.cfg.Noise, t.cfg.Seed)
	if err != nil {
		t.fail(fmt.Errorf("create noise: %w", err))
		return
	}
	t.noise = Fractal{
		Base:       base,
		Kind:       t.cfg.Fractal,
		Frequency:  t.cfg.Frequency,
		Octaves:    t.cfg.Octaves,
		Lacunarity: t.cfg.Lacunarity,
		Gain:       t.cfg.Gain,
	}

	t.sizeMultiplier = t.cfg.TileSize * t.cfg.TileScale
	t.heightMultiplier = t.cfg.TileHeight * t.cfg.TileScale
	for _, s := range t.loopStates() {
		s.Reset()
	}
	t.mesh = Mesh{}
	t.normalsAcc = nil

	t.log.Info("terrain init done",
		"noise", t.cfg.Noise,
		"fractal", t.cfg.Fractal,
		"seed", t.cfg.Seed,
		"rows", t.cfg.Rows,
		"columns", t.cfg.Columns,
	)
	t.advance(StateCreateVertices, flow.DefaultRate)
}

// altitude maps noise at tile-unit coordinates to world height.
func (t *Terrain) altitude(x, y float64) float64 {
	if t.noise == nil {
		return 0
	}
	h := math.Max(0, math.Min(1, t.cfg.Horizon))
	v := (t.noise.Eval2(x, y)+1.0)*0.5 - h
	return math.Max(0, math.Min(1, v)) * t.heightMultiplier / (1.0 - h)
}

// Altitude returns the terrain height at a world-space position.
func (t *Terrain) Altitude(p mgl64.Vec2) float64 {
	if t.sizeMultiplier == 0 {
		return 0
	}
	return t.altitude(p.X()/t.sizeMultiplier, p.Y()/t.sizeMultiplier)
}

// MaxAltitude is the highest altitude Altitude can return.
func (t *Terrain) MaxAltitude() float64 {
	return t.heightMultiplier
}

// WaterBase is the altitude below which terrain counts as water.
func (t *Terrain) WaterBase() float64 {
	return t.cfg.WaterLevel * t.heightMultiplier
}

// Width is the world-space extent along x.
func (t *Terrain) Width() float64 {
	return float64(t.cfg.Rows) * t.sizeMultiplier
}

// Height is the world-space extent along y.
func (t *Terrain) Height() float64 {
	return float64(t.cfg.Columns) * t.sizeMultiplier
}

func (t *Terrain) stepCreateVertices(act *flow.Activation) {
	rows, cols := t.cfg.Rows, t.cfg.Columns
	halfRow := rows / 2
	halfCol := cols / 2

	t.createVertices.Setup(func() {
		n := (rows + 1) * (cols + 1)
		t.mesh.Vertices = make([]mgl64.Vec3, 0, n)
		t.mesh.UVs = make([]mgl64.Vec2, 0, n)
	})
	t.progressTarget = (rows + 1) * (cols + 1)
	t.progressLoop = t.createVertices

	done := t.createVertices.Grid(act, rows+1, cols+1, func(i, j int) {
		x := float64(i - halfRow)
		y := float64(j - halfCol)
		t.mesh.Vertices = append(t.mesh.Vertices, mgl64.Vec3{
			x * t.sizeMultiplier,
			y * t.sizeMultiplier,
			t.altitude(x, y),
		})
		t.mesh.UVs = append(t.mesh.UVs, mgl64.Vec2{x * t.cfg.UVScale, y * t.cfg.UVScale})
	})
	if !done {
		return
	}
	t.log.Info("create vertices and UVs done", "vertices", humanize.Comma(int64(len(t.mesh.Vertices))))
	t.advance(StateCreateTriangles, t.createVertices.Rate)
}

func (t *Terrain) stepCreateTriangles(act *flow.Activation) {
	rows, cols := t.cfg.Rows, t.cfg.Columns
	colVertexNum := cols + 1

	t.createTriangles.Setup(func() {
		t.mesh.Triangles = make([]int, 0, rows*cols*6)
	})
	t.progressTarget = rows * cols
	t.progressLoop = t.createTriangles

	done := t.createTriangles.Grid(act, rows, cols, func(i, j int) {
		rowVertex := i * colVertexNum
		nextRowVertex := (i + 1) * colVertexNum
		v0 := j + rowVertex
		v1 := j + nextRowVertex
		v2 := j + 1 + rowVertex
		v3 := j + 1 + nextRowVertex
		t.mesh.Triangles = append(t.mesh.Triangles, v0, v3, v1, v0, v2, v3)
	})
	if !done {
		return
	}
	t.advance(StateCalNormalsInit, t.createTriangles.Rate)
}

func (t *Terrain) stepCalNormalsInit(act *flow.Activation) {
	n := len(t.mesh.Vertices)
	t.calNormalsInit.Setup(func() {
		t.normalsAcc = make([]mgl64.Vec3, 0, n)
	})
	t.progressTarget = n
	t.progressLoop = t.calNormalsInit

	if !t.calNormalsInit.Range(act, n, func(int) {
		t.normalsAcc = append(t.normalsAcc, mgl64.Vec3{})
	}) {
		return
	}
	t.advance(StateCalNormalsAcc, t.calNormalsInit.Rate)
}

func (t *Terrain) stepCalNormalsAcc(act *flow.Activation) {
	n := len(t.mesh.Triangles) / 3
	t.progressTarget = n
	t.progressLoop = t.calNormalsAcc

	if !t.calNormalsAcc.Range(act, n, t.accumulateTriangleNormal) {
		return
	}
	t.advance(StateNormalizeNormals, t.calNormalsAcc.Rate)
}

// accumulateTriangleNormal adds the (area weighted) face normal of triangle
// k to each of its three vertices.
func (t *Terrain) accumulateTriangleNormal(k int) {
	i1 := t.mesh.Triangles[k*3]
	i2 := t.mesh.Triangles[k*3+1]
	i3 := t.mesh.Triangles[k*3+2]
	v := t.mesh.Vertices

	normal := v[i1].Sub(v[i2]).Cross(v[i3].Sub(v[i2]))
	t.normalsAcc[i1] = t.normalsAcc[i1].Add(normal)
	t.normalsAcc[i2] = t.normalsAcc[i2].Add(normal)
	t.normalsAcc[i3] = t.normalsAcc[i3].Add(normal)
}

func (t *Terrain) stepNormalizeNormals(act *flow.Activation) {
	n := len(t.normalsAcc)
	t.normalizeNormals.Setup(func() {
		t.mesh.Normals = make([]mgl64.Vec3, 0, n)
	})
	t.progressTarget = n
	t.progressLoop = t.normalizeNormals

	if !t.normalizeNormals.Range(act, n, func(i int) {
		t.mesh.Normals = append(t.mesh.Normals, normalize(t.normalsAcc[i]))
	}) {
		return
	}
	t.advance(StateDrawMesh, t.normalizeNormals.Rate)
}

func (t *Terrain) drawMesh() {
	if t.sink != nil {
		t.sink.DrawMesh(t.mesh)
	}
	t.metrics.StageDone(workflowName, t.state.String())
	t.state = StateDone
	t.log.Info("terrain workflow done",
		"vertices", humanize.Comma(int64(len(t.mesh.Vertices))),
		"triangles", humanize.Comma(int64(len(t.mesh.Triangles)/3)),
	)
}

func normalize(v mgl64.Vec3) mgl64.Vec3 {
	if v.Len() == 0 {
		return mgl64.Vec3{0, 0, 1}
	}
	return v.Normalize()
}
