package grid

import (
	"github.com/go-gl/mathgl/mgl64"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/world"
)

// Instance is one drawn hex, positioned on the terrain surface and tilted
// to the tile normal.
type Instance struct {
	Tile      int
	Coord     world.HexCoord
	Position  mgl64.Vec3
	Rotation  mgl64.Quat
	Scale     float64
	Normal    mgl64.Vec3
	AngleToUp float64

	WalkingBlockLevel  int
	BuildingBlockLevel int
	IsLand             bool
	Color              colorful.Color
}

// InstanceSink receives drawn instances.
type InstanceSink interface {
	AddInstance(inst Instance)
}

// Instances collects drawn instances in memory.
type Instances []Instance

// AddInstance implements InstanceSink.
func (s *Instances) AddInstance(inst Instance) {
	*s = append(*s, inst)
}

func (g *Grid) drawInstances(act *flow.Activation) {
	if !g.cfg.ShowGrid || g.sink == nil {
		g.log.Info("grid drawing disabled")
		g.advance(StateDone)
		return
	}

	ls := g.loops[g.state]
	ls.Setup(func() { g.instances = 0 })
	if !ls.Range(act, g.graph.Len(), g.drawTile) {
		return
	}
	g.log.Info("draw instances done", "instances", g.instances, "mode", g.cfg.ShowMode)
	g.advance(StateDone)
}

// drawTile adds an instance for tile i when it is passable in the current
// show mode, connected, and inside the map.
func (g *Grid) drawTile(i int) {
	t := g.graph.Tiles[i]
	level := t.WalkingBlockLevel
	if g.cfg.ShowMode == ShowBuilding {
		level = t.BuildingBlockLevel
	}
	if level <= 0 || t.IsLand || !g.walking.InBounds(t) {
		return
	}

	g.sink.AddInstance(g.instance(i))
	g.instances++
}

func (g *Grid) instance(i int) Instance {
	t := g.graph.Tiles[i]

	rotation := mgl64.QuatIdent()
	if axis := g.up.Cross(t.Normal); axis.Len() > 1e-12 {
		rotation = mgl64.QuatRotate(t.AngleToUp, axis.Normalize())
	}

	scale := 1.0
	if g.cfg.MeshSize > 0 {
		scale = g.graph.TileSize / g.cfg.MeshSize
	}

	return Instance{
		Tile:               i,
		Coord:              t.Coord,
		Position:           mgl64.Vec3{t.Position.X(), t.Position.Y(), t.AvgPositionZ + g.cfg.MeshOffset},
		Rotation:           rotation,
		Scale:              scale,
		Normal:             t.Normal,
		AngleToUp:          t.AngleToUp,
		WalkingBlockLevel:  t.WalkingBlockLevel,
		BuildingBlockLevel: t.BuildingBlockLevel,
		IsLand:             t.IsLand,
		Color:              g.tileColor(t),
	}
}

// tileColor maps the primary level to hue (land is magenta) and the
// secondary level to saturation.
func (g *Grid) tileColor(t *world.Tile) colorful.Color {
	primary, primaryMax := t.WalkingBlockLevel, g.walkingMax()
	secondary, secondaryMax := t.BuildingBlockLevel, g.buildingMax()
	if g.cfg.ShowMode == ShowBuilding {
		primary, primaryMax = t.BuildingBlockLevel, g.buildingMax()
		secondary, secondaryMax = t.WalkingBlockLevel, g.walkingMax()
	}

	h := 300.0
	if !t.IsLand {
		h = 120.0 / float64(primaryMax) * float64(primary)
	}
	s := 0.5 + 0.5/float64(secondaryMax)*float64(max(secondary, 0))
	return colorful.Hsv(h, s, 1.0)
}
