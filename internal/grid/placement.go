package grid

import (
	"math"
	"math/rand"
	"sort"

	"github.com/talgya/hexworld/internal/world"
)

// Site is a suggested building location.
type Site struct {
	Tile  int            `json:"tile"`
	Coord world.HexCoord `json:"coord"`
	Size  SiteSize       `json:"size"`
	Score float64        `json:"score"`
}

// SiteSize categorizes how much open ground a site has around it.
type SiteSize uint8

const (
	SiteSmall SiteSize = iota
	SiteMedium
	SiteLarge
)

// MarshalText encodes the size by name.
func (s SiteSize) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s SiteSize) String() string {
	switch s {
	case SiteLarge:
		return "large"
	case SiteMedium:
		return "medium"
	default:
		return "small"
	}
}

// PlacementConfig controls PlaceSites.
type PlacementConfig struct {
	Seed int64

	// Count ranges are [Min, Min+Spread].
	LargeMin, LargeSpread   int
	MediumMin, MediumSpread int
	SmallMin, SmallSpread   int

	// Minimum hex distance from any already placed site.
	LargeDist, MediumDist, SmallDist int
}

// DefaultPlacementConfig returns the default site counts and spacing.
func DefaultPlacementConfig() PlacementConfig {
	return PlacementConfig{
		LargeMin: 3, LargeSpread: 2,
		MediumMin: 10, MediumSpread: 10,
		SmallMin: 30, SmallSpread: 20,
		LargeDist: 8, MediumDist: 4, SmallDist: 2,
	}
}

// PlaceSites picks building sites on a classified grid: large sites first at
// the best scoring tiles, then medium, then small, each tier keeping its
// minimum distance from everything placed before it. Returns nil before
// Done.
func (g *Grid) PlaceSites(cfg PlacementConfig) []Site {
	if !g.Done() {
		return nil
	}
	rng := rand.New(rand.NewSource(cfg.Seed + 200))

	type scored struct {
		tile  int
		score float64
	}
	var candidates []scored
	for i := range g.graph.Tiles {
		if s := g.siteScore(i); s > 0 {
			candidates = append(candidates, scored{i, s})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	var sites []Site
	taken := make(map[int]bool)
	place := func(size SiteSize, count, minDist int) {
		placed := 0
		for _, c := range candidates {
			if placed >= count {
				break
			}
			coord := g.graph.Tiles[c.tile].Coord
			if taken[c.tile] || tooClose(coord, sites, minDist) {
				continue
			}
			taken[c.tile] = true
			sites = append(sites, Site{Tile: c.tile, Coord: coord, Size: size, Score: c.score})
			placed++
		}
	}

	place(SiteLarge, cfg.LargeMin+intn(rng, cfg.LargeSpread+1), cfg.LargeDist)
	place(SiteMedium, cfg.MediumMin+intn(rng, cfg.MediumSpread+1), cfg.MediumDist)
	place(SiteSmall, cfg.SmallMin+intn(rng, cfg.SmallSpread+1), cfg.SmallDist)
	return sites
}

// siteScore rates tile i as a building site. Only connected, non-land
// tiles with building room score above zero. Prefers deep building
// clearance, open walking ground and flat terrain.
func (g *Grid) siteScore(i int) float64 {
	t := g.graph.Tiles[i]
	if t.IsLand || !t.WalkingConnection || t.BuildingBlockLevel <= 0 || t.WalkingBlockLevel <= 0 {
		return 0
	}

	score := 3.0 * float64(t.BuildingBlockLevel) / float64(g.buildingMax())
	score += float64(t.WalkingBlockLevel) / float64(g.walkingMax())

	// Flat ground is cheaper to build on.
	score += 0.5 * (1 - math.Min(1, t.AngleToUp/(math.Pi/2)))

	// Bonus for water access within the first ring.
	g.graph.EachNeighbor(i, 0, func(j int) bool {
		if g.graph.Tiles[j].AvgPositionZ < g.building.WaterBase {
			score += 0.5
			return false
		}
		return true
	})
	return score
}

func tooClose(coord world.HexCoord, existing []Site, minDist int) bool {
	for _, s := range existing {
		if world.Distance(coord, s.Coord) < minDist {
			return true
		}
	}
	return false
}

func intn(rng *rand.Rand, n int) int {
	if n <= 0 {
		return 0
	}
	return rng.Intn(n)
}
