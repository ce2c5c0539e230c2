package grid

import (
	"github.com/zyedidia/generic/mapset"
	"github.com/zyedidia/generic/queue"

	"github.com/talgya/hexworld/internal/world"
)

// gatewayResult is what a search through gateway tiles found.
type gatewayResult uint8

const (
	gatewayUnknown gatewayResult = iota
	gatewayConnected
	gatewayDisconnected
	gatewayNone
)

// islandResolver classifies tiles as land. Searches from gateway tiles are
// memoized for every tile the search visited: all maximally open tiles in
// one gateway component share the same connection flag.
type islandResolver struct {
	g        *world.Graph
	maxLevel int
	memo     []gatewayResult
}

func newIslandResolver(g *world.Graph, maxLevel int) *islandResolver {
	return &islandResolver{g: g, maxLevel: maxLevel, memo: make([]gatewayResult, g.Len())}
}

// resolve searches from tile i over radius-1 neighbors at GatewayLevel or
// above and returns what the first maximally open tile reached says.
func (r *islandResolver) resolve(i int) gatewayResult {
	if res := r.memo[i]; res != gatewayUnknown {
		return res
	}

	reached := mapset.New[int]()
	reached.Put(i)
	visited := []int{i}
	frontier := queue.New[int]()
	frontier.Enqueue(i)

	res := gatewayNone
	for !frontier.Empty() {
		cur := frontier.Dequeue()
		t := r.g.Tiles[cur]
		if t.WalkingBlockLevel == r.maxLevel {
			if t.WalkingConnection {
				res = gatewayConnected
			} else {
				res = gatewayDisconnected
			}
			break
		}
		if m := r.memo[cur]; m != gatewayUnknown {
			res = m
			break
		}
		r.g.EachNeighbor(cur, 0, func(j int) bool {
			if !reached.Has(j) && r.g.Tiles[j].WalkingBlockLevel >= GatewayLevel {
				reached.Put(j)
				visited = append(visited, j)
				frontier.Enqueue(j)
			}
			return true
		})
	}

	for _, j := range visited {
		r.memo[j] = res
	}
	return res
}

// isLand classifies tile i by its walking block level.
func (r *islandResolver) isLand(i int) bool {
	t := r.g.Tiles[i]
	level := t.WalkingBlockLevel

	switch {
	case level == r.maxLevel:
		return !t.WalkingConnection
	case level >= GatewayLevel && level < r.maxLevel:
		return r.resolve(i) != gatewayConnected
	case level >= 1 && level < GatewayLevel:
		// Look inward through the rings nearest the blocking tile for a
		// gateway that leads to the connected open region.
		for k := level; k > 0; k-- {
			ring := GatewayLevel - 1 - k
			connected := false
			r.g.EachNeighbor(i, ring, func(j int) bool {
				if r.g.Tiles[j].WalkingBlockLevel == GatewayLevel && r.resolve(j) == gatewayConnected {
					connected = true
					return false
				}
				return true
			})
			if connected {
				return false
			}
		}
		return true
	default:
		return true
	}
}
