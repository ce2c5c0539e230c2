package grid

import (
	"sort"

	"github.com/zyedidia/generic/mapset"
	"github.com/zyedidia/generic/queue"

	"github.com/talgya/hexworld/internal/flow"
	"github.com/talgya/hexworld/internal/world"
)

// Chunk is a radius-1 connected set of maximally open tiles, in discovery
// order.
type Chunk []int

// Chunker splits the maximally open pool into connected components. Its
// frontier and pool survive across activations.
type Chunker struct {
	g *world.Graph

	order  []int // Pool members in index order
	cursor int
	pool   mapset.Set[int]

	frontier *queue.Queue[int]
	current  Chunk

	Chunks []Chunk
}

// NewChunker creates a chunker over g for the given pool, which must be in
// ascending index order.
func NewChunker(g *world.Graph, pool []int) *Chunker {
	c := &Chunker{
		g:        g,
		order:    pool,
		pool:     mapset.New[int](),
		frontier: queue.New[int](),
	}
	for _, i := range pool {
		c.pool.Put(i)
	}
	return c
}

// Remaining returns the number of pool members not yet assigned to a chunk.
func (c *Chunker) Remaining() int {
	return c.pool.Size()
}

// nextSeed returns the lowest-index tile still in the pool.
func (c *Chunker) nextSeed() (int, bool) {
	for c.cursor < len(c.order) {
		i := c.order[c.cursor]
		c.cursor++
		if c.pool.Has(i) {
			return i, true
		}
	}
	return 0, false
}

// Run flood-fills until the pool is empty or the activation yields. Every
// dequeued tile costs one iteration. Returns true once all chunks are out.
func (c *Chunker) Run(act *flow.Activation) bool {
	for {
		if c.frontier.Empty() {
			if c.current != nil {
				c.Chunks = append(c.Chunks, c.current)
				c.current = nil
			}
			seed, ok := c.nextSeed()
			if !ok {
				return true
			}
			c.pool.Remove(seed)
			c.frontier.Enqueue(seed)
			c.current = Chunk{seed}
		}

		for !c.frontier.Empty() {
			if act.Yield(len(c.Chunks)) {
				return false
			}
			cur := c.frontier.Dequeue()
			c.g.EachNeighbor(cur, 0, func(j int) bool {
				if c.pool.Has(j) {
					c.pool.Remove(j)
					c.frontier.Enqueue(j)
					c.current = append(c.current, j)
				}
				return true
			})
		}
	}
}

// SortChunks orders chunks by descending size. Equal sizes keep discovery
// order.
func SortChunks(chunks []Chunk) {
	sort.SliceStable(chunks, func(a, b int) bool {
		return len(chunks[a]) > len(chunks[b])
	})
}

// reachesReference runs a breadth-first search from the first tile of
// chunk over radius-1 neighbors at GatewayLevel or above, stopping at the
// first member of reference.
func reachesReference(g *world.Graph, chunk Chunk, reference mapset.Set[int]) bool {
	if len(chunk) == 0 {
		return false
	}
	start := chunk[0]

	reached := mapset.New[int]()
	reached.Put(start)
	frontier := queue.New[int]()
	frontier.Enqueue(start)

	for !frontier.Empty() {
		cur := frontier.Dequeue()
		if reference.Has(cur) {
			return true
		}
		g.EachNeighbor(cur, 0, func(j int) bool {
			if !reached.Has(j) && g.Tiles[j].WalkingBlockLevel >= GatewayLevel {
				reached.Put(j)
				frontier.Enqueue(j)
			}
			return true
		})
	}
	return false
}

// verifier checks every chunk against the largest one.
type verifier struct {
	chunks    []Chunk
	reference mapset.Set[int]
	connected []bool
}

func newVerifier(chunks []Chunk) *verifier {
	SortChunks(chunks)
	v := &verifier{
		chunks:    chunks,
		reference: mapset.New[int](),
		connected: make([]bool, len(chunks)),
	}
	if len(chunks) > 0 {
		for _, i := range chunks[0] {
			v.reference.Put(i)
		}
		v.connected[0] = true
	}
	return v
}

// verifyOutcome is the result of one verification activation.
type verifyOutcome int

const (
	verifyPending verifyOutcome = iota
	verifyDone
	verifyFailed
)

// run checks chunks from s.Saved[0] onward, one iteration per chunk.
// Reachable chunks are merged into the reference. With tolerate set an
// unreachable chunk has its tiles flagged as disconnected; otherwise run
// stops at it and reports verifyFailed.
func (v *verifier) run(g *world.Graph, s *flow.LoopState, act *flow.Activation, tolerate bool) (verifyOutcome, int) {
	for k := s.Saved[0]; k < len(v.chunks); k++ {
		if act.Yield(k) {
			return verifyPending, k
		}
		if k == 0 {
			continue
		}

		chunk := v.chunks[k]
		if reachesReference(g, chunk, v.reference) {
			for _, i := range chunk {
				v.reference.Put(i)
			}
			v.connected[k] = true
			continue
		}

		if !tolerate {
			return verifyFailed, k
		}
		for _, i := range chunk {
			g.Tiles[i].WalkingConnection = false
		}
	}
	return verifyDone, len(v.chunks)
}
