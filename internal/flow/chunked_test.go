package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRange drives a Range stage to completion on loop and returns the order
// in which indices were visited plus the number of activations.
func runRange(t *testing.T, limit, n int) ([]int, int) {
	t.Helper()

	loop := NewLoop()
	state := NewLoopState()
	state.CountLimit = limit

	var visited []int
	activations := 0
	done := false

	var step func()
	step = func() {
		activations++
		act := state.Begin(loop, step)
		if state.Range(act, n, func(i int) { visited = append(visited, i) }) {
			done = true
		}
	}

	loop.After(0, step)
	loop.Drain(0)
	require.True(t, done, "range never completed")
	return visited, activations
}

func TestRangeVisitsEveryIndexOnce(t *testing.T) {
	for _, limit := range []int{-3, 0, 1, 2, 7, 3000} {
		visited, _ := runRange(t, limit, 25)
		want := make([]int, 25)
		for i := range want {
			want[i] = i
		}
		assert.Equal(t, want, visited, "limit %d", limit)
	}
}

func TestRangeActivationCount(t *testing.T) {
	// Each activation runs limit+1 bodies before yielding.
	_, activations := runRange(t, 2, 10)
	assert.Equal(t, 4, activations)

	_, activations = runRange(t, 0, 5)
	assert.Equal(t, 5, activations)

	_, activations = runRange(t, -1, 5)
	assert.Equal(t, 5, activations, "negative limit degenerates to single steps")

	_, activations = runRange(t, 3000, 10)
	assert.Equal(t, 1, activations)
}

func TestRangeEmpty(t *testing.T) {
	visited, activations := runRange(t, 1, 0)
	assert.Empty(t, visited)
	assert.Equal(t, 1, activations)
}

func TestGridResumesInnerLoopOnce(t *testing.T) {
	for _, limit := range []int{0, 1, 4, 11, 100} {
		loop := NewLoop()
		state := NewLoopState()
		state.CountLimit = limit

		type cell struct{ i, j int }
		var visited []cell
		done := false

		var step func()
		step = func() {
			act := state.Begin(loop, step)
			done = state.Grid(act, 4, 5, func(i, j int) {
				visited = append(visited, cell{i, j})
			})
		}
		loop.After(0, step)
		loop.Drain(0)

		require.True(t, done)
		require.Len(t, visited, 20, "limit %d", limit)
		for k, c := range visited {
			assert.Equal(t, cell{k / 5, k % 5}, c, "limit %d", limit)
		}
	}
}

func TestGridRequiresTwoLevels(t *testing.T) {
	state := &LoopState{CountLimit: 10, DepthLimit: 1}
	state.Reset()
	act := state.Begin(NewLoop(), func() {})
	assert.Panics(t, func() {
		state.Grid(act, 2, 2, func(int, int) {})
	})
}

func TestSetupRunsOnceAcrossActivations(t *testing.T) {
	loop := NewLoop()
	state := NewLoopState()
	state.CountLimit = 1

	setups := 0
	var step func()
	step = func() {
		state.Setup(func() { setups++ })
		act := state.Begin(loop, step)
		state.Range(act, 9, func(int) {})
	}
	loop.After(0, step)
	loop.Drain(0)

	assert.Equal(t, 1, setups)
	assert.Equal(t, 9, state.Count)

	state.Reset()
	loop.After(0, step)
	loop.Drain(0)
	assert.Equal(t, 2, setups, "reset re-arms setup")
}

func TestYieldSavesOnlyDepthLimitIndices(t *testing.T) {
	loop := NewLoop()
	state := &LoopState{CountLimit: 0, DepthLimit: 2}
	state.Reset()

	act := state.Begin(loop, func() {})
	assert.False(t, act.Yield(1, 2, 3))
	assert.True(t, act.Yield(4, 5, 6))
	assert.True(t, act.Yielded())
	assert.Equal(t, []int{4, 5}, state.Saved)
	assert.Equal(t, 1, loop.Pending())

	// Further calls do not schedule twice.
	assert.True(t, act.Yield(7, 8))
	assert.Equal(t, 1, loop.Pending())
}
