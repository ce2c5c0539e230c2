package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopDispatchOrder(t *testing.T) {
	loop := NewLoop()
	var order []string

	loop.After(20*time.Millisecond, func() { order = append(order, "c") })
	loop.After(10*time.Millisecond, func() { order = append(order, "a") })
	loop.After(10*time.Millisecond, func() { order = append(order, "b") })
	loop.After(0, func() {
		order = append(order, "first")
		// Scheduled from inside a callback: due at now+5ms, before "a".
		loop.After(5*time.Millisecond, func() { order = append(order, "nested") })
	})

	n := loop.Drain(0)
	assert.Equal(t, 5, n)
	assert.Equal(t, []string{"first", "nested", "a", "b", "c"}, order)
	assert.Equal(t, uint64(5), loop.Tick)
	assert.Equal(t, 20*time.Millisecond, loop.Now())
}

func TestLoopDrainLimit(t *testing.T) {
	loop := NewLoop()
	count := 0
	var again func()
	again = func() {
		count++
		loop.After(time.Millisecond, again)
	}
	loop.After(0, again)

	assert.Equal(t, 3, loop.Drain(3))
	assert.Equal(t, 3, count)
	assert.Equal(t, 1, loop.Pending())
}

func TestLoopRunReturnsWhenIdle(t *testing.T) {
	loop := NewLoop()
	ran := 0
	loop.After(time.Millisecond, func() { ran++ })
	loop.After(2*time.Millisecond, func() { ran++ })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, loop.Run(ctx))
	assert.Equal(t, 2, ran)
}

func TestLoopRunCancelled(t *testing.T) {
	loop := NewLoop()
	loop.After(time.Hour, func() { t.Error("should not run") })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, loop.Pending())
}
