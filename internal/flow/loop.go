// Package flow provides the cooperative scheduling primitives behind the
// terrain and hex-grid workflows: a single-goroutine callback loop and the
// chunked loop state that lets a stage run a bounded number of iterations,
// yield, and resume from the saved position.
package flow

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Scheduler runs fn once after delay d. Callbacks never run concurrently.
type Scheduler interface {
	After(d time.Duration, fn func())
}

type pendingCall struct {
	due time.Duration // logical time offset
	seq uint64
	fn  func()
}

// Loop is the host scheduler. Callbacks are dispatched one at a time in
// (due time, submission order). The logical clock advances to the due time
// of each dispatched callback, so delays stack the same way whether the
// loop sleeps in real time (Run) or not at all (Drain).
type Loop struct {
	Tick uint64 // Number of callbacks dispatched (monotonic)

	mu      sync.Mutex
	clock   time.Duration
	seq     uint64
	pending []pendingCall
	wake    chan struct{}
}

// NewLoop creates an idle loop at logical time zero.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// After implements Scheduler. Safe to call from callbacks and from other
// goroutines.
func (l *Loop) After(d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}

	l.mu.Lock()
	l.seq++
	call := pendingCall{due: l.clock + d, seq: l.seq, fn: fn}
	i := sort.Search(len(l.pending), func(i int) bool {
		p := l.pending[i]
		return p.due > call.due || (p.due == call.due && p.seq > call.seq)
	})
	l.pending = append(l.pending, pendingCall{})
	copy(l.pending[i+1:], l.pending[i:])
	l.pending[i] = call
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of scheduled callbacks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Now returns the logical clock.
func (l *Loop) Now() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock
}

// pop removes the earliest callback and advances the clock to its due time.
func (l *Loop) pop() (pendingCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return pendingCall{}, false
	}
	call := l.pending[0]
	l.pending = l.pending[1:]
	if call.due > l.clock {
		l.clock = call.due
	}
	return call, true
}

func (l *Loop) peek() (pendingCall, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return pendingCall{}, false
	}
	return l.pending[0], true
}

// Run dispatches callbacks in real time until nothing is pending or ctx is
// cancelled. Returns ctx.Err() on cancellation, nil when idle.
func (l *Loop) Run(ctx context.Context) error {
	started := time.Now().Add(-l.Now())
	slog.Debug("scheduler loop started", "tick", l.Tick)

	for {
		next, ok := l.peek()
		if !ok {
			slog.Debug("scheduler loop idle", "tick", l.Tick)
			return nil
		}

		// Sleep for the remainder of the delay, waking early if something
		// earlier gets scheduled.
		if wait := time.Until(started.Add(next.due)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-l.wake:
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		l.dispatch()
	}
}

// Drain dispatches up to max callbacks without sleeping (max <= 0 means
// until idle) and returns how many ran.
func (l *Loop) Drain(max int) int {
	n := 0
	for max <= 0 || n < max {
		if !l.dispatch() {
			break
		}
		n++
	}
	return n
}

func (l *Loop) dispatch() bool {
	call, ok := l.pop()
	if !ok {
		return false
	}
	l.Tick++
	call.fn()
	return true
}
