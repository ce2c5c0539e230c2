package flow

import "time"

// Loop budget defaults.
const (
	DefaultCountLimit = 3000
	DefaultRate       = 10 * time.Millisecond
	DefaultDepthLimit = 4
)

// LoopState is the resumable position of one workflow stage.
// Saved holds one index per nesting level and is only meaningful while the
// owning stage has not completed.
type LoopState struct {
	Rate       time.Duration // Delay before the resumed activation
	CountLimit int           // Iterations allowed per activation before yielding
	DepthLimit int           // Number of nesting levels that can be saved

	Saved       []int
	Initialized bool
	Count       int // Iterations executed across all activations
}

// NewLoopState returns a reset state with the default budget.
func NewLoopState() *LoopState {
	s := &LoopState{
		Rate:       DefaultRate,
		CountLimit: DefaultCountLimit,
		DepthLimit: DefaultDepthLimit,
	}
	s.Reset()
	return s
}

// Reset rewinds the stage to its first iteration, keeping the budget.
func (s *LoopState) Reset() {
	if s.DepthLimit < 1 {
		s.DepthLimit = 1
	}
	s.Saved = make([]int, s.DepthLimit)
	s.Initialized = false
	s.Count = 0
}

// Budget is the per-stage pacing configuration.
type Budget struct {
	Rate       time.Duration
	CountLimit int
}

// DefaultBudget returns the default pacing.
func DefaultBudget() Budget {
	return Budget{Rate: DefaultRate, CountLimit: DefaultCountLimit}
}

// Apply sets the pacing of s. The saved position is left untouched.
func (s *LoopState) Apply(b Budget) {
	s.Rate = b.Rate
	s.CountLimit = b.CountLimit
}

// Setup runs fn the first time it is called after a Reset and never again,
// no matter how many activations the stage takes.
func (s *LoopState) Setup(fn func()) {
	if s.Initialized {
		return
	}
	s.Initialized = true
	if fn != nil {
		fn()
	}
}

// Activation is one scheduler callback's worth of work on a LoopState.
type Activation struct {
	state  *LoopState
	sched  Scheduler
	resume func()

	count   int
	yielded bool
}

// Begin starts an activation. resume is what gets scheduled if the budget
// runs out.
func (s *LoopState) Begin(sched Scheduler, resume func()) *Activation {
	if len(s.Saved) != s.DepthLimit {
		s.Reset()
	}
	return &Activation{state: s, sched: sched, resume: resume}
}

// Yield must be called before every iteration body with the indices of the
// iteration about to run. When the activation has already run more than
// CountLimit iterations it saves indices, schedules the resume callback and
// returns true: the caller has to return to the scheduler without running
// the body. A CountLimit of zero or less allows one iteration per activation.
func (a *Activation) Yield(indices ...int) bool {
	if a.yielded {
		return true
	}

	limit := a.state.CountLimit
	if limit < 0 {
		limit = 0
	}
	if a.count > limit {
		for i := 0; i < len(indices) && i < a.state.DepthLimit; i++ {
			a.state.Saved[i] = indices[i]
		}
		a.yielded = true
		a.sched.After(a.state.Rate, a.resume)
		return true
	}

	a.count++
	a.state.Count++
	return false
}

// Yielded reports whether this activation handed control back.
func (a *Activation) Yielded() bool {
	return a.yielded
}

// Iterations returns how many iteration bodies this activation was allowed
// to run.
func (a *Activation) Iterations() int {
	return a.count
}

// Range drives body over [Saved[0], n). Returns true when the whole range
// has been executed, false when the activation yielded.
func (s *LoopState) Range(a *Activation, n int, body func(i int)) bool {
	for i := s.Saved[0]; i < n; i++ {
		if a.Yield(i) {
			return false
		}
		body(i)
	}
	return true
}

// Grid drives body over rows x cols in row-major order. Only the first row
// entered after a yield resumes its inner loop from Saved[1]; every later
// row starts from column zero.
func (s *LoopState) Grid(a *Activation, rows, cols int, body func(i, j int)) bool {
	if s.DepthLimit < 2 {
		panic("flow: nested loop needs DepthLimit >= 2")
	}

	resumedInner := false
	for i := s.Saved[0]; i < rows; i++ {
		j := 0
		if !resumedInner {
			j = s.Saved[1]
			resumedInner = true
		}
		for ; j < cols; j++ {
			if a.Yield(i, j) {
				return false
			}
			body(i, j)
		}
	}
	return true
}
