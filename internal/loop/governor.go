package loop

import (
	"math"
	"time"
)

// Governor paces iterations to a target frame rate.
type Governor struct {
	period time.Duration
	clock  Clock
}

// NewGovernor returns a governor for fps. A non-positive fps disables
// pacing.
func NewGovernor(fps int, clock Clock) *Governor {
	if clock == nil {
		clock = SystemClock{}
	}
	g := &Governor{clock: clock}
	if fps > 0 {
		g.period = time.Second / time.Duration(fps)
	}
	return g
}

// Period is the per-iteration budget, zero when unpaced.
func (g *Governor) Period() time.Duration { return g.period }

// Remaining is the part of the budget left after elapsed. It is never
// negative: an overrun iteration proceeds immediately.
func (g *Governor) Remaining(elapsed time.Duration) time.Duration {
	if g.period == 0 || elapsed >= g.period {
		return 0
	}
	return g.period - elapsed
}

// Wait sleeps out the remaining budget and returns how long it waited.
func (g *Governor) Wait(elapsed time.Duration) time.Duration {
	r := g.Remaining(elapsed)
	if r > 0 {
		g.clock.Sleep(r)
	}
	return r
}

// Overran reports whether an iteration of length dt exceeded the budget.
func (g *Governor) Overran(dt time.Duration) bool {
	return g.period > 0 && dt > g.period
}

// Rate converts an iteration duration to Hz.
func Rate(dt time.Duration) float64 {
	if dt <= 0 {
		return math.Inf(1)
	}
	return float64(time.Second) / float64(dt)
}
