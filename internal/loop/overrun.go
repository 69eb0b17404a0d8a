package loop

// overrunTracker detects runs of consecutive over-budget iterations. It
// fires once per run, when the run reaches threshold.
type overrunTracker struct {
	threshold int
	streak    int
}

func newOverrunTracker(threshold int) *overrunTracker {
	return &overrunTracker{threshold: threshold}
}

// observe records one iteration and reports whether the streak of overruns
// just reached the threshold.
func (t *overrunTracker) observe(overran bool) bool {
	if !overran {
		t.streak = 0
		return false
	}
	t.streak++
	return t.streak == t.threshold
}
