package loop

import (
	"runtime"
	"time"
)

// spinMargin is how much of a wait BusyWait spends spinning instead of
// sleeping. OS sleeps routinely overshoot by around a millisecond.
const spinMargin = 2 * time.Millisecond

// Clock is the monotonic time source used for pacing.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock with a high precision Sleep.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep implements Clock using BusyWait.
func (SystemClock) Sleep(d time.Duration) { BusyWait(d) }

// BusyWait blocks for d. It sleeps until spinMargin remains and then spins
// on the monotonic clock for the rest.
func BusyWait(d time.Duration) {
	if d <= 0 {
		return
	}
	deadline := time.Now().Add(d)
	if coarse := d - spinMargin; coarse > 0 {
		time.Sleep(coarse)
	}
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}
