// Package clock abstracts the timers agentshell arms (stop grace, voice
// nudge, auto-voice) so tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package the shell schedules with.
// Production code uses Real(); tests use Fake().
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d. A non-positive d calls f immediately
	// (in a new goroutine for Real, synchronously for Fake).
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It reports whether the call stopped
// the timer; false means it already fired or was stopped.
// A nil Timer is safe to stop.
func (t *Timer) Stop() bool {
	if t == nil || t.stopFunc == nil {
		return false
	}
	return t.stopFunc()
}
