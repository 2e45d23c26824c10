// Package delay provides a non-blocking delay that is armed and polled with a
// single call. It performs no sleeping and reads no clock: the current time is
// always passed in by the caller.
package delay

import "time"

// Duration limits. Requests outside this range are clamped.
const (
	MinDuration = 50 * time.Millisecond
	MaxDuration = 2000 * time.Millisecond
)

// Delay is a one-shot window that re-arms itself after it reports completion.
type Delay struct {
	start    time.Time
	duration time.Duration
	running  bool
}

// New returns a stopped Delay with the given duration, clamped.
func New(duration time.Duration) *Delay {
	d := &Delay{}
	d.Reset(duration)
	return d
}

// Reset stops the window and sets a new duration, clamped.
func (d *Delay) Reset(duration time.Duration) {
	d.duration = Clamp(duration)
	d.running = false
	d.start = time.Time{}
}

// Read arms the window if it is not running and reports false. Once running it
// reports whether duration has passed since it was armed; a true result stops
// the window so the following call arms it again.
func (d *Delay) Read(now time.Time) bool {
	if !d.running {
		d.start = now
		d.running = true
		return false
	}
	if now.Sub(d.start) >= d.duration {
		d.running = false
		return true
	}
	return false
}

// SetDuration changes the window length without disturbing a running window.
func (d *Delay) SetDuration(duration time.Duration) {
	d.duration = Clamp(duration)
}

// Duration returns the configured window length.
func (d *Delay) Duration() time.Duration {
	return d.duration
}

// Running reports whether a window is currently open.
func (d *Delay) Running() bool {
	return d.running
}

// Clamp limits duration to [MinDuration, MaxDuration].
func Clamp(duration time.Duration) time.Duration {
	if duration > MaxDuration {
		return MaxDuration
	}
	if duration < MinDuration {
		return MinDuration
	}
	return duration
}
