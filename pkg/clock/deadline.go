package clock

import "time"

// Deadline is a one-shot timeout for a single blocking wait
type Deadline struct {
	d     time.Duration
	timer Timer
}

// NewDeadline starts a deadline of d on c. A non-positive d never fires.
func NewDeadline(c Clock, d time.Duration) *Deadline {
	dl := &Deadline{d: d}
	if d > 0 {
		dl.timer = c.NewTimer(d)
	}
	return dl
}

// C returns the channel that fires when the deadline elapses.
// It is nil, and so blocks forever in a select, when the deadline is unbounded.
func (dl *Deadline) C() <-chan time.Time {
	if dl == nil || dl.timer == nil {
		return nil
	}
	return dl.timer.C()
}

// Duration returns the configured length of the deadline
func (dl *Deadline) Duration() time.Duration {
	if dl == nil {
		return 0
	}
	return dl.d
}

// Stop releases the underlying timer
func (dl *Deadline) Stop() {
	if dl != nil && dl.timer != nil {
		dl.timer.Stop()
	}
}
