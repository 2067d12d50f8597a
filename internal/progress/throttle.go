package progress

import "math"

// Throttle decides which progress values are worth reporting.
//
// Reported values never decrease: a value below the last successful report
// is treated as equal to it. A report is due when the value rose by at least
// the threshold, or when it first reaches 100.
type Throttle struct {
	threshold float64
	last      float64
	finished  bool
}

// NewThrottle returns a Throttle reporting every threshold percentage points.
func NewThrottle(threshold float64) *Throttle {
	if threshold <= 0 {
		threshold = 1
	}
	return &Throttle{threshold: threshold}
}

// Due reports whether percent should be sent and the clamped value to send.
func (t *Throttle) Due(percent float64) (float64, bool) {
	if t.finished {
		return t.last, false
	}
	p := clamp(percent)
	if p < t.last {
		p = t.last
	}
	if p >= 100 {
		return 100, true
	}
	return p, p-t.last >= t.threshold
}

// Mark records a successful report of percent.
func (t *Throttle) Mark(percent float64) {
	p := clamp(percent)
	if p > t.last {
		t.last = p
	}
	if p >= 100 {
		t.finished = true
	}
}

// Last returns the last successfully reported value.
func (t *Throttle) Last() float64 {
	return t.last
}

func clamp(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
