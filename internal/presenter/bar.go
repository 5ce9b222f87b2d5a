package presenter

import "time"

// Bar animates a displayed value toward a target along a linear ramp.
type Bar struct {
	from     float64
	to       float64
	start    time.Time
	duration time.Duration
}

// Value returns the displayed value at now.
func (b Bar) Value(now time.Time) float64 {
	if b.duration <= 0 || !now.Before(b.start.Add(b.duration)) {
		return b.to
	}
	if now.Before(b.start) {
		return b.from
	}
	frac := float64(now.Sub(b.start)) / float64(b.duration)
	return b.from + (b.to-b.from)*frac
}

// Target is the value the bar settles on.
func (b Bar) Target() float64 {
	return b.to
}

// Retarget starts a new ramp from the value displayed at now.
func (b Bar) Retarget(target float64, now time.Time, duration time.Duration) Bar {
	return Bar{
		from:     b.Value(now),
		to:       target,
		start:    now,
		duration: duration,
	}
}
