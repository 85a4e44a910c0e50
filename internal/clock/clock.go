package clock

import "time"

// Clock reports monotonic time elapsed since the process started.
// Values never go backwards, even when the wall clock is stepped by NTP.
type Clock interface {
	Now() time.Duration
}

type Monotonic struct {
	start time.Time
}

func NewMonotonic() *Monotonic {
	return &Monotonic{start: time.Now()}
}

// Now relies on the monotonic reading carried by time.Time.
func (m *Monotonic) Now() time.Duration {
	return time.Since(m.start)
}

// Manual is a Clock driven by hand, for tests.
type Manual struct {
	T time.Duration
}

func (m *Manual) Now() time.Duration { return m.T }

func (m *Manual) Advance(d time.Duration) time.Duration {
	m.T += d
	return m.T
}

// Set moves the clock to t; moving backwards is ignored.
func (m *Manual) Set(t time.Duration) {
	if t > m.T {
		m.T = t
	}
}
