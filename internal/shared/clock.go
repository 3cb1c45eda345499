package shared

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock returns UTC wall time truncated to microseconds, matching
// PostgreSQL timestamp precision.
var SystemClock Clock = ClockFunc(func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
})

// FixedClock always returns t. Useful in tests.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
