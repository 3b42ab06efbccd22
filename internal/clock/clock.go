package clock

import "time"

// Clock abstracts time so deadline behavior is testable.
type Clock interface {
	Now() time.Time

	// AfterFunc schedules f to run in its own goroutine after d. The returned
	// Timer can cancel the call before it fires.
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// Stop cancels the timer. It reports whether the call was prevented from
	// running.
	Stop() bool
}

// System returns a Clock backed by the system clock.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
