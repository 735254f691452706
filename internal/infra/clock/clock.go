package clock

import (
	"context"
	"time"
)

// Clock provides the current time and timers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f on its own goroutine (real clock) or on the
	// advancing goroutine (fake clock) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer

	// After returns a channel that receives the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// Sleep waits for d on c, returning early with ctx.Err() if ctx is done.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}
