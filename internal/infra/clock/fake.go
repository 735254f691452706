package clock

import (
	"sync"
	"time"
)

// Fake is a virtual clock. Time only moves when Advance is called; due
// timers fire in deadline order on the advancing goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*fakeTimer
}

type fakeTimer struct {
	fake *Fake
	when time.Time
	seq  uint64
	fn   func()
	ch   chan time.Time
}

// NewFake creates a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// AfterFunc schedules fn at Now()+d. A non-positive d fires on the next
// Advance, including Advance(0).
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.schedule(d, fn, nil)
}

// After returns a channel that receives the virtual time at Now()+d.
// A non-positive d delivers immediately.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- f.Now()
		return ch
	}
	f.schedule(d, nil, ch)
	return ch
}

func (f *Fake) schedule(d time.Duration, fn func(), ch chan time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &fakeTimer{
		fake: f,
		when: f.now.Add(d),
		seq:  f.seq,
		fn:   fn,
		ch:   ch,
	}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves virtual time forward by d, firing every timer that falls
// due on the way. Timers scheduled by fired callbacks also fire if they fall
// within the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		idx := -1
		for i, t := range f.timers {
			if t.when.After(target) {
				continue
			}
			if idx < 0 || t.when.Before(f.timers[idx].when) ||
				(t.when.Equal(f.timers[idx].when) && t.seq < f.timers[idx].seq) {
				idx = i
			}
		}
		if idx < 0 {
			f.now = target
			f.mu.Unlock()
			return
		}
		t := f.timers[idx]
		f.timers = append(f.timers[:idx], f.timers[idx+1:]...)
		if t.when.After(f.now) {
			f.now = t.when
		}
		now := f.now
		f.mu.Unlock()

		if t.fn != nil {
			t.fn()
		} else {
			t.ch <- now
		}
	}
}

// Set advances the clock to t. It never moves time backwards.
func (f *Fake) Set(t time.Time) {
	d := t.Sub(f.Now())
	if d > 0 {
		f.Advance(d)
	}
}

// Pending returns the number of scheduled timers, both AfterFunc callbacks
// and After channels.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timers)
}

// Sleepers returns the number of goroutines that can be waiting on an After
// channel that has not fired yet.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if t.ch != nil {
			n++
		}
	}
	return n
}

// AwaitSleepers polls in real time until at least n After channels are
// pending or timeout passes. It reports whether the count was reached.
func (f *Fake) AwaitSleepers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if f.Sleepers() >= n {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Stop removes the timer if it has not fired.
func (t *fakeTimer) Stop() bool {
	f := t.fake
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.timers {
		if p == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return true
		}
	}
	return false
}
