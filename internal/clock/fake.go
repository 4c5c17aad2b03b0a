package clock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced clock.
// Sleep advances the fake time by the requested duration and returns
// immediately, so code that paces itself runs at full speed in tests while
// the total slept time stays observable through Slept.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	slept  time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	deadline time.Time
	fn       func()
	stopped  bool
}

// NewFake returns a fake clock set to start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the clock by d.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.slept += d
	f.mu.Unlock()
	f.Advance(d)
	return ctx.Err()
}

// Slept returns the total duration passed to Sleep.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}

// AfterFunc registers f to run once the clock passes now+d.
// Unlike the real clock, f runs synchronously inside Advance.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{clock: f, deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d and fires every due timer in deadline order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		sort.SliceStable(f.timers, func(i, j int) bool {
			return f.timers[i].deadline.Before(f.timers[j].deadline)
		})
		var due *fakeTimer
		for i, t := range f.timers {
			if t.stopped {
				continue
			}
			if !t.deadline.After(target) {
				due = t
				f.timers = append(f.timers[:i], f.timers[i+1:]...)
				break
			}
		}
		if due == nil {
			// timers may advance the clock themselves; time never runs backwards
			if target.After(f.now) {
				f.now = target
			}
			f.compact()
			f.mu.Unlock()
			return
		}
		if due.deadline.After(f.now) {
			f.now = due.deadline
		}
		due.stopped = true
		fn := due.fn
		f.mu.Unlock()
		fn()
	}
}

// compact drops stopped timers; callers hold f.mu.
func (f *Fake) compact() {
	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	f.timers = live
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}
