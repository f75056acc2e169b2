package engine

import (
	"sync"
	"time"
)

// Timer is a one-shot countdown. Arming with zero disarms; it never
// auto-repeats. The fire callback runs on the runtime timer goroutine, so
// callers hand it something that only enqueues work.
type Timer struct {
	mu       sync.Mutex
	t        *time.Timer
	deadline time.Time
	fire     func()
}

// NewTimer creates a disarmed timer.
func NewTimer(fire func()) *Timer {
	return &Timer{fire: fire}
}

// Start arms the timer for seconds from now. Zero (or negative) disarms.
func (t *Timer) Start(seconds float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.deadline = time.Time{}

	if seconds <= 0 {
		return
	}

	d := time.Duration(seconds * float64(time.Second))
	t.deadline = time.Now().Add(d)
	t.t = time.AfterFunc(d, func() {
		t.mu.Lock()
		t.deadline = time.Time{}
		t.t = nil
		t.mu.Unlock()
		t.fire()
	})
}

// Clear disarms the timer.
func (t *Timer) Clear() {
	t.Start(0)
}

// Remaining returns the whole seconds left, rounding up at >=0.5s. A
// disarmed timer reports 0.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	deadline := t.deadline
	t.mu.Unlock()

	if deadline.IsZero() {
		return 0
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0
	}

	secs := int(left / time.Second)
	if left%time.Second >= 500*time.Millisecond {
		secs++
	}
	return secs
}
