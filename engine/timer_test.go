package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimer_fires(t *testing.T) {
	fired := make(chan struct{})
	tm := NewTimer(func() { close(fired) })

	tm.Start(0.01)
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, 0, tm.Remaining())
}

func TestTimer_clear(t *testing.T) {
	tm := NewTimer(func() { t.Fatal("cleared timer fired") })

	tm.Start(0.05)
	tm.Clear()
	assert.Equal(t, 0, tm.Remaining())
	time.Sleep(100 * time.Millisecond)
}

func TestTimer_zeroDisarms(t *testing.T) {
	tm := NewTimer(func() { t.Fatal("disarmed timer fired") })

	tm.Start(0.05)
	tm.Start(0)
	assert.Equal(t, 0, tm.Remaining())
	time.Sleep(100 * time.Millisecond)
}

func TestTimer_remainingRoundsUp(t *testing.T) {
	tm := NewTimer(func() {})
	defer tm.Clear()

	tm.Start(10)
	// 10s out, 9.99-ish remaining rounds to 10
	assert.Equal(t, 10, tm.Remaining())

	tm.Start(2.2)
	assert.Equal(t, 2, tm.Remaining())

	assert.Equal(t, 0, NewTimer(func() {}).Remaining())
}
