// Package adaptivewait implements a polling wait that starts with yields and
// backs off to sleeps of growing length.
package adaptivewait

import (
	"runtime"
	"time"

	"k8s.io/utils/clock"
)

const (
	// yields before the first sleep
	yieldRepetitions = 10
	initialSleep     = 100 * time.Microsecond
	maxSleep         = 10 * time.Millisecond
)

// Waiter is a single backoff sequence. It is not safe for concurrent use.
type Waiter struct {
	clock clock.Clock
	start time.Time
	count int
	sleep time.Duration
}

// New starts a backoff sequence measured against c; nil selects the real clock.
func New(c clock.Clock) *Waiter {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Waiter{clock: c, start: c.Now(), sleep: initialSleep}
}

// Wait blocks for the next step of the sequence.
func (w *Waiter) Wait() {
	w.count++
	if w.count <= yieldRepetitions {
		runtime.Gosched()
		return
	}
	w.clock.Sleep(w.sleep)
	if w.sleep < maxSleep {
		w.sleep *= 2
		if w.sleep > maxSleep {
			w.sleep = maxSleep
		}
	}
}

// Elapsed returns the time since the sequence started.
func (w *Waiter) Elapsed() time.Duration {
	return w.clock.Since(w.start)
}

// Repetitions returns how often Wait was called.
func (w *Waiter) Repetitions() int {
	return w.count
}

// Until calls cond until it returns true or timeout elapses, waiting between
// attempts. It reports whether cond succeeded.
func Until(c clock.Clock, timeout time.Duration, cond func() bool) bool {
	w := New(c)
	for {
		if cond() {
			return true
		}
		if w.Elapsed() >= timeout {
			return false
		}
		w.Wait()
	}
}
