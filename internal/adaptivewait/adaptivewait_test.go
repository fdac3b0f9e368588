package adaptivewait

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestWaitBacksOff(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	w := New(fake)

	for i := 0; i < yieldRepetitions; i++ {
		w.Wait()
	}
	assert.Zero(t, w.Elapsed(), "yields must not advance time")

	w.Wait()
	assert.Equal(t, initialSleep, w.Elapsed())
	w.Wait()
	assert.Equal(t, 3*initialSleep, w.Elapsed())

	for i := 0; i < 20; i++ {
		w.Wait()
	}
	before := w.Elapsed()
	w.Wait()
	assert.Equal(t, maxSleep, w.Elapsed()-before)
	assert.Equal(t, yieldRepetitions+23, w.Repetitions())
}

func TestUntilTimesOut(t *testing.T) {
	fake := clocktesting.NewFakeClock(time.Unix(0, 0))
	calls := 0
	ok := Until(fake, 50*time.Millisecond, func() bool {
		calls++
		return false
	})
	assert.False(t, ok)
	assert.Greater(t, calls, yieldRepetitions)
	assert.GreaterOrEqual(t, fake.Since(time.Unix(0, 0)), 50*time.Millisecond)
}

func TestUntilSucceeds(t *testing.T) {
	calls := 0
	ok := Until(nil, time.Second, func() bool {
		calls++
		return calls == 3
	})
	assert.True(t, ok)
	assert.Equal(t, 3, calls)
}
