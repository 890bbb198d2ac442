package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	c := NewFakeClock(time.Time{})
	assert.Equal(t, DefaultEpoch, c.Now())

	start := time.Date(2030, time.March, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start, NewFakeClock(start).Now())
}

func TestFakeClock_AdvanceMovesNow(t *testing.T) {
	c := NewFakeClock(time.Time{})
	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, DefaultEpoch.Add(1500*time.Millisecond), c.Now())
}

func TestFakeClock_FiresOnlyDueTimers(t *testing.T) {
	c := NewFakeClock(time.Time{})
	var fired []string

	c.AfterFunc(time.Second, func() { fired = append(fired, "a") })
	c.AfterFunc(3*time.Second, func() { fired = append(fired, "b") })

	c.Advance(999 * time.Millisecond)
	assert.Empty(t, fired)

	c.Advance(time.Millisecond)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, 1, c.Pending())

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	c := NewFakeClock(time.Time{})
	var fired []string

	c.AfterFunc(2*time.Second, func() { fired = append(fired, "late") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early") })
	c.AfterFunc(time.Second, func() { fired = append(fired, "early-second") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"early", "early-second", "late"}, fired)
}

func TestFakeClock_NowDuringCallbackIsDeadline(t *testing.T) {
	c := NewFakeClock(time.Time{})
	var seen time.Time
	c.AfterFunc(time.Second, func() { seen = c.Now() })

	c.Advance(10 * time.Second)
	assert.Equal(t, DefaultEpoch.Add(time.Second), seen)
	assert.Equal(t, DefaultEpoch.Add(10*time.Second), c.Now())
}

func TestFakeClock_StopPreventsFiring(t *testing.T) {
	c := NewFakeClock(time.Time{})
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
}

func TestFakeClock_CallbackMayArmTimers(t *testing.T) {
	c := NewFakeClock(time.Time{})
	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			c.AfterFunc(time.Second, tick)
		}
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
}

func TestFakeClock_ThreadSafe(t *testing.T) {
	c := NewFakeClock(time.Time{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer := c.AfterFunc(time.Second, func() {})
			_ = c.Now()
			timer.Stop()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, c.Pending())
}
