package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClockAdvancesWhileRunning(t *testing.T) {
	c := newClock(10)
	time.Sleep(20 * time.Millisecond)
	require.Greater(t, c.Now(), 10.0)
}

func TestClockPauseFreezesTime(t *testing.T) {
	c := newClock(10)
	time.Sleep(10 * time.Millisecond)
	c.pause()
	frozen := c.Now()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, frozen, c.Now())
}

func TestClockResumeContinuesFromFrozenPoint(t *testing.T) {
	c := newClock(10)
	time.Sleep(5 * time.Millisecond)
	c.pause()
	frozen := c.Now()
	c.resume()
	require.GreaterOrEqual(t, c.Now(), frozen)
}

func TestClockReset(t *testing.T) {
	c := newClock(10)
	c.reset(42)
	require.InDelta(t, 42.0, c.Now(), 0.01)
}
