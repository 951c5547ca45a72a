package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNop() *zap.Logger { return zap.NewNop() }

func TestAddTicker_FiresWithElapsed(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	var sawElapsed atomic.Bool
	s.AddTicker("frame", 20*time.Millisecond, func(elapsed time.Duration) {
		if elapsed > 0 {
			sawElapsed.Store(true)
		}
		atomic.AddInt32(&count, 1)
	})

	time.Sleep(120 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
	assert.True(t, sawElapsed.Load())
}

func TestAddTicker_Replaces(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count1, count2 int32
	s.AddTicker("task", 20*time.Millisecond, func(time.Duration) { atomic.AddInt32(&count1, 1) })
	time.Sleep(30 * time.Millisecond)
	s.AddTicker("task", 20*time.Millisecond, func(time.Duration) { atomic.AddInt32(&count2, 1) })
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old ticker must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
}

func TestAddDelay_FiresOnce(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddDelay("once", 30*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestAddDelay_ReplacesCancelsOld(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var count int32
	s.AddDelay("d", 500*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	s.AddDelay("d", 30*time.Millisecond, func() { atomic.AddInt32(&count, 10) })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestRemove(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	var ticks, delays int32
	s.AddTicker("task", 20*time.Millisecond, func(time.Duration) { atomic.AddInt32(&ticks, 1) })
	s.AddDelay("d", 100*time.Millisecond, func() { atomic.AddInt32(&delays, 1) })
	time.Sleep(50 * time.Millisecond)
	s.Remove("task")
	s.Remove("d")
	s.Remove("nope")
	snap := atomic.LoadInt32(&ticks)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&ticks), "ticker must stop after Remove")
	assert.Equal(t, int32(0), atomic.LoadInt32(&delays))
}

func TestStop_WaitsAndIsIdempotent(t *testing.T) {
	s := New(newNop())
	var c int32
	s.AddTicker("a", 10*time.Millisecond, func(time.Duration) { atomic.AddInt32(&c, 1) })
	time.Sleep(35 * time.Millisecond)
	s.Stop()
	snap := atomic.LoadInt32(&c)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&c), "no tick after Stop returns")
	s.Stop()

	s.AddTicker("late", time.Millisecond, func(time.Duration) {})
	assert.Empty(t, s.ListTickers(), "stopped scheduler accepts no tasks")
}

func TestListTickersAndStats(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	require.Empty(t, s.ListTickers())
	s.AddTicker("beta", time.Hour, func(time.Duration) {})
	s.AddTicker("alpha", time.Hour, func(time.Duration) {})
	assert.Equal(t, []string{"alpha", "beta"}, s.ListTickers())

	stats := s.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, "alpha", stats[0].Name)
	assert.Equal(t, time.Hour, stats[0].Interval)
	assert.Zero(t, stats[0].Runs)
}

func TestTicker_PanicRecovery(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	s.AddTicker("panic", 10*time.Millisecond, func(time.Duration) { panic("oops") })
	require.Eventually(t, func() bool {
		st := s.Stats()
		return len(st) == 1 && st[0].Panics >= 2
	}, time.Second, 10*time.Millisecond, "ticker keeps running after a panic")
}

func TestTicker_Overrun(t *testing.T) {
	s := New(newNop())
	defer s.Stop()

	s.AddTicker("slow", 5*time.Millisecond, func(time.Duration) { time.Sleep(15 * time.Millisecond) })
	require.Eventually(t, func() bool {
		st := s.Stats()
		return len(st) == 1 && st[0].Overruns >= 1
	}, time.Second, 10*time.Millisecond)
}
