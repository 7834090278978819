package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newNop() *zap.Logger { l, _ := zap.NewDevelopment(); return l }

func TestAddTicker_Fires(t *testing.T) {
	s := New(newNop(), nil)
	defer s.Stop()

	var count int32
	s.AddTicker("tick", 20*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	time.Sleep(120 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestAddTicker_PostsToLoop(t *testing.T) {
	loop := NewLoop(newNop(), 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	s := New(newNop(), loop)
	defer s.Stop()

	// count is only touched on the loop, so reading it through Call is race free
	count := 0
	s.AddTicker("confirm-sweep", 10*time.Millisecond, func() { count++ })

	require.Eventually(t, func() bool {
		var n int
		_ = loop.Call(ctx, func() { n = count })
		return n >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestAddTicker_Replaces(t *testing.T) {
	s := New(newNop(), nil)
	defer s.Stop()

	var count1, count2 int32
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&count1, 1) })
	time.Sleep(30 * time.Millisecond)
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&count2, 1) })
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old ticker must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
}

func TestAddDelay_FiresOnce(t *testing.T) {
	s := New(newNop(), nil)
	defer s.Stop()

	var count int32
	s.AddDelay("once", 30*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestAddDelay_ReplacesCancelsOld(t *testing.T) {
	s := New(newNop(), nil)
	defer s.Stop()

	var count int32
	s.AddDelay("d", 500*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	s.AddDelay("d", 30*time.Millisecond, func() { atomic.AddInt32(&count, 10) })
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestRemove(t *testing.T) {
	s := New(newNop(), nil)
	defer s.Stop()

	var ticks, delays int32
	s.AddTicker("task", 20*time.Millisecond, func() { atomic.AddInt32(&ticks, 1) })
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

func TestStop_StopsAllTickers(t *testing.T) {
	s := New(newNop(), nil)

	var c1, c2 int32
	s.AddTicker("a", 20*time.Millisecond, func() { atomic.AddInt32(&c1, 1) })
	s.AddTicker("b", 20*time.Millisecond, func() { atomic.AddInt32(&c2, 1) })
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	s.Stop()
	time.Sleep(30 * time.Millisecond)
	snap1, snap2 := atomic.LoadInt32(&c1), atomic.LoadInt32(&c2)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&c1))
	assert.Equal(t, snap2, atomic.LoadInt32(&c2))
}

func TestListTickers(t *testing.T) {
	s := New(newNop(), nil)
	defer s.Stop()

	require.Empty(t, s.ListTickers())
	s.AddTicker("beta", time.Hour, func() {})
	s.AddTicker("alpha", time.Minute, func() {})
	s.Remove("gamma")
	assert.Equal(t, []TaskInfo{
		{Name: "alpha", Interval: time.Minute},
		{Name: "beta", Interval: time.Hour},
	}, s.ListTickers())
}

func TestTicker_PanicRecovery(t *testing.T) {
	s := New(newNop(), nil)
	defer s.Stop()

	var runs int32
	s.AddTicker("panic", 20*time.Millisecond, func() {
		atomic.AddInt32(&runs, 1)
		panic("oops")
	})
	time.Sleep(80 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2), "ticker keeps running after a panic")
}
