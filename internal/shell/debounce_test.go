package shell

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDebouncer(clock, time.Second)

	var runs, last atomic.Int32
	schedule := func(v int32) {
		d.Schedule("ws", func() {
			runs.Add(1)
			last.Store(v)
		})
	}

	schedule(1)
	clock.Advance(200 * time.Millisecond)
	schedule(2)
	clock.Advance(200 * time.Millisecond)
	schedule(3)

	clock.Advance(999 * time.Millisecond)
	assert.Never(t, func() bool { return runs.Load() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, d.Pending("ws"))

	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), last.Load())
	assert.False(t, d.Pending("ws"))
}

func TestDebouncerKeysAreIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDebouncer(clock, time.Second)

	var a, b atomic.Int32
	d.Schedule("a", func() { a.Add(1) })
	clock.Advance(500 * time.Millisecond)
	d.Schedule("b", func() { b.Add(1) })
	clock.Advance(500 * time.Millisecond)

	require.Eventually(t, func() bool { return a.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), b.Load())
	assert.ElementsMatch(t, []string{"b"}, d.Keys())
}

func TestDebouncerFlushAndCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	d := NewDebouncer(clock, time.Second)

	var runs atomic.Int32
	d.Schedule("ws", func() { runs.Add(1) })
	assert.True(t, d.Flush("ws"))
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.Flush("ws"))

	d.Schedule("ws", func() { runs.Add(1) })
	d.Cancel("ws")
	assert.False(t, d.Pending("ws"))
	clock.Advance(2 * time.Second)
	assert.Never(t, func() bool { return runs.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	d.Schedule("x", func() { runs.Add(1) })
	d.Schedule("y", func() { runs.Add(1) })
	d.FlushAll()
	assert.Equal(t, int32(3), runs.Load())
}
