package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[T any](t *testing.T, ch <-chan T) []T {
	t.Helper()
	var out []T
	timeout := time.After(5 * time.Second)
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, v)
		case <-timeout:
			t.Fatal("channel did not close")
			return out
		}
	}
}

func TestTrackerZeroSize(t *testing.T) {
	tr := NewTracker(0, clockwork.NewFakeClock())

	snaps := collect(t, tr.Observe(context.Background()))

	require.Len(t, snaps, 1)
	assert.Equal(t, 1.0, snaps[0].Percentage)
	assert.Zero(t, snaps[0].TotalRead)
}

func TestTrackerFold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tr := NewTracker(100, clock)

	clock.Advance(100 * time.Millisecond)
	tr.Record(40)
	clock.Advance(200 * time.Millisecond)
	tr.Record(60)

	snaps := collect(t, tr.Observe(context.Background()))

	require.Len(t, snaps, 2)
	assert.Equal(t, Snapshot{TotalRead: 40, Percentage: 0.4, BytesPerSecond: 400}, snaps[0])
	assert.Equal(t, Snapshot{TotalRead: 100, Percentage: 1.0, BytesPerSecond: 300}, snaps[1])
}

func TestTrackerTerminatesAtCompletion(t *testing.T) {
	tr := NewTracker(100, clockwork.NewFakeClock())
	tr.Record(100)
	tr.Record(10)

	snaps := collect(t, tr.Observe(context.Background()))

	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].Done())
}

func TestTrackerIncompleteUntilSizeReached(t *testing.T) {
	tr := NewTracker(100, clockwork.NewFakeClock())
	obs := tr.Observe(context.Background())

	go func() {
		tr.Record(30)
		tr.Record(30)
		tr.Record(40)
	}()

	snaps := collect(t, obs)
	require.Len(t, snaps, 3)
	assert.False(t, snaps[0].Done())
	assert.False(t, snaps[1].Done())
	assert.Equal(t, 1.0, snaps[2].Percentage)
}

func TestTrackerZeroDurationTick(t *testing.T) {
	tr := NewTracker(1000, clockwork.NewFakeClock())
	tr.Record(10)
	tr.Record(20)
	tr.Close(nil)

	snaps := collect(t, tr.Observe(context.Background()))

	require.Len(t, snaps, 2)
	assert.Equal(t, int64(10_000), snaps[0].BytesPerSecond)
	assert.Equal(t, int64(20_000), snaps[1].BytesPerSecond)
}

func TestTrackerCloseDrains(t *testing.T) {
	tr := NewTracker(100, clockwork.NewFakeClock())
	boom := errors.New("reset by peer")
	tr.Record(10)
	tr.Close(boom)
	tr.Record(90)

	snaps := collect(t, tr.Observe(context.Background()))

	require.Len(t, snaps, 1)
	assert.Equal(t, int64(10), snaps[0].TotalRead)
	assert.ErrorIs(t, tr.Err(), boom)
}

func TestTrackerMonotonic(t *testing.T) {
	amounts := []int64{5, 0, 17, 1, 0, 250, 3, 3, 3, 1024}
	var sum int64
	for _, n := range amounts {
		sum += n
	}

	clock := clockwork.NewFakeClock()
	tr := NewTracker(sum+1, clock)
	for _, n := range amounts {
		clock.Advance(7 * time.Millisecond)
		tr.Record(n)
	}
	tr.Close(nil)

	snaps := collect(t, tr.Observe(context.Background()))
	require.NotEmpty(t, snaps)

	var prev int64
	for _, s := range snaps {
		assert.GreaterOrEqual(t, s.TotalRead, prev)
		prev = s.TotalRead
	}
	assert.Equal(t, sum, snaps[len(snaps)-1].TotalRead)
}

func TestTrackerObserversShareFold(t *testing.T) {
	tr := NewTracker(50, clockwork.NewFakeClock())
	tr.Record(20)

	first := tr.Observe(context.Background())
	second := tr.Observe(context.Background())
	tr.Record(30)

	a := collect(t, first)
	b := collect(t, second)
	assert.Equal(t, a, b)
	require.Len(t, a, 2)
	assert.Equal(t, int64(20), a[0].TotalRead)
}

func TestTrackerObserveCancelled(t *testing.T) {
	tr := NewTracker(100, clockwork.NewFakeClock())
	ctx, cancel := context.WithCancel(context.Background())
	obs := tr.Observe(ctx)
	cancel()

	snaps := collect(t, obs)
	assert.Empty(t, snaps)
}
