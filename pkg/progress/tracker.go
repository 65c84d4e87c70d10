// Package progress folds byte-level transfer events into progress snapshots.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Snapshot is the fold of every event recorded up to one point
type Snapshot struct {
	// TotalRead is the sum of all recorded byte counts
	TotalRead int64

	// Percentage is TotalRead/size, capped at 1
	Percentage float64

	// BytesPerSecond is the throughput of the last event
	BytesPerSecond int64
}

// Done reports whether the snapshot is complete
func (s Snapshot) Done() bool { return s.Percentage >= 1 }

type event struct {
	n  int64
	at time.Time
}

// Tracker accumulates the byte events of exactly one object transfer
type Tracker struct {
	size    int64
	clock   clockwork.Clock
	created time.Time

	mu     sync.Mutex
	events []event
	closed bool
	err    error
	notify chan struct{}
}

// NewTracker creates a tracker for an object of the given size
func NewTracker(size int64, clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Tracker{
		size:    size,
		clock:   clock,
		created: clock.Now(),
		notify:  make(chan struct{}),
	}
}

// Size returns the expected total byte count
func (t *Tracker) Size() int64 { return t.size }

// Record adds one timestamped byte event. Non-positive counts and events
// after Close are ignored.
func (t *Tracker) Record(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.events = append(t.events, event{n: n, at: t.clock.Now()})
	close(t.notify)
	t.notify = make(chan struct{})
}

// Close ends the event stream. Observers drain the recorded events and stop
// even when the total never reached the size.
func (t *Tracker) Close(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.err = err
	close(t.notify)
}

// Err returns the error the tracker was closed with
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Observe returns the fold of the event stream from tracker creation. The
// channel closes after the first complete snapshot, after Close once every
// recorded event was delivered, or when ctx is done. A zero size tracker
// yields one complete snapshot.
func (t *Tracker) Observe(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot)
	go func() {
		defer close(out)

		if t.size <= 0 {
			select {
			case out <- Snapshot{Percentage: 1}:
			case <-ctx.Done():
			}
			return
		}

		var total int64
		last := t.created
		next := 0
		for {
			t.mu.Lock()
			pending := t.events[next:]
			closed := t.closed
			wait := t.notify
			t.mu.Unlock()

			for _, ev := range pending {
				next++
				total += ev.n
				elapsed := ev.at.Sub(last).Milliseconds()
				if elapsed < 1 {
					elapsed = 1
				}
				last = ev.at

				snap := Snapshot{
					TotalRead:      total,
					Percentage:     t.percentage(total),
					BytesPerSecond: ev.n * 1000 / elapsed,
				}
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
				if snap.Done() {
					return
				}
			}

			if closed {
				return
			}

			select {
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (t *Tracker) percentage(total int64) float64 {
	p := float64(total) / float64(t.size)
	if p > 1 {
		p = 1
	}
	return p
}
