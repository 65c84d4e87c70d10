package progress

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sample forwards at most one value of in per period. The first value is
// forwarded immediately; later values inside a window replace each other and
// the latest one is forwarded when the window ends. When in closes, a value
// still held back is forwarded before the output closes, so the last value of
// in is always the last value of the output. period must be positive.
func Sample[T any](ctx context.Context, in <-chan T, period time.Duration, clock clockwork.Clock) <-chan T {
	if period <= 0 {
		panic("progress: sample period must be positive")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	out := make(chan T)
	go func() {
		defer close(out)

		var (
			pending    T
			hasPending bool
			emitted    bool
			lastEmit   time.Time
			timer      clockwork.Timer
			timerC     <-chan time.Time
		)
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		emit := func(v T) bool {
			select {
			case out <- v:
				lastEmit = clock.Now()
				emitted = true
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case v, ok := <-in:
				if !ok {
					if hasPending {
						emit(pending)
					}
					return
				}
				if !emitted || clock.Since(lastEmit) >= period {
					if timer != nil {
						timer.Stop()
						timerC = nil
					}
					hasPending = false
					if !emit(v) {
						return
					}
					continue
				}
				pending = v
				hasPending = true
				if timerC == nil {
					timer = clock.NewTimer(period - clock.Since(lastEmit))
					timerC = timer.Chan()
				}
			case <-timerC:
				timerC = nil
				if hasPending {
					hasPending = false
					if !emit(pending) {
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
