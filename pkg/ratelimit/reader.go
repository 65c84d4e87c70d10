// Package ratelimit caps the bandwidth of transfer streams.
package ratelimit

import (
	"context"
	"io"
	"math"

	"golang.org/x/time/rate"
)

// minBurst keeps small limits from degrading into tiny reads
const minBurst = 64 * 1024

// Limiter is a byte budget shared by every stream of one job
type Limiter struct {
	bytesPerSecond int64
	burst          int
	limiter        *rate.Limiter
}

// NewLimiter creates a limiter allowing bytesPerSecond with a one second
// burst, or returns nil (no limiting) for non-positive values
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}

	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}
	if burst > math.MaxInt32 {
		burst = math.MaxInt32
	}

	return &Limiter{
		bytesPerSecond: bytesPerSecond,
		burst:          int(burst),
		limiter:        rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst)),
	}
}

// BytesPerSecond returns the configured limit
func (l *Limiter) BytesPerSecond() int64 { return l.bytesPerSecond }

// Reader wraps an io.Reader with bandwidth limiting
type Reader struct {
	reader  io.Reader
	limiter *Limiter
	ctx     context.Context
}

// NewReader wraps an io.Reader with rate limiting
func NewReader(ctx context.Context, reader io.Reader, limiter *Limiter) io.Reader {
	if limiter == nil {
		return reader
	}
	return &Reader{
		reader:  reader,
		limiter: limiter,
		ctx:     ctx,
	}
}

// Read implements io.Reader. Reads are capped at the burst size and the
// bytes read are paid for before returning.
func (r *Reader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	if len(p) > r.limiter.burst {
		p = p[:r.limiter.burst]
	}

	n, err := r.reader.Read(p)
	if n > 0 {
		if werr := r.limiter.limiter.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
