package progress

import (
	"io"
	"time"
)

// Reporting thresholds
const (
	reportInterval = 50 * time.Millisecond
	reportBytes    = 64 * 1024
)

// Reader counts the bytes read through it into a Tracker. Small reads are
// coalesced; the count is always flushed on error, on EOF and when the
// tracker size is reached.
type Reader struct {
	reader         io.Reader
	tracker        *Tracker
	read           int64
	lastReported   int64
	lastReportTime time.Time
}

// NewReader wraps r so that reads are recorded in t
func NewReader(r io.Reader, t *Tracker) *Reader {
	return &Reader{
		reader:         r,
		tracker:        t,
		lastReportTime: t.clock.Now(),
	}
}

// Read implements io.Reader
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	if n > 0 {
		pr.read += int64(n)
	}

	if pr.read > pr.lastReported {
		shouldReport := pr.read-pr.lastReported >= reportBytes ||
			pr.tracker.clock.Since(pr.lastReportTime) >= reportInterval ||
			pr.read >= pr.tracker.size ||
			err != nil
		if shouldReport {
			pr.Flush()
		}
	}
	return n, err
}

// Flush records any bytes read since the last report
func (pr *Reader) Flush() {
	if pr.read == pr.lastReported {
		return
	}
	pr.tracker.Record(pr.read - pr.lastReported)
	pr.lastReported = pr.read
	pr.lastReportTime = pr.tracker.clock.Now()
}

// Count returns the number of bytes read so far
func (pr *Reader) Count() int64 { return pr.read }
