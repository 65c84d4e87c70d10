package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"golang.org/x/term"

	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/models"
)

const (
	bytesTemplate = `{{string . "prefix"}}{{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`
	filesTemplate = `{{string . "prefix"}}{{counters . }} {{bar . "[" "=" ">" " " "]"}} {{percent . }}`

	refreshRate = 200 * time.Millisecond
)

// ProgressFormatter draws a progress bar for the running transfer and
// falls back to the human formatter for everything else
type ProgressFormatter struct {
	*HumanFormatter

	mu     sync.Mutex
	writer io.Writer
	bar    *pb.ProgressBar
	files  bool
	static bool
	width  int
}

// NewProgressFormatter creates a new progress bar formatter
func NewProgressFormatter(w io.Writer) *ProgressFormatter {
	f := &ProgressFormatter{
		HumanFormatter: NewHumanFormatter(w, false),
		writer:         w,
		static:         true,
	}
	// Detect terminal width to prevent line wrapping issues
	if file, ok := w.(*os.File); ok && isTerminal(w) {
		f.static = false
		if width, _, err := term.GetSize(int(file.Fd())); err == nil && width > 0 {
			f.width = width
		}
	}
	return f
}

// SetState implements job.Sink
func (f *ProgressFormatter) SetState(ctx context.Context, id job.Identity, state models.JobState) error {
	if state == models.StateTransferring {
		return nil
	}
	return f.HumanFormatter.SetState(ctx, id, state)
}

// Progress moves the bar to the record
func (f *ProgressFormatter) Progress(_ context.Context, _ job.Identity, r models.ProgressRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.bar == nil {
		f.start(r)
	}
	if f.files {
		f.bar.SetCurrent(int64(r.ProgressCount))
	} else {
		f.bar.SetCurrent(r.ProgressBytes)
	}
	f.bar.Set("prefix", prefix(r))
	if f.static {
		f.bar.Write()
	}
	return nil
}

func (f *ProgressFormatter) start(r models.ProgressRecord) {
	total, tmpl := r.DiffBytes, bytesTemplate
	if r.DiffBytes == 0 {
		total, tmpl = int64(r.DiffCount), filesTemplate
		f.files = true
	}

	bar := pb.New64(total)
	bar.SetTemplateString(tmpl)
	bar.SetWriter(f.writer)
	bar.Set(pb.Bytes, !f.files)
	bar.Set(pb.Static, f.static)
	bar.SetRefreshRate(refreshRate)
	if f.width > 0 {
		bar.SetWidth(f.width)
	}
	f.bar = bar.Start()
}

func prefix(r models.ProgressRecord) string {
	return fmt.Sprintf("[%d/%d] ", r.ProgressCount, r.DiffCount)
}

// Finish stops the bar and displays the summary
func (f *ProgressFormatter) Finish(ctx context.Context, id job.Identity, result models.JobResult) error {
	f.mu.Lock()
	if f.bar != nil {
		f.bar.Finish()
		f.bar = nil
	}
	f.mu.Unlock()
	return f.HumanFormatter.Finish(ctx, id, result)
}

// Name returns the formatter name
func (f *ProgressFormatter) Name() string {
	return "progress"
}
