package output

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/models"
)

// HumanFormatter formats output in human-readable format
type HumanFormatter struct {
	writer io.Writer
	quiet  bool
}

// NewHumanFormatter creates a new human-readable formatter. A quiet
// formatter only reports failures.
func NewHumanFormatter(w io.Writer, quiet bool) *HumanFormatter {
	return &HumanFormatter{writer: w, quiet: quiet}
}

// SetState reports a state change
func (f *HumanFormatter) SetState(_ context.Context, id job.Identity, state models.JobState) error {
	if f.quiet {
		return nil
	}

	switch state {
	case models.StateEnqueued:
		fmt.Fprintf(f.writer, "Job %s queued\n", id)
	case models.StateBlocked:
		fmt.Fprintf(f.writer, "Job %s blocked, waiting for conditions to be met\n", id)
	case models.StateWaiting:
		fmt.Fprintf(f.writer, "Job %s failed, waiting to retry\n", id)
	case models.StateCalculating:
		fmt.Fprintf(f.writer, "Calculating differences...\n")
	case models.StateTransferring:
		fmt.Fprintf(f.writer, "Transferring...\n")
	}
	return nil
}

// Progress reports one sampled progress record
func (f *HumanFormatter) Progress(_ context.Context, _ job.Identity, r models.ProgressRecord) error {
	if f.quiet {
		return nil
	}
	fmt.Fprintln(f.writer, progressLine(r))
	return nil
}

func progressLine(r models.ProgressRecord) string {
	line := fmt.Sprintf("[%d/%d] %s of %s (%.1f%%)",
		r.ProgressCount, r.DiffCount,
		humanize.Bytes(uint64(r.ProgressBytes)), humanize.Bytes(uint64(r.DiffBytes)),
		r.ProgressPercentage*100)
	if r.ProgressBytesPerSec != nil {
		line += fmt.Sprintf(" %s/s", humanize.Bytes(uint64(*r.ProgressBytesPerSec)))
	}
	return line
}

// Finish displays the summary of a run
func (f *HumanFormatter) Finish(_ context.Context, id job.Identity, result models.JobResult) error {
	if f.quiet && result.State != models.StateFailed {
		return nil
	}

	p := result.Progress
	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Summary:\n")
	fmt.Fprintf(f.writer, "  Job:       %s\n", id)
	fmt.Fprintf(f.writer, "  Objects:   %d of %d\n", p.TransferredFiles, p.TotalFiles)
	fmt.Fprintf(f.writer, "  Data:      %s of %s\n",
		humanize.Bytes(uint64(p.TransferredBytes)), humanize.Bytes(uint64(p.TotalBytes)))
	fmt.Fprintf(f.writer, "  Progress:  %.1f%%\n", p.Percentage*100)
	fmt.Fprintf(f.writer, "\n")
	fmt.Fprintf(f.writer, "Status: %s\n", result.State)

	if result.Message != "" {
		fmt.Fprintf(f.writer, "Error: %s\n", result.Message)
	}
	return nil
}

// Diff prints the objects a run would transfer
func (f *HumanFormatter) Diff(diff *models.Diff) error {
	fmt.Fprintf(f.writer, "Local objects:  %d\n", len(diff.Locals))
	fmt.Fprintf(f.writer, "Remote objects: %d\n", len(diff.Remotes))
	fmt.Fprintf(f.writer, "To %s: %d objects, %s\n",
		diff.Direction, diff.TotalObjects, humanize.Bytes(uint64(diff.TotalBytes)))

	if f.quiet {
		return nil
	}
	for _, obj := range diff.ToTransfer {
		fmt.Fprintf(f.writer, "  %s (%s)\n", obj.ObjectKey(), humanize.Bytes(uint64(obj.ObjectSize())))
	}
	return nil
}

// Error reports an error
func (f *HumanFormatter) Error(err error) error {
	fmt.Fprintf(f.writer, "Error: %v\n", err)
	return nil
}

// Name returns the formatter name
func (f *HumanFormatter) Name() string {
	return "human"
}
