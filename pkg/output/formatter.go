package output

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/sdejongh/bucketsync/pkg/config"
	"github.com/sdejongh/bucketsync/pkg/job"
	"github.com/sdejongh/bucketsync/pkg/models"
)

// Formatter renders jobs for a user. It receives run events as a job.Sink.
// Implementations include progress bar, human-readable and JSON formatters.
type Formatter interface {
	job.Sink

	// Diff reports a computed diff
	Diff(diff *models.Diff) error

	// Error reports an error outside of a run
	Error(err error) error

	// Name returns the formatter name
	Name() string
}

// New returns the formatter selected by cfg writing to w. A progress bar is
// only used when w is a terminal.
func New(cfg config.OutputConfig, w io.Writer) Formatter {
	if w == nil {
		w = os.Stdout
	}
	switch {
	case cfg.Format == "json":
		return NewJSONFormatter(w)
	case cfg.Quiet:
		return NewHumanFormatter(w, true)
	case cfg.Progress && isTerminal(w):
		return NewProgressFormatter(w)
	default:
		return NewHumanFormatter(w, false)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
