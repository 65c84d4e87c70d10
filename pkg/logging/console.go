package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// NewConsoleLogger creates a colored human-readable logger. Color is
// disabled when w is not a terminal.
func NewConsoleLogger(w io.Writer, level Level, noColor bool) *SlogLogger {
	if f, ok := w.(*os.File); ok && !isatty.IsTerminal(f.Fd()) {
		noColor = true
	}

	handler := tint.NewHandler(w, &tint.Options{
		Level:      level.slogLevel(),
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})
	return NewSlogLogger(handler, nil)
}

// SetDefault routes the slog package-level logger through l
func SetDefault(l *SlogLogger) {
	slog.SetDefault(l.Slog())
}
