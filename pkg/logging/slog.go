package logging

import (
	"context"
	"io"
	"log/slog"
	"sort"
)

// SlogLogger adapts a slog handler to Logger
type SlogLogger struct {
	logger *slog.Logger
	closer io.Closer
}

// NewSlogLogger creates a Logger writing through h. closer, when not nil,
// is closed by Close.
func NewSlogLogger(h slog.Handler, closer io.Closer) *SlogLogger {
	return &SlogLogger{logger: slog.New(h), closer: closer}
}

// Slog returns the underlying slog logger
func (l *SlogLogger) Slog() *slog.Logger { return l.logger }

func (l *SlogLogger) Debug(ctx context.Context, msg string, fields Fields) {
	l.logger.LogAttrs(ctx, slog.LevelDebug, msg, attrs(fields)...)
}

func (l *SlogLogger) Info(ctx context.Context, msg string, fields Fields) {
	l.logger.LogAttrs(ctx, slog.LevelInfo, msg, attrs(fields)...)
}

func (l *SlogLogger) Warn(ctx context.Context, msg string, fields Fields) {
	l.logger.LogAttrs(ctx, slog.LevelWarn, msg, attrs(fields)...)
}

func (l *SlogLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	a := attrs(fields)
	if err != nil {
		a = append(a, slog.String("error", err.Error()))
	}
	l.logger.LogAttrs(ctx, slog.LevelError, msg, a...)
}

// WithFields returns a logger sharing the same output
func (l *SlogLogger) WithFields(fields Fields) Logger {
	args := make([]any, 0, len(fields))
	for _, a := range attrs(fields) {
		args = append(args, a)
	}
	return &SlogLogger{logger: l.logger.With(args...)}
}

// Close closes the output if this logger owns it
func (l *SlogLogger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// attrs converts fields into attributes in key order
func attrs(fields Fields) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, fields[k]))
	}
	return out
}
