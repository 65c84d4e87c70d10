package logging

import "context"

// NullLogger discards everything
type NullLogger struct{}

// NewNullLogger creates a logger for when logging is disabled
func NewNullLogger() *NullLogger { return &NullLogger{} }

func (*NullLogger) Debug(context.Context, string, Fields)        {}
func (*NullLogger) Info(context.Context, string, Fields)         {}
func (*NullLogger) Warn(context.Context, string, Fields)         {}
func (*NullLogger) Error(context.Context, string, error, Fields) {}
func (l *NullLogger) WithFields(Fields) Logger                   { return l }
func (*NullLogger) Close() error                                 { return nil }

// multiLogger fans every call out to several loggers
type multiLogger []Logger

// Multi returns a logger writing to each of loggers
func Multi(loggers ...Logger) Logger {
	var out multiLogger
	for _, l := range loggers {
		if l != nil {
			out = append(out, l)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (m multiLogger) Debug(ctx context.Context, msg string, fields Fields) {
	for _, l := range m {
		l.Debug(ctx, msg, fields)
	}
}

func (m multiLogger) Info(ctx context.Context, msg string, fields Fields) {
	for _, l := range m {
		l.Info(ctx, msg, fields)
	}
}

func (m multiLogger) Warn(ctx context.Context, msg string, fields Fields) {
	for _, l := range m {
		l.Warn(ctx, msg, fields)
	}
}

func (m multiLogger) Error(ctx context.Context, msg string, err error, fields Fields) {
	for _, l := range m {
		l.Error(ctx, msg, err, fields)
	}
}

func (m multiLogger) WithFields(fields Fields) Logger {
	out := make(multiLogger, len(m))
	for i, l := range m {
		out[i] = l.WithFields(fields)
	}
	return out
}

func (m multiLogger) Close() error {
	var first error
	for _, l := range m {
		if err := l.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
