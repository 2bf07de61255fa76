package stackalign

import (
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with alignment-specific field helpers so run,
// section and pair context stays consistently named across the pipeline.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses the default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// WithRun tags the logger with a run ID.
func (l *Logger) WithRun(id string) *Logger {
	return &Logger{Logger: l.Logger.With("run_id", id)}
}

// WithStack tags the logger with a stack name.
func (l *Logger) WithStack(stack string) *Logger {
	return &Logger{Logger: l.Logger.With("stack", stack)}
}

// WithSection tags the logger with a section index.
func (l *Logger) WithSection(z int) *Logger {
	return &Logger{Logger: l.Logger.With("z", z)}
}

// WithSections tags the logger with a section range.
func (l *Logger) WithSections(zFirst, zLast int) *Logger {
	return &Logger{Logger: l.Logger.With("z_first", zFirst, "z_last", zLast)}
}
