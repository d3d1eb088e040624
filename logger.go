package celrix

import (
	"log/slog"
	"os"
	"time"

	"github.com/celrix/celrix/protocol"
)

// Logger wraps slog.Logger with celrix-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithConn adds a connection id field to the logger.
func (l *Logger) WithConn(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("conn", id),
	}
}

// WithWorker adds lane and worker id fields to the logger.
func (l *Logger) WithWorker(lane string, id int) *Logger {
	return &Logger{
		Logger: l.Logger.With("lane", lane, "worker", id),
	}
}

// LogConnOpened logs an accepted connection.
func (l *Logger) LogConnOpened(remote string) {
	l.Debug("connection opened", "remote", remote)
}

// LogConnClosed logs a closed connection.
func (l *Logger) LogConnClosed(remote string, err error) {
	if err != nil {
		l.Debug("connection closed", "remote", remote, "error", err)
	} else {
		l.Debug("connection closed", "remote", remote)
	}
}

// LogFramingError logs a fatal framing error that closes the connection.
func (l *Logger) LogFramingError(err error) {
	l.Warn("framing error, closing connection", "error", err)
}

// LogOp logs a completed operation.
func (l *Logger) LogOp(op protocol.Opcode, latency time.Duration, err error) {
	if err != nil {
		l.Debug("operation failed", "op", op.String(), "latency", latency, "error", err)
	} else {
		l.Debug("operation completed", "op", op.String(), "latency", latency)
	}
}
