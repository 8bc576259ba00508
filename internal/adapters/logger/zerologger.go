package logger

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// ZeroLogger implements ports.Logger with structured JSON output.
type ZeroLogger struct {
	logger zerolog.Logger
}

// NewZeroLogger creates a JSON logger writing to w.
func NewZeroLogger(w io.Writer, level LogLevel) *ZeroLogger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	return &ZeroLogger{
		logger: zerolog.New(w).Level(zeroLevel(level)).With().Timestamp().Logger(),
	}
}

// With returns a logger that adds a component field to every entry.
func (l *ZeroLogger) With(component string) *ZeroLogger {
	return &ZeroLogger{logger: l.logger.With().Str("component", component).Logger()}
}

func zeroLevel(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func write(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	if merged := mergeFields(fields); len(merged) > 0 {
		e = e.Fields(merged)
	}
	e.Msg(msg)
}

// Debug logs a message at Debug level.
func (l *ZeroLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	write(l.logger.Debug(), msg, fields)
}

// Info logs a message at Info level.
func (l *ZeroLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	write(l.logger.Info(), msg, fields)
}

// Warn logs a message at Warning level.
func (l *ZeroLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	write(l.logger.Warn(), msg, fields)
}

// Error logs an error message at Error level.
func (l *ZeroLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	write(l.logger.Error().Err(err), msg, fields)
}
