package logger

import (
	"os"
	"strings"

	"cryptoSignalBot/internal/ports"
)

// LogLevel orders log entries by severity.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel reads LOG_LEVEL values. Unknown input falls back to info.
func ParseLevel(levelStr string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(levelStr)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// New returns the logger for LOG_FORMAT: "json" selects zerolog, anything
// else the text logger. Both write to os.Stderr.
func New(format string, level LogLevel) ports.Logger {
	if strings.EqualFold(format, "json") {
		return NewZeroLogger(os.Stderr, level)
	}
	return NewStdLogger(level)
}

// WithComponent tags every entry of l with a component name. Loggers of other
// types are returned unchanged.
func WithComponent(l ports.Logger, component string) ports.Logger {
	switch lg := l.(type) {
	case *StdLogger:
		return lg.With(component)
	case *ZeroLogger:
		return lg.With(component)
	default:
		return l
	}
}
