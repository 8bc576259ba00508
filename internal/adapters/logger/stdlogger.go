package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
)

// StdLogger writes `[LEVEL] component: msg | error: e | k=v ...` lines
// through the standard log package. Field keys are sorted so lines are stable.
type StdLogger struct {
	logger    *log.Logger
	level     LogLevel
	component string
}

// NewStdLogger creates a text logger on os.Stderr.
func NewStdLogger(level LogLevel) *StdLogger {
	return NewStdLoggerWithWriter(os.Stderr, level)
}

// NewStdLoggerWithWriter creates a text logger writing to w.
func NewStdLoggerWithWriter(w io.Writer, level LogLevel) *StdLogger {
	return &StdLogger{
		logger: log.New(w, "", log.LstdFlags|log.Lmicroseconds),
		level:  level,
	}
}

// With returns a logger that prefixes every message with component.
func (l *StdLogger) With(component string) *StdLogger {
	cp := *l
	cp.component = component
	return &cp
}

func (l *StdLogger) log(level LogLevel, msg string, err error, fields []map[string]interface{}) {
	if level < l.level {
		return
	}

	var sb strings.Builder
	sb.WriteString("[" + level.String() + "] ")
	if l.component != "" {
		sb.WriteString(l.component + ": ")
	}
	sb.WriteString(msg)
	if err != nil {
		sb.WriteString(" | error: " + err.Error())
	}

	merged := mergeFields(fields)
	if len(merged) > 0 {
		keys := make([]string, 0, len(merged))
		for k := range merged {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString(" |")
		for _, k := range keys {
			sb.WriteString(" " + k + "=" + formatValue(merged[k]))
		}
	}

	l.logger.Println(sb.String())
}

// mergeFields folds every field map into one; later maps win on conflicts.
func mergeFields(fields []map[string]interface{}) map[string]interface{} {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}
	merged := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}
	return merged
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, nil, fields)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, nil, fields)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, nil, fields)
}

func (l *StdLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, err, fields)
}
