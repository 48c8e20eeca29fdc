package core

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	loggerMu       sync.RWMutex
	loggerInstance = NewDevelopmentLogger(LevelInfo)
)

// SetLogger replaces the process-wide logger.
func SetLogger(logger *Logger) {
	if logger == nil {
		return
	}
	loggerMu.Lock()
	loggerInstance = logger
	loggerMu.Unlock()
}

// GetLogger returns the process-wide logger.
func GetLogger() *Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return loggerInstance
}

// Level orders log severities. Entries below a logger's minimum are dropped
// before they reach the handler.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
	LevelPanic
)

var levelNames = map[Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
	LevelPanic: "PANIC",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel maps a case-insensitive level name ("debug", "WARN", ...) to a Level.
func ParseLevel(s string) (Level, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	if want == "WARNING" {
		want = "WARN"
	}
	for lvl, name := range levelNames {
		if name == want {
			return lvl, nil
		}
	}
	return LevelInfo, fmt.Errorf("logger: unknown level %q", s)
}

// HandlerFunc receives every entry that passes the level filter.
type HandlerFunc func(level string, msg string, attrs map[string]interface{})

type Logger struct {
	handlerFunc HandlerFunc
	attrs       map[string]interface{}
	minLevel    Level
}

func NewLogger(handler HandlerFunc) *Logger {
	return &Logger{
		handlerFunc: handler,
		attrs:       make(map[string]interface{}),
		minLevel:    LevelTrace,
	}
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return NewLogger(nil)
}

// NewDevelopmentLogger writes human readable lines to stderr. Stdout is left
// for the command's own output (transcripts).
func NewDevelopmentLogger(minLevel Level) *Logger {
	var writeMu sync.Mutex
	handler := func(level string, msg string, attrs map[string]interface{}) {
		var b strings.Builder
		b.WriteString(time.Now().Format(time.RFC3339))
		b.WriteString(" [")
		b.WriteString(level)
		b.WriteString("] ")
		b.WriteString(msg)
		if len(attrs) > 0 {
			keys := make([]string, 0, len(attrs))
			for k := range attrs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			b.WriteString(" |")
			for _, k := range keys {
				fmt.Fprintf(&b, " %s=%v", k, attrs[k])
			}
		}
		b.WriteByte('\n')

		writeMu.Lock()
		fmt.Fprint(os.Stderr, b.String())
		writeMu.Unlock()

		switch level {
		case "FATAL":
			os.Exit(1)
		case "PANIC":
			panic(msg)
		}
	}

	l := NewLogger(handler)
	l.minLevel = minLevel
	return l
}

// WithLevel returns a copy of the logger that drops entries below minLevel.
func (l *Logger) WithLevel(minLevel Level) *Logger {
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       l.attrs,
		minLevel:    minLevel,
	}
}

func (l *Logger) Level() Level {
	return l.minLevel
}

// Enabled reports whether entries at level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return l.handlerFunc != nil && level >= l.minLevel
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	if !l.Enabled(level) {
		return
	}
	if len(args) > 0 {
		// slog-style key/value pairs are merged into the attrs; anything else
		// is treated as printf arguments.
		if isKeyValuePairs(args) {
			attrs := make(map[string]interface{}, len(l.attrs)+len(args)/2)
			for k, v := range l.attrs {
				attrs[k] = v
			}
			for i := 0; i < len(args)-1; i += 2 {
				key, _ := args[i].(string)
				attrs[key] = args[i+1]
			}
			l.handlerFunc(level.String(), msg, attrs)
			return
		}
		msg = fmt.Sprintf(msg, args...)
	}
	l.handlerFunc(level.String(), msg, l.attrs)
}

// isKeyValuePairs returns true if args look like slog-style key-value pairs:
// even count and every key (even index) is a string.
func isKeyValuePairs(args []interface{}) bool {
	if len(args)%2 != 0 {
		return false
	}
	for i := 0; i < len(args); i += 2 {
		if _, ok := args[i].(string); !ok {
			return false
		}
	}
	return true
}

func (l *Logger) Trace(msg string, args ...interface{})     { l.log(LevelTrace, msg, args...) }
func (l *Logger) Tracef(format string, args ...interface{}) { l.log(LevelTrace, format, args...) }
func (l *Logger) Debug(msg string, args ...interface{})     { l.log(LevelDebug, msg, args...) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(msg string, args ...interface{})      { l.log(LevelInfo, msg, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(msg string, args ...interface{})      { l.log(LevelWarn, msg, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(msg string, args ...interface{})     { l.log(LevelError, msg, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }
func (l *Logger) Fatal(msg string, args ...interface{})     { l.log(LevelFatal, msg, args...) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.log(LevelFatal, format, args...) }
func (l *Logger) Panic(msg string, args ...interface{})     { l.log(LevelPanic, msg, args...) }
func (l *Logger) Panicf(format string, args ...interface{}) { l.log(LevelPanic, format, args...) }

// With returns a child logger carrying attrs on every entry in addition to
// the parent's.
func (l *Logger) With(attrs map[string]interface{}) *Logger {
	combined := make(map[string]interface{}, len(l.attrs)+len(attrs))
	for k, v := range l.attrs {
		combined[k] = v
	}
	for k, v := range attrs {
		combined[k] = v
	}
	return &Logger{
		handlerFunc: l.handlerFunc,
		attrs:       combined,
		minLevel:    l.minLevel,
	}
}

// Sync is a no-op for fmt-based logger
func (l *Logger) Sync() error {
	return nil
}
