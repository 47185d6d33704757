package tunnel

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// LogLevel selects which log calls actually produce output. Mirrors
// AppOption.LogLevel (spec.md §3): "trace" through "error".
type LogLevel int

// Log levels, most severe first: a Logger at LogLevelInfo emits Info,
// Warning, Error and Fatal, but not Debug or Trace.
const (
	LogLevelUnknown LogLevel = iota
	LogLevelFatal
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
	LogLevelTrace
)

var logLevelNames = [...]string{"unknown", "fatal", "error", "warning", "info", "debug", "trace"}

// ParseLogLevel converts a config string (AppOption.LogLevel) to a
// LogLevel, defaulting to LogLevelInfo for anything unrecognized --
// matching original_source/src/main.rs's `_ => LevelFilter::Info`.
func ParseLogLevel(s string) LogLevel {
	for i, name := range logLevelNames {
		if strings.EqualFold(name, s) {
			return LogLevel(i)
		}
	}
	return LogLevelInfo
}

func (l LogLevel) String() string {
	if l < LogLevelUnknown || int(l) >= len(logLevelNames) {
		return "unknown"
	}
	return logLevelNames[l]
}

// Logger is a leveled, prefixed logging component. Adapted from the
// teacher's share/logger.go, trimmed to the subset the tunnel calls.
type Logger interface {
	ILog(args ...interface{})
	ILogf(f string, args ...interface{})
	WLog(args ...interface{})
	WLogf(f string, args ...interface{})
	ELog(args ...interface{})
	ELogf(f string, args ...interface{})
	DLog(args ...interface{})
	DLogf(f string, args ...interface{})
	TLogf(f string, args ...interface{})

	GetLogLevel() LogLevel

	// Fork returns a new Logger whose prefix is this Logger's prefix plus
	// the given suffix, joined by ": ".
	Fork(suffix string) Logger
}

// BasicLogger writes level-filtered, prefixed lines to an underlying
// *log.Logger (by default one writing to os.Stderr).
type BasicLogger struct {
	prefix   string
	out      *log.Logger
	logLevel LogLevel
}

// NewLogger creates a Logger with the given prefix and level, writing to
// os.Stderr with date+time flags, matching the teacher's NewLogger.
func NewLogger(prefix string, level LogLevel) Logger {
	return &BasicLogger{
		prefix:   prefix,
		out:      log.New(os.Stderr, "", log.Ldate|log.Ltime),
		logLevel: level,
	}
}

func (l *BasicLogger) emit(level LogLevel, msg string) {
	if level > l.logLevel {
		return
	}
	if l.prefix == "" {
		l.out.Print(msg)
	} else {
		l.out.Print(l.prefix + ": " + msg)
	}
}

func (l *BasicLogger) ELog(args ...interface{})            { l.emit(LogLevelError, fmt.Sprint(args...)) }
func (l *BasicLogger) ELogf(f string, args ...interface{}) { l.emit(LogLevelError, fmt.Sprintf(f, args...)) }
func (l *BasicLogger) WLog(args ...interface{})            { l.emit(LogLevelWarning, fmt.Sprint(args...)) }
func (l *BasicLogger) WLogf(f string, args ...interface{}) { l.emit(LogLevelWarning, fmt.Sprintf(f, args...)) }
func (l *BasicLogger) ILog(args ...interface{})            { l.emit(LogLevelInfo, fmt.Sprint(args...)) }
func (l *BasicLogger) ILogf(f string, args ...interface{}) { l.emit(LogLevelInfo, fmt.Sprintf(f, args...)) }
func (l *BasicLogger) DLog(args ...interface{})            { l.emit(LogLevelDebug, fmt.Sprint(args...)) }
func (l *BasicLogger) DLogf(f string, args ...interface{}) { l.emit(LogLevelDebug, fmt.Sprintf(f, args...)) }
func (l *BasicLogger) TLogf(f string, args ...interface{}) { l.emit(LogLevelTrace, fmt.Sprintf(f, args...)) }

// GetLogLevel returns the configured log level.
func (l *BasicLogger) GetLogLevel() LogLevel { return l.logLevel }

// Fork creates a child Logger with this logger's prefix extended.
func (l *BasicLogger) Fork(suffix string) Logger {
	newPrefix := suffix
	if l.prefix != "" {
		newPrefix = l.prefix + ": " + suffix
	}
	return &BasicLogger{prefix: newPrefix, out: l.out, logLevel: l.logLevel}
}
