package visus

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel is the minimum severity printed by the package log functions.
// Queries log from many goroutines, so the level is read and set atomically.
type LogLevel int32

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarningLevel
	ErrorLevel
	CriticalLevel
	SilentLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL", "SILENT"}

func (l LogLevel) String() string {
	if l < DebugLevel || l > SilentLevel {
		return fmt.Sprintf("LogLevel(%d)", int32(l))
	}
	return levelNames[l]
}

// ParseLogLevel accepts a level name in any case, e.g. "debug" or "Warning".
func ParseLogLevel(s string) (LogLevel, error) {
	for i, name := range levelNames {
		if strings.EqualFold(s, name) {
			return LogLevel(i), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

var level = int32(InfoLevel)

// SetLogLevel sets the severity required for a message to be printed.
// SetLogLevel(WarningLevel) keeps Warningf, Errorf and Criticalf; SilentLevel
// turns logging off.
func SetLogLevel(l LogLevel) {
	atomic.StoreInt32(&level, int32(l))
}

func GetLogLevel() LogLevel {
	return LogLevel(atomic.LoadInt32(&level))
}

// Logger receives the messages that pass the level check.  The default
// writes to stderr; LogConfig.SetLogger switches it to a rotated file.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf.  Per-block
	// traces of queries and storage engines go here.
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Criticalf(format string, args ...interface{})

	// Shutdown flushes and closes any log file.
	Shutdown()
}

// UseLogger replaces the package logger and returns the previous one.
func UseLogger(l Logger) Logger {
	prev := logger
	logger = l
	return prev
}

func enabled(l LogLevel) bool {
	return LogLevel(atomic.LoadInt32(&level)) <= l
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningLevel) {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorLevel) {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if enabled(CriticalLevel) {
		logger.Criticalf(format, args...)
	}
}

// Shutdown closes the log file opened through LogConfig, if any.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog suffixes messages with the time elapsed since it was created.
// Long operations, such as opening an engine or recompressing a field,
// start one and report when done:
//
//	tlog := NewTimeLog()
//	...
//	tlog.Infof("Compressed %d blocks", n) // "Compressed 12 blocks in 1.2s"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) suffix(format string) string {
	return strings.TrimRight(format, "\n") + " in %s\n"
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if enabled(DebugLevel) {
		logger.Debugf(t.suffix(format), append(args, t.Elapsed())...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if enabled(InfoLevel) {
		logger.Infof(t.suffix(format), append(args, t.Elapsed())...)
	}
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	if enabled(WarningLevel) {
		logger.Warningf(t.suffix(format), append(args, t.Elapsed())...)
	}
}
