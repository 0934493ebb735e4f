package visus

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/natefinch/lumberjack"
)

// LogConfig is the [logging] table of a server configuration.
type LogConfig struct {
	Logfile    string
	MaxSize    int    `toml:"max_log_size"`    // megabytes
	MaxAge     int    `toml:"max_log_age"`     // days
	MaxBackups int    `toml:"max_log_backups"` // 0 keeps all
	Compress   bool   `toml:"compress_logs"`
	Level      string `toml:"level"`
}

// SetLogger applies the configured level and, when a log file is given,
// sends all messages to it with size and age based rotation.
func (c *LogConfig) SetLogger() error {
	if c == nil {
		return nil
	}
	if c.Level != "" {
		l, err := ParseLogLevel(c.Level)
		if err != nil {
			return err
		}
		SetLogLevel(l)
	}
	if c.Logfile == "" {
		Infof("No log file configured, logging to stderr\n")
		return nil
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	file := &lumberjack.Logger{
		Filename:   c.Logfile,
		MaxSize:    c.MaxSize,
		MaxAge:     c.MaxAge,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
	UseLogger(newStdLogger(file, file))
	return nil
}

// stdLogger tags each line with its level.  file is nil on stderr.
type stdLogger struct {
	out  *log.Logger
	file io.Closer
}

var logger Logger = newStdLogger(os.Stderr, nil)

func newStdLogger(w io.Writer, file io.Closer) *stdLogger {
	return &stdLogger{out: log.New(w, "visus ", log.LstdFlags|log.Lmicroseconds), file: file}
}

func (l *stdLogger) printf(lvl LogLevel, format string, args ...interface{}) {
	l.out.Printf(lvl.String()+" "+format, args...)
}

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	l.printf(DebugLevel, format, args...)
}

func (l *stdLogger) Infof(format string, args ...interface{}) {
	l.printf(InfoLevel, format, args...)
}

func (l *stdLogger) Warningf(format string, args ...interface{}) {
	l.printf(WarningLevel, format, args...)
}

func (l *stdLogger) Errorf(format string, args ...interface{}) {
	l.printf(ErrorLevel, format, args...)
}

func (l *stdLogger) Criticalf(format string, args ...interface{}) {
	l.printf(CriticalLevel, format, args...)
}

func (l *stdLogger) Shutdown() {
	if l.file != nil {
		l.out.Printf("closing log file\n")
		l.file.Close()
	}
}
