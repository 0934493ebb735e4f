package visus

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type recordingLogger struct {
	lines []string
}

func (r *recordingLogger) add(tag, format string, args ...interface{}) {
	r.lines = append(r.lines, tag+" "+fmt.Sprintf(format, args...))
}

func (r *recordingLogger) Debugf(format string, args ...interface{}) { r.add("D", format, args...) }
func (r *recordingLogger) Infof(format string, args ...interface{})  { r.add("I", format, args...) }
func (r *recordingLogger) Warningf(format string, args ...interface{}) {
	r.add("W", format, args...)
}
func (r *recordingLogger) Errorf(format string, args ...interface{}) { r.add("E", format, args...) }
func (r *recordingLogger) Criticalf(format string, args ...interface{}) {
	r.add("C", format, args...)
}
func (r *recordingLogger) Shutdown() {}

func withLogger(t *testing.T, l Logger, lvl LogLevel) {
	prev := UseLogger(l)
	prevLevel := GetLogLevel()
	SetLogLevel(lvl)
	t.Cleanup(func() {
		UseLogger(prev)
		SetLogLevel(prevLevel)
	})
}

func TestLogLevels(t *testing.T) {
	rec := &recordingLogger{}
	withLogger(t, rec, WarningLevel)

	Debugf("block %d", 1)
	Infof("block %d", 2)
	Warningf("block %d", 3)
	Errorf("block %d", 4)
	Criticalf("block %d", 5)
	expected := []string{"W block 3", "E block 4", "C block 5"}
	if strings.Join(rec.lines, "|") != strings.Join(expected, "|") {
		t.Errorf("expected %v, got %v", expected, rec.lines)
	}

	rec.lines = nil
	SetLogLevel(SilentLevel)
	Criticalf("dropped")
	if len(rec.lines) != 0 {
		t.Errorf("silent level logged %v", rec.lines)
	}
}

func TestParseLogLevel(t *testing.T) {
	for s, expected := range map[string]LogLevel{"debug": DebugLevel, "INFO": InfoLevel, "Warning": WarningLevel, "silent": SilentLevel} {
		l, err := ParseLogLevel(s)
		if err != nil || l != expected {
			t.Errorf("level %q: expected %s, got %s (%v)", s, expected, l, err)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Errorf("expected error on unknown level")
	}
	if s := LogLevel(9).String(); s != "LogLevel(9)" {
		t.Errorf("bad name for unknown level: %s", s)
	}
}

func TestTimeLog(t *testing.T) {
	rec := &recordingLogger{}
	withLogger(t, rec, InfoLevel)

	tlog := TimeLog{start: time.Now().Add(-time.Second)}
	tlog.Debugf("skipped")
	tlog.Infof("Opened %q\n", "cells")
	if len(rec.lines) != 1 {
		t.Fatalf("expected one line, got %v", rec.lines)
	}
	if line := rec.lines[0]; !strings.HasPrefix(line, `I Opened "cells" in 1`) || !strings.HasSuffix(line, "s\n") {
		t.Errorf("bad timed line %q", line)
	}
}

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	withLogger(t, newStdLogger(&buf, nil), DebugLevel)
	Debugf("read block %d\n", 7)
	Errorf("lost block %d\n", 8)
	out := buf.String()
	if !strings.Contains(out, "DEBUG read block 7") || !strings.Contains(out, "ERROR lost block 8") {
		t.Errorf("unexpected log output %q", out)
	}
	if !strings.HasPrefix(out, "visus ") {
		t.Errorf("missing prefix in %q", out)
	}
}

func TestLogConfig(t *testing.T) {
	prev := GetLogLevel()
	defer SetLogLevel(prev)

	bad := &LogConfig{Level: "loud"}
	if err := bad.SetLogger(); err == nil {
		t.Errorf("expected error on bad level")
	}

	c := &LogConfig{Logfile: filepath.Join(t.TempDir(), "visus.log"), MaxSize: 1, Level: "error"}
	orig := logger
	defer UseLogger(orig)
	if err := c.SetLogger(); err != nil {
		t.Fatalf("unable to set logger: %v", err)
	}
	if GetLogLevel() != ErrorLevel {
		t.Errorf("expected error level, got %s", GetLogLevel())
	}
	if _, ok := logger.(*stdLogger); !ok || logger == orig {
		t.Errorf("expected a new file logger, got %T", logger)
	}
	Shutdown()
}
