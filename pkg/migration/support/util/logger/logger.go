// Package logger is the leveled logger shared by every migrator component.
// Messages go through the standard library logger with a level prefix, so the
// output can be redirected with SetOutput (tests do this).
package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
)

// LogLevel orders log severities. Smaller values are more verbose.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
	LevelFatal: "FATAL",
}

// String returns the upper-case name used in log prefixes.
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int32(l))
}

// current holds the active LogLevel. It is read on every log call from many
// goroutines (batch workers), hence atomic.
var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// ParseLevel converts "debug", "INFO", "warn"... into a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	name := strings.ToUpper(strings.TrimSpace(level))
	if name == "WARNING" {
		name = "WARN"
	}
	for l, n := range levelNames {
		if n == name {
			return l, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// SetLogLevel sets the global level. Unknown values fall back to INFO with a notice.
func SetLogLevel(level string) {
	l, err := ParseLevel(level)
	if err != nil {
		log.Printf("[WARN] %v, defaulting to INFO", err)
	}
	current.Store(int32(l))
}

// Level returns the active global level.
func Level() LogLevel {
	return LogLevel(current.Load())
}

// Enabled reports whether messages at l are currently written.
func Enabled(l LogLevel) bool {
	return l >= Level()
}

// SetOutput redirects all log output.
func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func logf(l LogLevel, format string, v ...interface{}) {
	if !Enabled(l) {
		return
	}
	log.Printf("["+l.String()+"] "+format, v...)
}

// Debugf writes a DEBUG message.
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }

// Infof writes an INFO message.
func Infof(format string, v ...interface{}) { logf(LevelInfo, format, v...) }

// Warnf writes a WARN message.
func Warnf(format string, v ...interface{}) { logf(LevelWarn, format, v...) }

// Errorf writes an ERROR message.
func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }

// Fatalf writes a FATAL message and exits the process with status 1.
func Fatalf(format string, v ...interface{}) {
	log.Fatalf("[FATAL] "+format, v...)
}
