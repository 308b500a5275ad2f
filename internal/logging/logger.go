// Package logging provides a small structured logger, generalizing the teacher's log.Printf
// message-interpolation style (cmd/server/main.go, services/*.go) into queryable key-value
// fields while keeping the standard library log.Logger as the sink.
package logging

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
)

// Level controls which records are emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Fields is a set of structured key-value pairs attached to a log line.
type Fields map[string]interface{}

// Logger wraps a standard library logger with a minimum level and a fixed set of fields
// that are carried into every record produced by With.
type Logger struct {
	base   *log.Logger
	level  Level
	fields Fields
}

// New creates a root logger writing to stderr at the given level.
func New(level Level) *Logger {
	return &Logger{
		base:  log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds),
		level: level,
	}
}

// With returns a child logger carrying fields in addition to the receiver's own.
func (l *Logger) With(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{base: l.base, level: l.level, fields: merged}
}

func (l *Logger) log(level Level, msg string, extra Fields) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(level.String())
	b.WriteString(" ")
	b.WriteString(msg)

	all := make(Fields, len(l.fields)+len(extra))
	for k, v := range l.fields {
		all[k] = v
	}
	for k, v := range extra {
		all[k] = v
	}
	if len(all) > 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, all[k])
		}
	}
	l.base.Println(b.String())
}

func (l *Logger) Debug(msg string, fields Fields) { l.log(LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields Fields)  { l.log(LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields Fields)  { l.log(LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields Fields) { l.log(LevelError, msg, fields) }

// Fatal logs at error level and exits the process, mirroring the teacher's log.Fatalf
// usage for unrecoverable startup failures (cmd/server/main.go).
func (l *Logger) Fatal(msg string, fields Fields) {
	l.log(LevelError, msg, fields)
	os.Exit(1)
}
