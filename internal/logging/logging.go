// Package logging wraps the standard library logger with the level
// prefixes the rest of the codebase expects. No third-party structured
// logger is introduced here: none appears anywhere in the retrieved
// corpus for this teacher, whose cmd/ entrypoint logs with bare
// fmt.Printf banners. See DESIGN.md for the full justification.
package logging

import (
	"log"
	"os"
)

// Level controls which messages reach the underlying logger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "?"
	}
}

// Logger is a leveled wrapper around *log.Logger.
type Logger struct {
	std   *log.Logger
	min   Level
	scope string
}

// New creates a Logger writing to stderr with the standard flags.
func New(scope string) *Logger {
	return &Logger{
		std:   log.New(os.Stderr, "", log.Ldate|log.Ltime),
		min:   LevelInfo,
		scope: scope,
	}
}

// SetLevel adjusts the minimum level that reaches output.
func (l *Logger) SetLevel(lvl Level) { l.min = lvl }

func (l *Logger) log(lvl Level, format string, args ...interface{}) {
	if lvl < l.min {
		return
	}
	prefix := "[" + lvl.String() + "] "
	if l.scope != "" {
		prefix += l.scope + ": "
	}
	l.std.Printf(prefix+format, args...)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// With returns a child logger scoped to a sub-component, e.g.
// base.With("transfer") logs with "[INFO] transfer: ...".
func (l *Logger) With(scope string) *Logger {
	child := *l
	if l.scope != "" {
		child.scope = l.scope + "." + scope
	} else {
		child.scope = scope
	}
	return &child
}
