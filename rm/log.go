// Package rm ties together the capability address-space engine, the
// folio/object store, the activity accounting layer, the RPC bucket, and
// the memory-region manager into one dispatch loop, per spec.md's overall
// architecture.
//
// The ambient logger wraps the standard library's log.Logger with level
// prefixes, following the teacher's preference for ad hoc text logging
// (biscuit's println/fmt style, generalized to leveled output) over a
// structured-logging library: none of the pack's repos (biscuit,
// canonical-snapd, iansmith-mazarin, smoynes-elsie) import zap, logrus, or
// zerolog, so there is no corpus precedent to follow instead.
package rm

import (
	"io"
	"log"
	"os"
)

// Level is a log verbosity threshold, driven by the -D/--debug CLI flag.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) prefix() string {
	switch l {
	case LevelDebug:
		return "DEBUG "
	case LevelInfo:
		return "INFO "
	case LevelWarn:
		return "WARN "
	default:
		return "ERROR "
	}
}

// Logger is a small leveled wrapper around *log.Logger.
type Logger struct {
	out       *log.Logger
	threshold Level
}

/// NewLogger returns a Logger writing to os.Stderr, emitting messages at
/// or below threshold.
func NewLogger(threshold Level) *Logger {
	return NewLoggerTo(os.Stderr, threshold)
}

/// NewLoggerTo returns a Logger writing to w, the -o/--output console
/// driver's chosen destination (spec.md §6; console output drivers
/// themselves are out of scope, but the launcher still picks a
/// destination for its own leveled trace).
func NewLoggerTo(w io.Writer, threshold Level) *Logger {
	return &Logger{out: log.New(w, "", log.LstdFlags), threshold: threshold}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level > l.threshold {
		return
	}
	l.out.Printf(level.prefix()+format, args...)
}

func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }
