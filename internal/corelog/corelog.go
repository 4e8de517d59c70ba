// Package corelog wraps logrus with the small set of structured fields the
// connection and queue packages attach to every log line. A nil *Logger is
// valid and discards everything, so call sites never need a presence check.
package corelog

import "github.com/sirupsen/logrus"

// Logger is a thin wrapper over a *logrus.Entry. The zero value is not
// usable; use Nop() or New().
type Logger struct {
	entry *logrus.Entry
}

// New wraps an existing *logrus.Logger, pre-populating it with fields.
func New(base *logrus.Logger, fields logrus.Fields) *Logger {
	if base == nil {
		base = logrus.New()
	}
	return &Logger{entry: base.WithFields(fields)}
}

// Nop returns a Logger that discards everything, for tests and for callers
// who never configured logging.
func Nop() *Logger {
	l := logrus.New()
	l.SetOutput(discard{})
	return New(l, nil)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// With returns a child logger with additional fields merged in.
func (l *Logger) With(fields logrus.Fields) *Logger {
	if l == nil {
		return Nop().With(fields)
	}
	return &Logger{entry: l.entry.WithFields(fields)}
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.entry.Errorf(format, args...)
}
