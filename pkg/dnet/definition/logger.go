// Package definition holds the small cross-cutting interfaces shared by
// every pkg/dnet subpackage, chiefly the Logger contract.
package definition

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every dnet component depends on. core.Logger
// is a narrower subset that NewDefaultLogger also satisfies.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})
	ToggleDebug(value bool) bool
}

// DefaultLogger wraps a *logrus.Logger with the fixed Logger surface every
// dnet component is written against, so the concrete logging library stays
// swappable behind the interface.
type DefaultLogger struct {
	*logrus.Logger
}

// NewDefaultLogger builds a text-formatted logrus logger writing to stderr,
// matching the destination the teacher's stdlib logger used.
func NewDefaultLogger() *DefaultLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{Logger: l}
}

func (l *DefaultLogger) Debug(v ...interface{})                 { l.Logger.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{}) { l.Logger.Debugf(format, v...) }
func (l *DefaultLogger) Info(v ...interface{})                  { l.Logger.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})  { l.Logger.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                  { l.Logger.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})  { l.Logger.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                 { l.Logger.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{}) { l.Logger.Errorf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                 { l.Logger.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{}) { l.Logger.Fatalf(format, v...) }
func (l *DefaultLogger) Panic(v ...interface{})                 { l.Logger.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{}) { l.Logger.Panicf(format, v...) }

// ToggleDebug flips the logger between Info and Debug level, returning the
// new debug-enabled state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.Logger.SetLevel(logrus.InfoLevel)
	}
	return value
}
