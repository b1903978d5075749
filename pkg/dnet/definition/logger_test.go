package definition

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestDefaultLogger_ToggleDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewDefaultLogger()
	l.SetOutput(&buf)

	l.Debug("should not appear")
	if buf.Len() != 0 {
		t.Fatalf("debug output appeared before ToggleDebug(true): %q", buf.String())
	}

	if !l.ToggleDebug(true) {
		t.Fatal("ToggleDebug(true) should report debug enabled")
	}
	if l.Logger.Level != logrus.DebugLevel {
		t.Fatalf("level = %v, want DebugLevel", l.Logger.Level)
	}

	l.Debug("now visible")
	if buf.Len() == 0 {
		t.Fatal("debug output missing after ToggleDebug(true)")
	}

	if l.ToggleDebug(false) {
		t.Fatal("ToggleDebug(false) should report debug disabled")
	}
	if l.Logger.Level != logrus.InfoLevel {
		t.Fatalf("level = %v, want InfoLevel", l.Logger.Level)
	}
}

func TestDefaultLogger_SatisfiesCoreLoggerSubset(t *testing.T) {
	var _ interface {
		Debugf(string, ...interface{})
		Warnf(string, ...interface{})
		Errorf(string, ...interface{})
	} = NewDefaultLogger()
}
