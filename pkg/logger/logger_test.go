package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetLevelMapsToLogrusLevels(t *testing.T) {
	defer SetLevel(LevelDebug)

	SetLevel(LevelWarn)
	if base.GetLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn level, got %v", base.GetLevel())
	}

	SetLevel(LevelError)
	if base.GetLevel() != logrus.ErrorLevel {
		t.Fatalf("expected error level, got %v", base.GetLevel())
	}
}

func TestEntryReturnsUsableLogrusEntry(t *testing.T) {
	e := Entry()
	if e == nil || e.Logger != base {
		t.Fatal("expected Entry to wrap the package logger")
	}
}
