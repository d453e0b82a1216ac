package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestNewRespectsLevel(t *testing.T) {
	log, err := New("warn", "json")
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}
	if log.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !log.Core().Enabled(zap.ErrorLevel) {
		t.Fatalf("error should be enabled at warn level")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "console"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
