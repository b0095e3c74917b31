package log

import (
	"testing"

	"order-relay/internal/config"
)

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "console"})
	if err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewLogger_RejectsUnknownEncoding(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "info", Encoding: "xml"})
	if err == nil {
		t.Fatalf("expected error for unknown encoding")
	}
}

func TestNewLogger_DefaultsOutputs(t *testing.T) {
	logger, err := NewLogger(config.LoggingConfig{Level: "debug", Encoding: "json"})
	if err != nil {
		t.Fatalf("NewLogger returned error: %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Errorf("expected debug level to be enabled")
	}
	_ = logger.Sync()
}
