package eventlog

import (
	"context"
	"testing"
)

func TestEventTypeConstants(t *testing.T) {
	expected := map[EventType]string{
		EventSessionStarted:    "session_started",
		EventUpstreamConnected: "upstream_connected",
		EventReadySent:         "ready_sent",
		EventStreamStarted:     "stream_started",
		EventErrorSent:         "error_sent",
		EventSessionEnded:      "session_ended",
	}

	for eventType, want := range expected {
		if string(eventType) != want {
			t.Errorf("EventType = %q, want %q", string(eventType), want)
		}
	}
}

func TestLoggerNew(t *testing.T) {
	if New(nil) == nil {
		t.Error("New(nil) should return a non-nil logger")
	}
}

func TestLogWithNilDB(t *testing.T) {
	logger := New(nil)

	err := logger.Log(context.Background(), "test-session", EventSessionStarted, map[string]any{
		"mode": "live",
	})
	if err != nil {
		t.Errorf("Log with nil DB should return nil error, got %v", err)
	}
}

func TestLogWithEmptySessionID(t *testing.T) {
	logger := New(nil)

	err := logger.Log(context.Background(), "", EventReadySent, nil)
	if err != nil {
		t.Errorf("Log with empty session ID should return nil error, got %v", err)
	}
}

func TestLogAsyncWithNilDB(t *testing.T) {
	logger := New(nil)

	// Must not panic or block.
	logger.LogAsync("test-session", EventSessionEnded, map[string]any{
		"close_code": 1000,
	})
	logger.LogAsync("", EventSessionStarted, nil)
}
