package events

import (
	"encoding/json"
	"testing"
)

func TestNewReadyShape(t *testing.T) {
	var got map[string]any
	if err := json.Unmarshal(NewReady(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got["type"] != "Ready" {
		t.Errorf(`type = %v, want "Ready"`, got["type"])
	}
	if len(got) != 1 {
		t.Errorf("Ready event has %d fields, want 1: %v", len(got), got)
	}
}

func TestNewErrorShape(t *testing.T) {
	raw := NewError(TypeConnectionError, "UPSTREAM_CONNECT_FAILED", "could not connect", map[string]any{"attempt": 1})

	var got struct {
		Error struct {
			Type    string         `json:"type"`
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.Error.Type != TypeConnectionError {
		t.Errorf("type = %q, want %q", got.Error.Type, TypeConnectionError)
	}
	if got.Error.Code != "UPSTREAM_CONNECT_FAILED" {
		t.Errorf("code = %q", got.Error.Code)
	}
	if got.Error.Message != "could not connect" {
		t.Errorf("message = %q", got.Error.Message)
	}
	if got.Error.Details["attempt"] != float64(1) {
		t.Errorf("details = %v", got.Error.Details)
	}
}

func TestNewErrorOmitsEmptyDetails(t *testing.T) {
	var got map[string]map[string]any
	if err := json.Unmarshal(NewError(TypeStreamError, "X", "y", nil), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := got["error"]["details"]; ok {
		t.Error("details should be omitted when nil")
	}
}

func TestResultsRoundTrip(t *testing.T) {
	// The shape clients receive from upstream pass-through.
	raw := `{"type":"Results","transcript":"hello world","is_final":true,"speech_final":true,"confidence":0.98,"duration":1.5,"start":0.25,"metadata":{"model":"nova-3","language":"en"}}`

	var r Results
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if r.Type != "Results" || r.Transcript != "hello world" || !r.IsFinal || !r.SpeechFinal {
		t.Errorf("unexpected results: %+v", r)
	}
	if r.Metadata == nil || r.Metadata.Model != "nova-3" || r.Metadata.Language != "en" {
		t.Errorf("unexpected metadata: %+v", r.Metadata)
	}
}
