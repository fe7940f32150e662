// Package events defines the closed set of JSON events the gateway sends
// to connected clients. Every text frame the gateway originates (as opposed
// to frames passed through from upstream) is one of these shapes.
package events

import "encoding/json"

// Error types surfaced to the client before the socket closes.
const (
	TypeValidationError = "ValidationError"
	TypeConnectionError = "ConnectionError"
	TypeStreamError     = "StreamError"
	TypeUpstreamError   = "UpstreamError"
)

// Ready tells the client the upstream link is open and audio will be
// forwarded from now on.
type Ready struct {
	Type string `json:"type"`
}

// Metadata mirrors the upstream Metadata event shape. The gateway passes
// upstream metadata through verbatim; this struct documents the fields
// clients can rely on.
type Metadata struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	ModelInfo json.RawMessage `json:"model_info,omitempty"`
	Created   string          `json:"created,omitempty"`
}

// Results mirrors the upstream transcription result shape, passed through
// verbatim by the gateway.
type Results struct {
	Type        string          `json:"type"`
	Transcript  string          `json:"transcript,omitempty"`
	IsFinal     bool            `json:"is_final"`
	SpeechFinal bool            `json:"speech_final"`
	Confidence  float64         `json:"confidence,omitempty"`
	Words       json.RawMessage `json:"words,omitempty"`
	Duration    float64         `json:"duration,omitempty"`
	Start       float64         `json:"start,omitempty"`
	Metadata    *ResultsMeta    `json:"metadata,omitempty"`
}

// ResultsMeta carries the model/language pair attached to results.
type ResultsMeta struct {
	Model    string `json:"model"`
	Language string `json:"language"`
}

// ErrorBody is the payload of an Error event.
type ErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error is sent to the client before its socket is closed so the UI can
// distinguish failure causes from generic disconnects.
type Error struct {
	Error ErrorBody `json:"error"`
}

// NewReady returns the marshaled Ready event.
func NewReady() []byte {
	b, _ := json.Marshal(Ready{Type: "Ready"})
	return b
}

// NewError builds a marshaled Error event of the given type.
func NewError(errType, code, message string, details any) []byte {
	b, _ := json.Marshal(Error{Error: ErrorBody{
		Type:    errType,
		Code:    code,
		Message: message,
		Details: details,
	}})
	return b
}
