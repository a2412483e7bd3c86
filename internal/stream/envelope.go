// Package stream converts raw event-stream envelopes into structured
// task events. Parsing is pure: nothing here touches stored state, and
// malformed input degrades to zero events instead of errors.
package stream

import (
	"encoding/json"
	"time"

	"github.com/tasktrack-io/tasktrack/internal/domain"
)

// EnvelopeKind discriminates the recognized envelope shapes.
type EnvelopeKind string

const (
	KindMessage      EnvelopeKind = "message"
	KindProgress     EnvelopeKind = "progress"
	KindUnrecognized EnvelopeKind = "unrecognized"
)

// Envelope is one decoded record from the upstream event stream, with
// the kind resolved before any field extraction.
type Envelope struct {
	Kind      EnvelopeKind
	SessionID string
	Timestamp time.Time

	// RawMessage is set for KindMessage: free text that may embed a
	// tool_calls=[...] descriptor list.
	RawMessage string
	// ProgressData is set for KindProgress: "[tool] description (c/t)".
	ProgressData string
}

// wire mirrors the upstream JSON shape. Content is type-dependent, so
// it stays raw until the envelope type is known.
type wire struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	Timestamp string          `json:"timestamp"`
	SessionID string          `json:"session_id"`
}

type messageContent struct {
	RawMessage string `json:"raw_message"`
}

type customContent struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// DecodeEnvelope parses one line of the event stream. Invalid JSON
// yields a ParseError; a structurally valid record of an unknown shape
// yields a KindUnrecognized envelope and no error.
func DecodeEnvelope(line []byte) (Envelope, error) {
	var w wire
	if err := json.Unmarshal(line, &w); err != nil {
		return Envelope{}, &domain.ParseError{Reason: err.Error()}
	}

	env := Envelope{Kind: KindUnrecognized, SessionID: w.SessionID}
	if ts, err := time.Parse(time.RFC3339, w.Timestamp); err == nil {
		env.Timestamp = ts
	}

	switch w.Type {
	case "message_stream":
		var mc messageContent
		if err := json.Unmarshal(w.Content, &mc); err == nil && mc.RawMessage != "" {
			env.Kind = KindMessage
			env.RawMessage = mc.RawMessage
		}
	case "custom_stream":
		var cc customContent
		if err := json.Unmarshal(w.Content, &cc); err == nil && cc.Type == "progress" && cc.Data != "" {
			env.Kind = KindProgress
			env.ProgressData = cc.Data
		}
	}
	return env, nil
}
