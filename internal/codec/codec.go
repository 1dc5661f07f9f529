// Package codec encodes canonical events as SSE wire frames.
//
// Every frame is a single "data:" line carrying a JSON object with a "type"
// member and the fields domain.RequiredFields lists for that type. Required
// fields are written even when empty. A field the adapter marked Missing is
// omitted, so consumers can tell a missing field from an empty one.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// DoneFrame terminates every stream after the terminal marker.
var DoneFrame = []byte("data: [DONE]\n\n")

// ErrNotDeliverable is returned for events that never reach the wire.
var ErrNotDeliverable = errors.New("codec: event is not deliverable")

// Payload returns the JSON object for ev.
func Payload(ev domain.Event) ([]byte, error) {
	if ev.Type == domain.EventUndecodable || ev.Type == "" {
		return nil, ErrNotDeliverable
	}
	if !ev.Type.Known() {
		return passthrough(ev)
	}

	m := map[string]any{"type": ev.Type}
	switch ev.Type {
	case domain.EventStart:
		m["messageId"] = ev.MessageID
		if len(ev.Metadata) > 0 {
			m["messageMetadata"] = ev.Metadata
		}
	case domain.EventTextStart, domain.EventTextEnd,
		domain.EventReasoningStart, domain.EventReasoningEnd:
		m["id"] = ev.ID
	case domain.EventTextDelta, domain.EventReasoningDelta:
		m["id"] = ev.ID
		m["delta"] = ev.Delta
	case domain.EventToolInputStart:
		m["toolCallId"] = ev.ToolCallID
		m["toolName"] = ev.ToolName
	case domain.EventToolInputDelta:
		m["toolCallId"] = ev.ToolCallID
		m["inputTextDelta"] = ev.InputTextDelta
	case domain.EventToolCall:
		m["toolCallId"] = ev.ToolCallID
		m["toolName"] = ev.ToolName
		input := ev.Input
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		m["input"] = input
	case domain.EventSourceURL:
		m["sourceId"] = ev.SourceID
		m["url"] = ev.URL
		if ev.Title != "" {
			m["title"] = ev.Title
		}
	case domain.EventFinish:
		m["finishReason"] = ev.FinishReason
		if ev.Usage != nil {
			m["usage"] = ev.Usage
		}
	case domain.EventError:
		m["errorText"] = ev.ErrorText
		if ev.ErrorKind != "" {
			m["kind"] = ev.ErrorKind
		}
	case domain.EventAbort:
		if ev.Reason != "" {
			m["reason"] = ev.Reason
		}
	}
	for _, f := range ev.Missing {
		if f != "type" {
			delete(m, f)
		}
	}
	return json.Marshal(m)
}

// passthrough wraps an untranslated upstream event. The original payload
// travels under "data" when it is valid JSON.
func passthrough(ev domain.Event) ([]byte, error) {
	if !strings.HasPrefix(string(ev.Type), "x-") {
		return nil, fmt.Errorf("codec: unknown event type %q", ev.Type)
	}
	m := map[string]any{"type": ev.Type}
	if len(ev.Raw) > 0 && json.Valid(ev.Raw) {
		m["data"] = ev.Raw
	}
	return json.Marshal(m)
}

// Frame returns ev as a complete SSE frame.
func Frame(ev domain.Event) ([]byte, error) {
	payload, err := Payload(ev)
	if err != nil {
		return nil, err
	}
	return FrameBytes(payload), nil
}

// FrameBytes wraps an arbitrary payload in an SSE data frame. Payloads
// produced by json.Marshal never contain raw newlines.
func FrameBytes(payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// ErrorEvent builds the terminal error marker for a classified failure.
func ErrorEvent(kind domain.Kind, message string) domain.Event {
	return domain.Event{Type: domain.EventError, ErrorText: message, ErrorKind: kind}
}

// AbortEvent builds the terminal marker for a cancelled stream.
func AbortEvent(reason string) domain.Event {
	return domain.Event{Type: domain.EventAbort, Reason: reason}
}
