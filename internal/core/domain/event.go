package domain

import "encoding/json"

// EventType names a canonical stream event.
type EventType string

const (
	EventStart          EventType = "start"
	EventTextStart      EventType = "text-start"
	EventTextDelta      EventType = "text-delta"
	EventTextEnd        EventType = "text-end"
	EventReasoningStart EventType = "reasoning-start"
	EventReasoningDelta EventType = "reasoning-delta"
	EventReasoningEnd   EventType = "reasoning-end"
	EventToolInputStart EventType = "tool-input-start"
	EventToolInputDelta EventType = "tool-input-delta"
	EventToolCall       EventType = "tool-call"
	EventSourceURL      EventType = "source-url"
	EventFinish         EventType = "finish"
	EventError          EventType = "error"
	EventAbort          EventType = "abort"

	// EventUndecodable carries an upstream payload the adapter could not
	// decode. It is reported to the monitor and never delivered.
	EventUndecodable EventType = "undecodable"
)

// RequiredFields lists the wire fields each canonical event type must carry.
var RequiredFields = map[EventType][]string{
	EventStart:          {"messageId"},
	EventTextStart:      {"id"},
	EventTextDelta:      {"id", "delta"},
	EventTextEnd:        {"id"},
	EventReasoningStart: {"id"},
	EventReasoningDelta: {"id", "delta"},
	EventReasoningEnd:   {"id"},
	EventToolInputStart: {"toolCallId", "toolName"},
	EventToolInputDelta: {"toolCallId", "inputTextDelta"},
	EventToolCall:       {"toolCallId", "toolName", "input"},
	EventSourceURL:      {"sourceId", "url"},
	EventFinish:         {"finishReason"},
	EventError:          {"errorText"},
	EventAbort:          {},
}

// Known reports whether t is part of the canonical vocabulary.
func (t EventType) Known() bool {
	_, ok := RequiredFields[t]
	return ok
}

// Terminal reports whether t ends a stream.
func (t EventType) Terminal() bool {
	return t == EventFinish || t == EventError || t == EventAbort
}

// Usage is the token accounting reported at the end of a stream.
type Usage struct {
	InputTokens     int `json:"inputTokens"`
	OutputTokens    int `json:"outputTokens"`
	ReasoningTokens int `json:"reasoningTokens,omitempty"`
}

// Event is one canonical stream event produced by an adapter. Only the fields
// relevant to Type are set.
type Event struct {
	Type EventType

	ID        string
	Delta     string
	MessageID string
	Metadata  map[string]any

	ToolCallID     string
	ToolName       string
	Input          json.RawMessage
	InputTextDelta string

	SourceID string
	URL      string
	Title    string

	FinishReason string
	Usage        *Usage

	ErrorText string
	ErrorKind Kind
	Reason    string

	// Raw holds the upstream payload for passthrough and undecodable events.
	Raw json.RawMessage

	// Err is the decode failure of an undecodable event.
	Err error

	// Missing names required wire fields the upstream event did not carry.
	// They are left out of the frame so the monitor sees the gap.
	Missing []string
}

// Passthrough builds an event for an upstream type the adapter does not
// translate. The name is namespaced so it cannot collide with the
// canonical vocabulary.
func Passthrough(provider, upstreamType string, raw []byte) Event {
	return Event{Type: EventType("x-" + provider + "-" + upstreamType), Raw: raw}
}

// Undecodable builds an event for a payload that failed to decode.
func Undecodable(raw []byte, err error) Event {
	return Event{Type: EventUndecodable, Raw: raw, Err: err}
}
