// Package domain holds the canonical types shared by every stage of the
// streaming completion pipeline.
package domain

// Source identifies which product surface produced a request.
type Source string

const (
	SourceChat               Source = "chat"
	SourceCompare            Source = "compare"
	SourceAssistantExecution Source = "assistant_execution"
)

// Valid reports whether s is one of the recognized sources.
func (s Source) Valid() bool {
	switch s {
	case SourceChat, SourceCompare, SourceAssistantExecution:
		return true
	}
	return false
}

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is a recognized role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// PartType distinguishes content parts.
type PartType string

const (
	PartText PartType = "text"
	PartFile PartType = "file"
)

// ContentPart is one piece of message content.
type ContentPart struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	MediaType string   `json:"mediaType,omitempty"`
	Data      string   `json:"data,omitempty"` // base64
	URL       string   `json:"url,omitempty"`
	Filename  string   `json:"filename,omitempty"`
}

// Message is a role-tagged, ordered list of content parts.
type Message struct {
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
}

// Text returns the concatenated text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Reasoning effort levels.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// Option defaults applied by the normalizer.
const (
	DefaultReasoningEffort = EffortMedium
	DefaultResponseMode    = "standard"
)

// Options is the recognized per-request configuration.
type Options struct {
	ReasoningEffort       string `json:"reasoningEffort"`
	ResponseMode          string `json:"responseMode"`
	BackgroundMode        bool   `json:"backgroundMode"`
	ThinkingBudget        *int   `json:"thinkingBudget,omitempty"`
	EnableWebSearch       bool   `json:"enableWebSearch"`
	EnableCodeInterpreter bool   `json:"enableCodeInterpreter"`
	EnableImageGeneration bool   `json:"enableImageGeneration"`
	MaxOutputTokens       *int   `json:"maxOutputTokens,omitempty"`

	// EffortDefaulted is set when the caller left reasoningEffort unset.
	EffortDefaulted bool `json:"-"`
}

// EnabledTools returns the canonical names of the tools the caller switched on,
// in a fixed order.
func (o Options) EnabledTools() []string {
	var names []string
	if o.EnableWebSearch {
		names = append(names, ToolWebSearch)
	}
	if o.EnableCodeInterpreter {
		names = append(names, ToolCodeInterpreter)
	}
	if o.EnableImageGeneration {
		names = append(names, ToolImageGeneration)
	}
	return names
}

// Canonical tool names.
const (
	ToolWebSearch       = "web_search"
	ToolCodeInterpreter = "code_interpreter"
	ToolImageGeneration = "image_generation"
)

// Telemetry carries the caller's recording consent and free-form tags.
type Telemetry struct {
	RecordInputs  bool              `json:"recordInputs"`
	RecordOutputs bool              `json:"recordOutputs"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// StreamRequest is the canonical request owned by one engine invocation.
type StreamRequest struct {
	Messages       []Message `json:"messages"`
	ModelID        string    `json:"modelId"`
	Provider       string    `json:"provider"`
	UserID         string    `json:"userId,omitempty"`
	SessionID      string    `json:"sessionId,omitempty"`
	ConversationID string    `json:"conversationId,omitempty"`
	Source         Source    `json:"source"`
	ExecutionID    string    `json:"executionId,omitempty"`
	ComparisonID   string    `json:"comparisonId,omitempty"`
	Options        Options   `json:"options"`
	Telemetry      Telemetry `json:"telemetry"`
}

// NewConversation reports whether the request starts a new conversation.
func (r *StreamRequest) NewConversation() bool {
	return r.ConversationID == ""
}
