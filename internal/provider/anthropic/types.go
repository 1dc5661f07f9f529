package anthropic

import "encoding/json"

type messagesRequest struct {
	Model       string           `json:"model"`
	MaxTokens   int              `json:"max_tokens"`
	System      string           `json:"system,omitempty"`
	Messages    []message        `json:"messages"`
	Stream      bool             `json:"stream"`
	Thinking    *thinkingConfig  `json:"thinking,omitempty"`
	Tools       []map[string]any `json:"tools,omitempty"`
	ServiceTier string           `json:"service_tier,omitempty"`
	Metadata    *metadata        `json:"metadata,omitempty"`
}

type thinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

type metadata struct {
	UserID string `json:"user_id,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *blockSource `json:"source,omitempty"`
	Title  string       `json:"title,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"` // base64, url
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Stream payloads.

type streamEvent struct {
	Type         string           `json:"type"`
	Index        int              `json:"index"`
	Message      *messageStart    `json:"message"`
	ContentBlock *startBlock      `json:"content_block"`
	Delta        *blockDelta      `json:"delta"`
	Usage        *usage           `json:"usage"`
	Error        *streamErrorBody `json:"error"`
}

type messageStart struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Usage usage  `json:"usage"`
}

type startBlock struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Content json.RawMessage `json:"content"`
}

type blockDelta struct {
	Type        string    `json:"type"`
	Text        string    `json:"text"`
	Thinking    string    `json:"thinking"`
	PartialJSON string    `json:"partial_json"`
	StopReason  string    `json:"stop_reason"`
	Citation    *citation `json:"citation"`
}

type citation struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type searchResult struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamErrorBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
