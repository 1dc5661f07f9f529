package openai

import "encoding/json"

// Request types for POST /v1/responses.

type responsesRequest struct {
	Model           string            `json:"model"`
	Input           []inputMessage    `json:"input"`
	Instructions    string            `json:"instructions,omitempty"`
	Stream          bool              `json:"stream"`
	Background      bool              `json:"background,omitempty"`
	Reasoning       *reasoningConfig  `json:"reasoning,omitempty"`
	ServiceTier     string            `json:"service_tier,omitempty"`
	Tools           []map[string]any  `json:"tools,omitempty"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Store           *bool             `json:"store,omitempty"`
	User            string            `json:"user,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type reasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type inputMessage struct {
	Role    string         `json:"role"`
	Content []inputContent `json:"content"`
}

type inputContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	FileData string `json:"file_data,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	Filename string `json:"filename,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Stream event payloads. Only the fields the translator reads are declared.

type streamEvent struct {
	Type       string          `json:"type"`
	ItemID     string          `json:"item_id"`
	Delta      string          `json:"delta"`
	Item       *outputItem     `json:"item"`
	Response   *responseObject `json:"response"`
	Annotation *annotation     `json:"annotation"`
	Code       string          `json:"code"`
	Message    string          `json:"message"`
}

type outputItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Action    json.RawMessage `json:"action"`
	Code      string          `json:"code"`
	Result    string          `json:"result"`
}

type responseObject struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Usage             *responseUsage     `json:"usage"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details"`
	Error             *responseError     `json:"error"`
}

type responseUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	OutputTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"output_tokens_details"`
}

type incompleteDetails struct {
	Reason string `json:"reason"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type annotation struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}
