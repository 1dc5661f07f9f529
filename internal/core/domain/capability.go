package domain

// Capabilities is the immutable feature and bounds profile of one model.
// Values handed out by the registry are copies; mutating one never affects
// another request.
type Capabilities struct {
	ModelID  string `json:"modelId" yaml:"model_id" koanf:"model_id"`
	Provider string `json:"provider" yaml:"provider" koanf:"provider"`

	SupportsReasoning      bool `json:"supportsReasoning" yaml:"supports_reasoning" koanf:"supports_reasoning"`
	SupportsThinking       bool `json:"supportsThinking" yaml:"supports_thinking" koanf:"supports_thinking"`
	SupportsBackgroundMode bool `json:"supportsBackgroundMode" yaml:"supports_background_mode" koanf:"supports_background_mode"`

	MaxTimeoutMs      int  `json:"maxTimeoutMs" yaml:"max_timeout_ms" koanf:"max_timeout_ms"`
	MaxThinkingTokens *int `json:"maxThinkingTokens,omitempty" yaml:"max_thinking_tokens" koanf:"max_thinking_tokens"`
	MaxOutputTokens   *int `json:"maxOutputTokens,omitempty" yaml:"max_output_tokens" koanf:"max_output_tokens"`
	TypicalLatencyMs  int  `json:"typicalLatencyMs" yaml:"typical_latency_ms" koanf:"typical_latency_ms"`

	SupportedResponseModes    []string `json:"supportedResponseModes" yaml:"supported_response_modes" koanf:"supported_response_modes"`
	SupportedReasoningEfforts []string `json:"supportedReasoningEfforts,omitempty" yaml:"supported_reasoning_efforts" koanf:"supported_reasoning_efforts"`
	SupportedTools            []string `json:"supportedTools" yaml:"supported_tools" koanf:"supported_tools"`

	CostPerInputToken     float64  `json:"costPerInputToken" yaml:"cost_per_input_token" koanf:"cost_per_input_token"`
	CostPerOutputToken    float64  `json:"costPerOutputToken" yaml:"cost_per_output_token" koanf:"cost_per_output_token"`
	CostPerReasoningToken *float64 `json:"costPerReasoningToken,omitempty" yaml:"cost_per_reasoning_token" koanf:"cost_per_reasoning_token"`
}

// Clone returns a deep copy.
func (c Capabilities) Clone() Capabilities {
	out := c
	out.MaxThinkingTokens = clonePtr(c.MaxThinkingTokens)
	out.MaxOutputTokens = clonePtr(c.MaxOutputTokens)
	out.CostPerReasoningToken = clonePtr(c.CostPerReasoningToken)
	out.SupportedResponseModes = append([]string(nil), c.SupportedResponseModes...)
	out.SupportedReasoningEfforts = append([]string(nil), c.SupportedReasoningEfforts...)
	out.SupportedTools = append([]string(nil), c.SupportedTools...)
	return out
}

// SupportsTool reports whether name is in SupportedTools.
func (c Capabilities) SupportsTool(name string) bool {
	return contains(c.SupportedTools, name)
}

// SupportsResponseMode reports whether mode is in SupportedResponseModes.
func (c Capabilities) SupportsResponseMode(mode string) bool {
	return contains(c.SupportedResponseModes, mode)
}

// ReasoningEfforts returns the allowed efforts, defaulting to low/medium/high
// when the model supports reasoning and none are listed.
func (c Capabilities) ReasoningEfforts() []string {
	if !c.SupportsReasoning {
		return nil
	}
	if len(c.SupportedReasoningEfforts) == 0 {
		return []string{EffortLow, EffortMedium, EffortHigh}
	}
	return c.SupportedReasoningEfforts
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Effective is the outcome of negotiating a request against a model's
// capabilities. It is what the adapter actually sends upstream and what the
// caller sees in the stream metadata.
type Effective struct {
	ReasoningEffort string `json:"reasoningEffort,omitempty"`
	ThinkingBudget  int    `json:"thinkingBudget,omitempty"`
	Thinking        bool   `json:"thinking"`
	Reasoning       bool   `json:"reasoning"`
	Background      bool   `json:"background"`
	ResponseMode    string `json:"responseMode"`
	MaxTimeoutMs    int    `json:"maxTimeoutMs"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
}
