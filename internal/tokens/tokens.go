// Package tokens estimates token counts for cost accounting when a provider
// does not report usage, and prices usage against capability descriptors.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// Per-message framing overhead used by chat models.
const (
	tokensPerMessage = 3
	tokensPerRole    = 1
	assistantPriming = 3
)

// Counter estimates input tokens with tiktoken. Models without a public
// tokenizer are counted with the closest OpenAI encoding; the result is an
// estimate, never an invoice.
type Counter struct {
	mu     sync.RWMutex
	codecs map[tokenizer.Encoding]tokenizer.Codec
}

func NewCounter() *Counter {
	return &Counter{codecs: make(map[tokenizer.Encoding]tokenizer.Codec)}
}

// encodingFor maps a model id to its tiktoken encoding.
func encodingFor(model string) tokenizer.Encoding {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	}
	return tokenizer.O200kBase
}

func (c *Counter) codec(model string) (tokenizer.Codec, error) {
	enc := encodingFor(model)
	c.mu.RLock()
	codec, ok := c.codecs[enc]
	c.mu.RUnlock()
	if ok {
		return codec, nil
	}

	codec, err := tokenizer.Get(enc)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.codecs[enc] = codec
	c.mu.Unlock()
	return codec, nil
}

// CountText returns the token count of text for model.
func (c *Counter) CountText(model, text string) int {
	codec, err := c.codec(model)
	if err != nil {
		return estimate(text)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return estimate(text)
	}
	return len(ids)
}

// CountMessages estimates the prompt size of messages, including framing.
// File parts are not counted.
func (c *Counter) CountMessages(model string, messages []domain.Message) int {
	total := assistantPriming
	for _, m := range messages {
		total += tokensPerMessage + tokensPerRole
		total += c.CountText(model, m.Text())
	}
	return total
}

// estimate is the character heuristic used when no tokenizer loads.
func estimate(text string) int {
	return (len(text) + 3) / 4
}

// Cost prices usage with the descriptor's per-token rates. Reasoning tokens
// are billed at the reasoning rate when one is set; otherwise they are
// already included in output tokens.
func Cost(caps domain.Capabilities, u domain.Usage) float64 {
	cost := float64(u.InputTokens) * caps.CostPerInputToken
	if caps.CostPerReasoningToken != nil && u.ReasoningTokens > 0 {
		output := u.OutputTokens - u.ReasoningTokens
		if output < 0 {
			output = 0
		}
		cost += float64(output) * caps.CostPerOutputToken
		cost += float64(u.ReasoningTokens) * *caps.CostPerReasoningToken
		return cost
	}
	return cost + float64(u.OutputTokens)*caps.CostPerOutputToken
}
