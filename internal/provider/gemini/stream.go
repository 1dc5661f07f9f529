package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/provider"
)

var finishReasons = map[string]string{
	"STOP":               "stop",
	"MAX_TOKENS":         "length",
	"SAFETY":             "content-filter",
	"RECITATION":         "content-filter",
	"BLOCKLIST":          "content-filter",
	"PROHIBITED_CONTENT": "content-filter",
	"SPII":               "content-filter",
}

// translator turns streamed GenerateContentResponse chunks into canonical
// events. Gemini has no block boundaries, so text and thought runs are
// opened and closed as the part kind changes.
type translator struct {
	provider string
	started  bool
	open     domain.EventType // text-start, reasoning-start or ""
	blocks   int
	calls    int
	sources  map[string]bool
	usage    domain.Usage
	finish   string
	msgID    string
}

func (t *translator) run(r *provider.SSEReader, emit provider.Emit) error {
	t.sources = make(map[string]bool)
	for {
		sse, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read generate stream: %w", err)
		}

		var chunk generateResponse
		if err := json.Unmarshal(sse.Data, &chunk); err != nil {
			if !emit(domain.Undecodable(sse.Data, err)) {
				return nil
			}
			continue
		}
		if chunk.Error != nil {
			return chunkError(chunk.Error)
		}
		for _, ev := range t.translate(&chunk) {
			if !emit(ev) {
				return nil
			}
		}
	}

	if t.finish == "" {
		return nil
	}
	for _, ev := range t.closeBlock() {
		if !emit(ev) {
			return nil
		}
	}
	reason, ok := finishReasons[t.finish]
	if !ok {
		reason = "other"
	}
	if reason == "stop" && t.calls > 0 {
		reason = "tool-calls"
	}
	u := t.usage
	emit(domain.Event{Type: domain.EventFinish, FinishReason: reason, Usage: &u})
	return nil
}

func (t *translator) translate(chunk *generateResponse) []domain.Event {
	var out []domain.Event
	if !t.started {
		t.started = true
		t.msgID = chunk.ResponseID
		out = append(out, domain.Event{Type: domain.EventStart, MessageID: t.msgID})
	}
	if u := chunk.UsageMetadata; u != nil {
		t.usage = domain.Usage{
			InputTokens:     u.PromptTokenCount,
			OutputTokens:    u.CandidatesTokenCount + u.ThoughtsTokenCount,
			ReasoningTokens: u.ThoughtsTokenCount,
		}
	}
	if len(chunk.Candidates) == 0 {
		return out
	}

	// Only the first candidate is streamed.
	c := chunk.Candidates[0]
	if c.Content != nil {
		for _, p := range c.Content.Parts {
			out = append(out, t.part(p)...)
		}
	}
	if g := c.GroundingMetadata; g != nil {
		for _, gc := range g.GroundingChunks {
			if gc.Web == nil || gc.Web.URI == "" || t.sources[gc.Web.URI] {
				continue
			}
			t.sources[gc.Web.URI] = true
			out = append(out, domain.Event{
				Type:     domain.EventSourceURL,
				SourceID: fmt.Sprintf("src_%d", len(t.sources)),
				URL:      gc.Web.URI,
				Title:    gc.Web.Title,
			})
		}
	}
	if c.FinishReason != "" {
		t.finish = c.FinishReason
	}
	return out
}

func (t *translator) part(p part) []domain.Event {
	switch {
	case p.FunctionCall != nil:
		out := t.closeBlock()
		t.calls++
		id := p.FunctionCall.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", t.calls)
		}
		args := p.FunctionCall.Args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		return append(out,
			domain.Event{Type: domain.EventToolInputStart, ToolCallID: id, ToolName: p.FunctionCall.Name},
			domain.Event{Type: domain.EventToolCall, ToolCallID: id, ToolName: p.FunctionCall.Name, Input: args},
		)
	case p.Text == "":
		return nil
	case p.Thought:
		out := t.openBlock(domain.EventReasoningStart)
		return append(out, domain.Event{Type: domain.EventReasoningDelta, ID: t.blockID(), Delta: p.Text})
	default:
		out := t.openBlock(domain.EventTextStart)
		return append(out, domain.Event{Type: domain.EventTextDelta, ID: t.blockID(), Delta: p.Text})
	}
}

func (t *translator) blockID() string {
	return fmt.Sprintf("%s_%d", t.msgID, t.blocks)
}

func (t *translator) openBlock(kind domain.EventType) []domain.Event {
	if t.open == kind {
		return nil
	}
	out := t.closeBlock()
	t.blocks++
	t.open = kind
	return append(out, domain.Event{Type: kind, ID: t.blockID()})
}

func (t *translator) closeBlock() []domain.Event {
	var end domain.EventType
	switch t.open {
	case domain.EventTextStart:
		end = domain.EventTextEnd
	case domain.EventReasoningStart:
		end = domain.EventReasoningEnd
	default:
		return nil
	}
	t.open = ""
	return []domain.Event{{Type: end, ID: t.blockID()}}
}

func chunkError(e *apiError) error {
	cause := fmt.Errorf("gemini %d %s: %s", e.Code, e.Status, e.Message)
	if e.Code == http.StatusTooManyRequests || e.Status == "RESOURCE_EXHAUSTED" {
		re := domain.ErrRateLimited("provider rate limit reached", 0)
		re.Err = cause
		return re
	}
	return domain.ErrProviderUnavailable("provider failed mid-stream", 0, cause)
}
