package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/provider"
)

type blockKind int

const (
	blockText blockKind = iota
	blockThinking
	blockTool
	blockOther
)

type block struct {
	kind  blockKind
	id    string
	name  string
	input strings.Builder
}

var finishReasons = map[string]string{
	"end_turn":      "stop",
	"stop_sequence": "stop",
	"max_tokens":    "length",
	"tool_use":      "tool-calls",
	"refusal":       "content-filter",
	"pause_turn":    "other",
}

// translator turns Messages API stream events into canonical events.
type translator struct {
	provider   string
	messageID  string
	blocks     map[int]*block
	usage      domain.Usage
	stopReason string
	sources    int
}

func (t *translator) run(r *provider.SSEReader, emit provider.Emit) error {
	t.blocks = make(map[int]*block)
	for {
		sse, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read messages stream: %w", err)
		}

		var ev streamEvent
		if err := json.Unmarshal(sse.Data, &ev); err != nil {
			if !emit(domain.Undecodable(sse.Data, err)) {
				return nil
			}
			continue
		}
		if ev.Type == "" {
			ev.Type = sse.Event
		}

		events, err := t.translate(&ev, sse.Data)
		if err != nil {
			return err
		}
		for _, out := range events {
			if !emit(out) {
				return nil
			}
		}
		if ev.Type == "message_stop" {
			return nil
		}
	}
}

func (t *translator) blockID(index int) string {
	return fmt.Sprintf("%s_%d", t.messageID, index)
}

func (t *translator) translate(ev *streamEvent, raw []byte) ([]domain.Event, error) {
	switch ev.Type {
	case "ping":
		return nil, nil

	case "message_start":
		if ev.Message != nil {
			t.messageID = ev.Message.ID
			t.usage.InputTokens = ev.Message.Usage.InputTokens
		}
		return []domain.Event{{Type: domain.EventStart, MessageID: t.messageID,
			Missing: provider.Absent(raw, provider.Field{Name: "messageId", Path: "message.id"})}}, nil

	case "content_block_start":
		return t.blockStart(ev), nil

	case "content_block_delta":
		return t.blockDelta(ev, raw), nil

	case "content_block_stop":
		return t.blockStop(ev.Index), nil

	case "message_delta":
		if ev.Delta != nil && ev.Delta.StopReason != "" {
			t.stopReason = ev.Delta.StopReason
		}
		if ev.Usage != nil {
			t.usage.OutputTokens = ev.Usage.OutputTokens
		}
		return nil, nil

	case "message_stop":
		reason, ok := finishReasons[t.stopReason]
		if !ok {
			reason = "other"
		}
		u := t.usage
		return []domain.Event{{Type: domain.EventFinish, FinishReason: reason, Usage: &u}}, nil

	case "error":
		return nil, streamError(ev.Error)
	}

	return []domain.Event{domain.Passthrough(t.provider, ev.Type, raw)}, nil
}

func (t *translator) blockStart(ev *streamEvent) []domain.Event {
	cb := ev.ContentBlock
	if cb == nil {
		return nil
	}
	id := t.blockID(ev.Index)
	switch cb.Type {
	case "text":
		t.blocks[ev.Index] = &block{kind: blockText, id: id}
		return []domain.Event{{Type: domain.EventTextStart, ID: id}}
	case "thinking", "redacted_thinking":
		t.blocks[ev.Index] = &block{kind: blockThinking, id: id}
		return []domain.Event{{Type: domain.EventReasoningStart, ID: id}}
	case "tool_use", "server_tool_use":
		t.blocks[ev.Index] = &block{kind: blockTool, id: cb.ID, name: cb.Name}
		return []domain.Event{{Type: domain.EventToolInputStart, ToolCallID: cb.ID, ToolName: cb.Name}}
	case "web_search_tool_result":
		t.blocks[ev.Index] = &block{kind: blockOther}
		var results []searchResult
		if err := json.Unmarshal(cb.Content, &results); err != nil {
			return nil
		}
		var out []domain.Event
		for _, r := range results {
			if r.Type != "web_search_result" || r.URL == "" {
				continue
			}
			out = append(out, t.source(r.URL, r.Title))
		}
		return out
	}
	t.blocks[ev.Index] = &block{kind: blockOther}
	return nil
}

// deltaTypes is the delta type a block produces when upstream omits it.
var deltaTypes = map[blockKind]string{
	blockText:     "text_delta",
	blockThinking: "thinking_delta",
	blockTool:     "input_json_delta",
}

func (t *translator) blockDelta(ev *streamEvent, raw []byte) []domain.Event {
	b, ok := t.blocks[ev.Index]
	if !ok {
		return nil
	}
	d := ev.Delta
	if d == nil {
		d = &blockDelta{}
	}
	kind := d.Type
	if kind == "" {
		kind = deltaTypes[b.kind]
	}
	switch kind {
	case "text_delta":
		return []domain.Event{{Type: domain.EventTextDelta, ID: b.id, Delta: d.Text,
			Missing: provider.Absent(raw, provider.Field{Name: "delta", Path: "delta.text"})}}
	case "thinking_delta":
		return []domain.Event{{Type: domain.EventReasoningDelta, ID: b.id, Delta: d.Thinking,
			Missing: provider.Absent(raw, provider.Field{Name: "delta", Path: "delta.thinking"})}}
	case "input_json_delta":
		b.input.WriteString(d.PartialJSON)
		return []domain.Event{{Type: domain.EventToolInputDelta, ToolCallID: b.id, InputTextDelta: d.PartialJSON,
			Missing: provider.Absent(raw, provider.Field{Name: "inputTextDelta", Path: "delta.partial_json"})}}
	case "citations_delta":
		if c := d.Citation; c != nil && c.URL != "" {
			return []domain.Event{t.source(c.URL, c.Title)}
		}
	}
	return nil
}

func (t *translator) blockStop(index int) []domain.Event {
	b, ok := t.blocks[index]
	if !ok {
		return nil
	}
	delete(t.blocks, index)
	switch b.kind {
	case blockText:
		return []domain.Event{{Type: domain.EventTextEnd, ID: b.id}}
	case blockThinking:
		return []domain.Event{{Type: domain.EventReasoningEnd, ID: b.id}}
	case blockTool:
		input := json.RawMessage(b.input.String())
		if len(input) == 0 || !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		return []domain.Event{{Type: domain.EventToolCall, ToolCallID: b.id, ToolName: b.name, Input: input}}
	}
	return nil
}

func (t *translator) source(url, title string) domain.Event {
	t.sources++
	return domain.Event{Type: domain.EventSourceURL, SourceID: fmt.Sprintf("src_%d", t.sources), URL: url, Title: title}
}

func streamError(body *streamErrorBody) error {
	if body == nil {
		return domain.ErrProviderUnavailable("provider failed mid-stream", 0, errors.New("anthropic stream error"))
	}
	cause := fmt.Errorf("anthropic %s: %s", body.Type, body.Message)
	if body.Type == "rate_limit_error" {
		e := domain.ErrRateLimited("provider rate limit reached", 0)
		e.Err = cause
		return e
	}
	return domain.ErrProviderUnavailable("provider failed mid-stream", 0, cause)
}
