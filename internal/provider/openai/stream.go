package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/provider"
)

// Lifecycle events that carry nothing the canonical vocabulary needs.
var ignored = map[string]bool{
	"response.in_progress":                        true,
	"response.queued":                             true,
	"response.content_part.added":                 true,
	"response.content_part.done":                  true,
	"response.function_call_arguments.done":       true,
	"response.reasoning_summary_part.added":       true,
	"response.reasoning_summary_part.done":        true,
	"response.web_search_call.in_progress":        true,
	"response.web_search_call.searching":          true,
	"response.web_search_call.completed":          true,
	"response.code_interpreter_call.in_progress":  true,
	"response.code_interpreter_call.interpreting": true,
	"response.code_interpreter_call.completed":    true,
}

var (
	itemIDField = provider.Field{Name: "id", Path: "item_id"}
	deltaField  = provider.Field{Name: "delta", Path: "delta"}
)

// translator turns Responses API stream events into canonical events. It
// is owned by one stream goroutine.
type translator struct {
	provider  string
	text      map[string]bool
	reasoning map[string]bool
	calls     map[string]string // item id -> call id
	sources   int
}

func (t *translator) run(r *provider.SSEReader, emit provider.Emit) error {
	t.text = make(map[string]bool)
	t.reasoning = make(map[string]bool)
	t.calls = make(map[string]string)

	for {
		sse, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read responses stream: %w", err)
		}
		if string(sse.Data) == "[DONE]" {
			return nil
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
		if ev.Type == "response.completed" || ev.Type == "response.incomplete" {
			return nil
		}
	}
}

func (t *translator) translate(ev *streamEvent, raw []byte) ([]domain.Event, error) {
	switch ev.Type {
	case "response.created":
		id := ""
		if ev.Response != nil {
			id = ev.Response.ID
		}
		return []domain.Event{{Type: domain.EventStart, MessageID: id,
			Missing: provider.Absent(raw, provider.Field{Name: "messageId", Path: "response.id"})}}, nil

	case "response.output_text.delta":
		var out []domain.Event
		if !t.text[ev.ItemID] {
			t.text[ev.ItemID] = true
			out = append(out, domain.Event{Type: domain.EventTextStart, ID: ev.ItemID})
		}
		return append(out, domain.Event{Type: domain.EventTextDelta, ID: ev.ItemID, Delta: ev.Delta,
			Missing: provider.Absent(raw, itemIDField, deltaField)}), nil

	case "response.output_text.done":
		if !t.text[ev.ItemID] {
			return nil, nil
		}
		delete(t.text, ev.ItemID)
		return []domain.Event{{Type: domain.EventTextEnd, ID: ev.ItemID}}, nil

	case "response.reasoning_summary_text.delta", "response.reasoning_text.delta":
		var out []domain.Event
		if !t.reasoning[ev.ItemID] {
			t.reasoning[ev.ItemID] = true
			out = append(out, domain.Event{Type: domain.EventReasoningStart, ID: ev.ItemID})
		}
		return append(out, domain.Event{Type: domain.EventReasoningDelta, ID: ev.ItemID, Delta: ev.Delta,
			Missing: provider.Absent(raw, itemIDField, deltaField)}), nil

	case "response.reasoning_summary_text.done", "response.reasoning_text.done":
		if !t.reasoning[ev.ItemID] {
			return nil, nil
		}
		delete(t.reasoning, ev.ItemID)
		return []domain.Event{{Type: domain.EventReasoningEnd, ID: ev.ItemID}}, nil

	case "response.output_item.added":
		if ev.Item != nil && ev.Item.Type == "function_call" {
			t.calls[ev.Item.ID] = ev.Item.CallID
			return []domain.Event{{Type: domain.EventToolInputStart, ToolCallID: ev.Item.CallID, ToolName: ev.Item.Name}}, nil
		}
		return nil, nil

	case "response.function_call_arguments.delta":
		callID, ok := t.calls[ev.ItemID]
		if !ok {
			callID = ev.ItemID
		}
		return []domain.Event{{Type: domain.EventToolInputDelta, ToolCallID: callID, InputTextDelta: ev.Delta,
			Missing: provider.Absent(raw, provider.Field{Name: "inputTextDelta", Path: "delta"})}}, nil

	case "response.output_item.done":
		return t.itemDone(ev.Item), nil

	case "response.output_text.annotation.added":
		if ev.Annotation == nil || ev.Annotation.Type != "url_citation" {
			return nil, nil
		}
		t.sources++
		return []domain.Event{{
			Type:     domain.EventSourceURL,
			SourceID: fmt.Sprintf("src_%d", t.sources),
			URL:      ev.Annotation.URL,
			Title:    ev.Annotation.Title,
			Missing:  provider.Absent(raw, provider.Field{Name: "url", Path: "annotation.url"}),
		}}, nil

	case "response.completed":
		return []domain.Event{t.finish(ev.Response, "stop")}, nil

	case "response.incomplete":
		reason := "length"
		if ev.Response != nil && ev.Response.IncompleteDetails != nil && ev.Response.IncompleteDetails.Reason == "content_filter" {
			reason = "content-filter"
		}
		return []domain.Event{t.finish(ev.Response, reason)}, nil

	case "response.failed", "error":
		code, msg := ev.Code, ev.Message
		if ev.Response != nil && ev.Response.Error != nil {
			code, msg = ev.Response.Error.Code, ev.Response.Error.Message
		}
		cause := fmt.Errorf("openai stream error %s: %s", code, msg)
		if code == "rate_limit_exceeded" {
			e := domain.ErrRateLimited("provider rate limit reached", 0)
			e.Err = cause
			return nil, e
		}
		return nil, domain.ErrProviderUnavailable("provider failed mid-stream", 0, cause)
	}

	if ignored[ev.Type] {
		return nil, nil
	}
	return []domain.Event{domain.Passthrough(t.provider, ev.Type, raw)}, nil
}

func (t *translator) itemDone(item *outputItem) []domain.Event {
	if item == nil {
		return nil
	}
	switch item.Type {
	case "function_call":
		input := json.RawMessage(item.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage("{}")
		}
		return []domain.Event{{Type: domain.EventToolCall, ToolCallID: item.CallID, ToolName: item.Name, Input: input}}
	case "web_search_call":
		input := item.Action
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		return []domain.Event{{Type: domain.EventToolCall, ToolCallID: item.ID, ToolName: domain.ToolWebSearch, Input: input}}
	case "code_interpreter_call":
		input, _ := json.Marshal(map[string]string{"code": item.Code})
		return []domain.Event{{Type: domain.EventToolCall, ToolCallID: item.ID, ToolName: domain.ToolCodeInterpreter, Input: input}}
	case "image_generation_call":
		return []domain.Event{{Type: domain.EventToolCall, ToolCallID: item.ID, ToolName: domain.ToolImageGeneration, Input: json.RawMessage("{}")}}
	}
	return nil
}

func (t *translator) finish(resp *responseObject, reason string) domain.Event {
	ev := domain.Event{Type: domain.EventFinish, FinishReason: reason}
	if resp != nil && resp.Usage != nil {
		ev.Usage = &domain.Usage{
			InputTokens:     resp.Usage.InputTokens,
			OutputTokens:    resp.Usage.OutputTokens,
			ReasoningTokens: resp.Usage.OutputTokensDetails.ReasoningTokens,
		}
	}
	return ev
}
