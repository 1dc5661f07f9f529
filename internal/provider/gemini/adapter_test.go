package gemini

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/provider"
	"github.com/tjfontaine/completion-gateway/internal/testutil"
)

const generateStream = `data: {"responseId":"resp_1","candidates":[{"content":{"role":"model","parts":[{"text":"Checking the release notes.","thought":true}]}}]}

data: {"responseId":"resp_1","candidates":[{"content":{"role":"model","parts":[{"text":"Go 1.25 "}]}}]}

data: {not json

data: {"responseId":"resp_1","candidates":[{"content":{"role":"model","parts":[{"text":"shipped."}]},"finishReason":"STOP","groundingMetadata":{"groundingChunks":[{"web":{"uri":"https://go.dev/doc/go1.25","title":"go.dev"}},{"web":{"uri":"https://go.dev/doc/go1.25","title":"go.dev"}}]}}],"usageMetadata":{"promptTokenCount":9,"candidatesTokenCount":5,"thoughtsTokenCount":30}}

`

func invocation(eff domain.Effective) provider.Invocation {
	return provider.Invocation{
		Request: &domain.StreamRequest{
			ModelID:  "gemini-2.5-flash",
			Provider: "gemini",
			Messages: []domain.Message{
				{Role: domain.RoleSystem, Parts: []domain.ContentPart{{Type: domain.PartText, Text: "be brief"}}},
				{Role: domain.RoleUser, Parts: []domain.ContentPart{{Type: domain.PartText, Text: "news?"}}},
				{Role: domain.RoleAssistant, Parts: []domain.ContentPart{{Type: domain.PartText, Text: "which?"}}},
			},
		},
		Capabilities: domain.Capabilities{ModelID: "gemini-2.5-flash", Provider: "gemini", MaxTimeoutMs: 5000},
		Effective:    eff,
		Tools:        domain.ToolSet{{Name: domain.ToolWebSearch, Spec: map[string]any{"google_search": map[string]any{}}}},
	}
}

func TestInvokeStream(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-flash:streamGenerateContent" || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("url = %s", r.URL)
		}
		if r.Header.Get("X-Goog-Api-Key") != "g-key" {
			t.Errorf("api key header = %q", r.Header.Get("X-Goog-Api-Key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, generateStream)
	}))
	defer srv.Close()

	eff := domain.Effective{Thinking: true, ThinkingBudget: 2048, MaxTimeoutMs: 5000}
	h, err := New("gemini", "g-key", WithBaseURL(srv.URL)).Invoke(context.Background(), invocation(eff))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	events := testutil.Drain(t, h.Events(), 5*time.Second)

	want := []domain.EventType{
		domain.EventStart,
		domain.EventReasoningStart,
		domain.EventReasoningDelta,
		domain.EventReasoningEnd,
		domain.EventTextStart,
		domain.EventTextDelta,
		domain.EventUndecodable,
		domain.EventTextDelta,
		domain.EventSourceURL,
		domain.EventTextEnd,
		domain.EventFinish,
	}
	if types := testutil.Types(events); !reflect.DeepEqual(types, want) {
		t.Fatalf("event types = %v\nwant %v", types, want)
	}
	if h.Err() != nil {
		t.Errorf("Err() = %v", h.Err())
	}
	if events[5].ID != events[7].ID || events[5].ID == events[2].ID {
		t.Errorf("block ids: reasoning %q text %q/%q", events[2].ID, events[5].ID, events[7].ID)
	}
	fin := events[10]
	if fin.FinishReason != "stop" || *fin.Usage != (domain.Usage{InputTokens: 9, OutputTokens: 35, ReasoningTokens: 30}) {
		t.Errorf("finish = %q usage = %+v", fin.FinishReason, fin.Usage)
	}

	if got.SystemInstruction == nil || got.SystemInstruction.Parts[0].Text != "be brief" {
		t.Errorf("systemInstruction = %+v", got.SystemInstruction)
	}
	if len(got.Contents) != 2 || got.Contents[1].Role != "model" {
		t.Errorf("contents = %+v", got.Contents)
	}
	if tc := got.GenerationConfig.ThinkingConfig; tc == nil || tc.ThinkingBudget != 2048 || !tc.IncludeThoughts {
		t.Errorf("thinkingConfig = %+v", tc)
	}
	if len(got.Tools) != 1 {
		t.Errorf("tools = %v", got.Tools)
	}
}

func TestBuildRequestEffortBudget(t *testing.T) {
	req := buildRequest(invocation(domain.Effective{Reasoning: true, ReasoningEffort: domain.EffortHigh}))
	if req.GenerationConfig == nil || req.GenerationConfig.ThinkingConfig.ThinkingBudget != effortBudgets[domain.EffortHigh] {
		t.Fatalf("generationConfig = %+v", req.GenerationConfig)
	}

	req = buildRequest(invocation(domain.Effective{}))
	if req.GenerationConfig != nil {
		t.Errorf("generationConfig = %+v, want omitted", req.GenerationConfig)
	}
}

func TestStreamFunctionCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"responseId":"r","candidates":[{"content":{"parts":[{"functionCall":{"name":"lookup","args":{"q":"go"}}}]},"finishReason":"STOP"}]}`+"\n\n")
	}))
	defer srv.Close()

	h, err := New("gemini", "k", WithBaseURL(srv.URL)).Invoke(context.Background(), invocation(domain.Effective{MaxTimeoutMs: 5000}))
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	events := testutil.Drain(t, h.Events(), 5*time.Second)
	want := []domain.EventType{domain.EventStart, domain.EventToolInputStart, domain.EventToolCall, domain.EventFinish}
	if types := testutil.Types(events); !reflect.DeepEqual(types, want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	if call := events[2]; call.ToolName != "lookup" || string(call.Input) != `{"q":"go"}` || call.ToolCallID != "call_1" {
		t.Errorf("tool-call = %+v", call)
	}
	if events[3].FinishReason != "tool-calls" {
		t.Errorf("finishReason = %q", events[3].FinishReason)
	}
}

func TestStreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		kind   domain.Kind
	}{
		{
			name:   "quota error chunk",
			stream: `data: {"error":{"code":429,"status":"RESOURCE_EXHAUSTED","message":"quota"}}` + "\n\n",
			kind:   domain.KindRateLimited,
		},
		{
			name:   "no finish reason",
			stream: `data: {"responseId":"r","candidates":[{"content":{"parts":[{"text":"partial"}]}}]}` + "\n\n",
			kind:   domain.KindProviderUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/event-stream")
				io.WriteString(w, tt.stream)
			}))
			defer srv.Close()

			h, err := New("gemini", "k", WithBaseURL(srv.URL)).Invoke(context.Background(), invocation(domain.Effective{MaxTimeoutMs: 5000}))
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			testutil.Drain(t, h.Events(), 5*time.Second)
			if got := domain.KindOf(h.Err()); got != tt.kind {
				t.Errorf("Err() kind = %s (%v), want %s", got, h.Err(), tt.kind)
			}
		})
	}
}

func TestInvokeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"code":429}}`)
	}))
	defer srv.Close()

	_, err := New("gemini", "k", WithBaseURL(srv.URL)).Invoke(context.Background(), invocation(domain.Effective{}))
	if domain.KindOf(err) != domain.KindRateLimited {
		t.Fatalf("Invoke() error = %v, want RateLimited", err)
	}
}
