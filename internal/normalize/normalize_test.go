package normalize

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

func validInput() Input {
	return Input{
		Messages: []MessageInput{{Role: "user", Parts: []PartInput{{Type: "text", Text: "hello"}}}},
		ModelID:  "gpt-5",
		Provider: "openai",
		Source:   "chat",
	}
}

func fieldOf(t *testing.T, err error) string {
	t.Helper()
	var de *domain.Error
	if !errors.As(err, &de) {
		t.Fatalf("error %v is not a domain error", err)
	}
	if de.Kind != domain.KindValidationFailed {
		t.Fatalf("kind = %s, want ValidationFailed", de.Kind)
	}
	return de.Field
}

func TestNormalizeValidation(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(*Input)
		field string
	}{
		{name: "empty messages", edit: func(in *Input) { in.Messages = nil }, field: "messages"},
		{name: "missing role", edit: func(in *Input) { in.Messages[0].Role = "" }, field: "messages[0].role"},
		{name: "unknown role", edit: func(in *Input) { in.Messages[0].Role = "narrator" }, field: "messages[0].role"},
		{name: "no content", edit: func(in *Input) { in.Messages[0].Parts = nil }, field: "messages[0].content"},
		{name: "file without payload", edit: func(in *Input) {
			in.Messages[0].Parts = []PartInput{{Type: "file", MediaType: "application/pdf"}}
		}, field: "messages[0].parts[0]"},
		{name: "unknown part type", edit: func(in *Input) {
			in.Messages[0].Parts = []PartInput{{Type: "hologram"}}
		}, field: "messages[0].parts[0]"},
		{name: "missing model", edit: func(in *Input) { in.ModelID = "  " }, field: "modelId"},
		{name: "missing provider", edit: func(in *Input) { in.Provider = "" }, field: "provider"},
		{name: "missing source", edit: func(in *Input) { in.Source = "" }, field: "source"},
		{name: "unknown source", edit: func(in *Input) { in.Source = "batch" }, field: "source"},
		{name: "negative thinking budget", edit: func(in *Input) {
			v := -1
			in.Options.ThinkingBudget = &v
		}, field: "options.thinkingBudget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.edit(&in)
			_, err := Normalize(in)
			if err == nil {
				t.Fatal("Normalize() error = nil, want validation failure")
			}
			if got := fieldOf(t, err); got != tt.field {
				t.Errorf("field = %q, want %q", got, tt.field)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	req, err := Normalize(validInput())
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if req.Options.ReasoningEffort != domain.EffortMedium || !req.Options.EffortDefaulted {
		t.Errorf("reasoningEffort = %q defaulted = %v, want defaulted medium", req.Options.ReasoningEffort, req.Options.EffortDefaulted)
	}
	if req.Options.ResponseMode != domain.DefaultResponseMode {
		t.Errorf("responseMode = %q, want standard", req.Options.ResponseMode)
	}
	if req.Options.BackgroundMode || req.Options.EnableWebSearch || req.Options.ThinkingBudget != nil {
		t.Errorf("unexpected non-default options %+v", req.Options)
	}
	if !req.NewConversation() {
		t.Error("NewConversation() = false without conversationId")
	}
}

func TestNormalizeDefersClosedSetValues(t *testing.T) {
	in := validInput()
	mode := "Turbo-Ultra"
	effort := "extreme"
	in.Options.ResponseMode = &mode
	in.Options.ReasoningEffort = &effort

	req, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if req.Options.ResponseMode != "turbo-ultra" || req.Options.ReasoningEffort != "extreme" || req.Options.EffortDefaulted {
		t.Errorf("options = %+v, want values passed through", req.Options)
	}
}

func TestNormalizeStringContent(t *testing.T) {
	in, err := Decode(strings.NewReader(`{
		"messages": [{"role": "User", "content": "summarize this"}],
		"modelId": "claude-sonnet-4",
		"provider": "Anthropic",
		"source": "assistant_execution",
		"executionId": "exec-9",
		"options": {"enableWebSearch": true}
	}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	req, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	if req.Messages[0].Role != domain.RoleUser || req.Messages[0].Text() != "summarize this" {
		t.Errorf("message = %+v", req.Messages[0])
	}
	if req.Provider != "anthropic" {
		t.Errorf("provider = %q, want lowercased", req.Provider)
	}
	if req.ExecutionID != "exec-9" {
		t.Errorf("executionId = %q", req.ExecutionID)
	}
	if got := req.Options.EnabledTools(); !reflect.DeepEqual(got, []string{domain.ToolWebSearch}) {
		t.Errorf("EnabledTools() = %v", got)
	}
}

func TestNormalizeDropsExecutionIDOutsideAssistant(t *testing.T) {
	in := validInput()
	in.ExecutionID = "exec-1"
	req, err := Normalize(in)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if req.ExecutionID != "" {
		t.Errorf("executionId = %q, want dropped for chat", req.ExecutionID)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	budget := 2048
	effort := "HIGH"
	yes := true
	inputs := []Input{
		validInput(),
		{
			Messages: []MessageInput{
				{Role: "system", Parts: []PartInput{{Text: "be brief"}}},
				{Role: "user", Parts: []PartInput{
					{Type: "text", Text: "what is in this file?"},
					{Type: "file", MediaType: "application/pdf", Data: "JVBERi0=", Filename: "a.pdf"},
				}},
			},
			ModelID:        " gemini-2.5-pro ",
			Provider:       "gemini",
			Source:         "compare",
			ComparisonID:   "cmp-1",
			ConversationID: "conv-1",
			Options: OptionsInput{
				ReasoningEffort:       &effort,
				ThinkingBudget:        &budget,
				BackgroundMode:        &yes,
				EnableCodeInterpreter: &yes,
			},
			Telemetry: TelemetryInput{RecordInputs: true, Attributes: map[string]string{"team": "docs"}},
		},
	}

	for i, in := range inputs {
		first, err := Normalize(in)
		if err != nil {
			t.Fatalf("input %d: Normalize() error = %v", i, err)
		}
		second, err := Canonicalize(first)
		if err != nil {
			t.Fatalf("input %d: Canonicalize() error = %v", i, err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("input %d: not idempotent\nfirst:  %+v\nsecond: %+v", i, first, second)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{name: "empty", body: "", field: "body"},
		{name: "not json", body: "{messages:", field: "body"},
		{name: "wrong type", body: `{"modelId": 42}`, field: "modelId"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.body))
			if err == nil {
				t.Fatal("Decode() error = nil")
			}
			if got := fieldOf(t, err); got != tt.field {
				t.Errorf("field = %q, want %q", got, tt.field)
			}
		})
	}
}
