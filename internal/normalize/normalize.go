// Package normalize turns loosely shaped caller input into a canonical
// domain.StreamRequest.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// MaxBodyBytes caps the size of a decoded request body.
const MaxBodyBytes = 8 << 20

// Input is the raw request as callers send it. Message content may be a
// plain string or a list of parts.
type Input struct {
	Messages       []MessageInput `json:"messages"`
	ModelID        string         `json:"modelId"`
	Provider       string         `json:"provider"`
	UserID         string         `json:"userId,omitempty"`
	SessionID      string         `json:"sessionId,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	Source         string         `json:"source"`
	ExecutionID    string         `json:"executionId,omitempty"`
	ComparisonID   string         `json:"comparisonId,omitempty"`
	Options        OptionsInput   `json:"options"`
	Telemetry      TelemetryInput `json:"telemetry"`
}

type MessageInput struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content,omitempty"`
	Parts   []PartInput     `json:"parts,omitempty"`
}

type PartInput struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// OptionsInput uses pointers so absent fields can be told apart from zero
// values and defaulted individually.
type OptionsInput struct {
	ReasoningEffort       *string `json:"reasoningEffort,omitempty"`
	ResponseMode          *string `json:"responseMode,omitempty"`
	BackgroundMode        *bool   `json:"backgroundMode,omitempty"`
	ThinkingBudget        *int    `json:"thinkingBudget,omitempty"`
	EnableWebSearch       *bool   `json:"enableWebSearch,omitempty"`
	EnableCodeInterpreter *bool   `json:"enableCodeInterpreter,omitempty"`
	EnableImageGeneration *bool   `json:"enableImageGeneration,omitempty"`
	MaxOutputTokens       *int    `json:"maxOutputTokens,omitempty"`
}

type TelemetryInput struct {
	RecordInputs  bool              `json:"recordInputs,omitempty"`
	RecordOutputs bool              `json:"recordOutputs,omitempty"`
	Attributes    map[string]string `json:"attributes,omitempty"`
}

// Decode reads a JSON request body. Malformed JSON is a validation failure
// scoped to the body.
func Decode(r io.Reader) (Input, error) {
	var in Input
	data, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes+1))
	if err != nil {
		return in, domain.ErrValidation("body", "request body could not be read")
	}
	if len(data) > MaxBodyBytes {
		return in, domain.ErrValidation("body", "request body is too large")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return in, domain.ErrValidation("body", "request body is empty")
	}
	if err := json.Unmarshal(data, &in); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return in, domain.ErrValidation(typeErr.Field, "field has the wrong type")
		}
		return in, domain.ErrValidation("body", "request body is not valid JSON")
	}
	return in, nil
}

// Normalize validates in and returns the canonical request. Closed-set option
// values such as responseMode are not checked here; whether they are valid
// depends on the model.
func Normalize(in Input) (*domain.StreamRequest, error) {
	if len(in.Messages) == 0 {
		return nil, domain.ErrValidation("messages", "messages must contain at least one message")
	}

	messages := make([]domain.Message, 0, len(in.Messages))
	for i, m := range in.Messages {
		msg, err := normalizeMessage(i, m)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	req := &domain.StreamRequest{
		Messages:       messages,
		ModelID:        strings.TrimSpace(in.ModelID),
		Provider:       strings.ToLower(strings.TrimSpace(in.Provider)),
		UserID:         strings.TrimSpace(in.UserID),
		SessionID:      strings.TrimSpace(in.SessionID),
		ConversationID: strings.TrimSpace(in.ConversationID),
		Source:         domain.Source(strings.TrimSpace(in.Source)),
	}
	if req.ModelID == "" {
		return nil, domain.ErrValidation("modelId", "modelId is required")
	}
	if req.Provider == "" {
		return nil, domain.ErrValidation("provider", "provider is required")
	}
	if !req.Source.Valid() {
		return nil, domain.ErrValidation("source", "source must be one of chat, compare, assistant_execution")
	}

	switch req.Source {
	case domain.SourceAssistantExecution:
		req.ExecutionID = strings.TrimSpace(in.ExecutionID)
	case domain.SourceCompare:
		req.ComparisonID = strings.TrimSpace(in.ComparisonID)
	}

	opts, err := normalizeOptions(in.Options)
	if err != nil {
		return nil, err
	}
	req.Options = opts

	req.Telemetry = domain.Telemetry{
		RecordInputs:  in.Telemetry.RecordInputs,
		RecordOutputs: in.Telemetry.RecordOutputs,
	}
	if len(in.Telemetry.Attributes) > 0 {
		req.Telemetry.Attributes = make(map[string]string, len(in.Telemetry.Attributes))
		for k, v := range in.Telemetry.Attributes {
			req.Telemetry.Attributes[k] = v
		}
	}

	return req, nil
}

func normalizeMessage(i int, m MessageInput) (domain.Message, error) {
	role := domain.Role(strings.ToLower(strings.TrimSpace(m.Role)))
	if !role.Valid() {
		return domain.Message{}, domain.ErrValidation(fmt.Sprintf("messages[%d].role", i), "message role must be system, user, assistant or tool")
	}

	parts := m.Parts
	if len(parts) == 0 && len(m.Content) > 0 {
		var err error
		parts, err = decodeContent(m.Content)
		if err != nil {
			return domain.Message{}, domain.ErrValidation(fmt.Sprintf("messages[%d].content", i), "content must be a string or a list of parts")
		}
	}
	if len(parts) == 0 {
		return domain.Message{}, domain.ErrValidation(fmt.Sprintf("messages[%d].content", i), "message must have at least one content part")
	}

	out := domain.Message{Role: role, Parts: make([]domain.ContentPart, 0, len(parts))}
	for j, p := range parts {
		part, ok := normalizePart(p)
		if !ok {
			return domain.Message{}, domain.ErrValidation(fmt.Sprintf("messages[%d].parts[%d]", i, j), "part must be text, or a file with data or url")
		}
		out.Parts = append(out.Parts, part)
	}
	return out, nil
}

func decodeContent(raw json.RawMessage) ([]PartInput, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []PartInput{{Type: string(domain.PartText), Text: text}}, nil
	}
	var parts []PartInput
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, err
	}
	return parts, nil
}

func normalizePart(p PartInput) (domain.ContentPart, bool) {
	typ := domain.PartType(strings.ToLower(strings.TrimSpace(p.Type)))
	if typ == "" {
		typ = domain.PartText
	}
	switch typ {
	case domain.PartText:
		return domain.ContentPart{Type: domain.PartText, Text: p.Text}, true
	case domain.PartFile:
		if p.Data == "" && p.URL == "" {
			return domain.ContentPart{}, false
		}
		return domain.ContentPart{
			Type:      domain.PartFile,
			MediaType: p.MediaType,
			Data:      p.Data,
			URL:       p.URL,
			Filename:  p.Filename,
		}, true
	}
	return domain.ContentPart{}, false
}

func normalizeOptions(in OptionsInput) (domain.Options, error) {
	opts := domain.Options{
		ReasoningEffort: domain.DefaultReasoningEffort,
		ResponseMode:    domain.DefaultResponseMode,
		EffortDefaulted: true,
	}
	if in.ReasoningEffort != nil {
		if v := strings.ToLower(strings.TrimSpace(*in.ReasoningEffort)); v != "" {
			opts.ReasoningEffort = v
			opts.EffortDefaulted = false
		}
	}
	if in.ResponseMode != nil {
		if v := strings.ToLower(strings.TrimSpace(*in.ResponseMode)); v != "" {
			opts.ResponseMode = v
		}
	}
	if in.BackgroundMode != nil {
		opts.BackgroundMode = *in.BackgroundMode
	}
	if in.ThinkingBudget != nil {
		if *in.ThinkingBudget <= 0 {
			return opts, domain.ErrValidation("options.thinkingBudget", "thinkingBudget must be a positive token count")
		}
		v := *in.ThinkingBudget
		opts.ThinkingBudget = &v
	}
	if in.MaxOutputTokens != nil {
		if *in.MaxOutputTokens <= 0 {
			return opts, domain.ErrValidation("options.maxOutputTokens", "maxOutputTokens must be positive")
		}
		v := *in.MaxOutputTokens
		opts.MaxOutputTokens = &v
	}
	opts.EnableWebSearch = in.EnableWebSearch != nil && *in.EnableWebSearch
	opts.EnableCodeInterpreter = in.EnableCodeInterpreter != nil && *in.EnableCodeInterpreter
	opts.EnableImageGeneration = in.EnableImageGeneration != nil && *in.EnableImageGeneration
	return opts, nil
}

// FromRequest converts a canonical request back into input form.
func FromRequest(req *domain.StreamRequest) Input {
	in := Input{
		ModelID:        req.ModelID,
		Provider:       req.Provider,
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		ConversationID: req.ConversationID,
		Source:         string(req.Source),
		ExecutionID:    req.ExecutionID,
		ComparisonID:   req.ComparisonID,
		Telemetry: TelemetryInput{
			RecordInputs:  req.Telemetry.RecordInputs,
			RecordOutputs: req.Telemetry.RecordOutputs,
			Attributes:    req.Telemetry.Attributes,
		},
	}
	for _, m := range req.Messages {
		mi := MessageInput{Role: string(m.Role)}
		for _, p := range m.Parts {
			mi.Parts = append(mi.Parts, PartInput{
				Type:      string(p.Type),
				Text:      p.Text,
				MediaType: p.MediaType,
				Data:      p.Data,
				URL:       p.URL,
				Filename:  p.Filename,
			})
		}
		in.Messages = append(in.Messages, mi)
	}

	o := req.Options
	in.Options = OptionsInput{
		ResponseMode:          &o.ResponseMode,
		BackgroundMode:        &o.BackgroundMode,
		ThinkingBudget:        o.ThinkingBudget,
		EnableWebSearch:       &o.EnableWebSearch,
		EnableCodeInterpreter: &o.EnableCodeInterpreter,
		EnableImageGeneration: &o.EnableImageGeneration,
		MaxOutputTokens:       o.MaxOutputTokens,
	}
	if !o.EffortDefaulted {
		in.Options.ReasoningEffort = &o.ReasoningEffort
	}
	return in
}

// Canonicalize re-normalizes an existing request. For any request produced
// by Normalize the result is equal to the input.
func Canonicalize(req *domain.StreamRequest) (*domain.StreamRequest, error) {
	return Normalize(FromRequest(req))
}
