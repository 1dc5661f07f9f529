// Package openai adapts the OpenAI Responses API to the gateway's streaming
// contract.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
	"github.com/tjfontaine/completion-gateway/internal/provider"
)

const (
	Family         = "openai"
	DefaultBaseURL = "https://api.openai.com/v1"
	userAgent      = "completion-gateway/1.0"
)

func init() {
	provider.RegisterFactory(provider.Factory{
		Family:      Family,
		Description: "OpenAI Responses API",
		Create: func(cfg config.ProviderConfig, client *http.Client) (provider.Adapter, error) {
			if cfg.APIKey == "" {
				return nil, fmt.Errorf("api_key is required")
			}
			opts := []Option{WithHTTPClient(client)}
			if cfg.BaseURL != "" {
				opts = append(opts, WithBaseURL(cfg.BaseURL))
			}
			return New(cfg.Name, cfg.APIKey, opts...), nil
		},
	})
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL sets a custom API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) {
		a.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client. A nil client is ignored.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.client = client
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// Adapter streams completions from the Responses API.
type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates an adapter registered under name.
func New(name, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		name:    name,
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  http.DefaultClient,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string   { return a.name }
func (a *Adapter) Family() string { return Family }

// Invoke opens a streaming response.
func (a *Adapter) Invoke(ctx context.Context, inv provider.Invocation) (*provider.StreamHandle, error) {
	body, err := json.Marshal(buildRequest(inv))
	if err != nil {
		return nil, domain.ErrInternal(fmt.Errorf("marshal responses request: %w", err))
	}

	ctx, cancel, limit := provider.WithDeadline(ctx, inv)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, domain.ErrInternal(fmt.Errorf("create request: %w", err))
	}
	a.setHeaders(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		err = provider.TransportError(ctx, err, limit)
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := provider.StatusError(a.name, resp)
		resp.Body.Close()
		cancel()
		a.logger.Warn("openai request rejected",
			slog.String("provider", a.name),
			slog.String("model", inv.Request.ModelID),
			slog.Int("status", resp.StatusCode))
		return nil, err
	}

	tr := &translator{provider: Family}
	return provider.Open(ctx, cancel, limit, resp.Body, func(emit provider.Emit) error {
		return tr.run(provider.NewSSEReader(resp.Body), emit)
	}), nil
}

func (a *Adapter) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("User-Agent", userAgent)
}

// serviceTier maps the gateway's response mode onto the API's tier names.
func serviceTier(mode string) string {
	if mode == "" || mode == domain.DefaultResponseMode {
		return "default"
	}
	return mode
}

func buildRequest(inv provider.Invocation) *responsesRequest {
	req := inv.Request
	eff := inv.Effective

	out := &responsesRequest{
		Model:           req.ModelID,
		Stream:          true,
		Background:      eff.Background,
		ServiceTier:     serviceTier(eff.ResponseMode),
		MaxOutputTokens: eff.MaxOutputTokens,
		User:            req.UserID,
	}
	if eff.Reasoning {
		out.Reasoning = &reasoningConfig{Effort: eff.ReasoningEffort, Summary: "auto"}
	}
	if len(inv.Tools) > 0 {
		out.Tools = inv.Tools.Specs()
	}
	if !req.Telemetry.RecordOutputs && !eff.Background {
		// Background responses must be stored to be retrievable.
		store := false
		out.Store = &store
	}
	if req.ConversationID != "" {
		out.Metadata = map[string]string{"conversation_id": req.ConversationID}
	}

	var instructions []string
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			instructions = append(instructions, m.Text())
			continue
		}
		out.Input = append(out.Input, inputMessage{Role: inputRole(m.Role), Content: inputParts(m)})
	}
	out.Instructions = strings.Join(instructions, "\n\n")
	return out
}

func inputRole(r domain.Role) string {
	if r == domain.RoleAssistant {
		return "assistant"
	}
	return "user"
}

func inputParts(m domain.Message) []inputContent {
	textType := "input_text"
	if m.Role == domain.RoleAssistant {
		textType = "output_text"
	}
	parts := make([]inputContent, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch {
		case p.Type == domain.PartText:
			parts = append(parts, inputContent{Type: textType, Text: p.Text})
		case strings.HasPrefix(p.MediaType, "image/"):
			url := p.URL
			if url == "" {
				url = "data:" + p.MediaType + ";base64," + p.Data
			}
			parts = append(parts, inputContent{Type: "input_image", ImageURL: url})
		default:
			c := inputContent{Type: "input_file", FileURL: p.URL, Filename: p.Filename}
			if p.Data != "" {
				c.FileData = "data:" + p.MediaType + ";base64," + p.Data
			}
			parts = append(parts, c)
		}
	}
	return parts
}
