// Package gemini adapts the Gemini streamGenerateContent API to the gateway's
// streaming contract.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
	"github.com/tjfontaine/completion-gateway/internal/provider"
)

const (
	Family         = "gemini"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Thinking budgets used when a caller asks for a reasoning effort on a
// model that only understands token budgets.
var effortBudgets = map[string]int{
	domain.EffortLow:    1024,
	domain.EffortMedium: 8192,
	domain.EffortHigh:   24576,
}

func init() {
	provider.RegisterFactory(provider.Factory{
		Family:      Family,
		Description: "Google Gemini streamGenerateContent API",
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

type Option func(*Adapter)

func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimSuffix(baseURL, "/") }
}

func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.client = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

type Adapter struct {
	name    string
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

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

func (a *Adapter) Invoke(ctx context.Context, inv provider.Invocation) (*provider.StreamHandle, error) {
	body, err := json.Marshal(buildRequest(inv))
	if err != nil {
		return nil, domain.ErrInternal(fmt.Errorf("marshal generate request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.baseURL, url.PathEscape(inv.Request.ModelID))

	ctx, cancel, limit := provider.WithDeadline(ctx, inv)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, domain.ErrInternal(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Goog-Api-Key", a.apiKey)
	httpReq.Header.Set("User-Agent", "completion-gateway/1.0")

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
		a.logger.Warn("gemini request rejected",
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

func buildRequest(inv provider.Invocation) *generateRequest {
	req := inv.Request
	eff := inv.Effective

	out := &generateRequest{}
	if len(inv.Tools) > 0 {
		out.Tools = inv.Tools.Specs()
	}

	gen := &generationConfig{MaxOutputTokens: eff.MaxOutputTokens}
	switch {
	case eff.Thinking:
		gen.ThinkingConfig = &thinkingConfig{ThinkingBudget: eff.ThinkingBudget, IncludeThoughts: true}
	case eff.Reasoning:
		if budget, ok := effortBudgets[eff.ReasoningEffort]; ok {
			gen.ThinkingConfig = &thinkingConfig{ThinkingBudget: budget, IncludeThoughts: true}
		}
	}
	if gen.MaxOutputTokens > 0 || gen.ThinkingConfig != nil {
		out.GenerationConfig = gen
	}

	var system []part
	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			system = append(system, part{Text: m.Text()})
			continue
		}
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, content{Role: role, Parts: parts(m)})
	}
	if len(system) > 0 {
		out.SystemInstruction = &content{Parts: system}
	}
	return out
}

func parts(m domain.Message) []part {
	out := make([]part, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch {
		case p.Type == domain.PartText:
			out = append(out, part{Text: p.Text})
		case p.Data != "":
			out = append(out, part{InlineData: &blob{MimeType: p.MediaType, Data: p.Data}})
		default:
			out = append(out, part{FileData: &fileData{MimeType: p.MediaType, FileURI: p.URL}})
		}
	}
	return out
}
