// Package anthropic adapts the Anthropic Messages API to the gateway's
// streaming contract.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
	"github.com/tjfontaine/completion-gateway/internal/provider"
)

const (
	Family         = "anthropic"
	DefaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	codeExecBeta   = "code-execution-2025-05-22"

	defaultMaxTokens  = 4096
	defaultMaxRetries = 2
	baseDelay         = 500 * time.Millisecond
	maxDelay          = 8 * time.Second
)

func init() {
	provider.RegisterFactory(provider.Factory{
		Family:      Family,
		Description: "Anthropic Messages API",
		Create: func(cfg config.ProviderConfig, client *http.Client) (provider.Adapter, error) {
			if cfg.APIKey == "" {
				return nil, fmt.Errorf("api_key is required")
			}
			opts := []Option{WithHTTPClient(client)}
			if cfg.BaseURL != "" {
				opts = append(opts, WithBaseURL(cfg.BaseURL))
			}
			if cfg.MaxRetries > 0 {
				opts = append(opts, WithMaxRetries(cfg.MaxRetries))
			}
			return New(cfg.Name, cfg.APIKey, opts...), nil
		},
	})
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBaseURL sets a custom API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(a *Adapter) { a.baseURL = strings.TrimSuffix(baseURL, "/") }
}

// WithHTTPClient sets the HTTP client. A nil client is ignored.
func WithHTTPClient(client *http.Client) Option {
	return func(a *Adapter) {
		if client != nil {
			a.client = client
		}
	}
}

// WithMaxRetries sets how many times an overloaded response is retried
// before the stream opens.
func WithMaxRetries(n int) Option {
	return func(a *Adapter) { a.maxRetries = n }
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// Adapter streams completions from the Messages API.
type Adapter struct {
	name       string
	apiKey     string
	baseURL    string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

func New(name, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		name:       name,
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		client:     http.DefaultClient,
		maxRetries: defaultMaxRetries,
		baseDelay:  baseDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string   { return a.name }
func (a *Adapter) Family() string { return Family }

// Invoke opens a streaming message. Overloaded responses are retried with
// exponential backoff inside the same deadline.
func (a *Adapter) Invoke(ctx context.Context, inv provider.Invocation) (*provider.StreamHandle, error) {
	req := buildRequest(inv)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, domain.ErrInternal(fmt.Errorf("marshal messages request: %w", err))
	}

	ctx, cancel, limit := provider.WithDeadline(ctx, inv)

	var resp *http.Response
	for attempt := 0; ; attempt++ {
		resp, err = a.send(ctx, body, usesCodeExecution(inv.Tools))
		if err != nil {
			err = provider.TransportError(ctx, err, limit)
			cancel()
			return nil, err
		}
		if resp.StatusCode == http.StatusOK {
			break
		}
		if !provider.Retryable(resp.StatusCode) || attempt >= a.maxRetries {
			err = provider.StatusError(a.name, resp)
			resp.Body.Close()
			cancel()
			return nil, err
		}
		resp.Body.Close()

		delay := provider.Backoff(attempt, a.baseDelay, maxDelay)
		a.logger.Warn("anthropic overloaded, retrying",
			slog.String("provider", a.name),
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", a.maxRetries),
			slog.Duration("backoff", delay))

		select {
		case <-ctx.Done():
			err = provider.TransportError(ctx, ctx.Err(), limit)
			cancel()
			return nil, err
		case <-time.After(delay):
		}
	}

	tr := &translator{provider: Family}
	return provider.Open(ctx, cancel, limit, resp.Body, func(emit provider.Emit) error {
		return tr.run(provider.NewSSEReader(resp.Body), emit)
	}), nil
}

func (a *Adapter) send(ctx context.Context, body []byte, codeExec bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Api-Key", a.apiKey)
	httpReq.Header.Set("Anthropic-Version", apiVersion)
	httpReq.Header.Set("User-Agent", "completion-gateway/1.0")
	if codeExec {
		httpReq.Header.Set("Anthropic-Beta", codeExecBeta)
	}
	return a.client.Do(httpReq)
}

func usesCodeExecution(tools domain.ToolSet) bool {
	for _, t := range tools {
		if t.Name == domain.ToolCodeInterpreter {
			return true
		}
	}
	return false
}

func serviceTier(mode string) string {
	switch mode {
	case "priority":
		return "auto"
	case "", domain.DefaultResponseMode:
		return "standard_only"
	}
	return mode
}

func buildRequest(inv provider.Invocation) *messagesRequest {
	req := inv.Request
	eff := inv.Effective

	out := &messagesRequest{
		Model:       req.ModelID,
		MaxTokens:   eff.MaxOutputTokens,
		Stream:      true,
		ServiceTier: serviceTier(eff.ResponseMode),
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}
	if eff.Thinking {
		out.Thinking = &thinkingConfig{Type: "enabled", BudgetTokens: eff.ThinkingBudget}
		// max_tokens must leave room for the answer after the budget.
		if out.MaxTokens <= eff.ThinkingBudget {
			out.MaxTokens = eff.ThinkingBudget + defaultMaxTokens
		}
	}
	if len(inv.Tools) > 0 {
		out.Tools = inv.Tools.Specs()
	}
	if req.UserID != "" {
		out.Metadata = &metadata{UserID: req.UserID}
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Text())
		case domain.RoleAssistant:
			out.Messages = append(out.Messages, message{Role: "assistant", Content: blocks(m)})
		default:
			out.Messages = append(out.Messages, message{Role: "user", Content: blocks(m)})
		}
	}
	out.System = strings.Join(system, "\n\n")
	return out
}

func blocks(m domain.Message) []contentBlock {
	out := make([]contentBlock, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type == domain.PartText {
			out = append(out, contentBlock{Type: "text", Text: p.Text})
			continue
		}
		kind := "document"
		if strings.HasPrefix(p.MediaType, "image/") {
			kind = "image"
		}
		src := &blockSource{Type: "base64", MediaType: p.MediaType, Data: p.Data}
		if p.Data == "" {
			src = &blockSource{Type: "url", URL: p.URL}
		}
		block := contentBlock{Type: kind, Source: src}
		if kind == "document" {
			block.Title = p.Filename
		}
		out = append(out, block)
	}
	return out
}
