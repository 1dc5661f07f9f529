// Package engine runs streaming completion sessions: it validates and
// authenticates a request, resolves the model's capabilities, attaches
// tools, invokes the provider adapter and pumps the resulting events to the
// caller while the monitor observes them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/completion-gateway/internal/capability"
	"github.com/tjfontaine/completion-gateway/internal/classify"
	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
	"github.com/tjfontaine/completion-gateway/internal/dedup"
	"github.com/tjfontaine/completion-gateway/internal/monitor"
	"github.com/tjfontaine/completion-gateway/internal/normalize"
	"github.com/tjfontaine/completion-gateway/internal/provider"
	"github.com/tjfontaine/completion-gateway/internal/tokens"
)

const (
	tracerName      = "github.com/tjfontaine/completion-gateway/internal/engine"
	anonymous       = "anonymous"
	publishTimeout  = 5 * time.Second
	maxOutputRecord = 1 << 20
)

// Resolver looks up capability descriptors.
type Resolver interface {
	Resolve(ctx context.Context, modelID string) (domain.Capabilities, error)
}

// ToolAttacher builds provider-native tool descriptors.
type ToolAttacher interface {
	Attach(provider string, caps domain.Capabilities, enabled []string) domain.ToolSet
}

// Adapters finds the adapter registered for a provider name.
type Adapters interface {
	Get(name string) (provider.Adapter, bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithVerifier requires every request to carry a credential the verifier
// accepts. Without one the engine runs in anonymous mode.
func WithVerifier(v ports.IdentityVerifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithIdentityStore resolves durable identities for authenticated subjects.
func WithIdentityStore(s ports.IdentityStore) Option {
	return func(e *Engine) { e.identities = s }
}

func WithPolicy(p ports.QualityPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithPublisher(p ports.EventPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

func WithMonitorConfig(cfg monitor.Config) Option {
	return func(e *Engine) { e.monitorCfg = cfg }
}

func WithExporter(x *monitor.Exporter) Option {
	return func(e *Engine) { e.exporter = x }
}

// Engine starts sessions. It is safe for concurrent use and holds no
// per-request state.
type Engine struct {
	registry Resolver
	tools    ToolAttacher
	adapters Adapters

	verifier   ports.IdentityVerifier
	identities ports.IdentityStore
	policy     ports.QualityPolicy
	publisher  ports.EventPublisher
	exporter   *monitor.Exporter
	monitorCfg monitor.Config
	counter    *tokens.Counter
	tracer     trace.Tracer
	logger     *slog.Logger

	identityCalls dedup.Group[*domain.Identity]
	active        atomic.Int64
}

// New creates an engine over the registry, tool layer and adapter set.
func New(registry Resolver, tools ToolAttacher, adapters Adapters, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		tools:    tools,
		adapters: adapters,
		counter:  tokens.NewCounter(),
		tracer:   otel.Tracer(tracerName),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Active returns the number of sessions currently streaming.
func (e *Engine) Active() int { return int(e.active.Load()) }

// Call is one inbound stream request.
type Call struct {
	Input      normalize.Input
	Credential string
	RequestID  string
}

// Start runs every stage up to and including the adapter call. Failures
// before the stream opens are returned as tagged errors and nothing is left
// running. On success the returned session is already streaming.
func (e *Engine) Start(ctx context.Context, call Call) (*Session, error) {
	requestID := call.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	started := time.Now()
	logger := e.logger.With(slog.String("request_id", requestID))

	ctx, span := e.tracer.Start(ctx, "gateway.stream",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("gateway.request_id", requestID)))

	// Until normalization succeeds the record carries the fields as sent.
	rec := &domain.SessionRecord{
		RequestID: requestID,
		Provider:  call.Input.Provider,
		ModelID:   call.Input.ModelID,
		Source:    domain.Source(call.Input.Source),
		StartedAt: started,
	}
	fail := func(err error) (*Session, error) {
		e.reject(ctx, span, rec, err, logger)
		return nil, err
	}

	req, err := normalize.Normalize(call.Input)
	if err != nil {
		return fail(err)
	}
	rec.Provider, rec.ModelID, rec.Source = req.Provider, req.ModelID, req.Source
	rec.Attributes = req.Telemetry.Attributes
	span.SetAttributes(
		attribute.String("gateway.provider", req.Provider),
		attribute.String("gateway.model", req.ModelID),
		attribute.String("gateway.source", string(req.Source)),
	)

	subject, err := e.authenticate(ctx, call.Credential)
	if err != nil {
		return fail(err)
	}
	rec.Subject = subject
	e.resolveIdentity(ctx, req, subject, logger)

	if err := e.admit(ctx, req, subject); err != nil {
		return fail(err)
	}

	caps, err := e.registry.Resolve(ctx, req.ModelID)
	if err != nil {
		return fail(err)
	}
	eff, err := capability.Negotiate(req, caps)
	if err != nil {
		return fail(err)
	}
	rec.Effective = eff

	adapter, ok := e.adapters.Get(req.Provider)
	if !ok {
		return fail(domain.ErrProviderUnavailable("provider is not available", 0,
			fmt.Errorf("no adapter configured for provider %q", req.Provider)))
	}
	toolset := e.tools.Attach(req.Provider, caps, req.Options.EnabledTools())

	sessCtx, cancel := context.WithCancel(ctx)
	inv := provider.Invocation{Request: req, Capabilities: caps, Effective: eff, Tools: toolset}
	handle, err := adapter.Invoke(sessCtx, inv)
	if err != nil {
		cancel()
		return fail(err)
	}

	s := newSession(e, requestID, req, caps, eff, toolset, handle, cancel, span, rec, logger)
	e.active.Add(1)
	logger.Debug("stream opened",
		slog.String("provider", req.Provider),
		slog.String("model", req.ModelID),
		slog.Any("tools", toolset.Names()),
		slog.Int("max_timeout_ms", eff.MaxTimeoutMs))
	go s.pump()
	return s, nil
}

func (e *Engine) authenticate(ctx context.Context, credential string) (string, error) {
	if e.verifier == nil {
		return anonymous, nil
	}
	if credential == "" {
		return "", domain.ErrUnauthorized("sign in to continue")
	}
	subject, err := e.verifier.Verify(ctx, credential)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return "", err
		}
		return "", domain.ErrInternal(fmt.Errorf("verify credential: %w", err))
	}
	if subject == "" {
		return "", domain.ErrUnauthorized("session expired, sign in again")
	}
	return subject, nil
}

// resolveIdentity fills the request's user id from the durable identity.
// Concurrent requests for one subject share a single lookup. A lookup
// failure is logged and the request proceeds with the identity it has.
func (e *Engine) resolveIdentity(ctx context.Context, req *domain.StreamRequest, subject string, logger *slog.Logger) {
	if e.identities == nil || subject == anonymous {
		return
	}
	id, shared, err := e.identityCalls.Do(ctx, subject, func(ctx context.Context) (*domain.Identity, error) {
		return e.identities.ResolveIdentity(ctx, subject)
	})
	if err != nil {
		logger.Warn("identity lookup failed", slog.String("subject", subject), slog.Any("error", err))
		return
	}
	if shared {
		logger.Debug("identity lookup shared", slog.String("subject", subject))
	}
	if req.UserID == "" && id != nil {
		req.UserID = id.UserID
	}
}

func (e *Engine) admit(ctx context.Context, req *domain.StreamRequest, subject string) error {
	if e.policy == nil {
		return nil
	}
	decision, err := e.policy.CheckRequest(ctx, &ports.PolicyRequest{
		Subject:  subject,
		Provider: req.Provider,
		ModelID:  req.ModelID,
		Source:   req.Source,
	})
	if err != nil {
		return domain.ErrInternal(fmt.Errorf("policy check: %w", err))
	}
	if !decision.Allow {
		msg := decision.Reason
		if msg == "" {
			msg = "too many requests"
		}
		return domain.ErrRateLimited(msg, decision.RetryAfter)
	}
	return nil
}

// reject finishes the bookkeeping for a request that failed before its
// stream opened. A caller that went away is recorded as cancelled, not as a
// failure.
func (e *Engine) reject(ctx context.Context, span trace.Span, rec *domain.SessionRecord, err error, logger *slog.Logger) {
	rec.EndedAt = time.Now()
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		rec.Status = domain.StatusCancelled
		span.SetAttributes(attribute.String("gateway.status", string(rec.Status)))
		span.End()
		logger.Info("stream request cancelled",
			slog.String("state", StateCancelled.String()),
			slog.String("provider", rec.Provider),
			slog.String("model", rec.ModelID))
		e.publish(ctx, rec, logger)
		return
	}

	c := classify.Classify(err)
	rec.Status = domain.StatusFailed
	rec.ErrorKind = c.Kind

	span.RecordError(err)
	span.SetStatus(codes.Error, string(c.Kind))
	span.SetAttributes(attribute.String("gateway.status", string(rec.Status)))
	span.End()

	logger.Info("stream request rejected",
		slog.String("state", StateFailed.String()),
		slog.String("provider", rec.Provider),
		slog.String("model", rec.ModelID),
		slog.String("kind", string(c.Kind)),
		slog.Any("error", err))
	e.publish(ctx, rec, logger)
}

func (e *Engine) publish(ctx context.Context, rec *domain.SessionRecord, logger *slog.Logger) {
	if e.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, rec); err != nil {
		logger.Warn("publish session telemetry failed", slog.Any("error", err))
	}
}
