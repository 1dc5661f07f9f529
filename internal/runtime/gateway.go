// Package runtime provides the Gateway struct and lifecycle management for
// the streaming completion gateway.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/completion-gateway/internal/adapters/auth/apikey"
	"github.com/tjfontaine/completion-gateway/internal/adapters/events/direct"
	"github.com/tjfontaine/completion-gateway/internal/adapters/policy/basic"
	"github.com/tjfontaine/completion-gateway/internal/adapters/policy/ratelimit"
	"github.com/tjfontaine/completion-gateway/internal/api/controlplane"
	"github.com/tjfontaine/completion-gateway/internal/api/stream"
	"github.com/tjfontaine/completion-gateway/internal/capability"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
	"github.com/tjfontaine/completion-gateway/internal/engine"
	"github.com/tjfontaine/completion-gateway/internal/monitor"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
	"github.com/tjfontaine/completion-gateway/internal/provider"
	"github.com/tjfontaine/completion-gateway/internal/server"
	"github.com/tjfontaine/completion-gateway/internal/tools"
)

// Gateway is the main entry point for running the completion gateway.
// It manages configuration, provider adapters, the capability registry and
// the HTTP server lifecycle. Gateway can be embedded in larger applications
// or run standalone.
type Gateway struct {
	// Dependencies (injected via options)
	config   ports.ConfigProvider
	verifier ports.IdentityVerifier
	storage  ports.StorageProvider
	events   ports.EventPublisher
	policy   ports.QualityPolicy

	httpClient     *http.Client
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	logger         *slog.Logger

	// Internal state
	registry *capability.Registry
	adapters *provider.Set
	tools    *tools.Attacher
	engine   *engine.Engine
	server   *server.Server
	addr     net.Addr

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	serveW sync.WaitGroup
	mu     sync.RWMutex
}

// New creates a new Gateway with the given options. Only a config provider
// is required; storage, events, policy and auth default from configuration
// when Start runs.
func New(opts ...Option) (*Gateway, error) {
	gw := &Gateway{
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	if gw.tracerProvider == nil {
		gw.tracerProvider = otel.GetTracerProvider()
	}
	if gw.meterProvider == nil {
		gw.meterProvider = otel.GetMeterProvider()
	}

	return gw, nil
}

// Start loads configuration, wires every component and starts serving.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(ctx)

	cfg, err := g.config.Load(g.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := g.initCollaborators(cfg); err != nil {
		return fmt.Errorf("init collaborators: %w", err)
	}
	if err := g.initCore(cfg); err != nil {
		return fmt.Errorf("init core: %w", err)
	}
	if err := g.startServer(cfg); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	go g.watchConfig()

	g.logger.Info("gateway started",
		slog.String("addr", g.addr.String()),
		slog.Any("providers", provider.Families()),
		slog.Int("configured_providers", len(cfg.Providers)),
		slog.Bool("auth", g.verifier != nil))

	return nil
}

// Addr returns the address the server is listening on, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.addr
}

// Shutdown gracefully stops the gateway. Open streams are given until ctx
// expires to finish.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error
	if g.server != nil {
		if err := g.server.Shutdown(ctx); err != nil {
			g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		g.serveW.Wait()
	}

	if g.events != nil {
		if err := g.events.Close(); err != nil {
			g.logger.Error("failed to close events", slog.String("error", err.Error()))
		}
	}

	if g.storage != nil {
		if err := g.storage.Close(); err != nil {
			g.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if g.config != nil {
		if err := g.config.Close(); err != nil {
			g.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}

// watchConfig watches for config changes and reloads.
func (g *Gateway) watchConfig() {
	onChange := func(newCfg *config.Config) {
		g.logger.Info("config changed, reloading")
		if err := g.reload(newCfg); err != nil {
			g.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := g.config.Watch(g.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload swaps in providers, tool settings, auth keys and the capability
// catalog from cfg. Cached descriptors are dropped. Open sessions keep the
// adapter they started with.
func (g *Gateway) reload(cfg *config.Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	adapters, err := provider.Build(cfg.Providers, g.httpClient)
	if err != nil {
		return fmt.Errorf("rebuild providers: %w", err)
	}
	source, err := buildSource(cfg)
	if err != nil {
		return fmt.Errorf("rebuild catalog: %w", err)
	}

	g.adapters.Replace(adapters)
	g.tools.Reload(g.adapters.Families(), cfg.Tools)
	g.registry.SetSource(source)

	if reloader, ok := g.verifier.(interface{ ReloadFromConfig(*config.Config) error }); ok {
		if err := reloader.ReloadFromConfig(cfg); err != nil {
			g.logger.Warn("failed to reload auth provider", slog.String("error", err.Error()))
		}
	}

	g.logger.Info("reload complete",
		slog.Int("providers", len(cfg.Providers)),
		slog.Int("inline_models", len(cfg.Models)))

	return nil
}

// initCollaborators fills in storage, events, policy and auth that were not
// injected through options.
func (g *Gateway) initCollaborators(cfg *config.Config) error {
	if g.httpClient == nil {
		g.httpClient = buildHTTPClient(cfg.Upstream, g.tracerProvider)
		if cfg.Upstream.DenyPrivateNetworks {
			g.logger.Info("upstream egress restricted to public networks")
		}
	}

	if g.storage == nil {
		store, err := buildStorage(cfg.Storage)
		if err != nil {
			return err
		}
		g.storage = store
		g.logger.Info("storage initialized", slog.String("type", cfg.Storage.Type))
	}

	if g.events == nil {
		publisher, err := direct.NewPublisher(g.storage)
		if err != nil {
			return fmt.Errorf("create default event publisher: %w", err)
		}
		g.events = publisher
	}

	if g.policy == nil {
		chain := basic.Chain{basic.NewPolicy(cfg.Policy.SuspendedSubjects...)}
		if cfg.Policy.RequestsPerSecond > 0 {
			p, err := ratelimit.NewPolicy(cfg.Policy.RequestsPerSecond, cfg.Policy.Burst, 0)
			if err != nil {
				return fmt.Errorf("create rate limit policy: %w", err)
			}
			chain = append(chain, p)
			g.logger.Info("rate limiting enabled",
				slog.Float64("requests_per_second", cfg.Policy.RequestsPerSecond),
				slog.Int("burst", cfg.Policy.Burst))
		}
		g.policy = chain
	}

	if g.verifier == nil && len(cfg.Auth.APIKeys) > 0 {
		p, err := apikey.NewProvider(cfg.Auth)
		if err != nil {
			return fmt.Errorf("create apikey auth provider: %w", err)
		}
		g.verifier = p
	}
	if g.verifier == nil {
		g.logger.Info("no api keys configured, running in anonymous mode")
	}

	return nil
}

// initCore builds the registry, adapters, tool layer and engine.
func (g *Gateway) initCore(cfg *config.Config) error {
	source, err := buildSource(cfg)
	if err != nil {
		return err
	}
	g.registry, err = capability.NewRegistry(source, cfg.Catalog.CacheSize, capability.WithLogger(g.logger))
	if err != nil {
		return fmt.Errorf("create capability registry: %w", err)
	}

	g.adapters, err = provider.Build(cfg.Providers, g.httpClient)
	if err != nil {
		return fmt.Errorf("create providers: %w", err)
	}
	g.tools = tools.NewAttacher(g.adapters.Families(), cfg.Tools, g.logger)

	exporter, err := monitor.NewExporter(g.meterProvider)
	if err != nil {
		return fmt.Errorf("create monitor exporter: %w", err)
	}

	opts := []engine.Option{
		engine.WithIdentityStore(g.storage),
		engine.WithPolicy(g.policy),
		engine.WithPublisher(g.events),
		engine.WithLogger(g.logger),
		engine.WithTracerProvider(g.tracerProvider),
		engine.WithExporter(exporter),
		engine.WithMonitorConfig(monitor.Config{
			SampleCap:      cfg.Monitor.SampleCap,
			Buffer:         cfg.Monitor.Buffer,
			StallThreshold: cfg.Monitor.StallThreshold,
		}),
	}
	if g.verifier != nil {
		opts = append(opts, engine.WithVerifier(g.verifier))
	}
	g.engine = engine.New(g.registry, g.tools, g.adapters, opts...)
	return nil
}

// startServer mounts the routes and starts serving in the background.
func (g *Gateway) startServer(cfg *config.Config) error {
	g.server = server.New(cfg.Server, g.logger)
	r := g.server.Router

	h := stream.NewHandler(g.engine, g.registry, g.logger)
	cp := controlplane.NewServer(g.storage, g.registry, g.engine.Active, g.logger)

	// The stream route is bounded by the session deadline, not the
	// request timeout.
	r.Post("/v1/stream", h.Stream)
	r.Group(func(r chi.Router) {
		r.Use(server.TimeoutMiddleware(cfg.Server.RequestTimeout))
		r.Get("/healthz", stream.Health)
		r.Get("/v1/models/{modelID}/capabilities", h.Capabilities)
		r.With(server.AuthMiddleware(g.verifier)).Mount("/admin", cp)
	})

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Server.Port, err)
	}
	g.addr = ln.Addr()

	g.serveW.Add(1)
	go func() {
		defer g.serveW.Done()
		if err := g.server.Serve(ln); err != nil {
			g.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}
