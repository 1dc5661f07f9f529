package runtime

import (
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/completion-gateway/internal/adapters/config/file"
	"github.com/tjfontaine/completion-gateway/internal/adapters/events/direct"
	"github.com/tjfontaine/completion-gateway/internal/adapters/policy/basic"
	"github.com/tjfontaine/completion-gateway/internal/adapters/policy/ratelimit"
	"github.com/tjfontaine/completion-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
	"github.com/tjfontaine/completion-gateway/internal/storage/memory"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for
// changes, along with the capability catalog it names.
func WithFileConfig(path string) Option {
	return func(g *Gateway) error {
		provider, err := file.NewProvider(path, file.WithLogger(g.logger))
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		g.config = provider
		return nil
	}
}

// WithSQLite uses SQLite storage for identities and session telemetry.
func WithSQLite(path string) Option {
	return func(g *Gateway) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		g.storage = store
		return nil
	}
}

// WithMemoryStorage keeps identities and session telemetry in memory.
func WithMemoryStorage() Option {
	return func(g *Gateway) error {
		g.storage = memory.New()
		return nil
	}
}

// WithDirectEvents writes session records directly to storage (default).
func WithDirectEvents() Option {
	return func(g *Gateway) error {
		if g.storage == nil {
			return fmt.Errorf("storage provider must be set before event publisher")
		}
		publisher, err := direct.NewPublisher(g.storage)
		if err != nil {
			return fmt.Errorf("create direct event publisher: %w", err)
		}
		g.events = publisher
		return nil
	}
}

// WithBasicPolicy admits every request except those from the suspended
// subjects. No rate limiting is applied.
func WithBasicPolicy(suspended ...string) Option {
	return func(g *Gateway) error {
		g.policy = basic.NewPolicy(suspended...)
		return nil
	}
}

// WithRateLimitPolicy limits each caller subject to rps requests per second.
func WithRateLimitPolicy(rps float64, burst int) Option {
	return func(g *Gateway) error {
		p, err := ratelimit.NewPolicy(rps, burst, 0)
		if err != nil {
			return fmt.Errorf("create rate limit policy: %w", err)
		}
		g.policy = p
		return nil
	}
}

// WithLogger sets a custom logger. Place it first so later options use it.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		g.logger = logger
		return nil
	}
}

// WithHTTPClient sets the client adapters use for upstream calls.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) error {
		g.httpClient = client
		return nil
	}
}

// WithTelemetry sets the trace and meter providers. The otel globals are
// used otherwise.
func WithTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) Option {
	return func(g *Gateway) error {
		g.tracerProvider = tp
		g.meterProvider = mp
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
// For advanced use cases where you need full control over config loading.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(g *Gateway) error {
		g.config = provider
		return nil
	}
}

// WithIdentityVerifier sets a custom caller verifier in place of the
// configured API keys.
func WithIdentityVerifier(verifier ports.IdentityVerifier) Option {
	return func(g *Gateway) error {
		g.verifier = verifier
		return nil
	}
}

// WithStorageProvider sets a custom storage provider.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(g *Gateway) error {
		g.storage = provider
		return nil
	}
}

// WithEventPublisher sets a custom event publisher.
func WithEventPublisher(publisher ports.EventPublisher) Option {
	return func(g *Gateway) error {
		g.events = publisher
		return nil
	}
}

// WithQualityPolicy sets a custom quality policy.
func WithQualityPolicy(policy ports.QualityPolicy) Option {
	return func(g *Gateway) error {
		g.policy = policy
		return nil
	}
}
