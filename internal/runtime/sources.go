package runtime

import (
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/completion-gateway/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/completion-gateway/internal/capability"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
	"github.com/tjfontaine/completion-gateway/internal/pkg/safehttp"
	"github.com/tjfontaine/completion-gateway/internal/storage/memory"
)

// defaultSQLitePath is used when storage.type is sqlite without a path.
const defaultSQLitePath = "./data/gateway.db"

// buildSource turns inline models and the catalog file into one lookup
// chain. Inline models win over catalog entries with the same id.
func buildSource(cfg *config.Config) (capability.Source, error) {
	var chain capability.ChainSource
	if len(cfg.Models) > 0 {
		static, err := capability.NewStaticSource(cfg.Models)
		if err != nil {
			return nil, fmt.Errorf("inline models: %w", err)
		}
		chain = append(chain, static)
	}
	if cfg.Catalog.Path != "" {
		chain = append(chain, capability.NewFileSource(cfg.Catalog.Path))
	}
	return chain, nil
}

func buildStorage(cfg config.StorageConfig) (ports.StorageProvider, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		path := cfg.SQLite.Path
		if path == "" {
			path = defaultSQLitePath
		}
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return nil, fmt.Errorf("create sqlite storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// buildHTTPClient returns the traced client shared by provider adapters.
// No client-level timeout is set; streams are bounded by their contexts.
func buildHTTPClient(cfg config.UpstreamConfig, tp trace.TracerProvider) *http.Client {
	var base http.RoundTripper = http.DefaultTransport
	if cfg.DenyPrivateNetworks {
		base = safehttp.NewTransport(cfg.DialTimeout)
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(base, otelhttp.WithTracerProvider(tp)),
	}
}
