// Package config defines the gateway configuration and loads it with koanf
// from a YAML file overlaid with GATEWAY_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// EnvPrefix is the prefix for environment overrides. Double underscores
// separate nesting levels: GATEWAY_SERVER__PORT sets server.port.
const EnvPrefix = "GATEWAY_"

type Config struct {
	Server    ServerConfig          `koanf:"server"`
	Storage   StorageConfig         `koanf:"storage"`
	Auth      AuthConfig            `koanf:"auth"`
	Providers []ProviderConfig      `koanf:"providers"`
	Upstream  UpstreamConfig        `koanf:"upstream"`
	Catalog   CatalogConfig         `koanf:"catalog"`
	Models    []domain.Capabilities `koanf:"models"`
	Tools     ToolsConfig           `koanf:"tools"`
	Monitor   MonitorConfig         `koanf:"monitor"`
	Policy    PolicyConfig          `koanf:"policy"`
	Telemetry TelemetryConfig       `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// RequestTimeout bounds the non-streaming routes.
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type AuthConfig struct {
	APIKeys []APIKeyConfig `koanf:"api_keys"`
}

type APIKeyConfig struct {
	KeyHash     string `koanf:"key_hash"` // hex sha256 of the bearer token
	Subject     string `koanf:"subject"`
	Description string `koanf:"description"`
}

type ProviderConfig struct {
	Name       string `koanf:"name"`
	Type       string `koanf:"type"` // openai, anthropic, gemini
	APIKey     string `koanf:"api_key"`
	BaseURL    string `koanf:"base_url"`
	MaxRetries int    `koanf:"max_retries"`
}

// UpstreamConfig shapes the HTTP client shared by provider adapters.
type UpstreamConfig struct {
	DenyPrivateNetworks bool          `koanf:"deny_private_networks"`
	DialTimeout         time.Duration `koanf:"dial_timeout"`
}

type CatalogConfig struct {
	Path      string `koanf:"path"`
	CacheSize int    `koanf:"cache_size"`
}

type ToolsConfig struct {
	WebSearch       WebSearchConfig       `koanf:"web_search"`
	CodeInterpreter CodeInterpreterConfig `koanf:"code_interpreter"`
	ImageGeneration ImageGenerationConfig `koanf:"image_generation"`
}

type WebSearchConfig struct {
	AllowedDomains []string `koanf:"allowed_domains"`
	MaxUses        int      `koanf:"max_uses"`
}

type CodeInterpreterConfig struct {
	Container string `koanf:"container"`
}

type ImageGenerationConfig struct {
	Model string `koanf:"model"`
}

type MonitorConfig struct {
	SampleCap      int           `koanf:"sample_cap"`
	Buffer         int           `koanf:"buffer"`
	StallThreshold time.Duration `koanf:"stall_threshold"`
}

type PolicyConfig struct {
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
	// SuspendedSubjects are refused with RateLimited and no retry hint.
	SuspendedSubjects []string `koanf:"suspended_subjects"`
}

type TelemetryConfig struct {
	ServiceName string `koanf:"service_name"`
	Stdout      bool   `koanf:"stdout"`
}

var defaults = map[string]any{
	"server.port":             8080,
	"server.read_timeout":     "30s",
	"server.shutdown_timeout": "30s",
	"server.request_timeout":  "30s",
	"storage.type":            "memory",
	"upstream.dial_timeout":   "5s",
	"catalog.cache_size":      256,
	"monitor.sample_cap":      20,
	"monitor.buffer":          256,
	"monitor.stall_threshold": "30s",
	"telemetry.service_name":  "completion-gateway",
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (a missing file is not an error) and applies environment
// overrides and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
		if cfg.Providers[i].Name == "" {
			cfg.Providers[i].Name = cfg.Providers[i].Type
		}
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
