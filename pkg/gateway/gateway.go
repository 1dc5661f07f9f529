// Package gateway provides the public API for embedding the completion
// gateway. This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/completion-gateway/internal/runtime"

	// Built-in provider adapters.
	_ "github.com/tjfontaine/completion-gateway/internal/registration"
)

// Gateway is the main entry point for running the gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/gateway.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Authentication
	WithIdentityVerifier = runtime.WithIdentityVerifier

	// Storage
	WithSQLite          = runtime.WithSQLite
	WithMemoryStorage   = runtime.WithMemoryStorage
	WithStorageProvider = runtime.WithStorageProvider

	// Events
	WithDirectEvents   = runtime.WithDirectEvents
	WithEventPublisher = runtime.WithEventPublisher

	// Policy
	WithBasicPolicy     = runtime.WithBasicPolicy
	WithRateLimitPolicy = runtime.WithRateLimitPolicy
	WithQualityPolicy   = runtime.WithQualityPolicy

	// Advanced options
	WithLogger     = runtime.WithLogger
	WithHTTPClient = runtime.WithHTTPClient
	WithTelemetry  = runtime.WithTelemetry
)
