// Package ports defines the collaborator interfaces the gateway core depends
// on. Adapters under internal/adapters and internal/storage implement them.
package ports

import (
	"context"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
)

// ConfigProvider loads and manages configuration.
// Implementations: file-based (default).
type ConfigProvider interface {
	Load(ctx context.Context) (*config.Config, error)
	Watch(ctx context.Context, onChange func(*config.Config)) error
	Close() error
}

// IdentityVerifier checks a caller credential and returns an opaque subject
// id. An empty subject with a nil error means "no session".
type IdentityVerifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// IdentityStore resolves a subject to its durable identity.
type IdentityStore interface {
	ResolveIdentity(ctx context.Context, subject string) (*domain.Identity, error)
}

// TelemetryStore persists session telemetry records.
type TelemetryStore interface {
	SaveSession(ctx context.Context, rec *domain.SessionRecord) error
	GetSession(ctx context.Context, requestID string) (*domain.SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error)
}

// StorageProvider manages all storage operations.
// Implementations: SQLite (default), in-memory.
type StorageProvider interface {
	IdentityStore
	TelemetryStore
	Close() error
}

// EventPublisher publishes session telemetry to an observability pipeline.
// Implementations: direct storage (default).
type EventPublisher interface {
	Publish(ctx context.Context, rec *domain.SessionRecord) error
	Close() error
}

// QualityPolicy enforces rate limits and admission rules before any
// upstream work is started.
// Implementations: basic (no limits), token bucket.
type QualityPolicy interface {
	CheckRequest(ctx context.Context, req *PolicyRequest) (*PolicyDecision, error)
}

// PolicyRequest contains request context for policy checks.
type PolicyRequest struct {
	Subject  string
	Provider string
	ModelID  string
	Source   domain.Source
}

// PolicyDecision is the result of a policy check.
type PolicyDecision struct {
	Allow      bool
	Reason     string
	RetryAfter time.Duration
}
