// Package direct provides a direct event publisher that writes to storage.
package direct

import (
	"context"
	"fmt"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
)

// Publisher implements ports.EventPublisher by writing session records
// directly to a TelemetryStore. This is the default for single-instance
// deployments.
type Publisher struct {
	store ports.TelemetryStore
}

// NewPublisher creates a new direct event publisher.
func NewPublisher(store ports.TelemetryStore) (*Publisher, error) {
	if store == nil {
		return nil, fmt.Errorf("telemetry store required")
	}
	return &Publisher{store: store}, nil
}

// Publish writes a session record to storage.
func (p *Publisher) Publish(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil {
		return nil
	}
	if err := p.store.SaveSession(ctx, rec); err != nil {
		return fmt.Errorf("publish session %s: %w", rec.RequestID, err)
	}
	return nil
}

// Close is a no-op for direct publisher.
func (p *Publisher) Close() error {
	return nil
}
