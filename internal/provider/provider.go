// Package provider defines the contract every upstream adapter implements and
// the shared plumbing adapters use: stream handles, SSE decoding, deadlines
// and upstream error mapping.
package provider

import (
	"context"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// Invocation is everything an adapter needs for one upstream call. The
// capabilities are the request's private copy.
type Invocation struct {
	Request      *domain.StreamRequest
	Capabilities domain.Capabilities
	Effective    domain.Effective
	Tools        domain.ToolSet
}

// Adapter translates canonical requests into one provider family's wire
// protocol and its stream back into canonical events.
//
// Invoke must honor Capabilities.MaxTimeoutMs as a hard deadline. Failures
// before the stream opens are returned as tagged domain errors; failures
// after it opens are reported by StreamHandle.Err once Events closes.
type Adapter interface {
	Name() string
	Family() string
	Invoke(ctx context.Context, inv Invocation) (*StreamHandle, error)
}

// Timeout returns the hard deadline for an invocation.
func Timeout(inv Invocation) time.Duration {
	ms := inv.Effective.MaxTimeoutMs
	if ms <= 0 {
		ms = inv.Capabilities.MaxTimeoutMs
	}
	if ms <= 0 {
		ms = 60000
	}
	return time.Duration(ms) * time.Millisecond
}

// WithDeadline derives the upstream context for an invocation.
func WithDeadline(ctx context.Context, inv Invocation) (context.Context, context.CancelFunc, time.Duration) {
	limit := Timeout(inv)
	ctx, cancel := context.WithTimeout(ctx, limit)
	return ctx, cancel, limit
}
