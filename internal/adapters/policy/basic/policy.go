// Package basic holds the static quality policies: a subject suspension list
// and a chain that combines policies.
package basic

import (
	"context"
	"fmt"

	"github.com/tjfontaine/completion-gateway/internal/core/ports"
)

// Policy admits every request except those from suspended subjects.
type Policy struct {
	suspended map[string]struct{}
}

func NewPolicy(suspended ...string) *Policy {
	p := &Policy{suspended: make(map[string]struct{}, len(suspended))}
	for _, s := range suspended {
		if s != "" {
			p.suspended[s] = struct{}{}
		}
	}
	return p
}

func (p *Policy) CheckRequest(_ context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	if req != nil {
		if _, ok := p.suspended[req.Subject]; ok {
			return &ports.PolicyDecision{
				Reason: fmt.Sprintf("subject %s is suspended", req.Subject),
			}, nil
		}
	}
	return &ports.PolicyDecision{Allow: true, Reason: "no restriction applies"}, nil
}

// Chain runs policies in order and returns the first denial or error.
type Chain []ports.QualityPolicy

func (c Chain) CheckRequest(ctx context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	for _, p := range c {
		d, err := p.CheckRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		if !d.Allow {
			return d, nil
		}
	}
	return &ports.PolicyDecision{Allow: true}, nil
}
