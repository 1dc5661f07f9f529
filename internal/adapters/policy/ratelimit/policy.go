// Package ratelimit provides a token-bucket quality policy keyed by caller
// subject.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/completion-gateway/internal/core/ports"
)

// DefaultMaxSubjects bounds how many per-subject buckets are retained.
const DefaultMaxSubjects = 10000

// Policy implements ports.QualityPolicy with one token bucket per subject.
// Least recently seen subjects are evicted when the table is full, which
// resets their bucket.
type Policy struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	now      func() time.Time
}

// NewPolicy creates a policy allowing rps requests per second per subject
// with the given burst. maxSubjects <= 0 selects DefaultMaxSubjects.
func NewPolicy(rps float64, burst, maxSubjects int) (*Policy, error) {
	if rps <= 0 {
		return nil, fmt.Errorf("requests per second must be positive, got %v", rps)
	}
	if burst <= 0 {
		burst = max(1, int(rps))
	}
	if maxSubjects <= 0 {
		maxSubjects = DefaultMaxSubjects
	}
	cache, err := lru.New[string, *rate.Limiter](maxSubjects)
	if err != nil {
		return nil, err
	}
	return &Policy{
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: cache,
		now:      time.Now,
	}, nil
}

// CheckRequest consumes one token from the caller's bucket. A denied
// decision carries the delay until the next token is available.
func (p *Policy) CheckRequest(ctx context.Context, req *ports.PolicyRequest) (*ports.PolicyDecision, error) {
	subject := ""
	if req != nil {
		subject = req.Subject
	}
	lim := p.limiter(subject)

	now := p.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return &ports.PolicyDecision{Allow: false, Reason: "burst exceeded"}, nil
	}
	delay := r.DelayFrom(now)
	if delay == 0 {
		return &ports.PolicyDecision{Allow: true}, nil
	}
	r.CancelAt(now)
	return &ports.PolicyDecision{
		Allow:      false,
		Reason:     fmt.Sprintf("rate limit of %v requests/s exceeded", float64(p.limit)),
		RetryAfter: delay,
	}, nil
}

func (p *Policy) limiter(subject string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lim, ok := p.limiters.Get(subject); ok {
		return lim
	}
	lim := rate.NewLimiter(p.limit, p.burst)
	p.limiters.Add(subject, lim)
	return lim
}
