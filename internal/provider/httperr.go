package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// StatusOverloaded is the non-standard status some providers use when they
// shed load.
const StatusOverloaded = 529

// StatusError maps an upstream non-2xx response to a tagged error. The body
// is kept as the diagnostic cause and never shown to the caller.
func StatusError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
	cause := fmt.Errorf("%s: status %d: %s", provider, resp.StatusCode, body)
	retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := domain.ErrRateLimited("provider rate limit reached", retryAfter)
		e.Err = cause
		return e
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		// The registry said the model supports what we sent; the provider
		// disagrees, usually because the cached descriptor is stale.
		return domain.ErrProviderUnavailable("provider rejected the request", retryAfter, cause)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return domain.ErrProviderUnavailable("provider credentials were rejected", retryAfter, cause)
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrProviderUnavailable("provider does not serve this model", retryAfter, cause)
	default:
		return domain.ErrProviderUnavailable(fmt.Sprintf("provider returned status %d", resp.StatusCode), retryAfter, cause)
	}
}

// Retryable reports whether an upstream status is worth retrying before the
// stream opens.
func Retryable(status int) bool {
	return status == StatusOverloaded || status == http.StatusServiceUnavailable || status == http.StatusBadGateway
}

// TransportError tags a failure from sending the upstream request. A nil
// result never happens for a non-nil err.
func TransportError(ctx context.Context, err error, limit time.Duration) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.ErrProviderTimeout(limit, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return context.Canceled
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrProviderUnavailable("provider could not be reached", 0, err)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// Backoff returns the delay before retry attempt n (0-based).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	d := base << attempt
	if d <= 0 || d > max {
		return max
	}
	return d
}
