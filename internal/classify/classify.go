// Package classify maps failures onto the gateway's fixed error taxonomy and
// writes them as structured HTTP error bodies.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// DefaultRetryAfter is suggested for ProviderUnavailable failures that do not
// carry their own hint.
const DefaultRetryAfter = 5 * time.Second

// Classification is the externally visible shape of a failure.
type Classification struct {
	Kind       domain.Kind
	HTTPStatus int
	RetryAfter time.Duration
	Message    string
	Field      string
}

var statusByKind = map[domain.Kind]int{
	domain.KindValidationFailed:    http.StatusBadRequest,
	domain.KindUnauthorized:        http.StatusUnauthorized,
	domain.KindNotFound:            http.StatusNotFound,
	domain.KindRateLimited:         http.StatusTooManyRequests,
	domain.KindProviderUnavailable: http.StatusServiceUnavailable,
	domain.KindInternalError:       http.StatusInternalServerError,
}

// Status returns the HTTP status for kind.
func Status(kind domain.Kind) int {
	if s, ok := statusByKind[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Classify trusts the kind tag carried by err. Untagged deadline errors are
// treated as provider timeouts and everything else as internal.
func Classify(err error) Classification {
	var de *domain.Error
	if !errors.As(err, &de) {
		if errors.Is(err, context.DeadlineExceeded) {
			de = domain.ErrProviderTimeout(0, err)
		} else {
			de = domain.ErrInternal(err)
		}
	}

	c := Classification{
		Kind:       de.Kind,
		HTTPStatus: Status(de.Kind),
		Field:      de.Field,
		Message:    publicMessage(de),
	}

	switch de.Kind {
	case domain.KindRateLimited:
		c.RetryAfter = de.RetryAfter
		if c.RetryAfter <= 0 {
			c.RetryAfter = time.Second
		}
	case domain.KindProviderUnavailable:
		c.RetryAfter = de.RetryAfter
		if c.RetryAfter <= 0 {
			c.RetryAfter = DefaultRetryAfter
		}
	}
	return c
}

// publicMessage turns a tagged error into something the caller can act on.
// Causes stay in the logs.
func publicMessage(de *domain.Error) string {
	switch de.Kind {
	case domain.KindValidationFailed:
		if de.Message != "" {
			return de.Message
		}
		return "the request is invalid"
	case domain.KindUnauthorized:
		return "sign in again to continue"
	case domain.KindNotFound:
		if de.Message != "" {
			return de.Message
		}
		return "the requested model is not available"
	case domain.KindRateLimited:
		return "too many requests, try again shortly"
	case domain.KindProviderUnavailable:
		if de.Timeout {
			return "the model took too long to respond, try again"
		}
		return "the model provider is unavailable, try again"
	default:
		return "something went wrong, try again"
	}
}

// ErrorBody is the JSON body of a failed request.
type ErrorBody struct {
	Kind       domain.Kind `json:"kind"`
	Message    string      `json:"message"`
	RequestID  string      `json:"requestId"`
	Field      string      `json:"field,omitempty"`
	RetryAfter int         `json:"retryAfter,omitempty"` // seconds
}

// Body builds the error body for c.
func (c Classification) Body(requestID string) ErrorBody {
	return ErrorBody{
		Kind:       c.Kind,
		Message:    c.Message,
		RequestID:  requestID,
		Field:      c.Field,
		RetryAfter: retrySeconds(c.RetryAfter),
	}
}

// WriteError classifies err and writes it as a JSON error response.
func WriteError(w http.ResponseWriter, err error, requestID string) Classification {
	c := Classify(err)
	w.Header().Set("Content-Type", "application/json")
	if c.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(c.RetryAfter)))
	}
	w.WriteHeader(c.HTTPStatus)
	_ = json.NewEncoder(w).Encode(c.Body(requestID))
	return c
}

func retrySeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
