package testutil

import (
	"testing"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// Drain collects events until the channel closes or the timeout passes.
func Drain(t *testing.T, events <-chan domain.Event, timeout time.Duration) []domain.Event {
	t.Helper()
	var out []domain.Event
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("stream did not close within %s (got %d events)", timeout, len(out))
			return out
		}
	}
}

// Types returns the event types in order.
func Types(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}
