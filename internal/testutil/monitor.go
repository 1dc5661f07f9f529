package testutil

import (
	"testing"

	"github.com/tjfontaine/completion-gateway/internal/codec"
	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/monitor"
)

// Observe encodes events the way a session delivers them and returns what a
// monitor saw.
func Observe(t *testing.T, events []domain.Event) monitor.Snapshot {
	t.Helper()
	tap := monitor.NewTap(monitor.New(monitor.Config{}))
	for _, ev := range events {
		if ev.Type == domain.EventUndecodable {
			tap.ObserveUndecodable(ev.Raw, ev.Err)
			continue
		}
		payload, err := codec.Payload(ev)
		if err != nil {
			t.Fatalf("encode %s: %v", ev.Type, err)
		}
		tap.Observe(payload)
	}
	return tap.Close()
}
