package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

type countingCloser struct {
	mu     sync.Mutex
	closes int
}

func (c *countingCloser) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *countingCloser) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func TestStreamHandleCleanEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	body := &countingCloser{}
	h := Open(ctx, cancel, time.Second, body, func(emit Emit) error {
		emit(domain.Event{Type: domain.EventTextDelta, ID: "t", Delta: "a"})
		emit(domain.Event{Type: domain.EventFinish, FinishReason: "stop"})
		return nil
	})

	var types []domain.EventType
	for ev := range h.Events() {
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[1] != domain.EventFinish {
		t.Errorf("events = %v", types)
	}
	if h.Err() != nil {
		t.Errorf("Err() = %v, want nil", h.Err())
	}

	h.Close()
	h.Close()
	if h.Releases() != 1 || body.count() != 1 {
		t.Errorf("releases = %d, body closes = %d, want 1 and 1", h.Releases(), body.count())
	}
}

func TestStreamHandleTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	h := Open(ctx, cancel, 20*time.Millisecond, nil, func(emit Emit) error {
		<-ctx.Done()
		return ctx.Err()
	})

	for range h.Events() {
	}
	if !domain.IsTimeout(h.Err()) {
		t.Fatalf("Err() = %v, want provider timeout", h.Err())
	}
	if domain.KindOf(h.Err()) != domain.KindProviderUnavailable {
		t.Errorf("kind = %s", domain.KindOf(h.Err()))
	}
	<-h.Done()
}

func TestStreamHandleCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	h := Open(ctx, cancel, time.Minute, nil, func(emit Emit) error {
		close(started)
		for emit(domain.Event{Type: domain.EventTextDelta, ID: "t", Delta: "x"}) {
		}
		return errors.New("read on closed body")
	})

	<-started
	<-h.Events()
	h.Close()
	for range h.Events() {
	}
	if h.Err() != nil {
		t.Errorf("Err() after cancel = %v, want nil", h.Err())
	}
	if h.Releases() != 1 {
		t.Errorf("releases = %d, want 1", h.Releases())
	}
}

func TestStreamHandleUntaggedFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	h := Open(ctx, cancel, time.Second, nil, func(emit Emit) error {
		return errors.New("unexpected EOF")
	})
	for range h.Events() {
	}
	if domain.KindOf(h.Err()) != domain.KindProviderUnavailable {
		t.Errorf("kind = %s, want ProviderUnavailable", domain.KindOf(h.Err()))
	}
}
