package provider

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// Emit hands one event to the consumer. It returns false once the stream
// context is done, at which point the producer must stop.
type Emit func(domain.Event) bool

// StreamHandle owns one live upstream connection. Events arrive in upstream
// order on Events; the channel is closed after the connection is released.
// Close releases the connection and is safe to call any number of times.
type StreamHandle struct {
	events chan domain.Event
	ctx    context.Context
	cancel context.CancelFunc
	body   io.Closer
	limit  time.Duration
	err    error

	// finished is only touched by the producer goroutine.
	finished bool

	closeOnce sync.Once
	releases  atomic.Int32
	done      chan struct{}
}

// Open starts produce in its own goroutine. ctx must be the deadline
// context from WithDeadline and cancel its cancel func; body is the upstream
// response body. produce returns nil on a clean end of stream.
func Open(ctx context.Context, cancel context.CancelFunc, limit time.Duration, body io.Closer, produce func(emit Emit) error) *StreamHandle {
	h := &StreamHandle{
		events: make(chan domain.Event),
		ctx:    ctx,
		cancel: cancel,
		body:   body,
		limit:  limit,
		done:   make(chan struct{}),
	}
	go h.run(produce)
	return h
}

func (h *StreamHandle) run(produce func(emit Emit) error) {
	err := produce(h.emit)
	if err == nil && !h.finished {
		// The producer stopped without a finish event: either emit
		// refused because the context ended, or upstream hung up early.
		err = h.ctx.Err()
		if err == nil {
			err = errEndedEarly
		}
	}
	if err != nil {
		h.err = h.streamError(err)
	}
	h.Close()
	close(h.events)
}

var errEndedEarly = errors.New("upstream closed the stream before completion")

func (h *StreamHandle) emit(ev domain.Event) bool {
	if h.ctx.Err() != nil {
		return false
	}
	select {
	case h.events <- ev:
		if ev.Type == domain.EventFinish {
			h.finished = true
		}
		return true
	case <-h.ctx.Done():
		return false
	}
}

// streamError tags a mid-stream failure. A deadline becomes a provider
// timeout; caller cancellation yields nil.
func (h *StreamHandle) streamError(err error) error {
	switch {
	case errors.Is(h.ctx.Err(), context.DeadlineExceeded):
		return domain.ErrProviderTimeout(h.limit, err)
	case h.ctx.Err() != nil:
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrProviderUnavailable("provider stream interrupted", 0, err)
}

// Events returns the event channel.
func (h *StreamHandle) Events() <-chan domain.Event { return h.events }

// Err returns the stream failure, if any. It is valid once Events is closed
// and is nil after a clean end or a caller cancellation.
func (h *StreamHandle) Err() error { return h.err }

// Context returns the upstream context. Its error distinguishes a deadline
// from cancellation after the channel closes.
func (h *StreamHandle) Context() context.Context { return h.ctx }

// Limit is the hard deadline applied to the upstream call.
func (h *StreamHandle) Limit() time.Duration { return h.limit }

// Close aborts the upstream call and releases the connection.
func (h *StreamHandle) Close() {
	h.closeOnce.Do(func() {
		h.cancel()
		if h.body != nil {
			_ = h.body.Close()
		}
		h.releases.Add(1)
		close(h.done)
	})
}

// Done is closed once the connection has been released.
func (h *StreamHandle) Done() <-chan struct{} { return h.done }

// Releases reports how many times the connection was released. It is
// never more than one.
func (h *StreamHandle) Releases() int { return int(h.releases.Load()) }
