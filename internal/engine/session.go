package engine

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/completion-gateway/internal/classify"
	"github.com/tjfontaine/completion-gateway/internal/codec"
	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/monitor"
	"github.com/tjfontaine/completion-gateway/internal/provider"
	"github.com/tjfontaine/completion-gateway/internal/tokens"
)

// frameBuffer leaves room for the terminal marker and [DONE] when the
// caller has stopped reading.
const frameBuffer = 8

// Metadata describes the capabilities in effect for a session so callers
// can render accurate affordances.
type Metadata struct {
	RequestID    string              `json:"requestId"`
	Provider     string              `json:"provider"`
	ModelID      string              `json:"modelId"`
	Reasoning    bool                `json:"reasoning"`
	Thinking     bool                `json:"thinking"`
	Background   bool                `json:"background"`
	MaxTimeoutMs int                 `json:"maxTimeoutMs"`
	Tools        []string            `json:"tools"`
	Effective    domain.Effective    `json:"effective"`
	Capabilities domain.Capabilities `json:"capabilities"`
}

// Result is the outcome of a session once it reaches a terminal state.
type Result struct {
	State   State
	Err     error
	Record  *domain.SessionRecord
	Monitor monitor.Snapshot
}

// Session is one accepted, streaming request. It owns the upstream
// connection and releases it exactly once on any terminal transition.
type Session struct {
	engine *Engine
	id     string
	req    *domain.StreamRequest
	meta   Metadata
	handle *provider.StreamHandle
	cancel context.CancelFunc
	span   trace.Span
	rec    *domain.SessionRecord
	tap    *monitor.Tap
	logger *slog.Logger

	frames     chan []byte
	cancelCh   chan struct{}
	cancelOnce sync.Once
	done       chan struct{}

	state  atomic.Int32
	result Result

	// written only by pump
	finish  *domain.Event
	output  strings.Builder
	stalled bool
}

func newSession(e *Engine, id string, req *domain.StreamRequest, caps domain.Capabilities, eff domain.Effective,
	toolset domain.ToolSet, handle *provider.StreamHandle, cancel context.CancelFunc, span trace.Span,
	rec *domain.SessionRecord, logger *slog.Logger) *Session {
	s := &Session{
		engine: e,
		id:     id,
		req:    req,
		meta: Metadata{
			RequestID:    id,
			Provider:     req.Provider,
			ModelID:      req.ModelID,
			Reasoning:    eff.Reasoning,
			Thinking:     eff.Thinking,
			Background:   eff.Background,
			MaxTimeoutMs: eff.MaxTimeoutMs,
			Tools:        toolset.Names(),
			Effective:    eff,
			Capabilities: caps,
		},
		handle:   handle,
		cancel:   cancel,
		span:     span,
		rec:      rec,
		tap:      monitor.NewTap(monitor.New(e.monitorCfg)),
		logger:   logger,
		frames:   make(chan []byte, frameBuffer),
		cancelCh: make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.state.Store(int32(StateStreaming))
	return s
}

// ID returns the request id.
func (s *Session) ID() string { return s.id }

// Metadata returns the capabilities in effect.
func (s *Session) Metadata() Metadata { return s.meta }

// Frames returns encoded SSE frames in delivery order. The channel closes
// after the terminal marker and the [DONE] frame.
func (s *Session) Frames() <-chan []byte { return s.frames }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Cancel aborts the session. It is safe to call any number of times and
// from any goroutine, including after the session has ended.
func (s *Session) Cancel() {
	s.cancelOnce.Do(func() {
		close(s.cancelCh)
		s.cancel()
	})
}

// Done is closed once the session is terminal and its resources released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session is terminal.
func (s *Session) Wait() Result {
	<-s.done
	return s.result
}

func (s *Session) cancelled() bool {
	select {
	case <-s.cancelCh:
		return true
	default:
		return false
	}
}

// pump moves events from the adapter to the caller. It is the only
// goroutine that decides the terminal state.
func (s *Session) pump() {
	events := s.handle.Events()
	var stallTick <-chan time.Time
	if threshold := s.tap.Monitor().StallThreshold(); threshold > 0 {
		ticker := time.NewTicker(threshold / 2)
		defer ticker.Stop()
		stallTick = ticker.C
	}

loop:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			if !s.forward(ev) {
				break loop
			}
		case <-s.cancelCh:
			break loop
		case now := <-stallTick:
			if !s.stalled && s.tap.Monitor().Stalled(now) {
				s.stalled = true
				s.logger.Warn("stream stalled", slog.Duration("threshold", s.tap.Monitor().StallThreshold()))
			}
		}
	}

	// Release the connection and let the producer exit.
	s.handle.Close()
	for range events {
	}
	s.terminate()
}

// forward delivers one event. It returns false when the caller cancelled
// before the frame could be delivered.
func (s *Session) forward(ev domain.Event) bool {
	if ev.Type == domain.EventUndecodable {
		s.tap.ObserveUndecodable(ev.Raw, ev.Err)
		return true
	}
	payload, err := codec.Payload(ev)
	if err != nil {
		s.tap.ObserveUndecodable(ev.Raw, err)
		return true
	}

	select {
	case s.frames <- codec.FrameBytes(payload):
	case <-s.cancelCh:
		return false
	}
	s.tap.Observe(payload)

	switch ev.Type {
	case domain.EventFinish:
		f := ev
		s.finish = &f
	case domain.EventTextDelta:
		if s.req.Telemetry.RecordOutputs && s.output.Len()+len(ev.Delta) <= maxOutputRecord {
			s.output.WriteString(ev.Delta)
		}
	}
	return true
}

func (s *Session) terminate() {
	e := s.engine
	var (
		state  State
		err    error
		marker domain.Event
	)
	switch {
	case s.finish != nil:
		state = StateCompleted
	case s.cancelled() || s.handle.Err() == nil:
		// The handle reports no error only when its context was cancelled.
		state = StateCancelled
		marker = codec.AbortEvent("cancelled")
	default:
		state = StateFailed
		err = s.handle.Err()
		if err == nil {
			err = domain.ErrProviderUnavailable("provider stream ended unexpectedly", 0, nil)
		}
		c := classify.Classify(err)
		marker = codec.ErrorEvent(c.Kind, c.Message)
	}

	if marker.Type != "" {
		s.deliverTerminal(marker)
	}
	s.deliverRaw(codec.DoneFrame)
	close(s.frames)
	s.cancel()

	snap := s.tap.Close()
	s.record(state, err, snap)
	s.state.Store(int32(state))
	s.result = Result{State: state, Err: err, Record: s.rec, Monitor: snap}
	e.active.Add(-1)
	close(s.done)
}

// deliverTerminal sends a marker frame. A cancelled caller may no longer be
// reading, so the send never blocks after cancellation.
func (s *Session) deliverTerminal(ev domain.Event) {
	payload, err := codec.Payload(ev)
	if err != nil {
		return
	}
	if s.deliverRaw(codec.FrameBytes(payload)) {
		s.tap.Observe(payload)
	}
}

func (s *Session) deliverRaw(frame []byte) bool {
	if s.cancelled() {
		select {
		case s.frames <- frame:
			return true
		default:
			return false
		}
	}
	select {
	case s.frames <- frame:
		return true
	case <-s.cancelCh:
		select {
		case s.frames <- frame:
			return true
		default:
			return false
		}
	}
}

func (s *Session) record(state State, err error, snap monitor.Snapshot) {
	e := s.engine
	rec := s.rec
	rec.EndedAt = time.Now()
	rec.Monitor = snap.Summary()

	switch state {
	case StateCompleted:
		rec.Status = domain.StatusCompleted
	case StateCancelled:
		rec.Status = domain.StatusCancelled
	default:
		rec.Status = domain.StatusFailed
		rec.ErrorKind = domain.KindOf(err)
	}

	if s.finish != nil {
		rec.FinishReason = s.finish.FinishReason
		if s.finish.Usage != nil {
			rec.Usage = *s.finish.Usage
		}
	}
	if rec.Usage.InputTokens == 0 {
		rec.Usage.InputTokens = e.counter.CountMessages(s.req.ModelID, s.req.Messages)
	}
	rec.CostUSD = tokens.Cost(s.meta.Capabilities, rec.Usage)

	if s.req.Telemetry.RecordInputs {
		rec.Input = s.req.Messages
	}
	if s.req.Telemetry.RecordOutputs {
		rec.Output = s.output.String()
	}

	attrs := []attribute.KeyValue{
		attribute.String("gateway.provider", rec.Provider),
		attribute.String("gateway.model", rec.ModelID),
	}
	e.exporter.Export(context.Background(), snap, attrs...)

	s.span.SetAttributes(
		attribute.String("gateway.status", string(rec.Status)),
		attribute.Bool("gateway.monitor.has_errors", snap.HasErrors),
		attribute.Int("gateway.usage.input_tokens", rec.Usage.InputTokens),
		attribute.Int("gateway.usage.output_tokens", rec.Usage.OutputTokens),
	)
	if state == StateFailed {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, string(rec.ErrorKind))
	}
	s.span.End()

	fields := []any{
		slog.String("provider", rec.Provider),
		slog.String("model", rec.ModelID),
		slog.String("status", string(rec.Status)),
		slog.Duration("duration", rec.Duration()),
		slog.Int("input_tokens", rec.Usage.InputTokens),
		slog.Int("output_tokens", rec.Usage.OutputTokens),
		slog.Float64("cost_usd", rec.CostUSD),
	}
	if err != nil {
		fields = append(fields, slog.Any("error", err))
	}
	if snap.HasErrors {
		fields = append(fields,
			slog.Int("parse_errors", snap.ParseErrors),
			slog.Int("unknown_types", snap.UnknownTypes),
			slog.Int("field_mismatches", snap.FieldMismatches))
		s.logger.Warn("stream finished with monitor anomalies", fields...)
	} else {
		s.logger.Info("stream finished", fields...)
	}

	e.publish(context.Background(), rec, s.logger)
}
