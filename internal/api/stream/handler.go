// Package stream serves the streaming completion endpoint and the
// capability lookup route.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/completion-gateway/internal/classify"
	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/engine"
	"github.com/tjfontaine/completion-gateway/internal/normalize"
	"github.com/tjfontaine/completion-gateway/internal/server"
)

// Capability headers announce what the session will actually do.
const (
	HeaderReasoning    = "X-Capability-Reasoning"
	HeaderThinking     = "X-Capability-Thinking"
	HeaderBackground   = "X-Capability-Background"
	HeaderMaxTimeoutMs = "X-Capability-Max-Timeout-Ms"
	HeaderTools        = "X-Capability-Tools"
)

// Starter opens stream sessions.
type Starter interface {
	Start(ctx context.Context, call engine.Call) (*engine.Session, error)
}

// Resolver looks up capability descriptors.
type Resolver interface {
	Resolve(ctx context.Context, modelID string) (domain.Capabilities, error)
}

// Handler serves the stream and capability routes.
type Handler struct {
	engine   Starter
	registry Resolver
	logger   *slog.Logger
}

// NewHandler creates a handler.
func NewHandler(eng Starter, registry Resolver, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: eng, registry: registry, logger: logger}
}

// Stream handles POST /v1/stream. Failures before the stream opens are
// written as JSON error bodies; after that every outcome is a terminal
// frame on the open stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := server.GetRequestID(ctx)

	in, err := normalize.Decode(r.Body)
	if err != nil {
		server.AddError(ctx, err)
		classify.WriteError(w, err, requestID)
		return
	}

	sess, err := h.engine.Start(ctx, engine.Call{
		Input:      in,
		Credential: r.Header.Get("Authorization"),
		RequestID:  requestID,
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			// Nobody is left to read a response.
			server.AddLogField(ctx, "cancelled", "true")
			return
		}
		server.AddError(ctx, err)
		c := classify.WriteError(w, err, requestID)
		server.AddLogField(ctx, "error_kind", string(c.Kind))
		return
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("clear write deadline", slog.String("error", err.Error()))
	}

	setStreamHeaders(w.Header(), sess.Metadata())
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	frames := sess.Frames()
loop:
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				break loop
			}
			if _, err := w.Write(frame); err != nil {
				server.AddError(ctx, err)
				sess.Cancel()
				break loop
			}
			if err := rc.Flush(); err != nil {
				sess.Cancel()
				break loop
			}
		case <-ctx.Done():
			sess.Cancel()
			break loop
		}
	}

	res := sess.Wait()
	server.AddLogField(ctx, "state", res.State.String())
	server.AddLogField(ctx, "provider", sess.Metadata().Provider)
	server.AddLogField(ctx, "model", sess.Metadata().ModelID)
	if res.Err != nil {
		server.AddError(ctx, res.Err)
	}
}

func setStreamHeaders(h http.Header, meta engine.Metadata) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set(HeaderReasoning, strconv.FormatBool(meta.Reasoning))
	h.Set(HeaderThinking, strconv.FormatBool(meta.Thinking))
	h.Set(HeaderBackground, strconv.FormatBool(meta.Background))
	h.Set(HeaderMaxTimeoutMs, strconv.Itoa(meta.MaxTimeoutMs))
	h.Set(HeaderTools, strings.Join(meta.Tools, ","))
}

// Capabilities handles GET /v1/models/{modelID}/capabilities.
func (h *Handler) Capabilities(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "modelID")
	caps, err := h.registry.Resolve(r.Context(), modelID)
	if err != nil {
		server.AddError(r.Context(), err)
		classify.WriteError(w, err, server.GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, caps)
}

// Health handles GET /healthz.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
