// Package controlplane serves the gateway's admin routes: process stats,
// recorded session telemetry and capability cache invalidation.
package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/completion-gateway/internal/classify"
	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
	"github.com/tjfontaine/completion-gateway/internal/server"
)

// Catalog is the capability registry surface the admin routes need.
type Catalog interface {
	Invalidate(modelID string)
	InvalidateAll()
	Len() int
	Stats() (hits, misses int64)
}

type Server struct {
	router    *chi.Mux
	startTime time.Time
	store     ports.TelemetryStore
	catalog   Catalog
	active    func() int
	logger    *slog.Logger
}

// NewServer creates the admin server. store may be nil when telemetry is
// not persisted; active reports the number of open stream sessions.
func NewServer(store ports.TelemetryStore, catalog Catalog, active func() int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if active == nil {
		active = func() int { return 0 }
	}
	s := &Server{
		router:    chi.NewRouter(),
		startTime: time.Now(),
		store:     store,
		catalog:   catalog,
		active:    active,
		logger:    logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/stats", s.handleStats)
	s.router.Get("/sessions", s.handleListSessions)
	s.router.Get("/sessions/{request_id}", s.handleSessionDetail)
	s.router.Post("/capabilities/invalidate", s.handleInvalidate)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type StatsResponse struct {
	Uptime         string       `json:"uptime"`
	GoVersion      string       `json:"go_version"`
	NumGoroutine   int          `json:"num_goroutine"`
	ActiveSessions int          `json:"active_sessions"`
	Memory         MemoryStats  `json:"memory"`
	Capabilities   CatalogStats `json:"capabilities"`
}

type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

type CatalogStats struct {
	Cached int   `json:"cached"`
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := StatsResponse{
		Uptime:         time.Since(s.startTime).String(),
		GoVersion:      runtime.Version(),
		NumGoroutine:   runtime.NumGoroutine(),
		ActiveSessions: s.active(),
		Memory: MemoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	}
	if s.catalog != nil {
		hits, misses := s.catalog.Stats()
		stats.Capabilities = CatalogStats{Cached: s.catalog.Len(), Hits: hits, Misses: misses}
	}

	writeJSON(w, stats)
}

// SessionSummary is a list view of one recorded session.
type SessionSummary struct {
	RequestID    string               `json:"request_id"`
	Provider     string               `json:"provider"`
	ModelID      string               `json:"model_id"`
	Status       domain.SessionStatus `json:"status"`
	ErrorKind    domain.Kind          `json:"error_kind,omitempty"`
	HasErrors    bool                 `json:"has_errors"`
	CostUSD      float64              `json:"cost_usd"`
	DurationMs   int64                `json:"duration_ms"`
	StartedAt    int64                `json:"started_at"`
	FinishReason string               `json:"finish_reason,omitempty"`
}

type SessionListResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "session storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 200 {
			limit = v
		}
	}

	records, err := s.store.ListSessions(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := SessionListResponse{Sessions: make([]SessionSummary, 0, len(records))}
	for _, rec := range records {
		resp.Sessions = append(resp.Sessions, SessionSummary{
			RequestID:    rec.RequestID,
			Provider:     rec.Provider,
			ModelID:      rec.ModelID,
			Status:       rec.Status,
			ErrorKind:    rec.ErrorKind,
			HasErrors:    rec.Monitor.HasErrors,
			CostUSD:      rec.CostUSD,
			DurationMs:   rec.Duration().Milliseconds(),
			StartedAt:    rec.StartedAt.Unix(),
			FinishReason: rec.FinishReason,
		})
	}

	writeJSON(w, resp)
}

func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		http.Error(w, "session storage not configured", http.StatusServiceUnavailable)
		return
	}

	rec, err := s.store.GetSession(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, rec)
}

type invalidateRequest struct {
	ModelID string `json:"modelId"`
}

type InvalidateResponse struct {
	Invalidated string `json:"invalidated"`
	Cached      int    `json:"cached"`
}

// handleInvalidate drops one descriptor, or the whole cache when the body
// names no model.
func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		http.Error(w, "capability registry not configured", http.StatusServiceUnavailable)
		return
	}

	var req invalidateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, r, domain.ErrValidation("body", "request body is not valid JSON"))
		return
	}

	resp := InvalidateResponse{Invalidated: "all"}
	if req.ModelID != "" {
		s.catalog.Invalidate(req.ModelID)
		resp.Invalidated = req.ModelID
	} else {
		s.catalog.InvalidateAll()
	}
	resp.Cached = s.catalog.Len()

	s.logger.Info("capability cache invalidated",
		slog.String("request_id", server.GetRequestID(r.Context())),
		slog.String("model", resp.Invalidated),
		slog.String("subject", server.GetSubject(r.Context())))

	writeJSON(w, resp)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	server.AddError(ctx, err)
	if errors.Is(err, context.Canceled) {
		return
	}
	classify.WriteError(w, err, server.GetRequestID(ctx))
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
