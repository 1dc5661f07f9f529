package controlplane

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/storage/memory"
)

type fakeCatalog struct {
	invalidated []string
	purged      int
	cached      int
}

func (c *fakeCatalog) Invalidate(id string)        { c.invalidated = append(c.invalidated, id); c.cached-- }
func (c *fakeCatalog) InvalidateAll()              { c.purged++; c.cached = 0 }
func (c *fakeCatalog) Len() int                    { return c.cached }
func (c *fakeCatalog) Stats() (hits, misses int64) { return 7, 2 }

func newTestServer(t *testing.T) (*Server, *memory.Store, *fakeCatalog) {
	t.Helper()
	store := memory.New()
	catalog := &fakeCatalog{cached: 3}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(store, catalog, func() int { return 4 }, logger), store, catalog
}

func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestHandleStats(t *testing.T) {
	s, _, _ := newTestServer(t)
	rec := serve(s, http.MethodGet, "/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.ActiveSessions != 4 {
		t.Errorf("active_sessions = %d, want 4", stats.ActiveSessions)
	}
	if stats.Capabilities != (CatalogStats{Cached: 3, Hits: 7, Misses: 2}) {
		t.Errorf("capabilities = %+v", stats.Capabilities)
	}
}

func TestSessions(t *testing.T) {
	s, store, _ := newTestServer(t)
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)
	for i, id := range []string{"r1", "r2"} {
		_ = store.SaveSession(ctx, &domain.SessionRecord{
			RequestID: id,
			Provider:  "openai",
			ModelID:   "gpt-5-mini",
			Status:    domain.StatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Second),
			EndedAt:   base.Add(time.Duration(i)*time.Second + 250*time.Millisecond),
			Monitor:   domain.MonitorSummary{HasErrors: id == "r2"},
		})
	}

	rec := serve(s, http.MethodGet, "/sessions?limit=10", "")
	var list SessionListResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(list.Sessions))
	}
	if list.Sessions[0].RequestID != "r2" || !list.Sessions[0].HasErrors {
		t.Errorf("first session = %+v, want r2 with errors", list.Sessions[0])
	}
	if list.Sessions[1].DurationMs != 250 {
		t.Errorf("duration_ms = %d, want 250", list.Sessions[1].DurationMs)
	}

	rec = serve(s, http.MethodGet, "/sessions/r1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}

	rec = serve(s, http.MethodGet, "/sessions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", rec.Code)
	}
}

func TestHandleInvalidate(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		status      int
		invalidated string
	}{
		{"one model", `{"modelId":"gpt-5-mini"}`, http.StatusOK, "gpt-5-mini"},
		{"empty body", ``, http.StatusOK, "all"},
		{"empty object", `{}`, http.StatusOK, "all"},
		{"malformed", `{"modelId":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, catalog := newTestServer(t)
			rec := serve(s, http.MethodPost, "/capabilities/invalidate", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				if len(catalog.invalidated) != 0 || catalog.purged != 0 {
					t.Error("cache touched on a rejected request")
				}
				return
			}
			var resp InvalidateResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Invalidated != tt.invalidated {
				t.Errorf("invalidated = %q, want %q", resp.Invalidated, tt.invalidated)
			}
		})
	}
}

func TestNoStore(t *testing.T) {
	s := NewServer(nil, nil, nil, nil)
	if rec := serve(s, http.MethodGet, "/sessions", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("sessions status = %d", rec.Code)
	}
	if rec := serve(s, http.MethodPost, "/capabilities/invalidate", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("invalidate status = %d", rec.Code)
	}
}
