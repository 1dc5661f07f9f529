// Package memory is an in-process ports.StorageProvider for tests and
// deployments without persistent storage.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/core/ports"
)

// DefaultMaxSessions bounds the retained session records.
const DefaultMaxSessions = 1000

// Store keeps identities and the most recent session records in memory.
type Store struct {
	mu          sync.RWMutex
	identities  map[string]*domain.Identity
	sessions    map[string]*domain.SessionRecord
	order       []string
	maxSessions int
}

var _ ports.StorageProvider = (*Store)(nil)

func New() *Store {
	return &Store{
		identities:  make(map[string]*domain.Identity),
		sessions:    make(map[string]*domain.SessionRecord),
		maxSessions: DefaultMaxSessions,
	}
}

func (s *Store) ResolveIdentity(ctx context.Context, subject string) (*domain.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	id, ok := s.identities[subject]
	if !ok {
		id = &domain.Identity{Subject: subject, UserID: subject, CreatedAt: now}
		s.identities[subject] = id
	}
	id.LastSeen = now
	out := *id
	return &out, nil
}

// SaveSession stores a copy of rec. The oldest records are evicted past
// the retention limit.
func (s *Store) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if _, exists := s.sessions[rec.RequestID]; !exists {
		s.order = append(s.order, rec.RequestID)
	}
	s.sessions[rec.RequestID] = &cp

	for len(s.order) > s.maxSessions {
		delete(s.sessions, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, requestID string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.sessions[requestID]
	if !ok {
		return nil, domain.ErrNotFound(fmt.Sprintf("session %s not found", requestID))
	}
	cp := *rec
	return &cp, nil
}

// ListSessions returns the most recent sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}
