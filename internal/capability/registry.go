// Package capability resolves model identifiers to immutable capability
// descriptors and negotiates request options against them.
package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/dedup"
)

// DefaultCacheSize bounds the number of cached descriptors.
const DefaultCacheSize = 256

// Registry is the process-wide descriptor cache. Reads go to a concurrency
// safe LRU; a miss consults the Source once per model id no matter how many
// callers are waiting.
type Registry struct {
	mu     sync.RWMutex
	source Source

	cache   *lru.Cache[string, domain.Capabilities]
	flights dedup.Group[domain.Capabilities]

	// generation advances on every invalidation. A lookup that started
	// before an invalidation does not populate the cache.
	generation atomic.Uint64

	hits   atomic.Int64
	misses atomic.Int64

	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry over source with room for size entries.
func NewRegistry(source Source, size int, opts ...RegistryOption) (*Registry, error) {
	if source == nil {
		return nil, fmt.Errorf("capability source is required")
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, domain.Capabilities](size)
	if err != nil {
		return nil, fmt.Errorf("create capability cache: %w", err)
	}
	r := &Registry{source: source, cache: cache, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns a private copy of the descriptor for modelID.
func (r *Registry) Resolve(ctx context.Context, modelID string) (domain.Capabilities, error) {
	if caps, ok := r.cache.Get(modelID); ok {
		r.hits.Add(1)
		return caps.Clone(), nil
	}
	r.misses.Add(1)

	caps, shared, err := r.flights.Do(ctx, modelID, func(ctx context.Context) (domain.Capabilities, error) {
		gen := r.generation.Load()

		r.mu.RLock()
		src := r.source
		r.mu.RUnlock()

		caps, err := src.Lookup(ctx, modelID)
		if err != nil {
			return domain.Capabilities{}, err
		}
		if r.generation.Load() == gen {
			r.cache.Add(modelID, caps.Clone())
		}
		return caps, nil
	})
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound || errors.Is(err, context.Canceled) {
			return domain.Capabilities{}, err
		}
		return domain.Capabilities{}, domain.ErrInternal(fmt.Errorf("resolve %s: %w", modelID, err))
	}
	if shared {
		r.logger.Debug("capability lookup shared", slog.String("model", modelID))
	}
	return caps.Clone(), nil
}

// Invalidate drops modelID so the next Resolve reads the source again.
func (r *Registry) Invalidate(modelID string) {
	r.generation.Add(1)
	r.flights.Forget(modelID)
	r.cache.Remove(modelID)
	r.logger.Info("capability invalidated", slog.String("model", modelID))
}

// InvalidateAll empties the cache.
func (r *Registry) InvalidateAll() {
	r.generation.Add(1)
	for _, k := range r.cache.Keys() {
		r.flights.Forget(k)
	}
	r.cache.Purge()
	r.logger.Info("capability cache purged")
}

// SetSource swaps the backing source and purges the cache.
func (r *Registry) SetSource(source Source) {
	r.mu.Lock()
	r.source = source
	r.mu.Unlock()
	r.InvalidateAll()
}

// Len returns the number of cached descriptors.
func (r *Registry) Len() int { return r.cache.Len() }

// Stats returns cache hit and miss counts.
func (r *Registry) Stats() (hits, misses int64) {
	return r.hits.Load(), r.misses.Load()
}
