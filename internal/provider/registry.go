package provider

import (
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
)

// Factory builds an adapter of one provider family from configuration.
// Each adapter package registers one from init().
type Factory struct {
	Family      string
	Description string
	Create      func(cfg config.ProviderConfig, client *http.Client) (Adapter, error)
}

var (
	factoryMu  sync.RWMutex
	factoryMap = make(map[string]Factory)
)

// RegisterFactory registers f. Panics on an empty or duplicate family.
func RegisterFactory(f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if f.Family == "" {
		panic("provider factory family cannot be empty")
	}
	if f.Create == nil {
		panic(fmt.Sprintf("provider factory %q must have a Create function", f.Family))
	}
	if _, exists := factoryMap[f.Family]; exists {
		panic(fmt.Sprintf("provider factory %q already registered", f.Family))
	}
	factoryMap[f.Family] = f
}

// Families lists registered families in order.
func Families() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factoryMap))
	for k := range factoryMap {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Set is the adapters available to the engine, keyed by configured
// provider name.
type Set struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewSet returns a set holding adapters.
func NewSet(adapters ...Adapter) *Set {
	s := &Set{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		s.adapters[a.Name()] = a
	}
	return s
}

// Build creates one adapter per configured provider.
func Build(cfgs []config.ProviderConfig, client *http.Client) (*Set, error) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	s := &Set{adapters: make(map[string]Adapter, len(cfgs))}
	for _, cfg := range cfgs {
		f, ok := factoryMap[cfg.Type]
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown type %q", cfg.Name, cfg.Type)
		}
		if _, dup := s.adapters[cfg.Name]; dup {
			return nil, fmt.Errorf("provider %s declared twice", cfg.Name)
		}
		a, err := f.Create(cfg, client)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		s.adapters[cfg.Name] = a
	}
	return s, nil
}

// Get returns the adapter registered under name.
func (s *Set) Get(name string) (Adapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.adapters[name]
	return a, ok
}

// Replace swaps in the adapters of other.
func (s *Set) Replace(other *Set) {
	other.mu.RLock()
	next := make(map[string]Adapter, len(other.adapters))
	for k, v := range other.adapters {
		next[k] = v
	}
	other.mu.RUnlock()

	s.mu.Lock()
	s.adapters = next
	s.mu.Unlock()
}

// Families maps each provider name to its adapter family.
func (s *Set) Families() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.adapters))
	for name, a := range s.adapters {
		out[name] = a.Family()
	}
	return out
}
