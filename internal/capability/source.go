package capability

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// Source is where descriptors come from on a cache miss. Lookup returns a
// NotFound domain error for unknown models.
type Source interface {
	Lookup(ctx context.Context, modelID string) (domain.Capabilities, error)
}

// Validate checks that a descriptor is usable.
func Validate(c domain.Capabilities) error {
	if c.ModelID == "" {
		return errors.New("model_id is required")
	}
	if c.Provider == "" {
		return fmt.Errorf("model %s: provider is required", c.ModelID)
	}
	if c.MaxTimeoutMs <= 0 {
		return fmt.Errorf("model %s: max_timeout_ms must be positive", c.ModelID)
	}
	if c.MaxThinkingTokens != nil && *c.MaxThinkingTokens <= 0 {
		return fmt.Errorf("model %s: max_thinking_tokens must be positive", c.ModelID)
	}
	return nil
}

func notFound(modelID string) error {
	return domain.ErrNotFound(fmt.Sprintf("model %q is not available", modelID))
}

// StaticSource serves a fixed set of descriptors, typically from the inline
// models section of the configuration.
type StaticSource struct {
	models map[string]domain.Capabilities
}

// NewStaticSource validates and indexes models by id.
func NewStaticSource(models []domain.Capabilities) (*StaticSource, error) {
	s := &StaticSource{models: make(map[string]domain.Capabilities, len(models))}
	for _, m := range models {
		if err := Validate(m); err != nil {
			return nil, err
		}
		if _, dup := s.models[m.ModelID]; dup {
			return nil, fmt.Errorf("model %s declared twice", m.ModelID)
		}
		s.models[m.ModelID] = m.Clone()
	}
	return s, nil
}

func (s *StaticSource) Lookup(_ context.Context, modelID string) (domain.Capabilities, error) {
	m, ok := s.models[modelID]
	if !ok {
		return domain.Capabilities{}, notFound(modelID)
	}
	return m.Clone(), nil
}

// catalogFile is the on-disk shape of a capability catalog.
type catalogFile struct {
	Models []domain.Capabilities `yaml:"models"`
}

// FileSource reads a YAML catalog on every lookup. The registry cache sits in
// front of it, so an edited catalog is picked up after invalidation.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Path returns the catalog location.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Lookup(_ context.Context, modelID string) (domain.Capabilities, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Capabilities{}, notFound(modelID)
		}
		return domain.Capabilities{}, fmt.Errorf("read catalog %s: %w", s.path, err)
	}

	var cat catalogFile
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return domain.Capabilities{}, fmt.Errorf("parse catalog %s: %w", s.path, err)
	}
	for _, m := range cat.Models {
		if m.ModelID != modelID {
			continue
		}
		if err := Validate(m); err != nil {
			return domain.Capabilities{}, fmt.Errorf("catalog %s: %w", s.path, err)
		}
		return m, nil
	}
	return domain.Capabilities{}, notFound(modelID)
}

// ChainSource tries each source in order and returns the first hit. Errors
// other than NotFound stop the chain.
type ChainSource []Source

func (c ChainSource) Lookup(ctx context.Context, modelID string) (domain.Capabilities, error) {
	for _, s := range c {
		caps, err := s.Lookup(ctx, modelID)
		if err == nil {
			return caps, nil
		}
		if domain.KindOf(err) != domain.KindNotFound {
			return domain.Capabilities{}, err
		}
	}
	return domain.Capabilities{}, notFound(modelID)
}
