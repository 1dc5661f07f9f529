// Package tools builds provider-native descriptors for the hosted tools a
// caller can switch on.
package tools

import (
	"log/slog"
	"sync"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
)

// Provider families with native tool support.
const (
	FamilyOpenAI    = "openai"
	FamilyAnthropic = "anthropic"
	FamilyGemini    = "gemini"
)

// Builder returns the native descriptor for a canonical tool name, or false
// if the family has no such tool.
type Builder func(name string, cfg config.ToolsConfig) (map[string]any, bool)

var builders = map[string]Builder{
	FamilyOpenAI:    openAITool,
	FamilyAnthropic: anthropicTool,
	FamilyGemini:    geminiTool,
}

// Attacher resolves provider names to families and builds tool sets.
type Attacher struct {
	mu       sync.RWMutex
	families map[string]string
	cfg      config.ToolsConfig
	logger   *slog.Logger
}

// NewAttacher creates an attacher. families maps a configured provider name
// to its family.
func NewAttacher(families map[string]string, cfg config.ToolsConfig, logger *slog.Logger) *Attacher {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Attacher{cfg: cfg, logger: logger}
	a.Reload(families, cfg)
	return a
}

// Reload replaces the provider mapping and tool settings.
func (a *Attacher) Reload(families map[string]string, cfg config.ToolsConfig) {
	fams := make(map[string]string, len(families))
	for k, v := range families {
		fams[k] = v
	}
	a.mu.Lock()
	a.families = fams
	a.cfg = cfg
	a.mu.Unlock()
}

// Attach returns the native descriptors for the enabled tools the model
// supports. Unsupported tools are left out; a provider without native tools
// yields an empty set. It never fails.
func (a *Attacher) Attach(provider string, caps domain.Capabilities, enabled []string) domain.ToolSet {
	set := domain.ToolSet{}
	if len(enabled) == 0 {
		return set
	}

	a.mu.RLock()
	family, ok := a.families[provider]
	cfg := a.cfg
	a.mu.RUnlock()
	if !ok {
		family = provider
	}
	build, ok := builders[family]
	if !ok {
		return set
	}

	seen := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		if seen[name] {
			continue
		}
		seen[name] = true
		if !caps.SupportsTool(name) {
			a.logger.Debug("tool not supported by model",
				slog.String("tool", name),
				slog.String("model", caps.ModelID))
			continue
		}
		spec, ok := build(name, cfg)
		if !ok {
			continue
		}
		set = append(set, domain.Tool{Name: name, Spec: spec})
	}
	return set
}

func openAITool(name string, cfg config.ToolsConfig) (map[string]any, bool) {
	switch name {
	case domain.ToolWebSearch:
		tool := map[string]any{"type": "web_search"}
		if len(cfg.WebSearch.AllowedDomains) > 0 {
			tool["filters"] = map[string]any{"allowed_domains": cfg.WebSearch.AllowedDomains}
		}
		return tool, true
	case domain.ToolCodeInterpreter:
		container := cfg.CodeInterpreter.Container
		if container == "" {
			container = "auto"
		}
		return map[string]any{"type": "code_interpreter", "container": map[string]any{"type": container}}, true
	case domain.ToolImageGeneration:
		model := cfg.ImageGeneration.Model
		if model == "" {
			model = "gpt-image-1"
		}
		return map[string]any{"type": "image_generation", "model": model}, true
	}
	return nil, false
}

func anthropicTool(name string, cfg config.ToolsConfig) (map[string]any, bool) {
	switch name {
	case domain.ToolWebSearch:
		tool := map[string]any{"type": "web_search_20250305", "name": "web_search"}
		if cfg.WebSearch.MaxUses > 0 {
			tool["max_uses"] = cfg.WebSearch.MaxUses
		}
		if len(cfg.WebSearch.AllowedDomains) > 0 {
			tool["allowed_domains"] = cfg.WebSearch.AllowedDomains
		}
		return tool, true
	case domain.ToolCodeInterpreter:
		return map[string]any{"type": "code_execution_20250522", "name": "code_execution"}, true
	}
	return nil, false
}

func geminiTool(name string, _ config.ToolsConfig) (map[string]any, bool) {
	switch name {
	case domain.ToolWebSearch:
		return map[string]any{"google_search": map[string]any{}}, true
	case domain.ToolCodeInterpreter:
		return map[string]any{"code_execution": map[string]any{}}, true
	}
	return nil, false
}
