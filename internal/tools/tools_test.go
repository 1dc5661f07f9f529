package tools

import (
	"reflect"
	"testing"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
)

func TestAttach(t *testing.T) {
	a := NewAttacher(map[string]string{
		"openai":    FamilyOpenAI,
		"claude":    FamilyAnthropic,
		"gemini":    FamilyGemini,
		"local-llm": "ollama",
	}, config.ToolsConfig{}, nil)

	all := []string{domain.ToolWebSearch, domain.ToolCodeInterpreter, domain.ToolImageGeneration}
	everything := domain.Capabilities{ModelID: "m", SupportedTools: all}

	tests := []struct {
		name     string
		provider string
		caps     domain.Capabilities
		enabled  []string
		want     []string
	}{
		{name: "empty enabled list", provider: "openai", caps: everything, enabled: nil, want: []string{}},
		{name: "openai supports all", provider: "openai", caps: everything, enabled: all, want: all},
		{name: "model lacks web search", provider: "openai",
			caps:    domain.Capabilities{ModelID: "m", SupportedTools: []string{domain.ToolCodeInterpreter}},
			enabled: []string{domain.ToolWebSearch}, want: []string{}},
		{name: "anthropic has no image generation", provider: "claude", caps: everything, enabled: all,
			want: []string{domain.ToolWebSearch, domain.ToolCodeInterpreter}},
		{name: "provider without native tools", provider: "local-llm", caps: everything, enabled: all, want: []string{}},
		{name: "unknown tool name", provider: "gemini", caps: everything, enabled: []string{"teleport"}, want: []string{}},
		{name: "duplicates collapse", provider: "gemini", caps: everything,
			enabled: []string{domain.ToolWebSearch, domain.ToolWebSearch}, want: []string{domain.ToolWebSearch}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := a.Attach(tt.provider, tt.caps, tt.enabled)
			if set == nil {
				t.Fatal("Attach() returned nil set")
			}
			if got := set.Names(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Attach() names = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAttachNativeShapes(t *testing.T) {
	cfg := config.ToolsConfig{
		WebSearch:       config.WebSearchConfig{AllowedDomains: []string{"go.dev"}, MaxUses: 3},
		ImageGeneration: config.ImageGenerationConfig{Model: "gpt-image-1-mini"},
	}
	a := NewAttacher(map[string]string{"openai": FamilyOpenAI, "anthropic": FamilyAnthropic}, cfg, nil)
	caps := domain.Capabilities{SupportedTools: []string{domain.ToolWebSearch, domain.ToolCodeInterpreter, domain.ToolImageGeneration}}

	oa := a.Attach("openai", caps, []string{domain.ToolCodeInterpreter, domain.ToolImageGeneration})
	if got := oa[0].Spec["container"]; !reflect.DeepEqual(got, map[string]any{"type": "auto"}) {
		t.Errorf("code_interpreter container = %v", got)
	}
	if got := oa[1].Spec["model"]; got != "gpt-image-1-mini" {
		t.Errorf("image_generation model = %v", got)
	}

	an := a.Attach("anthropic", caps, []string{domain.ToolWebSearch})
	if an[0].Spec["type"] != "web_search_20250305" || an[0].Spec["max_uses"] != 3 {
		t.Errorf("anthropic web search = %v", an[0].Spec)
	}
}
