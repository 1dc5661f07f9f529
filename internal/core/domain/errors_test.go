package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "message only",
			err:      ErrNotFound("unknown model"),
			expected: "NotFound: unknown model",
		},
		{
			name:     "with field",
			err:      ErrValidation("messages", "required"),
			expected: "ValidationFailed: required (field messages)",
		},
		{
			name:     "with cause",
			err:      ErrProviderUnavailable("upstream 502", 0, errors.New("bad gateway")),
			expected: "ProviderUnavailable: upstream 502: bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("resolve: %w", ErrNotFound("ghost"))
	if got := KindOf(wrapped); got != KindNotFound {
		t.Errorf("KindOf(wrapped) = %s, want NotFound", got)
	}
	if got := KindOf(errors.New("plain")); got != KindInternalError {
		t.Errorf("KindOf(plain) = %s, want InternalError", got)
	}
}

func TestProviderTimeout(t *testing.T) {
	err := ErrProviderTimeout(2*time.Second, nil)
	if err.Kind != KindProviderUnavailable {
		t.Errorf("Kind = %s, want ProviderUnavailable", err.Kind)
	}
	if !IsTimeout(fmt.Errorf("wrap: %w", err)) {
		t.Error("IsTimeout = false, want true")
	}
	if IsTimeout(ErrProviderUnavailable("down", 0, nil)) {
		t.Error("IsTimeout(unavailable) = true, want false")
	}
}

func TestCapabilitiesClone(t *testing.T) {
	max := 1024
	c := Capabilities{
		ModelID:           "m",
		SupportedTools:    []string{ToolWebSearch},
		MaxThinkingTokens: &max,
	}
	cp := c.Clone()
	cp.SupportedTools[0] = "mutated"
	*cp.MaxThinkingTokens = 1

	if c.SupportedTools[0] != ToolWebSearch {
		t.Errorf("clone shares SupportedTools")
	}
	if *c.MaxThinkingTokens != 1024 {
		t.Errorf("clone shares MaxThinkingTokens")
	}
}

func TestReasoningEfforts(t *testing.T) {
	if got := (Capabilities{}).ReasoningEfforts(); got != nil {
		t.Errorf("no reasoning: got %v, want nil", got)
	}
	got := Capabilities{SupportsReasoning: true}.ReasoningEfforts()
	if len(got) != 3 {
		t.Errorf("default efforts = %v", got)
	}
}
