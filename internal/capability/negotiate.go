package capability

import (
	"fmt"
	"strings"

	"github.com/tjfontaine/completion-gateway/internal/core/domain"
)

// Negotiate computes the settings the adapter will actually use. Options
// the model cannot honor are dropped silently, except closed-set values
// (responseMode, reasoningEffort) that name something the model does not
// offer, which fail validation.
func Negotiate(req *domain.StreamRequest, caps domain.Capabilities) (domain.Effective, error) {
	if caps.Provider != req.Provider {
		return domain.Effective{}, domain.ErrNotFound(
			fmt.Sprintf("model %q is not available from provider %q", req.ModelID, req.Provider))
	}

	eff := domain.Effective{
		ResponseMode: req.Options.ResponseMode,
		MaxTimeoutMs: caps.MaxTimeoutMs,
	}

	if !responseModeAllowed(caps, eff.ResponseMode) {
		return domain.Effective{}, domain.ErrValidation("options.responseMode",
			fmt.Sprintf("responseMode must be one of: %s", strings.Join(modes(caps), ", ")))
	}

	if caps.SupportsReasoning {
		efforts := caps.ReasoningEfforts()
		effort := req.Options.ReasoningEffort
		switch {
		case contains(efforts, effort):
		case req.Options.EffortDefaulted:
			// A model without the default effort gets its first listed one.
			effort = efforts[0]
		default:
			return domain.Effective{}, domain.ErrValidation("options.reasoningEffort",
				fmt.Sprintf("reasoningEffort must be one of: %s", strings.Join(efforts, ", ")))
		}
		eff.Reasoning = true
		eff.ReasoningEffort = effort
	}

	if caps.SupportsThinking && req.Options.ThinkingBudget != nil {
		budget := *req.Options.ThinkingBudget
		if caps.MaxThinkingTokens != nil && budget > *caps.MaxThinkingTokens {
			budget = *caps.MaxThinkingTokens
		}
		eff.Thinking = true
		eff.ThinkingBudget = budget
	}

	eff.Background = req.Options.BackgroundMode && caps.SupportsBackgroundMode

	if req.Options.MaxOutputTokens != nil {
		eff.MaxOutputTokens = *req.Options.MaxOutputTokens
		if caps.MaxOutputTokens != nil && eff.MaxOutputTokens > *caps.MaxOutputTokens {
			eff.MaxOutputTokens = *caps.MaxOutputTokens
		}
	} else if caps.MaxOutputTokens != nil {
		eff.MaxOutputTokens = *caps.MaxOutputTokens
	}

	return eff, nil
}

// A descriptor without listed modes accepts only the default.
func responseModeAllowed(caps domain.Capabilities, mode string) bool {
	if len(caps.SupportedResponseModes) == 0 {
		return mode == domain.DefaultResponseMode
	}
	return caps.SupportsResponseMode(mode)
}

func modes(caps domain.Capabilities) []string {
	if len(caps.SupportedResponseModes) == 0 {
		return []string{domain.DefaultResponseMode}
	}
	return caps.SupportedResponseModes
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
