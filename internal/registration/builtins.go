// Package registration links the built-in provider adapters into a binary.
// Each adapter package registers its factory when imported.
package registration

import (
	"github.com/tjfontaine/completion-gateway/internal/provider"

	_ "github.com/tjfontaine/completion-gateway/internal/provider/anthropic"
	_ "github.com/tjfontaine/completion-gateway/internal/provider/gemini"
	_ "github.com/tjfontaine/completion-gateway/internal/provider/openai"
)

// Builtins lists the registered provider families. Importing this package
// is what registers them; callers use the result to log or validate config.
func Builtins() []string {
	return provider.Families()
}
