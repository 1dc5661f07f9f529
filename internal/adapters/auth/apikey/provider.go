// Package apikey provides API key-based caller verification.
package apikey

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
)

// Provider implements ports.IdentityVerifier by matching the sha256 of a
// bearer token against configured key hashes.
type Provider struct {
	mu       sync.RWMutex
	subjects map[string]string // keyHash -> subject
}

// NewProvider creates a verifier from the configured keys.
func NewProvider(cfg config.AuthConfig) (*Provider, error) {
	p := &Provider{}
	if err := p.load(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Enabled reports whether any keys are configured. The gateway runs
// anonymously when none are.
func (p *Provider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subjects) > 0
}

// Verify returns the subject owning credential. Unknown keys yield an empty
// subject and no error.
func (p *Provider) Verify(ctx context.Context, credential string) (string, error) {
	token := strings.TrimSpace(strings.TrimPrefix(credential, "Bearer "))
	if token == "" {
		return "", nil
	}
	keyHash := HashAPIKey(token)

	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.subjects[keyHash], nil
}

func (p *Provider) load(cfg config.AuthConfig) error {
	subjects := make(map[string]string, len(cfg.APIKeys))
	for i, k := range cfg.APIKeys {
		hash := strings.ToLower(strings.TrimSpace(k.KeyHash))
		if len(hash) != sha256.Size*2 {
			return fmt.Errorf("api_keys[%d]: key_hash must be a hex sha256 digest", i)
		}
		if _, err := hex.DecodeString(hash); err != nil {
			return fmt.Errorf("api_keys[%d]: %w", i, err)
		}
		subject := k.Subject
		if subject == "" {
			subject = hash[:12]
		}
		subjects[hash] = subject
	}

	p.mu.Lock()
	p.subjects = subjects
	p.mu.Unlock()
	return nil
}

// ReloadFromConfig swaps in the keys from a new configuration. The old keys
// stay active if the new set is invalid.
func (p *Provider) ReloadFromConfig(cfg *config.Config) error {
	return p.load(cfg.Auth)
}

// HashAPIKey creates a SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
