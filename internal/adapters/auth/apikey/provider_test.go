package apikey

import (
	"context"
	"strings"
	"testing"

	"github.com/tjfontaine/completion-gateway/internal/core/ports"
	"github.com/tjfontaine/completion-gateway/internal/pkg/config"
)

var _ ports.IdentityVerifier = (*Provider)(nil)

func TestVerify(t *testing.T) {
	p, err := NewProvider(config.AuthConfig{APIKeys: []config.APIKeyConfig{
		{KeyHash: HashAPIKey("sk-alpha"), Subject: "svc-alpha"},
		{KeyHash: strings.ToUpper(HashAPIKey("sk-beta"))},
	}})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if !p.Enabled() {
		t.Fatal("Enabled() = false")
	}

	tests := []struct {
		credential string
		want       string
	}{
		{"Bearer sk-alpha", "svc-alpha"},
		{"sk-alpha", "svc-alpha"},
		{"Bearer sk-beta", HashAPIKey("sk-beta")[:12]},
		{"Bearer sk-unknown", ""},
		{"Bearer ", ""},
	}
	for _, tt := range tests {
		got, err := p.Verify(context.Background(), tt.credential)
		if err != nil {
			t.Fatalf("Verify(%q) error = %v", tt.credential, err)
		}
		if got != tt.want {
			t.Errorf("Verify(%q) = %q, want %q", tt.credential, got, tt.want)
		}
	}
}

func TestNewProviderRejectsBadHash(t *testing.T) {
	_, err := NewProvider(config.AuthConfig{APIKeys: []config.APIKeyConfig{{KeyHash: "abc"}}})
	if err == nil {
		t.Fatal("expected error for short key hash")
	}
}

func TestReloadKeepsOldKeysOnError(t *testing.T) {
	p, _ := NewProvider(config.AuthConfig{APIKeys: []config.APIKeyConfig{
		{KeyHash: HashAPIKey("sk-alpha"), Subject: "svc-alpha"},
	}})

	bad := &config.Config{Auth: config.AuthConfig{APIKeys: []config.APIKeyConfig{{KeyHash: "zz"}}}}
	if err := p.ReloadFromConfig(bad); err == nil {
		t.Fatal("expected reload error")
	}
	if got, _ := p.Verify(context.Background(), "sk-alpha"); got != "svc-alpha" {
		t.Errorf("after failed reload Verify() = %q", got)
	}

	if err := p.ReloadFromConfig(&config.Config{}); err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if p.Enabled() {
		t.Error("Enabled() = true after clearing keys")
	}
}
