// Package sqlite provides the SQLite storage adapter for the gateway.
package sqlite

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tjfontaine/completion-gateway/internal/core/ports"
	"github.com/tjfontaine/completion-gateway/internal/storage/sqlite"
)

// Provider implements ports.StorageProvider using SQLite.
type Provider struct {
	*sqlite.Store
}

// NewProvider opens the database file at path, creating its directory if
// needed.
func NewProvider(path string) (*Provider, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	store, err := sqlite.New(path)
	if err != nil {
		return nil, err
	}
	return &Provider{Store: store}, nil
}

var _ ports.StorageProvider = (*Provider)(nil)
