// Package cache implements get-or-compute caching of tables.
//
// An entry is identified by (namespace, key) and, once written, is
// immutable: it is never invalidated or recomputed. Only a missing entry is
// a miss; an entry that exists but cannot be decoded is reported as
// ErrCorrupt and the loader is not called.
package cache

import (
	"context"
	"errors"

	"github.com/civilservant/gratsample/internal/table"
)

// ErrCorrupt marks a stored payload that exists but cannot be decoded.
var ErrCorrupt = errors.New("cache: corrupt entry")

// TableCache is a get-or-compute cache for tables
type TableCache interface {
	// Take returns the table stored under (namespace, key).
	// If absent, calls loader, stores its result and returns it.
	Take(ctx context.Context, namespace, key string, loader func() (*table.Table, error)) (*table.Table, error)
}

// NoOpCache always calls the loader (no caching)
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

// Take always calls the loader
func (c *NoOpCache) Take(ctx context.Context, namespace, key string, loader func() (*table.Table, error)) (*table.Table, error) {
	return loader()
}
