package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

// SettingKey is the Redis key holding the shared settings patch.
const SettingKey = "gratsample.setting"

// Manager manages settings shared by every run of a team, stored in Redis
// as a JSON merge patch (for example the storage backend and its secret).
type Manager struct {
	rdb    *redis.Client
	flight singleflight.Group
}

// NewManager creates a new config manager
func NewManager(rdb *redis.Client) *Manager {
	return &Manager{rdb: rdb}
}

// NewManagerWithURL connects to the Redis server at url.
func NewManagerWithURL(url string) (*Manager, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse shared settings url: %w", err)
	}
	return NewManager(redis.NewClient(opt)), nil
}

// Load returns the shared patch, or nil when none is stored.
func (m *Manager) Load(ctx context.Context) ([]byte, error) {
	v, err, _ := m.flight.Do(SettingKey, func() (interface{}, error) {
		data, err := m.rdb.Get(ctx, SettingKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read shared settings from Redis: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Save stores patch as the shared settings.
func (m *Manager) Save(ctx context.Context, patch []byte) error {
	if !gjson.ValidBytes(patch) || !gjson.ParseBytes(patch).IsObject() {
		return fmt.Errorf("%w: shared settings must be a JSON object", ErrMissing)
	}
	if err := m.rdb.Set(ctx, SettingKey, patch, 0).Err(); err != nil {
		return fmt.Errorf("failed to save shared settings to Redis: %w", err)
	}
	return nil
}

// Apply merges the shared settings into cfg, re-applies the command-line
// overrides on top and validates again.
func (m *Manager) Apply(ctx context.Context, cfg *Config, overrides ...string) error {
	patch, err := m.Load(ctx)
	if err != nil {
		return err
	}
	if patch != nil {
		if err := cfg.Patch(patch); err != nil {
			return err
		}
	}
	for _, o := range overrides {
		if err := cfg.Patch([]byte(o)); err != nil {
			return err
		}
	}
	return cfg.Validate()
}

func (m *Manager) Close() error {
	return m.rdb.Close()
}
