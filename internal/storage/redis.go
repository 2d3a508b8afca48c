package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "gratsample_cache:"

// RedisStorage implements Storage on a Redis keyspace. Entries are stored
// without TTL: cache entries are immutable and never expire.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisConfig holds Redis storage configuration
type RedisConfig struct {
	URL    string `yaml:"url" json:"url"` // e.g. redis://localhost:6379/2
	Prefix string `yaml:"prefix" json:"prefix"`
}

// NewRedisStorage wraps an existing client
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStorage{client: client, prefix: prefix}
}

// NewRedisStorageWithURL creates Redis storage from URL
func NewRedisStorageWithURL(cfg RedisConfig) (*RedisStorage, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return NewRedisStorage(redis.NewClient(opt), cfg.Prefix), nil
}

func (s *RedisStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStorage) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStorage) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStorage) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List scans the keyspace; glob metacharacters in prefix are escaped.
func (s *RedisStorage) List(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(s.prefix+prefix) + "*"
	keys := []string{}
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 500).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		for _, k := range batch {
			keys = append(keys, strings.TrimPrefix(k, s.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *RedisStorage) Name() string {
	return "redis:" + s.client.Options().Addr + "/" + s.prefix
}

// Ping checks connectivity
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
