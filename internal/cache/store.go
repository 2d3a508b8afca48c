package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/civilservant/gratsample/internal/encrypt"
	"github.com/civilservant/gratsample/internal/metrics"
	"github.com/civilservant/gratsample/internal/storage"
	"github.com/civilservant/gratsample/internal/table"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StoreCache implements TableCache on top of a storage.Storage. With the
// file backend the entry for (namespace, key) lives at {root}/{namespace}/{key}.
type StoreCache struct {
	store  storage.Storage
	secret []byte
	hot    *memoryTier
	flight singleflight.Group
	stat   *Stat
	logger *zap.Logger
}

// Option configures a StoreCache
type Option struct {
	Secret        []byte
	MemoryTierMax int64
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// WithSecret seals payloads with AES-GCM
func WithSecret(secret []byte) func(*Option) {
	return func(o *Option) { o.Secret = secret }
}

// WithMemoryTier keeps up to maxRows rows of decoded tables in memory
func WithMemoryTier(maxRows int64) func(*Option) {
	return func(o *Option) { o.MemoryTierMax = maxRows }
}

// WithMetrics exports hit/miss counters
func WithMetrics(m *metrics.Metrics) func(*Option) {
	return func(o *Option) { o.Metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) func(*Option) {
	return func(o *Option) { o.Logger = logger }
}

// New creates a StoreCache over store
func New(store storage.Storage, opts ...func(*Option)) (*StoreCache, error) {
	option := &Option{}
	for _, opt := range opts {
		opt(option)
	}
	logger := option.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &StoreCache{
		store:  store,
		secret: option.Secret,
		stat:   NewStat(option.Metrics),
		logger: logger.Named("cache"),
	}
	if option.MemoryTierMax > 0 {
		hot, err := newMemoryTier(option.MemoryTierMax)
		if err != nil {
			return nil, fmt.Errorf("failed to create memory tier: %w", err)
		}
		c.hot = hot
	}
	return c, nil
}

// Take implements TableCache
func (c *StoreCache) Take(ctx context.Context, namespace, key string, loader func() (*table.Table, error)) (*table.Table, error) {
	if err := storage.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	storageKey := storage.MakeKey(namespace, key)

	if t, ok := c.hot.get(storageKey); ok {
		c.stat.IncrementHit(namespace)
		return t, nil
	}

	// Concurrent misses on the same key share one loader call
	v, err, shared := c.flight.Do(storageKey, func() (any, error) {
		return c.take(ctx, namespace, storageKey, loader)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		// each waiter gets its own copy, as hot-tier hits do
		return v.(*table.Table).Clone(), nil
	}
	return v.(*table.Table), nil
}

func (c *StoreCache) take(ctx context.Context, namespace, storageKey string, loader func() (*table.Table, error)) (*table.Table, error) {
	if p, ok := c.store.(storage.Preparer); ok {
		if err := p.Prepare(ctx, namespace); err != nil {
			return nil, err
		}
	}

	data, err := c.store.Get(ctx, storageKey)
	switch {
	case err == nil:
		t, err := c.decode(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, storageKey, err)
		}
		c.stat.IncrementHit(namespace)
		c.hot.set(storageKey, t)
		return t, nil
	case errors.Is(err, storage.ErrNotFound):
		// miss
	default:
		return nil, fmt.Errorf("cache read %s: %w", storageKey, err)
	}

	c.stat.IncrementMiss(namespace)
	t, err := loader()
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("cache: loader for %s returned a nil table", storageKey)
	}

	payload, err := c.encode(t)
	if err != nil {
		return nil, fmt.Errorf("cache encode %s: %w", storageKey, err)
	}
	if err := c.store.Put(ctx, storageKey, payload); err != nil {
		return nil, fmt.Errorf("cache write %s: %w", storageKey, err)
	}
	c.logger.Debug("cache entry written",
		zap.String("namespace", namespace),
		zap.String("key", storageKey),
		zap.Int("rows", t.Len()),
		zap.Int("bytes", len(payload)),
	)
	c.hot.set(storageKey, t)
	return t, nil
}

func (c *StoreCache) encode(t *table.Table) ([]byte, error) {
	data, err := table.Encode(t)
	if err != nil {
		return nil, err
	}
	return encrypt.Seal(data, c.secret)
}

func (c *StoreCache) decode(payload []byte) (*table.Table, error) {
	data, err := encrypt.Open(payload, c.secret)
	if err != nil {
		return nil, err
	}
	return table.Decode(data)
}

// Stat returns the hit/miss tracker
func (c *StoreCache) Stat() *Stat { return c.stat }

// Storage returns the backing store
func (c *StoreCache) Storage() storage.Storage { return c.store }

// Close releases the memory tier
func (c *StoreCache) Close() {
	c.hot.close()
}
