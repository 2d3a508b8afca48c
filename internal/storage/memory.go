package storage

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

// memoryStorage keeps objects in a map. It backs tests and the "memory"
// backend for dry runs, where nothing should outlive the process.
type memoryStorage struct {
	name    string
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStorage returns an empty in-process store named name.
func NewMemoryStorage(name string) *memoryStorage {
	return &memoryStorage{name: name, objects: map[string][]byte{}}
}

func (m *memoryStorage) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = bytes.Clone(data)
	m.mu.Unlock()
	return nil
}

func (m *memoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, notFound(key)
	}
	return bytes.Clone(data), nil
}

func (m *memoryStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *memoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok, nil
}

// List returns the keys starting with prefix in lexical order.
func (m *memoryStorage) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	keys := slices.Sorted(maps.Keys(m.objects))
	m.mu.RUnlock()
	return slices.DeleteFunc(keys, func(k string) bool { return !strings.HasPrefix(k, prefix) }), nil
}

func (m *memoryStorage) Name() string {
	return "memory:" + m.name
}
