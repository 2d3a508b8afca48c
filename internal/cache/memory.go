package cache

import (
	"github.com/civilservant/gratsample/internal/table"
	"github.com/dgraph-io/ristretto/v2"
)

// memoryTier is an in-process front for a StoreCache. Entries are never
// stale because stored entries never change; eviction only bounds memory.
// Cost is measured in rows.
type memoryTier struct {
	c *ristretto.Cache[string, *table.Table]
}

func newMemoryTier(maxRows int64) (*memoryTier, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, *table.Table]{
		NumCounters:        10 * maxRows,
		MaxCost:            maxRows,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &memoryTier{c: c}, nil
}

func (m *memoryTier) get(key string) (*table.Table, bool) {
	if m == nil {
		return nil, false
	}
	t, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

func (m *memoryTier) set(key string, t *table.Table) {
	if m == nil {
		return
	}
	m.c.Set(key, t.Clone(), int64(t.Len())+1)
}

func (m *memoryTier) wait() {
	if m != nil {
		m.c.Wait()
	}
}

func (m *memoryTier) close() {
	if m != nil {
		m.c.Close()
	}
}
