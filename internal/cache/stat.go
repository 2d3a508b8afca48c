package cache

import (
	"sort"
	"sync"

	"github.com/civilservant/gratsample/internal/metrics"
	"go.uber.org/zap"
)

// Counts are the lookups of one namespace
type Counts struct {
	Hits   uint64
	Misses uint64
}

// Stat tracks cache statistics per namespace
type Stat struct {
	mu      sync.Mutex
	byNS    map[string]*Counts
	metrics *metrics.Metrics
}

// NewStat creates a stat tracker; m may be nil
func NewStat(m *metrics.Metrics) *Stat {
	return &Stat{byNS: map[string]*Counts{}, metrics: m}
}

func (s *Stat) counts(ns string) *Counts {
	c, ok := s.byNS[ns]
	if !ok {
		c = &Counts{}
		s.byNS[ns] = c
	}
	return c
}

// IncrementHit increments the hit counter of ns
func (s *Stat) IncrementHit(ns string) {
	s.mu.Lock()
	s.counts(ns).Hits++
	s.mu.Unlock()
	s.metrics.CacheResult(ns, "hit")
}

// IncrementMiss increments the miss counter of ns
func (s *Stat) IncrementMiss(ns string) {
	s.mu.Lock()
	s.counts(ns).Misses++
	s.mu.Unlock()
	s.metrics.CacheResult(ns, "miss")
}

// Snapshot returns a copy of the counters
func (s *Stat) Snapshot() map[string]Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counts, len(s.byNS))
	for ns, c := range s.byNS {
		out[ns] = *c
	}
	return out
}

// Log writes one line per namespace, sorted by name
func (s *Stat) Log(logger *zap.Logger) {
	snap := s.Snapshot()
	names := make([]string, 0, len(snap))
	for ns := range snap {
		names = append(names, ns)
	}
	sort.Strings(names)
	for _, ns := range names {
		c := snap[ns]
		total := c.Hits + c.Misses
		ratio := 0.0
		if total > 0 {
			ratio = 100 * float64(c.Hits) / float64(total)
		}
		logger.Info("cache stats",
			zap.String("namespace", ns),
			zap.Uint64("hit", c.Hits),
			zap.Uint64("miss", c.Misses),
			zap.Float64("hit_ratio", ratio),
		)
	}
}
