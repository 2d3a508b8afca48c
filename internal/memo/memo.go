// Package memo composes a table-producing function with a TableCache.
//
//	spans := memo.Wrap(c, "spans", source.EditSpans)
//	t, err := spans.Call(ctx, SpansArgs{Lang: "ar", ...})
//
// A wrapped call is equivalent to
//
//	c.Take(ctx, namespace, cachekey.Build(args.CacheArgs()...), func() { fn(ctx, args) })
//
// so for a fixed argument list fn runs at most once over the lifetime of the
// cache. Callers cannot tell a hit from a miss except by latency.
package memo

import (
	"context"

	"github.com/civilservant/gratsample/internal/cache"
	"github.com/civilservant/gratsample/internal/cachekey"
	"github.com/civilservant/gratsample/internal/table"
)

// Args is implemented by the argument struct of a memoized call. The
// returned list, in order, identifies the call within its namespace.
type Args interface {
	CacheArgs() []cachekey.Arg
}

// Func produces a table from its arguments.
type Func[A Args] func(ctx context.Context, args A) (*table.Table, error)

// Memoized is a Func bound to a cache namespace.
type Memoized[A Args] struct {
	namespace string
	cache     cache.TableCache
	fn        Func[A]
}

// Wrap binds fn to namespace in c.
func Wrap[A Args](c cache.TableCache, namespace string, fn Func[A]) *Memoized[A] {
	return &Memoized[A]{namespace: namespace, cache: c, fn: fn}
}

// Call returns the cached table for args, computing it on a miss.
func (m *Memoized[A]) Call(ctx context.Context, args A) (*table.Table, error) {
	return m.cache.Take(ctx, m.namespace, m.Key(args), func() (*table.Table, error) {
		return m.fn(ctx, args)
	})
}

// Key returns the cache key args map to.
func (m *Memoized[A]) Key(args A) string {
	return cachekey.Build(args.CacheArgs()...)
}

// Namespace returns the namespace the function is bound to.
func (m *Memoized[A]) Namespace() string { return m.namespace }
