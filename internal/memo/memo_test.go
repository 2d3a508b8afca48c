package memo

import (
	"context"
	"errors"
	"testing"

	"github.com/civilservant/gratsample/internal/cache"
	"github.com/civilservant/gratsample/internal/cachekey"
	"github.com/civilservant/gratsample/internal/storage"
	"github.com/civilservant/gratsample/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type editArgs struct {
	Lang      string
	UserID    int64
	Namespace string
}

func (a editArgs) CacheArgs() []cachekey.Arg {
	return []cachekey.Arg{cachekey.Value(a.Lang), cachekey.Value(a.UserID), cachekey.Named(a.Namespace)}
}

func countingFunc(calls *int) Func[editArgs] {
	return func(ctx context.Context, a editArgs) (*table.Table, error) {
		*calls++
		t := table.New(table.Col("lang", table.String), table.Col("user_id", table.Int))
		if err := t.Append(a.Lang, a.UserID); err != nil {
			return nil, err
		}
		return t, nil
	}
}

func TestCallIsIdempotent(t *testing.T) {
	c, err := cache.New(storage.NewMemoryStorage("memo"))
	require.NoError(t, err)

	calls := 0
	f := Wrap(c, "qualityedits", countingFunc(&calls))
	args := editArgs{Lang: "ar", UserID: 5, Namespace: "namespace_all"}

	first, err := f.Call(context.Background(), args)
	require.NoError(t, err)
	second, err := f.Call(context.Background(), args)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.True(t, first.Equal(second))
	assert.Equal(t, "ar_5_namespace_all", f.Key(args))
	assert.Equal(t, "qualityedits", f.Namespace())
}

func TestDistinctArgsAreDistinctEntries(t *testing.T) {
	c, err := cache.New(storage.NewMemoryStorage("memo"))
	require.NoError(t, err)

	calls := 0
	f := Wrap(c, "qualityedits", countingFunc(&calls))
	ctx := context.Background()
	for _, a := range []editArgs{
		{"ar", 5, "namespace_all"},
		{"ar", 5, "namespace_nontalk"},
		{"de", 5, "namespace_all"},
		{"ar", 5, "namespace_all"},
	} {
		_, err := f.Call(ctx, a)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

// fakeCache records lookups so tests can assert on the keys a caller uses.
type fakeCache struct {
	keys []string
}

func (f *fakeCache) Take(ctx context.Context, namespace, key string, loader func() (*table.Table, error)) (*table.Table, error) {
	f.keys = append(f.keys, namespace+"/"+key)
	return loader()
}

func TestInjectedCache(t *testing.T) {
	fc := &fakeCache{}
	calls := 0
	f := Wrap(fc, "thanks", countingFunc(&calls))
	_, err := f.Call(context.Background(), editArgs{Lang: "fa", UserID: 1, Namespace: "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"thanks/fa_1_x"}, fc.keys)
}

func TestErrorsAreNotCached(t *testing.T) {
	c, err := cache.New(storage.NewMemoryStorage("memo"))
	require.NoError(t, err)

	calls := 0
	fail := true
	f := Wrap[editArgs](c, "spans", func(ctx context.Context, a editArgs) (*table.Table, error) {
		calls++
		if fail {
			return nil, errors.New("transient")
		}
		return table.New(), nil
	})
	args := editArgs{Lang: "pl"}
	_, err = f.Call(context.Background(), args)
	require.Error(t, err)
	fail = false
	_, err = f.Call(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
