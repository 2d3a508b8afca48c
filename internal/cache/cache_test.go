package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/civilservant/gratsample/internal/storage"
	"github.com/civilservant/gratsample/internal/table"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func spansTable(t *testing.T) *table.Table {
	t.Helper()
	tb := table.New(table.Col("user_id", table.Int), table.Col("first_edit", table.Time))
	require.NoError(t, tb.Append(1, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	return tb
}

func newFileCache(t *testing.T, opts ...func(*Option)) (*StoreCache, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "cache")
	fs, err := storage.NewFileStorage(storage.FileConfig{BasePath: root})
	require.NoError(t, err)
	opts = append(opts, WithLogger(zaptest.NewLogger(t)))
	c, err := New(fs, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, root
}

func TestTakeMissThenHit(t *testing.T) {
	ctx := context.Background()
	c, root := newFileCache(t)
	want := spansTable(t)

	calls := 0
	loader := func() (*table.Table, error) {
		calls++
		return want, nil
	}

	got, err := c.Take(ctx, "spans", "k1", loader)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, want.Equal(got))
	assert.FileExists(t, filepath.Join(root, "spans", "k1"))

	got, err = c.Take(ctx, "spans", "k1", loader)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "loader must not run on a hit")
	assert.True(t, want.Equal(got))

	snap := c.Stat().Snapshot()
	assert.Equal(t, Counts{Hits: 1, Misses: 1}, snap["spans"])
}

func TestTakeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	want := spansTable(t)

	for run := range 2 {
		fs, err := storage.NewFileStorage(storage.FileConfig{BasePath: root})
		require.NoError(t, err)
		c, err := New(fs)
		require.NoError(t, err)
		got, err := c.Take(ctx, "spans", "ar_2002-01-01 00:00:00", func() (*table.Table, error) {
			if run > 0 {
				t.Fatal("loader called after restart")
			}
			return want, nil
		})
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
	}
}

func TestTakeCorruptEntryIsFatal(t *testing.T) {
	ctx := context.Background()
	c, root := newFileCache(t)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "spans"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "spans", "k1"), []byte("not a table"), 0o644))

	_, err := c.Take(ctx, "spans", "k1", func() (*table.Table, error) {
		t.Fatal("loader must not run for a corrupt entry")
		return nil, nil
	})
	require.ErrorIs(t, err, ErrCorrupt)

	// The corrupt file is left in place for inspection
	data, err := os.ReadFile(filepath.Join(root, "spans", "k1"))
	require.NoError(t, err)
	assert.Equal(t, "not a table", string(data))
}

func TestTakeWrongSecretIsCorrupt(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage("test")
	sealed, err := New(store, WithSecret([]byte("one")))
	require.NoError(t, err)
	_, err = sealed.Take(ctx, "thanks", "k", func() (*table.Table, error) { return spansTable(t), nil })
	require.NoError(t, err)

	other, err := New(store, WithSecret([]byte("two")))
	require.NoError(t, err)
	_, err = other.Take(ctx, "thanks", "k", func() (*table.Table, error) { return nil, errors.New("unreachable") })
	assert.ErrorIs(t, err, ErrCorrupt)
}

type failingStorage struct {
	storage.Storage
	err error
}

func (f failingStorage) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, f.err
}

func TestTakeReadFailurePropagates(t *testing.T) {
	readErr := errors.New("permission denied")
	c, err := New(failingStorage{Storage: storage.NewMemoryStorage("x"), err: readErr})
	require.NoError(t, err)

	_, err = c.Take(context.Background(), "spans", "k1", func() (*table.Table, error) {
		t.Fatal("loader must not run when the read fails")
		return nil, nil
	})
	require.ErrorIs(t, err, readErr)
	assert.False(t, errors.Is(err, ErrCorrupt))
}

func TestTakeLoaderErrorIsNotStored(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage("test")
	c, err := New(store)
	require.NoError(t, err)

	boom := errors.New("replica timeout")
	_, err = c.Take(ctx, "total_edits", "k", func() (*table.Table, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	ok, err := store.Exists(ctx, "total_edits/k")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Take(ctx, "total_edits", "k", func() (*table.Table, error) { return nil, nil })
	assert.Error(t, err, "nil tables are rejected")
}

func TestTakeInvalidNamespace(t *testing.T) {
	c, err := New(storage.NewMemoryStorage("x"))
	require.NoError(t, err)
	for _, ns := range []string{"", "a/b", ".."} {
		_, err := c.Take(context.Background(), ns, "k", func() (*table.Table, error) { return spansTable(t), nil })
		assert.Error(t, err, ns)
	}
}

func TestTakeConcurrentMissesShareLoader(t *testing.T) {
	ctx := context.Background()
	c, _ := newFileCache(t)
	want := spansTable(t)

	var calls atomic.Int32
	loader := func() (*table.Table, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return want, nil
	}

	results := make([]*table.Table, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Take(ctx, "qualityedits", "de_1_namespace_all", loader)
			assert.NoError(t, err)
			assert.True(t, want.Equal(got))
			results[i] = got
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())

	// waiters never share a table
	seen := map[*table.Table]bool{}
	for _, got := range results {
		require.NotNil(t, got)
		assert.False(t, seen[got], "table handed to two callers")
		seen[got] = true
	}
}

func TestTakeInvalidUTF8SameOnMissAndHit(t *testing.T) {
	ctx := context.Background()
	c, _ := newFileCache(t)
	loader := func() (*table.Table, error) {
		tb := table.New(table.Col("user_name", table.String))
		return tb, tb.Append([]byte("Jos\xe9"))
	}

	miss, err := c.Take(ctx, "spans", "ar", loader)
	require.NoError(t, err)
	hit, err := c.Take(ctx, "spans", "ar", func() (*table.Table, error) { return nil, errors.New("unreachable") })
	require.NoError(t, err)
	assert.Equal(t, miss.Values("user_name"), hit.Values("user_name"))
}

func TestMemoryTierServesHits(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage("test")
	c, err := New(store, WithMemoryTier(1000))
	require.NoError(t, err)
	defer c.Close()

	want := spansTable(t)
	_, err = c.Take(ctx, "spans", "k1", func() (*table.Table, error) { return want, nil })
	require.NoError(t, err)
	c.hot.wait()

	// Remove the stored entry; a hit must now come from memory
	require.NoError(t, store.Delete(ctx, "spans/k1"))
	got, err := c.Take(ctx, "spans", "k1", func() (*table.Table, error) {
		return nil, errors.New("should be served from memory")
	})
	require.NoError(t, err)
	assert.True(t, want.Equal(got))
}

func TestNoOpCache(t *testing.T) {
	c := NewNoOpCache()
	calls := 0
	for range 2 {
		_, err := c.Take(context.Background(), "spans", "k", func() (*table.Table, error) {
			calls++
			return spansTable(t), nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}
