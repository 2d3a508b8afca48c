package gratitude

import (
	"context"
	"testing"
	"time"

	"github.com/civilservant/gratsample/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const thanks = `timestamp,sender_id,receiver_id
2018-03-01 10:00:00,5,9
2018-03-02 10:00:00,5,9
2018-05-24 00:00:00,5,9
2018-03-03 10:00:00,6,9
2018-03-04 10:00:00,,9
`

func TestCount(t *testing.T) {
	ctx := context.Background()
	st, err := storage.NewFileStorage(storage.FileConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, "de/outputs/dewiki_thank_2018.csv", []byte(thanks)))

	s := NewStore(st)
	start := time.Date(2018, 2, 23, 0, 0, 0, 0, time.UTC)
	end := time.Date(2018, 5, 24, 0, 0, 0, 0, time.UTC)

	n, ok, err := s.Count(ctx, "de", Thank, 5, start, end)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, n, "end is exclusive")

	n, ok, err = s.Count(ctx, "de", Thank, 7, start, end)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, n)

	_, ok, err = s.Count(ctx, "de", Love, 5, start, end)
	require.NoError(t, err)
	assert.False(t, ok, "no wikilove export")

	_, ok, err = s.Count(ctx, "fa", Thank, 5, start, end)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExportIsLoadedOnce(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStorage("grat")
	require.NoError(t, st.Put(ctx, "ar/outputs/ar_love.csv", []byte("timestamp,sender_id\n2018-03-01T10:00:00Z,1.0\n")))

	s := NewStore(st)
	window := [2]time.Time{time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)}
	n, ok, err := s.Count(ctx, "ar", Love, 1, window[0], window[1])
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, n)

	require.NoError(t, st.Put(ctx, "ar/outputs/ar_love.csv", []byte("timestamp,sender_id\n")))
	n, _, err = s.Count(ctx, "ar", Love, 1, window[0], window[1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMalformedExport(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStorage("grat")
	require.NoError(t, st.Put(ctx, "pl/outputs/thank.csv", []byte("when,who\n1,2\n")))

	_, _, err := NewStore(st).Count(ctx, "pl", Thank, 1, time.Time{}, time.Now())
	assert.Error(t, err)
}
