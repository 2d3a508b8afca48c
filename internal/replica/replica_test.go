package replica

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newMock(t *testing.T) (*Source, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := New(sqlx.NewDb(db, "mysql"), zaptest.NewLogger(t))
	mock.MatchExpectationsInOrder(true)
	t.Cleanup(func() {
		mock.ExpectClose()
		assert.NoError(t, s.Close())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
	return s, mock
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTimestamps(t *testing.T) {
	ts, err := ParseTimestamp("20180524013015")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2018, 5, 24, 1, 30, 15, 0, time.UTC), ts)
	assert.Equal(t, "20180524013015", FormatTimestamp(ts))

	_, err = ParseTimestamp("2018-05-24")
	assert.Error(t, err)
}

func TestDatabaseName(t *testing.T) {
	db, err := database("ar")
	require.NoError(t, err)
	assert.Equal(t, "arwiki_p", db)

	db, err = database("zh-yue")
	require.NoError(t, err)
	assert.Equal(t, "zh_yuewiki_p", db)

	_, err = database("ar; DROP TABLE user")
	assert.ErrorIs(t, err, ErrRowSource)
}

func TestEditSpans(t *testing.T) {
	s, mock := newMock(t)
	rows := sqlmock.NewRows([]string{"user_id", "user_name", "user_registration", "live_edit_count", "first_edit", "last_edit"}).
		AddRow(int64(1), []byte("Alice"), "20180101000000", int64(12), "20180102000000", "20180301000000").
		AddRow(int64(2), []byte("Bob"), nil, int64(0), nil, nil)
	mock.ExpectQuery(`FROM arwiki_p\.user u`).
		WithArgs("20180101000000", "20180524000000", "20180101000000", "20180524000000", "20180101000000", "20180524000000").
		WillReturnRows(rows)

	got, err := s.EditSpans(context.Background(), "ar", day(2018, 1, 1), day(2018, 5, 24))
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	alice := got.Rec(0)
	name, _ := alice.String("user_name")
	assert.Equal(t, "Alice", name)
	last, ok := alice.Time("last_edit")
	assert.True(t, ok)
	assert.Equal(t, day(2018, 3, 1), last)
	lang, _ := alice.String("lang")
	assert.Equal(t, "ar", lang)

	bob := got.Rec(1)
	assert.True(t, bob.IsNull("user_registration"))
	assert.True(t, bob.IsNull("first_edit"))
}

func TestDisableMail(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM fawiki_p\.user_properties`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"up_user", "up_property", "up_value"}).
			AddRow(int64(7), []byte("disablemail"), []byte("1")))

	got, err := s.DisableMail(context.Background(), "fa", 7)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestThanksReceivedUsesUnderscoreTitle(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`FROM plwiki_p\.logging_logindex`).
		WithArgs("Jan_Kowalski", "20180101000000", "20180524000000").
		WillReturnRows(sqlmock.NewRows([]string{"thank_timestamp", "sender", "receiver", "receiver_id", "sender_id"}).
			AddRow("20180301120000", []byte("Anna"), []byte("Jan Kowalski"), int64(3), nil))

	got, err := s.ThanksReceived(context.Background(), "pl", "Jan Kowalski", day(2018, 1, 1), day(2018, 5, 24))
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())
	assert.True(t, got.Rec(0).IsNull("sender_id"))
}

func TestTotalEdits(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dewiki_p\.revision_userindex`).
		WithArgs(int64(9), "20180101000000", "20180524000000").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(42)))

	got, err := s.TotalEdits(context.Background(), "de", 9, day(2018, 1, 1), day(2018, 5, 24))
	require.NoError(t, err)
	n, ok := got.Rec(0).Int("edits")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)
}

func TestRecentEdits(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT MAX\(r\.rev_timestamp\)`).
		WithArgs(int64(9), "20180524000000").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow("20180510000000"))
	mock.ExpectQuery(`ORDER BY r\.rev_timestamp DESC`).
		WithArgs(int64(9), "20180209000000", "20180510000000", 50).
		WillReturnRows(sqlmock.NewRows([]string{"rev_id", "rev_timestamp", "page_namespace"}).
			AddRow(int64(100), "20180510000000", int64(0)).
			AddRow(int64(99), "20180501000000", int64(1)))

	got, err := s.RecentEdits(context.Background(), "de", 9, day(2018, 5, 24), 90, 50)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	assert.True(t, got.Rec(0).IsNull("page_id"))
}

func TestRecentEditsWithoutHistory(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`SELECT MAX\(r\.rev_timestamp\)`).
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	got, err := s.RecentEdits(context.Background(), "de", 9, day(2018, 5, 24), 90, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, []string{"rev_id", "rev_timestamp", "page_id", "page_namespace"}, got.Names())
}

func TestBlocksDropsAnonymousBlockers(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`log_action = 'block'`).
		WillReturnRows(sqlmock.NewRows([]string{"blocking_user_id", "blocking_user_name", "blocked_user_name"}).
			AddRow(int64(4), []byte("Admin"), []byte("Vandal")).
			AddRow(nil, []byte("127.0.0.1"), []byte("Other")))

	got, err := s.Blocks(context.Background(), "ar", day(2018, 1, 1), day(2018, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}

func TestGroupMembers(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`JOIN arwiki_p\.user_groups ug`).
		WithArgs("sysop", int64(0), "20180524000000").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "user_name", "ug_group", "user_editcount", "user_registration"}).
			AddRow(int64(4), []byte("Admin"), []byte("sysop"), int64(9000), "20050101000000"))

	got, err := s.GroupMembers(context.Background(), "ar", GroupRule{Group: "sysop", RegisteredBefore: day(2018, 5, 24)})
	require.NoError(t, err)
	g, _ := got.Rec(0).String("ug_group")
	assert.Equal(t, "sysop", g)
}

func TestFlaggedRevisions(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`WHERE r\.rev_id IN \(\?, \?\)`).
		WithArgs("20180524000000", int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"rev_id", "rev_page", "page_namespace", "rev_timestamp", "fr_timestamp", "max_fr_ts"}).
			AddRow(int64(10), int64(1), int64(0), "20180501000000", "20180502000000", "20180503000000").
			AddRow(int64(11), int64(2), int64(0), "20180501000000", nil, nil))

	got, err := s.FlaggedRevisions(context.Background(), "de", []int64{10, 11}, day(2018, 5, 24))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len())
	assert.True(t, got.Rec(1).IsNull("fr_timestamp"))

	empty, err := s.FlaggedRevisions(context.Background(), "de", nil, day(2018, 5, 24))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestQueryFailureIsRowSourceError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`user_properties`).WillReturnError(errors.New("connection reset"))

	_, err := s.DisableMail(context.Background(), "ar", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRowSource)
	assert.Contains(t, err.Error(), "disablemail")
}
