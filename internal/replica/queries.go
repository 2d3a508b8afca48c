package replica

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/civilservant/gratsample/internal/table"
	"github.com/jmoiron/sqlx"
)

// registrationFloor stands in for a missing user_registration (accounts
// created before registration dates were recorded).
const registrationFloor = "20010101000000"

const editSpansSQL = `
SELECT u.user_id, u.user_name, u.user_registration, u.user_editcount AS live_edit_count,
  (SELECT MIN(r.rev_timestamp) FROM {db}.revision_userindex r
     JOIN {db}.actor_revision a ON a.actor_id = r.rev_actor
   WHERE a.actor_user = u.user_id AND r.rev_timestamp BETWEEN ? AND ?) AS first_edit,
  (SELECT MAX(r.rev_timestamp) FROM {db}.revision_userindex r
     JOIN {db}.actor_revision a ON a.actor_id = r.rev_actor
   WHERE a.actor_user = u.user_id AND r.rev_timestamp BETWEEN ? AND ?) AS last_edit
FROM {db}.user u
WHERE COALESCE(u.user_registration, '` + registrationFloor + `') BETWEEN ? AND ?`

type spanRow struct {
	UserID       int64          `db:"user_id"`
	UserName     []byte         `db:"user_name"`
	Registration sql.NullString `db:"user_registration"`
	EditCount    sql.NullInt64  `db:"live_edit_count"`
	FirstEdit    sql.NullString `db:"first_edit"`
	LastEdit     sql.NullString `db:"last_edit"`
}

// SpanColumns are the columns of EditSpans.
var SpanColumns = []table.Column{
	table.Col("lang", table.String),
	table.Col("user_id", table.Int),
	table.Col("user_name", table.String),
	table.Col("user_registration", table.Time),
	table.Col("live_edit_count", table.Int),
	table.Col("first_edit", table.Time),
	table.Col("last_edit", table.Time),
}

// EditSpans returns every user registered in [start, end] with their first
// and last edit in the same window (null if they made none).
func (s *Source) EditSpans(ctx context.Context, lang string, start, end time.Time) (*table.Table, error) {
	q, err := s.query(lang, "edit_spans", editSpansSQL)
	if err != nil {
		return nil, err
	}
	from, to := FormatTimestamp(start), FormatTimestamp(end)
	var rows []spanRow
	if err := s.selectContext(ctx, &rows, "edit_spans", q, from, to, from, to, from, to); err != nil {
		return nil, err
	}

	t := table.New(SpanColumns...)
	for _, r := range rows {
		reg, err := nullTimestamp(r.Registration)
		if err != nil {
			return nil, fail("edit_spans", err)
		}
		first, err := nullTimestamp(r.FirstEdit)
		if err != nil {
			return nil, fail("edit_spans", err)
		}
		last, err := nullTimestamp(r.LastEdit)
		if err != nil {
			return nil, fail("edit_spans", err)
		}
		if err := t.Append(lang, r.UserID, nullText(r.UserName), reg, nullInt(r.EditCount), first, last); err != nil {
			return nil, fail("edit_spans", err)
		}
	}
	return t, nil
}

const disableMailSQL = `
SELECT up_user, up_property, up_value FROM {db}.user_properties
WHERE up_user = ? AND up_property = 'disablemail'`

type propertyRow struct {
	User     int64  `db:"up_user"`
	Property []byte `db:"up_property"`
	Value    []byte `db:"up_value"`
}

// DisableMail returns the user's disablemail property rows (zero or one).
func (s *Source) DisableMail(ctx context.Context, lang string, userID int64) (*table.Table, error) {
	q, err := s.query(lang, "disablemail", disableMailSQL)
	if err != nil {
		return nil, err
	}
	var rows []propertyRow
	if err := s.selectContext(ctx, &rows, "disablemail", q, userID); err != nil {
		return nil, err
	}
	t := table.New(table.Col("up_user", table.Int), table.Col("up_property", table.String), table.Col("up_value", table.String))
	for _, r := range rows {
		if err := t.Append(r.User, nullText(r.Property), nullText(r.Value)); err != nil {
			return nil, fail("disablemail", err)
		}
	}
	return t, nil
}

const thanksSQL = `
SELECT t.thank_timestamp, t.sender, t.receiver, ru.user_id AS receiver_id, su.user_id AS sender_id
FROM (
  SELECT l.log_timestamp AS thank_timestamp, REPLACE(l.log_title, '_', ' ') AS receiver, a.actor_name AS sender
  FROM {db}.logging_logindex l
  JOIN {db}.actor_logging a ON a.actor_id = l.log_actor
  WHERE l.log_title = ? AND l.log_action = 'thank' AND l.log_timestamp BETWEEN ? AND ?
) t
LEFT JOIN {db}.user ru ON ru.user_name = t.receiver
LEFT JOIN {db}.user su ON su.user_name = t.sender`

type thankRow struct {
	Timestamp  sql.NullString `db:"thank_timestamp"`
	Sender     []byte         `db:"sender"`
	Receiver   []byte         `db:"receiver"`
	ReceiverID sql.NullInt64  `db:"receiver_id"`
	SenderID   sql.NullInt64  `db:"sender_id"`
}

// ThanksReceived returns the thank log entries whose target is userName
// within [start, end].
func (s *Source) ThanksReceived(ctx context.Context, lang, userName string, start, end time.Time) (*table.Table, error) {
	q, err := s.query(lang, "thanks", thanksSQL)
	if err != nil {
		return nil, err
	}
	title := strings.ReplaceAll(userName, " ", "_")
	var rows []thankRow
	if err := s.selectContext(ctx, &rows, "thanks", q, title, FormatTimestamp(start), FormatTimestamp(end)); err != nil {
		return nil, err
	}
	t := table.New(
		table.Col("thank_timestamp", table.Time),
		table.Col("sender", table.String),
		table.Col("receiver", table.String),
		table.Col("receiver_id", table.Int),
		table.Col("sender_id", table.Int),
	)
	for _, r := range rows {
		ts, err := nullTimestamp(r.Timestamp)
		if err != nil {
			return nil, fail("thanks", err)
		}
		if err := t.Append(ts, nullText(r.Sender), nullText(r.Receiver), nullInt(r.ReceiverID), nullInt(r.SenderID)); err != nil {
			return nil, fail("thanks", err)
		}
	}
	return t, nil
}

const totalEditsSQL = `
SELECT COUNT(*) FROM {db}.revision_userindex r
JOIN {db}.actor_revision a ON a.actor_id = r.rev_actor
WHERE a.actor_user = ? AND r.rev_timestamp BETWEEN ? AND ?`

// TotalEdits returns a one-row table with the user's edit count in
// [start, end], column "edits".
func (s *Source) TotalEdits(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error) {
	q, err := s.query(lang, "total_edits", totalEditsSQL)
	if err != nil {
		return nil, err
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, q, userID, FormatTimestamp(start), FormatTimestamp(end)); err != nil {
		return nil, fail("total_edits", err)
	}
	t := table.New(table.Col("edits", table.Int))
	if err := t.Append(n); err != nil {
		return nil, fail("total_edits", err)
	}
	return t, nil
}

const lastEditSQL = `
SELECT MAX(r.rev_timestamp) FROM {db}.revision_userindex r
JOIN {db}.actor_revision a ON a.actor_id = r.rev_actor
WHERE a.actor_user = ? AND r.rev_timestamp <= ?`

const recentEditsSQL = `
SELECT r.rev_id, r.rev_timestamp, p.page_namespace
FROM {db}.revision_userindex r
JOIN {db}.actor_revision a ON a.actor_id = r.rev_actor
JOIN {db}.page p ON p.page_id = r.rev_page
WHERE a.actor_user = ? AND r.rev_timestamp > ? AND r.rev_timestamp <= ?
ORDER BY r.rev_timestamp DESC
LIMIT ?`

type revisionRow struct {
	RevID     int64          `db:"rev_id"`
	Timestamp sql.NullString `db:"rev_timestamp"`
	Namespace sql.NullInt64  `db:"page_namespace"`
	PageID    sql.NullInt64  `db:"page_id"`
}

// RevisionColumns are the columns of RecentEdits and UserEdits.
var RevisionColumns = []table.Column{
	table.Col("rev_id", table.Int),
	table.Col("rev_timestamp", table.Time),
	table.Col("page_id", table.Int),
	table.Col("page_namespace", table.Int),
}

// RecentEdits returns up to maxRevs of the user's most recent revisions
// made within priorDays before their last edit at or before end.
func (s *Source) RecentEdits(ctx context.Context, lang string, userID int64, end time.Time, priorDays, maxRevs int) (*table.Table, error) {
	lq, err := s.query(lang, "recent_edits", lastEditSQL)
	if err != nil {
		return nil, err
	}
	var last sql.NullString
	if err := s.db.GetContext(ctx, &last, lq, userID, FormatTimestamp(end)); err != nil {
		return nil, fail("recent_edits", err)
	}
	if !last.Valid || last.String == "" {
		return table.New(RevisionColumns...), nil
	}
	lastTS, err := ParseTimestamp(last.String)
	if err != nil {
		return nil, fail("recent_edits", err)
	}
	from := lastTS.AddDate(0, 0, -priorDays)

	q, err := s.query(lang, "recent_edits", recentEditsSQL)
	if err != nil {
		return nil, err
	}
	var rows []revisionRow
	if err := s.selectContext(ctx, &rows, "recent_edits", q, userID, FormatTimestamp(from), last.String, maxRevs); err != nil {
		return nil, err
	}
	return revisionTable("recent_edits", rows)
}

const editTimestampsSQL = `
SELECT r.rev_timestamp FROM {db}.revision_userindex r
JOIN {db}.actor_revision a ON a.actor_id = r.rev_actor
WHERE a.actor_user = ? AND r.rev_timestamp BETWEEN ? AND ?
ORDER BY r.rev_timestamp`

// EditTimestamps returns the timestamps of the user's revisions in
// [start, end], ascending.
func (s *Source) EditTimestamps(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error) {
	q, err := s.query(lang, "timestamps", editTimestampsSQL)
	if err != nil {
		return nil, err
	}
	var stamps []string
	if err := s.selectContext(ctx, &stamps, "timestamps", q, userID, FormatTimestamp(start), FormatTimestamp(end)); err != nil {
		return nil, err
	}
	t := table.New(table.Col("rev_timestamp", table.Time))
	for _, st := range stamps {
		ts, err := ParseTimestamp(st)
		if err != nil {
			return nil, fail("timestamps", err)
		}
		if err := t.Append(ts); err != nil {
			return nil, fail("timestamps", err)
		}
	}
	return t, nil
}

const userEditsSQL = `
SELECT r.rev_id, r.rev_timestamp, p.page_id, p.page_namespace
FROM {db}.revision_userindex r
JOIN {db}.actor_revision a ON a.actor_id = r.rev_actor
JOIN {db}.page p ON p.page_id = r.rev_page
WHERE a.actor_user = ? AND r.rev_timestamp >= ? AND r.rev_timestamp < ?
ORDER BY r.rev_timestamp`

// UserEdits returns the user's revisions in [start, end) with their page
// namespace.
func (s *Source) UserEdits(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error) {
	q, err := s.query(lang, "edithistory", userEditsSQL)
	if err != nil {
		return nil, err
	}
	var rows []revisionRow
	if err := s.selectContext(ctx, &rows, "edithistory", q, userID, FormatTimestamp(start), FormatTimestamp(end)); err != nil {
		return nil, err
	}
	return revisionTable("edithistory", rows)
}

func revisionTable(op string, rows []revisionRow) (*table.Table, error) {
	t := table.New(RevisionColumns...)
	for _, r := range rows {
		ts, err := nullTimestamp(r.Timestamp)
		if err != nil {
			return nil, fail(op, err)
		}
		if err := t.Append(r.RevID, ts, nullInt(r.PageID), nullInt(r.Namespace)); err != nil {
			return nil, fail(op, err)
		}
	}
	return t, nil
}

const blocksSQL = `
SELECT a.actor_user AS blocking_user_id, a.actor_name AS blocking_user_name, l.log_title AS blocked_user_name
FROM {db}.logging l
JOIN {db}.actor_logging a ON a.actor_id = l.log_actor
WHERE l.log_action = 'block' AND l.log_timestamp >= ? AND l.log_timestamp < ?`

type blockRow struct {
	BlockingUserID   sql.NullInt64 `db:"blocking_user_id"`
	BlockingUserName []byte        `db:"blocking_user_name"`
	BlockedUserName  []byte        `db:"blocked_user_name"`
}

// Blocks returns the block actions logged in [start, end) by registered
// users.
func (s *Source) Blocks(ctx context.Context, lang string, start, end time.Time) (*table.Table, error) {
	q, err := s.query(lang, "bans", blocksSQL)
	if err != nil {
		return nil, err
	}
	var rows []blockRow
	if err := s.selectContext(ctx, &rows, "bans", q, FormatTimestamp(start), FormatTimestamp(end)); err != nil {
		return nil, err
	}
	t := table.New(
		table.Col("lang", table.String),
		table.Col("blocking_user_id", table.Int),
		table.Col("blocking_user_name", table.String),
		table.Col("blocked_user_name", table.String),
	)
	for _, r := range rows {
		if !r.BlockingUserID.Valid {
			continue
		}
		if err := t.Append(lang, r.BlockingUserID.Int64, nullText(r.BlockingUserName), nullText(r.BlockedUserName)); err != nil {
			return nil, fail("bans", err)
		}
	}
	return t, nil
}

// GroupRule selects a population of experienced users.
type GroupRule struct {
	Group            string    // user group to require, "" for none
	MinEdits         int64     // minimum user_editcount
	RegisteredBefore time.Time // latest registration (missing registration counts as 2001-01-01)
}

type memberRow struct {
	UserID       int64          `db:"user_id"`
	UserName     []byte         `db:"user_name"`
	Group        []byte         `db:"ug_group"`
	EditCount    sql.NullInt64  `db:"user_editcount"`
	Registration sql.NullString `db:"user_registration"`
}

// GroupMembers returns users matching rule: columns lang, user_id,
// user_name, ug_group, user_editcount, user_registration.
func (s *Source) GroupMembers(ctx context.Context, lang string, rule GroupRule) (*table.Table, error) {
	var b strings.Builder
	b.WriteString(`SELECT u.user_id, u.user_name, `)
	var args []any
	if rule.Group != "" {
		b.WriteString(`ug.ug_group, `)
	} else {
		b.WriteString(`NULL AS ug_group, `)
	}
	b.WriteString(`u.user_editcount, COALESCE(u.user_registration, '` + registrationFloor + `') AS user_registration
FROM {db}.user u`)
	if rule.Group != "" {
		b.WriteString(`
JOIN {db}.user_groups ug ON ug.ug_user = u.user_id AND ug.ug_group = ?`)
		args = append(args, rule.Group)
	}
	b.WriteString(`
WHERE u.user_editcount >= ? AND COALESCE(u.user_registration, '` + registrationFloor + `') <= ?`)
	args = append(args, rule.MinEdits, FormatTimestamp(rule.RegisteredBefore))

	q, err := s.query(lang, "pops", b.String())
	if err != nil {
		return nil, err
	}
	var rows []memberRow
	if err := s.selectContext(ctx, &rows, "pops", q, args...); err != nil {
		return nil, err
	}
	t := table.New(
		table.Col("lang", table.String),
		table.Col("user_id", table.Int),
		table.Col("user_name", table.String),
		table.Col("ug_group", table.String),
		table.Col("user_editcount", table.Int),
		table.Col("user_registration", table.Time),
	)
	for _, r := range rows {
		reg, err := nullTimestamp(r.Registration)
		if err != nil {
			return nil, fail("pops", err)
		}
		if err := t.Append(lang, r.UserID, nullText(r.UserName), nullText(r.Group), nullInt(r.EditCount), reg); err != nil {
			return nil, fail("pops", err)
		}
	}
	return t, nil
}

const flaggedSQL = `
SELECT r.rev_id, r.rev_page, p.page_namespace, r.rev_timestamp, fr.fr_timestamp,
  (SELECT MAX(f2.fr_timestamp) FROM {db}.flaggedrevs f2
   WHERE f2.fr_page_id = r.rev_page AND f2.fr_timestamp < ?) AS max_fr_ts
FROM {db}.revision r
JOIN {db}.page p ON p.page_id = r.rev_page
LEFT JOIN {db}.flaggedrevs fr ON fr.fr_page_id = r.rev_page AND fr.fr_rev_id = r.rev_id
WHERE r.rev_id IN (?)`

type flaggedRow struct {
	RevID         int64          `db:"rev_id"`
	PageID        int64          `db:"rev_page"`
	Namespace     sql.NullInt64  `db:"page_namespace"`
	Timestamp     sql.NullString `db:"rev_timestamp"`
	FlagTimestamp sql.NullString `db:"fr_timestamp"`
	LastFlagged   sql.NullString `db:"max_fr_ts"`
}

// FlaggedColumns are the columns of FlaggedRevisions.
var FlaggedColumns = []table.Column{
	table.Col("rev_id", table.Int),
	table.Col("rev_page", table.Int),
	table.Col("page_namespace", table.Int),
	table.Col("rev_timestamp", table.Time),
	table.Col("fr_timestamp", table.Time),
	table.Col("max_fr_ts", table.Time),
}

// FlaggedRevisions returns, for each revision, whether it was explicitly
// flagged and when its page was last flagged before asOf.
func (s *Source) FlaggedRevisions(ctx context.Context, lang string, revIDs []int64, asOf time.Time) (*table.Table, error) {
	if len(revIDs) == 0 {
		return table.New(FlaggedColumns...), nil
	}
	tmpl, err := s.query(lang, "flaggedrevs", flaggedSQL)
	if err != nil {
		return nil, err
	}
	q, args, err := sqlx.In(tmpl, FormatTimestamp(asOf), revIDs)
	if err != nil {
		return nil, fail("flaggedrevs", err)
	}
	var rows []flaggedRow
	if err := s.selectContext(ctx, &rows, "flaggedrevs", s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	t := table.New(FlaggedColumns...)
	for _, r := range rows {
		var cells [3]any
		for i, ns := range []sql.NullString{r.Timestamp, r.FlagTimestamp, r.LastFlagged} {
			v, err := nullTimestamp(ns)
			if err != nil {
				return nil, fail("flaggedrevs", err)
			}
			cells[i] = v
		}
		if err := t.Append(r.RevID, r.PageID, nullInt(r.Namespace), cells[0], cells[1], cells[2]); err != nil {
			return nil, fail("flaggedrevs", err)
		}
	}
	return t, nil
}
