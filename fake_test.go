package gratsample

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/civilservant/gratsample/internal/gratitude"
	"github.com/civilservant/gratsample/internal/mwapi"
	"github.com/civilservant/gratsample/internal/replica"
	"github.com/civilservant/gratsample/internal/table"
)

var treatment = time.Date(2018, 5, 24, 0, 0, 0, 0, time.UTC)

func days(n int) time.Time { return treatment.AddDate(0, 0, n) }

type fakeUser struct {
	lang  string
	id    int64
	name  string
	reg   *time.Time
	first *time.Time
	last  *time.Time
}

type fakeRev struct {
	id int64
	at time.Time
	ns int64
}

type fakeBlock struct {
	blocker int64
	at      time.Time
}

type userRef struct {
	lang string
	id   int64
}

// fakeSource serves a small wiki from memory and counts every call.
type fakeSource struct {
	calls atomic.Int64

	users     []fakeUser
	revs      map[userRef][]fakeRev
	thanks    map[string]int // lang/user_name
	noMail    map[userRef]bool
	failTotal map[userRef]bool
	spanErr   map[string]error
	blocks    map[string][]fakeBlock
	members   map[string][]fakeUser

	mu    sync.Mutex
	rules map[string]replica.GroupRule
}

func ptr(t time.Time) *time.Time { return &t }

func newFakeSource() *fakeSource {
	return &fakeSource{
		users: []fakeUser{
			{lang: "ar", id: 1, name: "Alice", reg: ptr(days(-1000)), first: ptr(days(-30)), last: ptr(days(-1))},
			{lang: "ar", id: 2, name: "Bashir", reg: ptr(days(-10)), first: ptr(days(-9)), last: ptr(days(-2))},
			{lang: "ar", id: 3, name: "Idle"},
			{lang: "ar", id: 4, name: "Rare", reg: ptr(days(-500)), first: ptr(days(-40)), last: ptr(days(-40))},
			{lang: "ar", id: 5, name: "Broken", reg: ptr(days(-200)), first: ptr(days(-20)), last: ptr(days(-3))},
			{lang: "de", id: 10, name: "Dora", first: ptr(days(-50)), last: ptr(days(-5))},
		},
		revs: map[userRef][]fakeRev{
			{"ar", 1}: {
				{100, days(-30), 0}, {101, days(-20), 1}, {102, days(-10), 0}, {103, days(-5), 2}, {104, days(-1), 4},
				{105, days(8), 0}, {106, days(8).Add(30 * time.Minute), 0}, {107, days(20), 0},
			},
			{"ar", 2}: {{200, days(-9), 0}, {202, days(-8), 0}, {204, days(-4), 0}, {206, days(-2), 0}},
			{"ar", 4}: {{400, days(-40), 0}, {401, days(-40).Add(time.Minute), 0}},
			{"ar", 5}: {{500, days(-20), 0}, {501, days(-15), 0}, {502, days(-10), 0}, {503, days(-3), 0}},
			{"de", 10}: {
				{1000, days(-50), 0}, {1001, days(-40), 0}, {1002, days(-30), 0},
				{1003, days(-20), 0}, {1004, days(-10), 0}, {1005, days(-5), 0},
			},
		},
		thanks:    map[string]int{"ar/Alice": 2},
		noMail:    map[userRef]bool{{"ar", 2}: true},
		failTotal: map[userRef]bool{{"ar", 5}: true},
		spanErr:   map[string]error{},
		blocks: map[string][]fakeBlock{
			"ar": {{1, days(-10)}, {1, days(-3)}, {2, days(-100)}, {1, days(30)}},
		},
		members: map[string][]fakeUser{
			"ar": {
				{lang: "ar", id: 1, name: "Alice", reg: ptr(days(-1000))},
				{lang: "ar", id: 2, name: "Bashir", reg: ptr(days(-10))},
			},
			"de": {{lang: "de", id: 10, name: "Dora"}},
		},
		rules: map[string]replica.GroupRule{},
	}
}

func orNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (f *fakeSource) EditSpans(ctx context.Context, lang string, start, end time.Time) (*table.Table, error) {
	f.calls.Add(1)
	if err := f.spanErr[lang]; err != nil {
		return nil, err
	}
	t := table.New(replica.SpanColumns...)
	for _, u := range f.users {
		if u.lang != lang {
			continue
		}
		if err := t.Append(u.lang, u.id, u.name, orNil(u.reg), int64(len(f.revs[userRef{u.lang, u.id}])), orNil(u.first), orNil(u.last)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (f *fakeSource) DisableMail(ctx context.Context, lang string, userID int64) (*table.Table, error) {
	f.calls.Add(1)
	t := table.New(table.Col("up_user", table.Int), table.Col("up_property", table.String), table.Col("up_value", table.String))
	if f.noMail[userRef{lang, userID}] {
		return t, t.Append(userID, "disablemail", "1")
	}
	return t, nil
}

func (f *fakeSource) ThanksReceived(ctx context.Context, lang, userName string, start, end time.Time) (*table.Table, error) {
	f.calls.Add(1)
	t := table.New(table.Col("thank_timestamp", table.Time), table.Col("sender", table.String))
	for i := 0; i < f.thanks[lang+"/"+userName]; i++ {
		if err := t.Append(start.Add(time.Hour), fmt.Sprintf("sender%d", i)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// within reports whether at lies in [start, end], or [start, end) when
// halfOpen is set.
func within(at, start, end time.Time, halfOpen bool) bool {
	if at.Before(start) || at.After(end) {
		return false
	}
	return !halfOpen || at.Before(end)
}

func (f *fakeSource) TotalEdits(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error) {
	f.calls.Add(1)
	if f.failTotal[userRef{lang, userID}] {
		return nil, fmt.Errorf("%w: total_edits: connection reset", replica.ErrRowSource)
	}
	var n int64
	for _, r := range f.revs[userRef{lang, userID}] {
		if within(r.at, start, end, false) {
			n++
		}
	}
	t := table.New(table.Col("edits", table.Int))
	return t, t.Append(n)
}

func (f *fakeSource) revisions(revs []fakeRev) (*table.Table, error) {
	t := table.New(replica.RevisionColumns...)
	for _, r := range revs {
		if err := t.Append(r.id, r.at, r.id*10, r.ns); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (f *fakeSource) RecentEdits(ctx context.Context, lang string, userID int64, end time.Time, priorDays, maxRevs int) (*table.Table, error) {
	f.calls.Add(1)
	var last time.Time
	for _, r := range f.revs[userRef{lang, userID}] {
		if !r.at.After(end) && r.at.After(last) {
			last = r.at
		}
	}
	var picked []fakeRev
	if !last.IsZero() {
		from := last.AddDate(0, 0, -priorDays)
		for _, r := range f.revs[userRef{lang, userID}] {
			if within(r.at, from, last, false) {
				picked = append(picked, r)
			}
		}
	}
	slices.SortFunc(picked, func(a, b fakeRev) int { return b.at.Compare(a.at) })
	if len(picked) > maxRevs {
		picked = picked[:maxRevs]
	}
	return f.revisions(picked)
}

func (f *fakeSource) EditTimestamps(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error) {
	f.calls.Add(1)
	t := table.New(table.Col("rev_timestamp", table.Time))
	for _, r := range f.revs[userRef{lang, userID}] {
		if within(r.at, start, end, false) {
			if err := t.Append(r.at); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func (f *fakeSource) UserEdits(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error) {
	f.calls.Add(1)
	var picked []fakeRev
	for _, r := range f.revs[userRef{lang, userID}] {
		if within(r.at, start, end, true) {
			picked = append(picked, r)
		}
	}
	return f.revisions(picked)
}

func (f *fakeSource) Blocks(ctx context.Context, lang string, start, end time.Time) (*table.Table, error) {
	f.calls.Add(1)
	t := table.New(
		table.Col("lang", table.String),
		table.Col("blocking_user_id", table.Int),
		table.Col("blocking_user_name", table.String),
		table.Col("blocked_user_name", table.String),
	)
	for _, b := range f.blocks[lang] {
		if within(b.at, start, end, true) {
			if err := t.Append(lang, b.blocker, fmt.Sprintf("user%d", b.blocker), "Vandal"); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

func (f *fakeSource) GroupMembers(ctx context.Context, lang string, rule replica.GroupRule) (*table.Table, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.rules[lang] = rule
	f.mu.Unlock()
	t := table.New(
		table.Col("lang", table.String),
		table.Col("user_id", table.Int),
		table.Col("user_name", table.String),
		table.Col("ug_group", table.String),
		table.Col("user_editcount", table.Int),
		table.Col("user_registration", table.Time),
	)
	for _, u := range f.members[lang] {
		var group any
		if rule.Group != "" {
			group = rule.Group
		}
		if err := t.Append(u.lang, u.id, u.name, group, int64(len(f.revs[userRef{u.lang, u.id}])), orNil(u.reg)); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// fakeOracle judges even revision ids good.
type fakeOracle struct{ calls atomic.Int64 }

func (o *fakeOracle) Quality(ctx context.Context, lang string, revIDs []int64) (*table.Table, error) {
	o.calls.Add(1)
	t := table.New(table.Col("rev_id", table.Int), table.Col("quality_enough", table.Bool))
	for _, id := range revIDs {
		if err := t.Append(id, id%2 == 0); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// fakeReverts reports ids divisible by three as reverting and fails on
// ids ending in 4.
type fakeReverts struct{ calls atomic.Int64 }

func (r *fakeReverts) Check(ctx context.Context, lang string, revID int64, radius int, window time.Duration) (mwapi.Reverts, error) {
	r.calls.Add(1)
	if revID%10 == 4 {
		return mwapi.Reverts{}, &mwapi.APIError{Code: "badrevids", Info: "no such revision"}
	}
	return mwapi.Reverts{Reverting: revID%3 == 0}, nil
}

type fakeGratitude struct {
	events map[string][]time.Time // lang/kind/sender
}

func (g *fakeGratitude) Count(ctx context.Context, lang string, kind gratitude.Kind, senderID int64, start, end time.Time) (int, bool, error) {
	if lang == "de" && kind == gratitude.Love {
		return 0, false, nil
	}
	if lang == "xx" {
		return 0, false, errors.New("unreadable export")
	}
	n := 0
	for _, at := range g.events[fmt.Sprintf("%s/%s/%d", lang, kind, senderID)] {
		if within(at, start, end, true) {
			n++
		}
	}
	return n, true, nil
}

// row finds the row of (lang, userID).
func row(t *table.Table, lang string, userID int64) (table.Record, bool) {
	for _, r := range t.Records() {
		l, _ := r.String("lang")
		id, _ := r.Int("user_id")
		if l == lang && id == userID {
			return r, true
		}
	}
	return table.Record{}, false
}
