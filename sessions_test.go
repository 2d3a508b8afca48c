package gratsample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLaborHours(t *testing.T) {
	base := time.Date(2018, 6, 1, 10, 0, 0, 0, time.UTC)
	at := func(minutes ...int) []time.Time {
		ts := make([]time.Time, len(minutes))
		for i, m := range minutes {
			ts[i] = base.Add(time.Duration(m) * time.Minute)
		}
		return ts
	}

	tests := []struct {
		name string
		ts   []time.Time
		want float64
	}{
		{"no edits", nil, 0},
		{"single edit", at(0), 1},
		{"two edits half an hour apart", at(0, 30), 1.5},
		{"gap of exactly an hour splits", at(0, 60), 2},
		{"unsorted input", at(90, 0, 30), 2.5},
		{"chained session", at(0, 50, 100, 150), 3.5},
		{"two sessions", at(0, 30, 300), 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, LaborHours(tt.ts), 1e-9)
		})
	}
}

func TestSessionsLongerThanADay(t *testing.T) {
	start := time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC)
	var ts []time.Time
	for i := 0; i <= 26*2; i++ {
		ts = append(ts, start.Add(time.Duration(i)*30*time.Minute))
	}
	assert.Len(t, Sessions(ts), 1)
	assert.InDelta(t, 27.0, LaborHours(ts), 1e-9, "duration is not wrapped at 24 hours")
}

func TestWeekWindow(t *testing.T) {
	start := time.Date(2018, 5, 24, 0, 0, 0, 0, time.UTC)
	from, to := WeekWindow(start, 1)
	assert.Equal(t, start.AddDate(0, 0, 7), from)
	assert.Equal(t, start.AddDate(0, 0, 14), to)

	ts := []time.Time{from, from.Add(time.Second), to, to.Add(time.Second)}
	assert.Equal(t, []time.Time{from.Add(time.Second), to}, InWindow(ts, from, to), "start excluded, end included")
}

func TestNamespacePredicates(t *testing.T) {
	tests := []struct {
		pred NamespacePredicate
		in   []int64
		out  []int64
	}{
		{NamespaceAll, []int64{0, 1, 4, 118}, nil},
		{NamespaceNonTalk, []int64{0, 2, 4}, []int64{1, 3, 5}},
		{NamespaceMainOnly, []int64{0}, []int64{1, 2, 4}},
		{NamespaceTalk, []int64{1, 3, 5}, []int64{0, 2, 4}},
		{NamespaceProject, []int64{4, 5}, []int64{0, 1, 3, 6}},
	}
	for _, tt := range tests {
		for _, ns := range tt.in {
			assert.True(t, tt.pred.Match(ns), "%s(%d)", tt.pred.Name, ns)
		}
		for _, ns := range tt.out {
			assert.False(t, tt.pred.Match(ns), "%s(%d)", tt.pred.Name, ns)
		}
	}
}
