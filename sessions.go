package gratsample

import (
	"slices"
	"time"
)

// NamespacePredicate selects page namespaces. Its name identifies it in
// cache keys, so two predicates with the same name must behave the same.
type NamespacePredicate struct {
	Name  string
	Match func(ns int64) bool
}

var (
	NamespaceAll      = NamespacePredicate{"namespace_all", func(int64) bool { return true }}
	NamespaceNonTalk  = NamespacePredicate{"namespace_nontalk", func(ns int64) bool { return ns%2 == 0 }}
	NamespaceMainOnly = NamespacePredicate{"namespace_mainonly", func(ns int64) bool { return ns == 0 }}
	NamespaceTalk     = NamespacePredicate{"namespace_talk", func(ns int64) bool { return ns%2 != 0 }}
	NamespaceProject  = NamespacePredicate{"namespace_project", func(ns int64) bool { return ns == 4 || ns == 5 }}
)

// sessionGap is the longest pause between two edits of one session.
const sessionGap = time.Hour

// Sessions splits timestamps into editing sessions. An edit joins the
// current session when it follows the previous edit by less than an hour.
func Sessions(ts []time.Time) [][]time.Time {
	if len(ts) == 0 {
		return nil
	}
	sorted := slices.Clone(ts)
	slices.SortFunc(sorted, func(a, b time.Time) int { return a.Compare(b) })

	var sessions [][]time.Time
	cur := []time.Time{sorted[0]}
	for _, t := range sorted[1:] {
		if t.Sub(cur[len(cur)-1]) < sessionGap {
			cur = append(cur, t)
			continue
		}
		sessions = append(sessions, cur)
		cur = []time.Time{t}
	}
	return append(sessions, cur)
}

// LaborHours estimates hours of work: a single-edit session counts one
// hour, a longer session its duration plus one hour.
func LaborHours(ts []time.Time) float64 {
	var total float64
	for _, s := range Sessions(ts) {
		if len(s) == 1 {
			total++
			continue
		}
		total += s[len(s)-1].Sub(s[0]).Hours() + 1
	}
	return total
}

// Weeks is the number of weekly windows after treatment.
const Weeks = 12

// WeekWindow returns week i (1-based) after start: (start+7i days,
// start+7(i+1) days].
func WeekWindow(start time.Time, i int) (from, to time.Time) {
	return start.AddDate(0, 0, 7*i), start.AddDate(0, 0, 7*(i+1))
}

// InWindow keeps the timestamps in (from, to].
func InWindow(ts []time.Time, from, to time.Time) []time.Time {
	var out []time.Time
	for _, t := range ts {
		if t.After(from) && !t.After(to) {
			out = append(out, t)
		}
	}
	return out
}
