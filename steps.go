package gratsample

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/civilservant/gratsample/internal/table"
	"github.com/civilservant/gratsample/internal/trace"
	"go.uber.org/zap"
)

// BinColumn holds the experience stratum of a user.
const BinColumn = "experience_level_pre_treatment"

// Newcomer is the stratum of users registered at most 90 days before
// treatment.
const Newcomer = "bin_0"

// binThresholds are the day thresholds of the experience strata, roughly
// doubling.
var binThresholds = [...]int{0, 90, 180, 365, 730, 1460, 2920, 5840}

// ExperienceBin labels an account age in whole days with the largest
// threshold it strictly exceeds.
func ExperienceBin(days int) string {
	prev := 0
	for _, th := range binThresholds {
		if days <= th {
			break
		}
		prev = th
	}
	return "bin_" + strconv.Itoa(prev)
}

// wholeDays truncates the duration between two instants to days, rounding
// toward negative infinity like a calendar day count.
func wholeDays(from, to time.Time) int {
	d := to.Sub(from)
	days := int(d / (24 * time.Hour))
	if d < 0 && d%(24*time.Hour) != 0 {
		days--
	}
	return days
}

// Populate concatenates the edit spans of every language over
// [wikipedia start, treatment]. A failure for any language is fatal.
func (s *Sampler) Populate(ctx context.Context) (*table.Table, error) {
	done := trace.FromContext(ctx).Start("populate")
	parts := make([]*table.Table, 0, len(s.params.Langs))
	for _, lang := range s.params.Langs {
		t, err := s.spans.Call(ctx, spanArgs{Lang: lang, Start: s.params.WikipediaStart, End: s.params.Treatment})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPopulation, lang, err)
		}
		s.logger.Info("population", zap.String("lang", lang), zap.Int("users", t.Len()))
		parts = append(parts, t)
	}
	out, err := table.Concat(parts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPopulation, err)
	}
	done(map[string]any{"rows": out.Len()})
	return out, nil
}

// RemoveInactive drops users with neither a first nor a last edit in the
// span window and marks the rest active.
func (s *Sampler) RemoveInactive(t *table.Table) (*table.Table, error) {
	active := t.Filter(func(r table.Record) bool {
		return !r.IsNull("first_edit") || !r.IsNull("last_edit")
	})
	col := fmt.Sprintf("active_in_%d_pre_treatment", s.params.WindowDays)
	return active.WithConst(table.Col(col, table.Bool), true)
}

// AddExperienceBin adds BinColumn from the days between registration and
// treatment. Users without a registration date are newcomers.
func (s *Sampler) AddExperienceBin(t *table.Table) (*table.Table, error) {
	return t.WithColumn(table.Col(BinColumn, table.String), func(r table.Record) (any, error) {
		reg, ok := r.Time("user_registration")
		if !ok {
			return Newcomer, nil
		}
		return ExperienceBin(wholeDays(reg, s.params.Treatment)), nil
	})
}

// StratifiedSubsample draws up to target rows from every (lang, bin) group,
// target×newcomerMult from the newcomer stratum. The draw depends only on
// the rows, the sizes and seed.
func StratifiedSubsample(t *table.Table, target, newcomerMult int, seed uint64) (*table.Table, error) {
	groups, err := t.GroupBy("lang", BinColumn)
	if err != nil {
		return nil, err
	}
	parts := make([]*table.Table, 0, len(groups))
	for _, g := range groups {
		n := target
		if bin, _ := g.Key[1].(string); bin == Newcomer {
			n = target * newcomerMult
		}
		parts = append(parts, g.Table.Sample(n, seed))
	}
	if len(parts) == 0 {
		return table.New(t.Columns()...), nil
	}
	return table.Concat(parts...)
}

// RemoveBelow keeps rows whose col is at least min. Nulls are dropped.
func RemoveBelow(t *table.Table, col string, min int64) *table.Table {
	return t.Filter(func(r table.Record) bool {
		v, ok := r.Int(col)
		return ok && v >= min
	})
}

// BinStats counts users per (bin, lang).
func BinStats(t *table.Table) (*table.Table, error) {
	groups, err := t.GroupBy(BinColumn, "lang")
	if err != nil {
		return nil, err
	}
	out := table.New(
		table.Col("bin", table.String),
		table.Col("lang", table.String),
		table.Col("users", table.Int),
	)
	for _, g := range groups {
		if err := out.Append(g.Key[0], g.Key[1], g.Table.Len()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// checkStep verifies the row key after a pipeline step and records it.
func (s *Sampler) checkStep(dataset, step string, t *table.Table) error {
	if err := t.CheckUnique("lang", "user_id"); err != nil {
		return fmt.Errorf("%s after %s: %w", dataset, step, err)
	}
	s.metrics.StepRows(dataset, step, t.Len())
	s.logger.Info("step done", zap.String("dataset", dataset), zap.String("step", step), zap.Int("rows", t.Len()))
	return nil
}

// logStrata logs the group sizes per (lang, bin) at debug.
func (s *Sampler) logStrata(step string, t *table.Table) {
	if ce := s.logger.Check(zap.DebugLevel, "strata"); ce != nil {
		groups, err := t.GroupBy("lang", BinColumn)
		if err != nil {
			return
		}
		sizes := make(map[string]int, len(groups))
		for _, g := range groups {
			sizes[fmt.Sprintf("%v/%v", g.Key[0], g.Key[1])] = g.Table.Len()
		}
		ce.Write(zap.String("step", step), zap.Any("sizes", sizes))
	}
}
