package gratsample

import (
	"context"
	"errors"
	"fmt"

	"github.com/civilservant/gratsample/internal/cache"
	"github.com/civilservant/gratsample/internal/table"
	"github.com/civilservant/gratsample/internal/trace"
	"go.uber.org/zap"
)

// Feature is one enrichment step. Compute runs once per distinct key of the
// population and returns one value per column.
type Feature struct {
	Name    string
	On      []string
	Columns []table.Column
	Compute func(ctx context.Context, r table.Record) ([]any, error)
}

// byUser keys a feature on (lang, user_id).
var byUser = []string{"lang", "user_id"}

// Enrich left-merges f onto t. A failed computation for one key leaves its
// cells null; corrupt cache entries and cancellation abort the step.
func (s *Sampler) Enrich(ctx context.Context, dataset string, t *table.Table, f Feature) (*table.Table, error) {
	done := trace.FromContext(ctx).Start(f.Name)

	cols := make([]table.Column, 0, len(f.On)+len(f.Columns))
	for _, k := range f.On {
		c, ok := t.Column(k)
		if !ok {
			return nil, fmt.Errorf("%s: unknown key column %q", f.Name, k)
		}
		cols = append(cols, c)
	}
	cols = append(cols, f.Columns...)
	right := table.New(cols...)

	seen := make(map[string]bool, t.Len())
	failed := 0
	for _, r := range t.Records() {
		key := make([]any, len(f.On))
		for i, k := range f.On {
			key[i] = r.Get(k)
		}
		id := fmt.Sprintf("%#v", key)
		if seen[id] {
			continue
		}
		seen[id] = true

		values, err := f.Compute(ctx, r)
		if err != nil {
			if errors.Is(err, cache.ErrCorrupt) || ctx.Err() != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			failed++
			s.metrics.FeatureFailure(f.Name)
			s.logger.Warn("feature failed", zap.String("feature", f.Name), zap.Any("key", key), zap.Error(err))
			values = make([]any, len(f.Columns))
		}
		if len(values) != len(f.Columns) {
			return nil, fmt.Errorf("%s: computed %d values for %d columns", f.Name, len(values), len(f.Columns))
		}
		if err := right.Append(append(key, values...)...); err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
	}

	out, err := table.LeftMerge(t, right, f.On...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name, err)
	}
	if err := s.checkStep(dataset, f.Name, out); err != nil {
		return nil, err
	}
	done(map[string]any{"rows": out.Len(), "failed": failed})
	return out, nil
}

// enrichAll applies features in order.
func (s *Sampler) enrichAll(ctx context.Context, dataset string, t *table.Table, features ...Feature) (*table.Table, error) {
	var err error
	for _, f := range features {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		if t, err = s.Enrich(ctx, dataset, t, f); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// userKey returns the lang and user_id of a population row.
func userKey(r table.Record) (string, int64, error) {
	lang, ok := r.String("lang")
	if !ok {
		return "", 0, errors.New("row without lang")
	}
	id, ok := r.Int("user_id")
	if !ok {
		return "", 0, fmt.Errorf("%s row without user_id", lang)
	}
	return lang, id, nil
}

// counter builds a single integer column feature keyed by user. count may
// return nil for an unknown value.
func counter(name string, count func(ctx context.Context, lang string, userID int64) (any, error)) Feature {
	return Feature{
		Name:    name,
		On:      byUser,
		Columns: []table.Column{table.Col(name, table.Int)},
		Compute: func(ctx context.Context, r table.Record) ([]any, error) {
			lang, id, err := userKey(r)
			if err != nil {
				return nil, err
			}
			v, err := count(ctx, lang, id)
			if err != nil {
				return nil, err
			}
			return []any{v}, nil
		},
	}
}
