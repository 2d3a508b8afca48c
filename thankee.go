package gratsample

import (
	"context"
	"fmt"
	"time"

	"github.com/civilservant/gratsample/internal/table"
	"github.com/civilservant/gratsample/internal/trace"
	"github.com/rickb777/date/v2/timespan"
	"go.uber.org/zap"
)

// BuildThankees builds the thankee dataset: active editors stratified by
// experience, enriched with their activity around the treatment date.
func (s *Sampler) BuildThankees(ctx context.Context) (*table.Table, error) {
	ctx, done := s.traced(ctx, Thankees)
	defer done()
	p := s.params

	t, err := s.Populate(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkStep(Thankees, "populate", t); err != nil {
		return nil, err
	}
	if t, err = s.RemoveInactive(t); err != nil {
		return nil, err
	}
	if err := s.checkStep(Thankees, "remove_inactive", t); err != nil {
		return nil, err
	}
	if t, err = s.AddExperienceBin(t); err != nil {
		return nil, err
	}
	s.logStrata("bin", t)
	if p.Subsample == 0 {
		if err := s.emitBinStats(ctx, t); err != nil {
			return nil, err
		}
	} else {
		if t, err = StratifiedSubsample(t, p.PrescreenFactor*p.Subsample, p.PrescreenNewcomerMultiplier, p.Seed); err != nil {
			return nil, err
		}
		s.logStrata("prescreen", t)
	}
	if err := s.checkStep(Thankees, "bin", t); err != nil {
		return nil, err
	}

	if t, err = s.Enrich(ctx, Thankees, t, s.recentEditCount()); err != nil {
		return nil, err
	}
	t = RemoveBelow(t, "recent_edits_pre_treatment", p.MinRecentEdits)
	s.logStrata("min_recent_edits", t)
	if p.Subsample > 0 {
		if t, err = StratifiedSubsample(t, p.Subsample, p.NewcomerMultiplier, p.Seed); err != nil {
			return nil, err
		}
		s.logStrata("subsample", t)
	}
	if err := s.checkStep(Thankees, "subsample", t); err != nil {
		return nil, err
	}

	return s.enrichAll(ctx, Thankees, t,
		s.thanksReceived(),
		s.totalEditCount(),
		s.hasEmail(),
		s.qualityCount("num_quality_pre_treatment", NamespaceAll),
		s.qualityCount("num_quality_pre_treatment_non_talk", NamespaceNonTalk),
		s.qualityCount("num_quality_pre_treatment_main_only", NamespaceMainOnly),
		s.editWindows(),
		s.weekly(fmt.Sprintf("num_edits_%d_post_treatment", p.WindowDays), table.Int, func(ts []time.Time) any { return int64(len(ts)) }),
		s.weekly(fmt.Sprintf("num_labor_hours_%d_post_treatment", p.WindowDays), table.Float, func(ts []time.Time) any { return LaborHours(ts) }),
	)
}

// traced attaches a fresh trace for one dataset build. The returned func
// logs its spans at debug.
func (s *Sampler) traced(ctx context.Context, dataset string) (context.Context, func()) {
	ctx = trace.WithTrace(ctx, dataset)
	return ctx, func() {
		s.logger.Debug("trace", zap.String("dataset", dataset), zap.String("spans", trace.FromContext(ctx).Dump()))
	}
}

func (s *Sampler) recentArgs(lang string, userID int64) recentArgs {
	return recentArgs{
		Lang:      lang,
		UserID:    userID,
		End:       s.params.Treatment,
		PriorDays: s.params.RecentLookbackDays,
		MaxRevs:   s.params.RecentMaxRevs,
	}
}

func (s *Sampler) recentEditCount() Feature {
	return counter("recent_edits_pre_treatment", func(ctx context.Context, lang string, id int64) (any, error) {
		t, err := s.recentEdits.Call(ctx, s.recentArgs(lang, id))
		if err != nil {
			return nil, err
		}
		return t.Len(), nil
	})
}

// thanksReceived is keyed on user name since the thank log has no
// receiver id.
func (s *Sampler) thanksReceived() Feature {
	const name = "num_prev_thanks_in_90_pre_treatment"
	obs := s.params.Observation()
	return Feature{
		Name:    name,
		On:      []string{"lang", "user_name"},
		Columns: []table.Column{table.Col(name, table.Int)},
		Compute: func(ctx context.Context, r table.Record) ([]any, error) {
			lang, _ := r.String("lang")
			user, ok := r.String("user_name")
			if !ok {
				return nil, fmt.Errorf("%s row without user_name", lang)
			}
			t, err := s.thanks.Call(ctx, thanksArgs{Lang: lang, UserName: user, Start: obs.Start(), End: obs.End()})
			if err != nil {
				return nil, err
			}
			return []any{t.Len()}, nil
		},
	}
}

func (s *Sampler) totalEditCount() Feature {
	return counter("edits_pre_treatment", func(ctx context.Context, lang string, id int64) (any, error) {
		t, err := s.totalEdits.Call(ctx, windowArgs{Lang: lang, UserID: id, Start: s.params.WikipediaStart, End: s.params.Treatment})
		if err != nil {
			return nil, err
		}
		if t.Len() == 0 {
			return nil, nil
		}
		n, _ := t.Rec(0).Int("edits")
		return n, nil
	})
}

// hasEmail is false when the user disabled mail from other users.
func (s *Sampler) hasEmail() Feature {
	return Feature{
		Name:    "has_email",
		On:      byUser,
		Columns: []table.Column{table.Col("has_email", table.Bool)},
		Compute: func(ctx context.Context, r table.Record) ([]any, error) {
			lang, id, err := userKey(r)
			if err != nil {
				return nil, err
			}
			t, err := s.disableMail.Call(ctx, userArgs{Lang: lang, UserID: id})
			if err != nil {
				return nil, err
			}
			return []any{t.Len() == 0}, nil
		},
	}
}

// qualityCount counts recent edits in the matching namespaces that the
// oracle judges good enough. The look-back ends at the user's last edit
// before treatment, so it may reach further back than the observation
// window.
func (s *Sampler) qualityCount(name string, pred NamespacePredicate) Feature {
	return counter(name, func(ctx context.Context, lang string, id int64) (any, error) {
		t, err := s.quality.Call(ctx, qualityArgs{recentArgs: s.recentArgs(lang, id), Namespaces: pred})
		if err != nil {
			return nil, err
		}
		var n int64
		for _, r := range t.Records() {
			if ok, _ := r.Bool("quality_enough"); ok {
				n++
			}
		}
		return n, nil
	})
}

// editTimes returns the user's edit timestamps within span, inclusive.
func (s *Sampler) editTimes(ctx context.Context, lang string, id int64, span timespan.TimeSpan) ([]time.Time, error) {
	t, err := s.timestamps.Call(ctx, windowArgs{Lang: lang, UserID: id, Start: span.Start(), End: span.End()})
	if err != nil {
		return nil, err
	}
	ts := make([]time.Time, 0, t.Len())
	for _, r := range t.Records() {
		if v, ok := r.Time("rev_timestamp"); ok {
			ts = append(ts, v)
		}
	}
	return ts, nil
}

// editWindows counts edits and labor hours before and after treatment.
func (s *Sampler) editWindows() Feature {
	d := s.params.WindowDays
	return Feature{
		Name: "edit_windows",
		On:   byUser,
		Columns: []table.Column{
			table.Col(fmt.Sprintf("num_edits_%d_pre_treatment", d), table.Int),
			table.Col(fmt.Sprintf("num_edits_%d_post_treatment", d), table.Int),
			table.Col(fmt.Sprintf("num_labor_hours_%d_pre_treatment", d), table.Float),
			table.Col(fmt.Sprintf("num_labor_hours_%d_post_treatment", d), table.Float),
		},
		Compute: func(ctx context.Context, r table.Record) ([]any, error) {
			lang, id, err := userKey(r)
			if err != nil {
				return nil, err
			}
			pre, err := s.editTimes(ctx, lang, id, s.params.Observation())
			if err != nil {
				return nil, err
			}
			post, err := s.editTimes(ctx, lang, id, s.params.Experiment())
			if err != nil {
				return nil, err
			}
			return []any{len(pre), len(post), LaborHours(pre), LaborHours(post)}, nil
		},
	}
}

// weekly measures post-treatment edits per week with fn, adding
// {col}_week_{i} and {col}_week_{i}_any for every week.
func (s *Sampler) weekly(col string, typ table.Type, fn func([]time.Time) any) Feature {
	cols := make([]table.Column, 0, 2*Weeks)
	for i := 1; i <= Weeks; i++ {
		name := fmt.Sprintf("%s_week_%d", col, i)
		cols = append(cols, table.Col(name, typ), table.Col(name+"_any", table.Bool))
	}
	return Feature{
		Name:    col + "_weekly",
		On:      byUser,
		Columns: cols,
		Compute: func(ctx context.Context, r table.Record) ([]any, error) {
			lang, id, err := userKey(r)
			if err != nil {
				return nil, err
			}
			post, err := s.editTimes(ctx, lang, id, s.params.Experiment())
			if err != nil {
				return nil, err
			}
			values := make([]any, 0, 2*Weeks)
			for i := 1; i <= Weeks; i++ {
				from, to := WeekWindow(s.params.Treatment, i)
				in := InWindow(post, from, to)
				values = append(values, fn(in), len(in) > 0)
			}
			return values, nil
		},
	}
}
