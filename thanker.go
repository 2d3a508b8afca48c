package gratsample

import (
	"context"
	"fmt"

	"github.com/civilservant/gratsample/internal/gratitude"
	"github.com/civilservant/gratsample/internal/replica"
	"github.com/civilservant/gratsample/internal/table"
	"github.com/civilservant/gratsample/internal/trace"
	"github.com/rickb777/date/v2/timespan"
	"go.uber.org/zap"
)

// thankerRule is the population of potential thankers of one language:
// users trusted to review edits, or experienced enough to become so.
type thankerRule struct {
	group   string
	edits   int64
	minDays int
	flags   []string
}

var thankerRules = map[string]thankerRule{
	"de": {group: "autoreview", edits: 300, minDays: 60, flags: []string{"de_is_days_enough", "de_is_edits_enough", "de_is_autoreviewer"}},
	"ar": {group: "autoreview", flags: []string{"ar_is_autoreview"}},
	"pl": {group: "editor", flags: []string{"pl_is_editor"}},
	"fa": {edits: 500, minDays: 365, flags: []string{"fa_is_days_enough", "fa_is_edits_enough"}},
}

// CheckThankerLangs reports whether every language has a thanker population rule.
func CheckThankerLangs(langs []string) error {
	for _, lang := range langs {
		if _, ok := thankerRules[lang]; !ok {
			return fmt.Errorf("gratsample: no thanker population for %q", lang)
		}
	}
	return nil
}

// population selects the thankers of one language and flags why they
// qualify.
func (s *Sampler) population(ctx context.Context, a popArgs) (*table.Table, error) {
	rule, ok := thankerRules[a.Lang]
	if !ok {
		return nil, fmt.Errorf("gratsample: no thanker population for %q", a.Lang)
	}
	t, err := s.source.GroupMembers(ctx, a.Lang, replica.GroupRule{
		Group:            rule.group,
		MinEdits:         rule.edits,
		RegisteredBefore: a.Treatment.AddDate(0, 0, -rule.minDays),
	})
	if err != nil {
		return nil, err
	}
	for _, flag := range rule.flags {
		if t, err = t.WithConst(table.Col(flag, table.Bool), true); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// BuildThankers builds the thanker dataset: reviewers and experienced
// editors, enriched with their moderation and gratitude activity.
func (s *Sampler) BuildThankers(ctx context.Context) (*table.Table, error) {
	ctx, done := s.traced(ctx, Thankers)
	defer done()
	p := s.params
	if err := CheckThankerLangs(p.Langs); err != nil {
		return nil, err
	}

	finish := trace.FromContext(ctx).Start("populate")
	parts := make([]*table.Table, 0, len(p.Langs))
	for _, lang := range p.Langs {
		t, err := s.pops.Call(ctx, popArgs{Lang: lang, Treatment: p.Treatment})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrPopulation, lang, err)
		}
		s.logger.Info("population", zap.String("lang", lang), zap.Int("users", t.Len()))
		parts = append(parts, t)
	}
	t, err := table.Concat(parts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPopulation, err)
	}
	finish(map[string]any{"rows": t.Len()})
	if p.Subsample > 0 {
		t = t.Sample(p.Subsample, p.Seed)
	}
	if err := s.checkStep(Thankers, "populate", t); err != nil {
		return nil, err
	}

	obs, exp := p.Observation(), p.Experiment()
	d := p.WindowDays
	for _, w := range []struct {
		span timespan.TimeSpan
		when string
	}{{obs, "pre"}, {exp, "post"}} {
		if t, err = s.addBlocks(ctx, t, w.span, fmt.Sprintf("block_actions_%d_%s_treatment", d, w.when)); err != nil {
			return nil, err
		}
	}

	var features []Feature
	for _, w := range []struct {
		span timespan.TimeSpan
		when string
	}{{obs, "pre"}, {exp, "post"}} {
		features = append(features, s.revertActions(fmt.Sprintf("num_reverts_%d_%s_treatment", d, w.when), w.span))
	}
	for _, c := range []struct {
		col  string
		pred NamespacePredicate
	}{{"support_talk", NamespaceTalk}, {"project_talk", NamespaceProject}} {
		features = append(features,
			s.talkCount(fmt.Sprintf("%s_%d_pre_treatment", c.col, d), obs, c.pred),
			s.talkCount(fmt.Sprintf("%s_%d_post_treatment", c.col, d), exp, c.pred))
	}
	for _, kind := range []gratitude.Kind{gratitude.Thank, gratitude.Love} {
		features = append(features,
			s.gratitudeCount(fmt.Sprintf("wiki%s_%d_pre_treatment", kind, d), kind, obs),
			s.gratitudeCount(fmt.Sprintf("wiki%s_%d_post_treatment", kind, d), kind, exp))
	}
	return s.enrichAll(ctx, Thankers, t, features...)
}

// addBlocks counts the block actions each user performed within span. A
// language whose block log cannot be read leaves its users null.
func (s *Sampler) addBlocks(ctx context.Context, t *table.Table, span timespan.TimeSpan, col string) (*table.Table, error) {
	finish := trace.FromContext(ctx).Start(col)
	counts := table.New(
		table.Col("lang", table.String),
		table.Col("user_id", table.Int),
		table.Col(col, table.Int),
	)
	for _, lang := range s.params.Langs {
		bans, err := s.bans.Call(ctx, spanArgs{Lang: lang, Start: span.Start(), End: span.End()})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.metrics.FeatureFailure(col)
			s.logger.Warn("feature failed", zap.String("feature", col), zap.String("lang", lang), zap.Error(err))
			continue
		}
		groups, err := bans.GroupBy("blocking_user_id")
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if err := counts.Append(lang, g.Key[0], g.Table.Len()); err != nil {
				return nil, err
			}
		}
	}
	out, err := table.LeftMerge(t, counts, byUser...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", col, err)
	}
	if err := s.checkStep(Thankers, col, out); err != nil {
		return nil, err
	}
	finish(map[string]any{"rows": out.Len(), "blockers": counts.Len()})
	return out, nil
}

func windowOf(lang string, id int64, span timespan.TimeSpan) windowArgs {
	return windowArgs{Lang: lang, UserID: id, Start: span.Start(), End: span.End()}
}

func (s *Sampler) revertActions(name string, span timespan.TimeSpan) Feature {
	return counter(name, func(ctx context.Context, lang string, id int64) (any, error) {
		t, err := s.revertCount.Call(ctx, windowOf(lang, id, span))
		if err != nil {
			return nil, err
		}
		if t.Len() == 0 {
			return nil, nil
		}
		n, _ := t.Rec(0).Int("reverts")
		return n, nil
	})
}

// talkCount counts the user's edits within span to pages matching pred.
func (s *Sampler) talkCount(name string, span timespan.TimeSpan, pred NamespacePredicate) Feature {
	return counter(name, func(ctx context.Context, lang string, id int64) (any, error) {
		t, err := s.editHistory.Call(ctx, windowOf(lang, id, span))
		if err != nil {
			return nil, err
		}
		var n int64
		for _, r := range t.Records() {
			if ns, ok := r.Int("page_namespace"); ok && pred.Match(ns) {
				n++
			}
		}
		return n, nil
	})
}

func (s *Sampler) gratitudeCount(name string, kind gratitude.Kind, span timespan.TimeSpan) Feature {
	return counter(name, func(ctx context.Context, lang string, id int64) (any, error) {
		t, err := s.grats.Call(ctx, gratArgs{windowArgs: windowOf(lang, id, span), Kind: kind})
		if err != nil {
			return nil, err
		}
		if t.Len() == 0 {
			return nil, nil
		}
		return t.Rec(0).Get("count"), nil
	})
}
