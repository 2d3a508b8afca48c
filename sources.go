package gratsample

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civilservant/gratsample/internal/cache"
	"github.com/civilservant/gratsample/internal/cachekey"
	"github.com/civilservant/gratsample/internal/gratitude"
	"github.com/civilservant/gratsample/internal/memo"
	"github.com/civilservant/gratsample/internal/replica"
	"github.com/civilservant/gratsample/internal/table"
	"go.uber.org/zap"
)

// RowSource produces tables of user, revision and log records.
// *replica.Source implements it.
type RowSource interface {
	EditSpans(ctx context.Context, lang string, start, end time.Time) (*table.Table, error)
	DisableMail(ctx context.Context, lang string, userID int64) (*table.Table, error)
	ThanksReceived(ctx context.Context, lang, userName string, start, end time.Time) (*table.Table, error)
	TotalEdits(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error)
	RecentEdits(ctx context.Context, lang string, userID int64, end time.Time, priorDays, maxRevs int) (*table.Table, error)
	EditTimestamps(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error)
	UserEdits(ctx context.Context, lang string, userID int64, start, end time.Time) (*table.Table, error)
	Blocks(ctx context.Context, lang string, start, end time.Time) (*table.Table, error)
	GroupMembers(ctx context.Context, lang string, rule replica.GroupRule) (*table.Table, error)
}

// Gratitude counts exported thanks and WikiLove. *gratitude.Store
// implements it.
type Gratitude interface {
	Count(ctx context.Context, lang string, kind gratitude.Kind, senderID int64, start, end time.Time) (int, bool, error)
}

var _ RowSource = (*replica.Source)(nil)
var _ Gratitude = (*gratitude.Store)(nil)

// Cache namespaces.
const (
	nsSpans       = "spans"
	nsDisableMail = "disablemail"
	nsThanks      = "thanks"
	nsTotalEdits  = "total_edits"
	nsRecentEdits = "recent_edits"
	nsTimestamps  = "timestamps"
	nsQuality     = "qualityedits"
	nsPops        = "pops"
	nsBans        = "bans"
	nsEditHistory = "edithistory"
	nsReverts     = "reverts"
	nsGratitude   = "gratitude"
)

type spanArgs struct {
	Lang       string
	Start, End time.Time
}

func (a spanArgs) CacheArgs() []cachekey.Arg { return cachekey.Values(a.Lang, a.Start, a.End) }

type userArgs struct {
	Lang   string
	UserID int64
}

func (a userArgs) CacheArgs() []cachekey.Arg { return cachekey.Values(a.Lang, a.UserID) }

type thanksArgs struct {
	Lang       string
	UserName   string
	Start, End time.Time
}

func (a thanksArgs) CacheArgs() []cachekey.Arg {
	return cachekey.Values(a.Lang, a.UserName, a.Start, a.End)
}

type windowArgs struct {
	Lang       string
	UserID     int64
	Start, End time.Time
}

func (a windowArgs) CacheArgs() []cachekey.Arg {
	return cachekey.Values(a.Lang, a.UserID, a.Start, a.End)
}

type recentArgs struct {
	Lang      string
	UserID    int64
	End       time.Time
	PriorDays int
	MaxRevs   int
}

func (a recentArgs) CacheArgs() []cachekey.Arg {
	return cachekey.Values(a.Lang, a.UserID, a.End, a.PriorDays, a.MaxRevs)
}

type qualityArgs struct {
	recentArgs
	Namespaces NamespacePredicate
}

func (a qualityArgs) CacheArgs() []cachekey.Arg {
	return append(a.recentArgs.CacheArgs(), cachekey.Named(a.Namespaces.Name))
}

type popArgs struct {
	Lang      string
	Treatment time.Time
}

func (a popArgs) CacheArgs() []cachekey.Arg { return cachekey.Values(a.Lang, a.Treatment) }

type gratArgs struct {
	windowArgs
	Kind gratitude.Kind
}

func (a gratArgs) CacheArgs() []cachekey.Arg {
	return append([]cachekey.Arg{cachekey.Value(string(a.Kind))}, a.windowArgs.CacheArgs()...)
}

// wire binds every collaborator call to its cache namespace.
func (s *Sampler) wire(c cache.TableCache) {
	src := s.source
	s.spans = memo.Wrap[spanArgs](c, nsSpans, func(ctx context.Context, a spanArgs) (*table.Table, error) {
		return src.EditSpans(ctx, a.Lang, a.Start, a.End)
	})
	s.disableMail = memo.Wrap[userArgs](c, nsDisableMail, func(ctx context.Context, a userArgs) (*table.Table, error) {
		return src.DisableMail(ctx, a.Lang, a.UserID)
	})
	s.thanks = memo.Wrap[thanksArgs](c, nsThanks, func(ctx context.Context, a thanksArgs) (*table.Table, error) {
		return src.ThanksReceived(ctx, a.Lang, a.UserName, a.Start, a.End)
	})
	s.totalEdits = memo.Wrap[windowArgs](c, nsTotalEdits, func(ctx context.Context, a windowArgs) (*table.Table, error) {
		return src.TotalEdits(ctx, a.Lang, a.UserID, a.Start, a.End)
	})
	s.recentEdits = memo.Wrap[recentArgs](c, nsRecentEdits, func(ctx context.Context, a recentArgs) (*table.Table, error) {
		return src.RecentEdits(ctx, a.Lang, a.UserID, a.End, a.PriorDays, a.MaxRevs)
	})
	s.timestamps = memo.Wrap[windowArgs](c, nsTimestamps, func(ctx context.Context, a windowArgs) (*table.Table, error) {
		return src.EditTimestamps(ctx, a.Lang, a.UserID, a.Start, a.End)
	})
	s.quality = memo.Wrap[qualityArgs](c, nsQuality, s.qualityEdits)
	s.pops = memo.Wrap[popArgs](c, nsPops, s.population)
	s.bans = memo.Wrap[spanArgs](c, nsBans, func(ctx context.Context, a spanArgs) (*table.Table, error) {
		return src.Blocks(ctx, a.Lang, a.Start, a.End)
	})
	s.editHistory = memo.Wrap[windowArgs](c, nsEditHistory, func(ctx context.Context, a windowArgs) (*table.Table, error) {
		return src.UserEdits(ctx, a.Lang, a.UserID, a.Start, a.End)
	})
	s.revertCount = memo.Wrap[windowArgs](c, nsReverts, s.countReverts)
	s.grats = memo.Wrap[gratArgs](c, nsGratitude, s.countGratitude)
}

// qualityEdits scores the user's recent edits that match the namespace
// predicate. Result columns: rev_id, quality_enough.
func (s *Sampler) qualityEdits(ctx context.Context, a qualityArgs) (*table.Table, error) {
	if s.oracle == nil {
		return nil, errors.New("gratsample: no quality oracle configured")
	}
	recent, err := s.recentEdits.Call(ctx, a.recentArgs)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, r := range recent.Records() {
		ns, ok := r.Int("page_namespace")
		if !ok || !a.Namespaces.Match(ns) {
			continue
		}
		if id, ok := r.Int("rev_id"); ok {
			ids = append(ids, id)
		}
	}
	return s.oracle.Quality(ctx, a.Lang, ids)
}

// countReverts counts the user's edits in the window that reverted another
// edit. Revisions the API cannot answer for are skipped.
func (s *Sampler) countReverts(ctx context.Context, a windowArgs) (*table.Table, error) {
	if s.reverts == nil {
		return nil, errors.New("gratsample: no revision API configured")
	}
	edits, err := s.editHistory.Call(ctx, a)
	if err != nil {
		return nil, err
	}
	var n int64
	for _, r := range edits.Records() {
		id, ok := r.Int("rev_id")
		if !ok {
			continue
		}
		rv, err := s.reverts.Check(ctx, a.Lang, id, 3, 48*time.Hour)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Debug("revert check failed", zap.String("lang", a.Lang), zap.Int64("rev_id", id), zap.Error(err))
			continue
		}
		if rv.Reverting {
			n++
		}
	}
	t := table.New(table.Col("reverts", table.Int))
	return t, t.Append(n)
}

// countGratitude returns a one-row table with the count, null when the
// language has no export of that kind.
func (s *Sampler) countGratitude(ctx context.Context, a gratArgs) (*table.Table, error) {
	if s.gratitude == nil {
		return nil, errors.New("gratsample: no gratitude exports configured")
	}
	n, ok, err := s.gratitude.Count(ctx, a.Lang, a.Kind, a.UserID, a.Start, a.End)
	if err != nil {
		return nil, err
	}
	t := table.New(table.Col("count", table.Int))
	var v any
	if ok {
		v = int64(n)
	}
	if err := t.Append(v); err != nil {
		return nil, fmt.Errorf("gratitude count: %w", err)
	}
	return t, nil
}
