// Package oracle decides whether revisions are "quality enough". Most
// languages are scored by ORES; dewiki uses its flagged-revisions review
// state instead.
package oracle

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/civilservant/gratsample/internal/apiclient"
	"github.com/civilservant/gratsample/internal/mwapi"
	"github.com/civilservant/gratsample/internal/table"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Columns of every Quality result.
var Columns = []table.Column{
	table.Col("rev_id", table.Int),
	table.Col("quality_enough", table.Bool),
}

// Oracle scores a set of revisions of one language.
type Oracle interface {
	Quality(ctx context.Context, lang string, revIDs []int64) (*table.Table, error)
}

// Router dispatches to the oracle configured for a language.
type Router map[string]Oracle

func (r Router) Quality(ctx context.Context, lang string, revIDs []int64) (*table.Table, error) {
	o, ok := r[lang]
	if !ok {
		return nil, fmt.Errorf("oracle: no quality oracle for language %q", lang)
	}
	return o.Quality(ctx, lang, revIDs)
}

const DefaultORESEndpoint = "https://ores.wikimedia.org"

// ORES scores revisions with the damaging and goodfaith models.
type ORES struct {
	http      *apiclient.Client
	endpoint  string
	batchSize int
}

func NewORES(http *apiclient.Client, endpoint string, batchSize int) *ORES {
	if endpoint == "" {
		endpoint = DefaultORESEndpoint
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ORES{http: http, endpoint: strings.TrimRight(endpoint, "/"), batchSize: batchSize}
}

// Quality marks a revision quality_enough when it is predicted not damaging
// and good faith. Revisions ORES cannot score are false.
func (o *ORES) Quality(ctx context.Context, lang string, revIDs []int64) (*table.Table, error) {
	t := table.New(Columns...)
	wiki := lang + "wiki"
	for start := 0; start < len(revIDs); start += o.batchSize {
		batch := revIDs[start:min(start+o.batchSize, len(revIDs))]
		ids := make([]string, len(batch))
		for i, id := range batch {
			ids[i] = strconv.FormatInt(id, 10)
		}
		body, err := o.http.Get(ctx, o.endpoint+"/v3/scores/"+wiki+"/", url.Values{
			"models": {"damaging|goodfaith"},
			"revids": {strings.Join(ids, "|")},
		})
		if err != nil {
			return nil, err
		}
		scores := member(gjson.ParseBytes(body), wiki).Get("scores")
		for i, id := range batch {
			s := scores.Get(ids[i])
			damaging := s.Get("damaging.score.prediction")
			goodfaith := s.Get("goodfaith.score.prediction")
			ok := damaging.Exists() && goodfaith.Exists() && !damaging.Bool() && goodfaith.Bool()
			if err := t.Append(id, ok); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// member returns the value of key in obj. Keys are matched literally, so
// wiki names never need path escaping.
func member(obj gjson.Result, key string) gjson.Result {
	var out gjson.Result
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			out = v
			return false
		}
		return true
	})
	return out
}

// FlagSource loads flagged-revision state from the replicas.
type FlagSource interface {
	FlaggedRevisions(ctx context.Context, lang string, revIDs []int64, asOf time.Time) (*table.Table, error)
}

// RevertChecker reports whether a revision was reverted.
type RevertChecker interface {
	Check(ctx context.Context, lang string, revID int64, radius int, window time.Duration) (mwapi.Reverts, error)
}

// Flagged is the dewiki heuristic.
type Flagged struct {
	flags   FlagSource
	reverts RevertChecker
	now     func() time.Time
	logger  *zap.Logger
}

func NewFlagged(flags FlagSource, reverts RevertChecker, logger *zap.Logger) *Flagged {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flagged{flags: flags, reverts: reverts, now: time.Now, logger: logger.Named("flagged")}
}

// Quality decides per revision, in order: outside the main namespace is
// true; explicitly flagged is true; reverted within 48h (or unknown) is
// false; otherwise true iff the page was last flagged after the revision.
func (f *Flagged) Quality(ctx context.Context, lang string, revIDs []int64) (*table.Table, error) {
	revs, err := f.flags.FlaggedRevisions(ctx, lang, revIDs, f.now().UTC())
	if err != nil {
		return nil, err
	}
	t := table.New(Columns...)
	for _, r := range revs.Records() {
		id, _ := r.Int("rev_id")
		ok, err := f.decide(ctx, lang, id, r)
		if err != nil {
			return nil, err
		}
		if err := t.Append(id, ok); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (f *Flagged) decide(ctx context.Context, lang string, id int64, r table.Record) (bool, error) {
	if ns, ok := r.Int("page_namespace"); !ok || ns != 0 {
		return true, nil
	}
	if !r.IsNull("fr_timestamp") {
		return true, nil
	}
	rv, err := f.reverts.Check(ctx, lang, id, 3, 48*time.Hour)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		f.logger.Warn("revert status unavailable, treating as reverted", zap.Int64("rev_id", id), zap.Error(err))
		return false, nil
	}
	if rv.Reverted {
		return false, nil
	}
	last, ok := r.Time("max_fr_ts")
	if !ok {
		return false, nil
	}
	at, _ := r.Time("rev_timestamp")
	return at.Before(last), nil
}
