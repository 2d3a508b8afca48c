// Package gratsample builds the observational datasets of the Wikipedia
// gratitude study: thankees (active editors who may receive thanks) and
// thankers (experienced editors who may send them).
//
// A dataset starts from a population table keyed by (lang, user_id) and
// accretes feature columns one enrichment step at a time. Every per-user
// lookup goes through a memoized function backed by a TableCache, so an
// interrupted run replays completed rows from the cache when restarted.
//
//	s, err := gratsample.New(source, params,
//		gratsample.WithCache(tableCache),
//		gratsample.WithOracle(router),
//		gratsample.WithLogger(logger))
//	t, err := s.BuildThankees(ctx)
//	path, err := s.Emit(ctx, gratsample.Thankees, t)
package gratsample

import (
	"errors"
	"fmt"
	"time"

	"github.com/civilservant/gratsample/internal/cache"
	"github.com/civilservant/gratsample/internal/memo"
	"github.com/civilservant/gratsample/internal/metrics"
	"github.com/civilservant/gratsample/internal/oracle"
	"github.com/civilservant/gratsample/internal/storage"
	"github.com/google/uuid"
	"github.com/rickb777/date/v2/timespan"
	"go.uber.org/zap"
)

// ErrPopulation marks a failed base population query. It is fatal for the run.
var ErrPopulation = errors.New("gratsample: population query failed")

// Params are the research design parameters of a run.
type Params struct {
	Langs          []string
	Treatment      time.Time
	WikipediaStart time.Time
	WindowDays     int

	// Subsample is the per-stratum target size; 0 keeps the full population.
	Subsample                   int
	Seed                        uint64
	PrescreenFactor             int
	PrescreenNewcomerMultiplier int
	NewcomerMultiplier          int

	MinRecentEdits     int64
	RecentLookbackDays int
	RecentMaxRevs      int

	OutputDir string
}

// DefaultParams returns the study defaults for a treatment date.
func DefaultParams(treatment time.Time) Params {
	return Params{
		Langs:                       []string{"ar", "de", "fa", "pl"},
		Treatment:                   treatment.UTC(),
		WikipediaStart:              time.Date(2002, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowDays:                  90,
		Seed:                        1854,
		PrescreenFactor:             10,
		PrescreenNewcomerMultiplier: 5,
		NewcomerMultiplier:          2,
		MinRecentEdits:              4,
		RecentLookbackDays:          90,
		RecentMaxRevs:               50,
		OutputDir:                   "outputs",
	}
}

func (p Params) validate() error {
	switch {
	case len(p.Langs) == 0:
		return errors.New("gratsample: no languages")
	case p.Treatment.IsZero():
		return errors.New("gratsample: no treatment date")
	case p.WindowDays <= 0:
		return fmt.Errorf("gratsample: invalid window of %d days", p.WindowDays)
	case p.Subsample < 0:
		return fmt.Errorf("gratsample: negative subsample %d", p.Subsample)
	}
	return nil
}

// Observation is the window before treatment.
func (p Params) Observation() timespan.TimeSpan {
	return timespan.BetweenTimes(p.Treatment.AddDate(0, 0, -p.WindowDays), p.Treatment)
}

// Experiment is the window after treatment.
func (p Params) Experiment() timespan.TimeSpan {
	return timespan.BetweenTimes(p.Treatment, p.Treatment.AddDate(0, 0, p.WindowDays))
}

// Option configures a Sampler
type Option struct {
	Cache     cache.TableCache
	Stat      *cache.Stat
	Oracle    oracle.Oracle
	Reverts   oracle.RevertChecker
	Gratitude Gratitude
	Outputs   storage.Storage
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	RunID     string
}

// WithCache memoizes collaborator calls in c.
func WithCache(c cache.TableCache) func(*Option) {
	return func(o *Option) { o.Cache = c }
}

// WithCacheStat reports hit/miss counts in the run manifest.
func WithCacheStat(s *cache.Stat) func(*Option) {
	return func(o *Option) { o.Stat = s }
}

func WithOracle(q oracle.Oracle) func(*Option) {
	return func(o *Option) { o.Oracle = q }
}

func WithReverts(r oracle.RevertChecker) func(*Option) {
	return func(o *Option) { o.Reverts = r }
}

func WithGratitude(g Gratitude) func(*Option) {
	return func(o *Option) { o.Gratitude = g }
}

// WithOutputs uploads emitted files to st under outputs/.
func WithOutputs(st storage.Storage) func(*Option) {
	return func(o *Option) { o.Outputs = st }
}

func WithMetrics(m *metrics.Metrics) func(*Option) {
	return func(o *Option) { o.Metrics = m }
}

func WithLogger(l *zap.Logger) func(*Option) {
	return func(o *Option) { o.Logger = l }
}

func WithRunID(id string) func(*Option) {
	return func(o *Option) { o.RunID = id }
}

// Sampler runs the dataset pipelines.
type Sampler struct {
	params    Params
	source    RowSource
	oracle    oracle.Oracle
	reverts   oracle.RevertChecker
	gratitude Gratitude
	outputs   storage.Storage
	stat      *cache.Stat
	metrics   *metrics.Metrics
	logger    *zap.Logger
	runID     string

	spans       *memo.Memoized[spanArgs]
	disableMail *memo.Memoized[userArgs]
	thanks      *memo.Memoized[thanksArgs]
	totalEdits  *memo.Memoized[windowArgs]
	recentEdits *memo.Memoized[recentArgs]
	timestamps  *memo.Memoized[windowArgs]
	quality     *memo.Memoized[qualityArgs]
	pops        *memo.Memoized[popArgs]
	bans        *memo.Memoized[spanArgs]
	editHistory *memo.Memoized[windowArgs]
	revertCount *memo.Memoized[windowArgs]
	grats       *memo.Memoized[gratArgs]
}

// New creates a Sampler over source.
func New(source RowSource, params Params, opts ...func(*Option)) (*Sampler, error) {
	if source == nil {
		return nil, errors.New("gratsample: nil row source")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	o := &Option{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Cache == nil {
		o.Cache = cache.NewNoOpCache()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RunID == "" {
		o.RunID = uuid.NewString()
	}

	s := &Sampler{
		params:    params,
		source:    source,
		oracle:    o.Oracle,
		reverts:   o.Reverts,
		gratitude: o.Gratitude,
		outputs:   o.Outputs,
		stat:      o.Stat,
		metrics:   o.Metrics,
		logger:    o.Logger.With(zap.String("run_id", o.RunID)),
		runID:     o.RunID,
	}
	s.wire(o.Cache)
	return s, nil
}

// RunID identifies this run in logs and the manifest.
func (s *Sampler) RunID() string { return s.runID }

// Params returns the run parameters.
func (s *Sampler) Params() Params { return s.params }
