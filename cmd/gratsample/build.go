package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/civilservant/gratsample"
	"github.com/civilservant/gratsample/internal/apiclient"
	"github.com/civilservant/gratsample/internal/cache"
	"github.com/civilservant/gratsample/internal/config"
	"github.com/civilservant/gratsample/internal/gratitude"
	"github.com/civilservant/gratsample/internal/metrics"
	"github.com/civilservant/gratsample/internal/mwapi"
	"github.com/civilservant/gratsample/internal/oracle"
	"github.com/civilservant/gratsample/internal/replica"
	"github.com/civilservant/gratsample/internal/storage"
	"github.com/civilservant/gratsample/internal/table"
)

var (
	thankeesCmd = &cobra.Command{
		Use:   "thankees",
		Short: "Build the thankee dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return build(cmd.Context(), gratsample.Thankees)
		},
	}
	thankersCmd = &cobra.Command{
		Use:   "thankers",
		Short: "Build the thanker dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return build(cmd.Context(), gratsample.Thankers)
		},
	}
)

// oresBatch is the number of revisions scored per ORES request.
const oresBatch = 50

// run holds the collaborators of one build.
type run struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	cache   *cache.StoreCache
	store   storage.Storage
	db      *replica.Source
}

func (r *run) Close() {
	if r.cache != nil {
		r.cache.Close()
	}
	if r.db != nil {
		if err := r.db.Close(); err != nil {
			r.logger.Warn("failed to close replica connection", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}

// setup resolves the configuration, including shared settings, and opens
// the cache. Builds pass withReplica so missing replica credentials fail
// before the cache is touched.
func setup(ctx context.Context, withReplica bool) (*run, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.SharedRedis != "" {
		m, err := config.NewManagerWithURL(cfg.SharedRedis)
		if err != nil {
			return nil, err
		}
		err = m.Apply(ctx, cfg, overrides...)
		_ = m.Close()
		if err != nil {
			return nil, err
		}
	}
	if withReplica {
		if err := cfg.ValidateReplica(); err != nil {
			return nil, err
		}
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	r := &run{cfg: cfg, logger: logger, metrics: metrics.New()}

	r.store, err = cfg.CreateStorage()
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create cache storage: %w", err)
	}
	opts := []func(*cache.Option){
		cache.WithMemoryTier(cfg.Storage.MemoryTier),
		cache.WithMetrics(r.metrics),
		cache.WithLogger(logger),
	}
	if cfg.Storage.Secret != "" {
		opts = append(opts, cache.WithSecret([]byte(cfg.Storage.Secret)))
	}
	r.cache, err = cache.New(r.store, opts...)
	if err != nil {
		r.Close()
		return nil, err
	}
	logger.Info("cache ready", zap.String("storage", r.store.Name()))
	return r, nil
}

// sampler connects the replicas and the web APIs and creates the Sampler.
func (r *run) sampler() (*gratsample.Sampler, error) {
	cfg := r.cfg
	db, err := replica.Open(cfg.Replica)
	if err != nil {
		return nil, err
	}
	r.db = replica.New(db, r.logger)

	api := func(service string) *apiclient.Client {
		return apiclient.New(service,
			apiclient.WithUserAgent(cfg.UserAgent),
			apiclient.WithRate(cfg.APIRate, 1),
			apiclient.WithMetrics(r.metrics),
			apiclient.WithLogger(r.logger),
		)
	}
	mw := mwapi.New(api("mwapi"), cfg.MWAPIEndpoint)
	ores := oracle.NewORES(api("ores"), cfg.ORESEndpoint, oresBatch)
	router := oracle.Router{}
	for _, lang := range cfg.Langs {
		router[lang] = ores
	}
	// dewiki has no ORES damaging model; flagged revisions stand in.
	router["de"] = oracle.NewFlagged(r.db, mw, r.logger)

	treatment, err := cfg.Treatment()
	if err != nil {
		return nil, err
	}
	params := gratsample.DefaultParams(treatment)
	params.Langs = cfg.Langs
	params.Subsample = cfg.Subsample
	params.Seed = cfg.Seed
	params.OutputDir = cfg.OutputDir

	opts := []func(*gratsample.Option){
		gratsample.WithCache(r.cache),
		gratsample.WithCacheStat(r.cache.Stat()),
		gratsample.WithOracle(router),
		gratsample.WithReverts(mw),
		gratsample.WithMetrics(r.metrics),
		gratsample.WithLogger(r.logger),
	}
	if cfg.GratitudeDir != "" {
		exports, err := storage.NewFileStorage(storage.FileConfig{BasePath: cfg.GratitudeDir})
		if err != nil {
			return nil, err
		}
		opts = append(opts, gratsample.WithGratitude(gratitude.NewStore(exports)))
	}
	if cfg.Storage.UploadOutputs {
		opts = append(opts, gratsample.WithOutputs(r.store))
	}
	return gratsample.New(r.db, params, opts...)
}

func build(ctx context.Context, dataset string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	r, err := setup(ctx, true)
	if err != nil {
		return err
	}
	defer r.Close()

	s, err := r.sampler()
	if err != nil {
		return err
	}
	logger := r.logger.With(zap.String("run_id", s.RunID()), zap.String("dataset", dataset))
	logger.Info("build started", zap.Strings("langs", r.cfg.Langs), zap.Int("subsample", r.cfg.Subsample))
	start := time.Now()

	var t *table.Table
	switch dataset {
	case gratsample.Thankers:
		t, err = s.BuildThankers(ctx)
	default:
		t, err = s.BuildThankees(ctx)
	}
	if err != nil {
		logger.Error("build failed", zap.Error(err))
		return err
	}
	path, err := s.Emit(ctx, dataset, t)
	if err != nil {
		return err
	}
	r.cache.Stat().Log(logger)
	logger.Info("build finished", zap.String("path", path), zap.Int("rows", t.Len()), zap.Duration("elapsed", time.Since(start)))

	if r.cfg.MetricsFile != "" {
		if err := r.metrics.WriteTextfile(r.cfg.MetricsFile); err != nil {
			logger.Warn("failed to write metrics", zap.String("path", r.cfg.MetricsFile), zap.Error(err))
		}
	}
	return nil
}
