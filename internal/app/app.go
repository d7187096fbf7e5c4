// Package app wires the scoring engine from configuration. Both the monitor
// service and the score-trades command build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"insiderwatch/internal/baseline"
	"insiderwatch/internal/cache"
	"insiderwatch/internal/config"
	"insiderwatch/internal/db"
	"insiderwatch/internal/feedback"
	"insiderwatch/internal/investigation"
	"insiderwatch/internal/jobs"
	"insiderwatch/internal/models"
	"insiderwatch/internal/pattern"
	gormrepository "insiderwatch/internal/repository/gorm"
	"insiderwatch/internal/scoring"
	"insiderwatch/internal/settings"
)

// Job names registered by RegisterJobs.
const (
	JobScoring   = "scoring"
	JobDiscovery = "discovery"
	JobFeedback  = "feedback"
)

type App struct {
	Config config.Config
	Logger *zap.Logger

	DB    *db.DB
	Store *gormrepository.Store
	Redis *cache.RedisStore

	Settings  *settings.Service
	Matcher   *pattern.Matcher
	Registry  *pattern.Registry
	Baselines baseline.Provider
	Workflow  *investigation.Workflow
	Pipeline  *scoring.Pipeline
	Feedback  *feedback.Loop

	readOnly bool
	// schemaReady is false when a read-only app finds no trade tables.
	schemaReady bool
}

// Options tune New.
type Options struct {
	// ReadOnly skips migrations and seeding and forces every scoring pass to
	// be a dry run. Patterns come from the database when it holds enabled
	// rows and from the built-in set otherwise.
	ReadOnly bool
}

// New opens the database, migrates it, seeds runtime settings and built-in
// patterns, and assembles the scoring components.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if err := db.SetTimezone(conn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}

	a := &App{
		Config:      cfg,
		Logger:      logger,
		DB:          conn,
		Store:       gormrepository.New(conn.Gorm),
		readOnly:    opts.ReadOnly,
		schemaReady: true,
	}
	if opts.ReadOnly {
		m := conn.Gorm.Migrator()
		a.schemaReady = m.HasTable(&models.Trade{}) && m.HasTable(&models.TradeScore{})
		if !a.schemaReady {
			logger.Warn("read-only: schema not migrated, nothing to score")
		}
	} else if err := db.AutoMigrate(conn); err != nil {
		_ = db.Close(conn)
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	a.Settings = &settings.Service{Repo: a.Store, Defaults: settings.DefaultsFromConfig(cfg)}
	if !opts.ReadOnly {
		if err := a.Settings.EnsureDefaults(ctx); err != nil {
			logger.Warn("init detection thresholds failed", zap.Error(err))
		}
	}
	thresholds := a.Settings.Thresholds(ctx)

	a.Matcher = pattern.NewMatcher(thresholds.Trinity, pattern.Builtins(thresholds.Trinity))
	a.Registry = &pattern.Registry{Repo: a.Store, Matcher: a.Matcher, Logger: logger}
	if !opts.ReadOnly {
		if err := a.Registry.EnsureBuiltins(ctx, thresholds.Trinity); err != nil {
			logger.Warn("seed insider patterns failed", zap.Error(err))
		}
	}
	if err := a.ReloadPatterns(ctx); err != nil {
		logger.Warn("load insider patterns failed", zap.Error(err))
	}

	a.Baselines = a.baselines(ctx)

	a.Workflow = &investigation.Workflow{
		Repo:               a.Store,
		Settings:           a.Settings,
		Logger:             logger,
		DiscoveryPrecision: cfg.Patterns.DiscoveryPrecision,
	}
	a.Pipeline = scoring.New(cfg, a.Store, a.Baselines, a.Matcher, a.Workflow, logger)
	a.Feedback = &feedback.Loop{Repo: a.Store, Settings: a.Settings, Config: cfg.Feedback, Logger: logger}
	return a, nil
}

// baselines fronts the database provider with redis when it is enabled and
// reachable, and with an in-process cache otherwise.
func (a *App) baselines(ctx context.Context) baseline.Provider {
	next := &baseline.RepoProvider{Repo: a.Store}
	ttl := a.Config.Redis.BaselineTTL
	if a.Config.Redis.Enabled {
		rs := cache.NewRedisStore(a.Config.Redis)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rs.Ping(pingCtx)
		cancel()
		if err == nil {
			a.Redis = rs
			a.Logger.Info("baseline cache: redis", zap.String("addr", a.Config.Redis.Addr))
			return &baseline.Cached{Next: next, Store: rs, TTL: ttl, Logger: a.Logger}
		}
		a.Logger.Warn("redis unreachable, using in-process baseline cache", zap.Error(err))
		_ = rs.Close()
	}
	return &baseline.Cached{Next: next, Store: cache.NewMemoryStore(), TTL: ttl, Logger: a.Logger}
}

// ScoringOptions maps the scoring section of the configuration.
func (a *App) ScoringOptions() scoring.Options {
	s := a.Config.Scoring
	return scoring.Options{
		Limit:        s.Limit,
		BatchSize:    s.BatchSize,
		UnscoredOnly: s.UnscoredOnly,
		Workers:      s.Workers,
	}
}

// ReloadPatterns re-reads the active thresholds and the enabled patterns.
// A read-only app keeps the built-in set when the database has no enabled
// rows or no pattern table.
func (a *App) ReloadPatterns(ctx context.Context) error {
	trinity := a.Settings.Thresholds(ctx).Trinity
	if a.readOnly {
		rows, err := a.Store.ListInsiderPatterns(ctx, true)
		if err != nil || len(rows) == 0 {
			a.Matcher.Replace(trinity, pattern.Builtins(trinity))
			return nil
		}
	}
	return a.Registry.Reload(ctx, trinity)
}

// Score reloads patterns and runs one scoring pass. Having no trades to score
// is not an error.
func (a *App) Score(ctx context.Context, opts scoring.Options) (scoring.Summary, error) {
	if a.readOnly {
		opts.DryRun = true
		if !a.schemaReady {
			return scoring.Summary{DryRun: true}, nil
		}
	}
	if err := a.ReloadPatterns(ctx); err != nil {
		a.Logger.Warn("reload insider patterns failed", zap.Error(err))
	}
	summary, err := a.Pipeline.Run(ctx, opts)
	if errors.Is(err, scoring.ErrNoTrades) {
		return summary, nil
	}
	return summary, err
}

// RegisterJobs schedules scoring, discovery and feedback on the queue.
func (a *App) RegisterJobs(q jobs.Queue) error {
	cron := a.Config.Cron
	return errors.Join(
		q.Register(jobs.Job{Name: JobScoring, Spec: cron.Scoring, Run: a.scoringJob}),
		q.Register(jobs.Job{Name: JobDiscovery, Spec: cron.Discovery, Run: a.discoveryJob}),
		q.Register(jobs.Job{Name: JobFeedback, Spec: cron.Feedback, Run: a.feedbackJob}),
	)
}

func (a *App) scoringJob(ctx context.Context) error {
	summary, err := a.Score(ctx, a.ScoringOptions())
	if err != nil {
		return err
	}
	if summary.Scored > 0 || summary.Errors > 0 {
		a.Logger.Info("cron scoring ok",
			zap.Int("scored", summary.Scored),
			zap.Int("errors", summary.Errors),
			zap.Int("batches", summary.Batches),
			zap.Int("alerts", summary.AlertsRaised),
			zap.Int("ml_degraded", summary.MLDegraded),
		)
	}
	return nil
}

func (a *App) discoveryJob(ctx context.Context) error {
	created, err := a.Workflow.Discover(ctx, a.Settings.Thresholds(ctx).MinPatternSamples)
	if err != nil {
		return err
	}
	if _, err := a.Workflow.RefreshPriorities(ctx, nil); err != nil {
		return err
	}
	a.Logger.Info("cron discovery ok", zap.Int("created", created))
	return nil
}

func (a *App) feedbackJob(ctx context.Context) error {
	report, err := a.Feedback.Run(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	a.Logger.Info("cron feedback ok",
		zap.String("run_id", report.RunID),
		zap.Float64("detection_rate", report.DetectionRate),
		zap.Float64("f1", report.HeldOut.F1),
	)
	if !a.Config.Feedback.AutoApply || report.Recommendation == nil {
		return nil
	}
	applied, err := a.Feedback.Apply(ctx, report)
	if err != nil {
		return err
	}
	return a.Registry.Reload(ctx, applied.Trinity)
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, db.Close(a.DB))
	return errors.Join(errs...)
}
