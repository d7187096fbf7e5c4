package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Cron   CronConfig   `mapstructure:"cron"`

	// Detection.
	Scoring       ScoringConfig       `mapstructure:"scoring"`
	Features      FeaturesConfig      `mapstructure:"features"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Patterns      PatternsConfig      `mapstructure:"patterns"`
	ML            MLConfig            `mapstructure:"ml"`
	Ensemble      EnsembleConfig      `mapstructure:"ensemble"`
	Investigation InvestigationConfig `mapstructure:"investigation"`
	Feedback      FeedbackConfig      `mapstructure:"feedback"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

// DBConfig.DSN is a postgres DSN, or "sqlite:<path>" for a local sqlite file
// ("sqlite::memory:" for an in-memory database).
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	BaselineTTL time.Duration `mapstructure:"baseline_ttl"`
}

type CronConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Scoring      string        `mapstructure:"scoring"`
	Discovery    string        `mapstructure:"discovery"`
	Feedback     string        `mapstructure:"feedback"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type ScoringConfig struct {
	BatchSize    int  `mapstructure:"batch_size"`
	Limit        int  `mapstructure:"limit"`
	Workers      int  `mapstructure:"workers"`
	Concurrency  int  `mapstructure:"concurrency"`
	UnscoredOnly bool `mapstructure:"unscored_only"`
}

// FeaturesConfig holds the population constants used to normalize wallet
// level features.
type FeaturesConfig struct {
	LogVolumeMean   float64 `mapstructure:"log_volume_mean"`
	LogVolumeStd    float64 `mapstructure:"log_volume_std"`
	MarketCountNorm float64 `mapstructure:"market_count_norm"`
}

type AxisWeights struct {
	Size                  float64 `mapstructure:"size" json:"size"`
	Timing                float64 `mapstructure:"timing" json:"timing"`
	WalletAge             float64 `mapstructure:"wallet_age" json:"wallet_age"`
	WalletActivity        float64 `mapstructure:"wallet_activity" json:"wallet_activity"`
	PriceExtremity        float64 `mapstructure:"price_extremity" json:"price_extremity"`
	PositionConcentration float64 `mapstructure:"position_concentration" json:"position_concentration"`
	FundingProximity      float64 `mapstructure:"funding_proximity" json:"funding_proximity"`
}

type RulesConfig struct {
	Weights AxisWeights `mapstructure:"weights"`
	Scale   float64     `mapstructure:"scale"`
	MaxAbsZ float64     `mapstructure:"max_abs_z"`
}

type PatternsConfig struct {
	TrinitySize        float64 `mapstructure:"trinity_size"`
	TrinityTiming      float64 `mapstructure:"trinity_timing"`
	TrinityWalletAge   float64 `mapstructure:"trinity_wallet_age"`
	MinSamples         int     `mapstructure:"min_samples"`
	DiscoveryPrecision float64 `mapstructure:"discovery_precision"`
}

type MLConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	Trees         int     `mapstructure:"trees"`
	SampleSize    int     `mapstructure:"sample_size"`
	Contamination float64 `mapstructure:"contamination"`
	MinBatchSize  int     `mapstructure:"min_batch_size"`
	Seed          int64   `mapstructure:"seed"`
	Sharpness     float64 `mapstructure:"sharpness"`
}

type EnsembleConfig struct {
	RuleWeight     float64 `mapstructure:"rule_weight"`
	MLWeight       float64 `mapstructure:"ml_weight"`
	PatternWeight  float64 `mapstructure:"pattern_weight"`
	TrinityBoost   float64 `mapstructure:"trinity_boost"`
	OutcomeBoost   float64 `mapstructure:"outcome_boost"`
	OutcomePenalty float64 `mapstructure:"outcome_penalty"`
}

type InvestigationConfig struct {
	AlertThreshold float64 `mapstructure:"alert_threshold"`
	QueueLimit     int     `mapstructure:"queue_limit"`
}

type FeedbackConfig struct {
	AnomalyThreshold     float64 `mapstructure:"anomaly_threshold"`
	ProbabilityThreshold float64 `mapstructure:"probability_threshold"`
	GridMin              float64 `mapstructure:"grid_min"`
	GridMax              float64 `mapstructure:"grid_max"`
	GridStep             float64 `mapstructure:"grid_step"`
	AutoApply            bool    `mapstructure:"auto_apply"`
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped; existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("IW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration produced by the built-in defaults alone.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "iw:baseline:")
	v.SetDefault("redis.baseline_ttl", "10m")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.scoring", "@every 5m")
	v.SetDefault("cron.discovery", "@every 1h")
	v.SetDefault("cron.feedback", "@every 24h")
	v.SetDefault("cron.max_retries", 2)
	v.SetDefault("cron.retry_backoff", "5s")

	v.SetDefault("scoring.batch_size", 500)
	v.SetDefault("scoring.limit", 0)
	v.SetDefault("scoring.workers", 1)
	v.SetDefault("scoring.concurrency", 8)
	v.SetDefault("scoring.unscored_only", true)

	v.SetDefault("features.log_volume_mean", 3.0)
	v.SetDefault("features.log_volume_std", 1.2)
	v.SetDefault("features.market_count_norm", 50)

	v.SetDefault("rules.weights.size", 0.20)
	v.SetDefault("rules.weights.timing", 0.20)
	v.SetDefault("rules.weights.wallet_age", 0.15)
	v.SetDefault("rules.weights.wallet_activity", 0.10)
	v.SetDefault("rules.weights.price_extremity", 0.10)
	v.SetDefault("rules.weights.position_concentration", 0.15)
	v.SetDefault("rules.weights.funding_proximity", 0.10)
	v.SetDefault("rules.scale", 3.0)
	v.SetDefault("rules.max_abs_z", 10.0)

	v.SetDefault("patterns.trinity_size", 2.0)
	v.SetDefault("patterns.trinity_timing", 2.0)
	v.SetDefault("patterns.trinity_wallet_age", 2.0)
	v.SetDefault("patterns.min_samples", 5)
	v.SetDefault("patterns.discovery_precision", 0.5)

	v.SetDefault("ml.enabled", true)
	v.SetDefault("ml.trees", 100)
	v.SetDefault("ml.sample_size", 256)
	v.SetDefault("ml.contamination", 0.01)
	v.SetDefault("ml.min_batch_size", 10)
	v.SetDefault("ml.seed", 42)
	v.SetDefault("ml.sharpness", 10.0)

	v.SetDefault("ensemble.rule_weight", 0.40)
	v.SetDefault("ensemble.ml_weight", 0.35)
	v.SetDefault("ensemble.pattern_weight", 0.25)
	v.SetDefault("ensemble.trinity_boost", 0.15)
	v.SetDefault("ensemble.outcome_boost", 0.10)
	v.SetDefault("ensemble.outcome_penalty", 0.10)

	v.SetDefault("investigation.alert_threshold", 0.5)
	v.SetDefault("investigation.queue_limit", 100)

	v.SetDefault("feedback.anomaly_threshold", 0.5)
	v.SetDefault("feedback.probability_threshold", 0.5)
	v.SetDefault("feedback.grid_min", 0.05)
	v.SetDefault("feedback.grid_max", 0.95)
	v.SetDefault("feedback.grid_step", 0.05)
	v.SetDefault("feedback.auto_apply", false)
}

// Validate rejects configurations the scoring components cannot run with.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	unit := func(v float64) bool { return v >= 0 && v <= 1 && !math.IsNaN(v) }

	check(c.Scoring.BatchSize > 0, "scoring.batch_size must be positive, got %d", c.Scoring.BatchSize)
	check(c.Scoring.Limit >= 0, "scoring.limit must not be negative, got %d", c.Scoring.Limit)
	check(c.Scoring.Workers > 0, "scoring.workers must be positive, got %d", c.Scoring.Workers)
	check(c.Scoring.Concurrency > 0, "scoring.concurrency must be positive, got %d", c.Scoring.Concurrency)

	check(c.Features.LogVolumeStd > 0, "features.log_volume_std must be positive")
	check(c.Features.MarketCountNorm > 0, "features.market_count_norm must be positive")

	w := c.Rules.Weights
	for name, v := range map[string]float64{
		"size": w.Size, "timing": w.Timing, "wallet_age": w.WalletAge,
		"wallet_activity": w.WalletActivity, "price_extremity": w.PriceExtremity,
		"position_concentration": w.PositionConcentration, "funding_proximity": w.FundingProximity,
	} {
		check(v >= 0, "rules.weights.%s must not be negative, got %v", name, v)
	}
	check(c.Rules.Scale > 0, "rules.scale must be positive")
	check(c.Rules.MaxAbsZ > 0, "rules.max_abs_z must be positive")

	check(c.Patterns.TrinitySize > 0 && c.Patterns.TrinityTiming > 0 && c.Patterns.TrinityWalletAge > 0,
		"patterns trinity thresholds must be positive")
	check(c.Patterns.MinSamples >= 0, "patterns.min_samples must not be negative")
	check(unit(c.Patterns.DiscoveryPrecision), "patterns.discovery_precision must be in [0,1]")

	check(c.ML.Trees > 0, "ml.trees must be positive")
	check(c.ML.SampleSize >= 2, "ml.sample_size must be at least 2")
	check(c.ML.Contamination > 0 && c.ML.Contamination < 0.5, "ml.contamination must be in (0,0.5)")
	check(c.ML.MinBatchSize >= 2, "ml.min_batch_size must be at least 2")
	check(c.ML.Sharpness > 0, "ml.sharpness must be positive")

	e := c.Ensemble
	check(e.RuleWeight >= 0 && e.MLWeight >= 0 && e.PatternWeight >= 0, "ensemble weights must not be negative")
	check(e.RuleWeight+e.PatternWeight > 0, "ensemble rule_weight + pattern_weight must be positive")
	check(unit(e.TrinityBoost), "ensemble.trinity_boost must be in [0,1]")
	check(unit(e.OutcomeBoost), "ensemble.outcome_boost must be in [0,1]")
	check(unit(e.OutcomePenalty), "ensemble.outcome_penalty must be in [0,1]")

	check(unit(c.Investigation.AlertThreshold), "investigation.alert_threshold must be in [0,1]")

	f := c.Feedback
	check(unit(f.AnomalyThreshold), "feedback.anomaly_threshold must be in [0,1]")
	check(unit(f.ProbabilityThreshold), "feedback.probability_threshold must be in [0,1]")
	check(f.GridStep > 0, "feedback.grid_step must be positive")
	check(unit(f.GridMin) && unit(f.GridMax) && f.GridMin <= f.GridMax, "feedback grid bounds must satisfy 0 <= grid_min <= grid_max <= 1")

	return errors.Join(errs...)
}
