package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/kestrelqa/selfheal/api/schemas"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Healing() HealingConfig
	Broadcast() BroadcastConfig
	Engine() EngineConfig

	// Engine setters
	SetEngineWorkerConcurrency(int)

	// Browser setters
	SetBrowserHeadless(bool)
	SetBrowserNavigationTimeout(time.Duration)

	// Healing setters
	SetHealingTotalMaxAttempts(int)
	SetHealingAutoApplyThreshold(float64)
}

// Config holds the entire application configuration. Private fields enforce
// access through the Interface getter methods.
type Config struct {
	logger    LoggerConfig
	database  DatabaseConfig
	browser   BrowserConfig
	healing   HealingConfig
	broadcast BroadcastConfig
	engine    EngineConfig
}

// fileConfig is the exported mirror viper decodes into; mapstructure cannot
// populate unexported fields, so every unmarshal goes through this shape and
// is copied into Config.
type fileConfig struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Healing   HealingConfig   `mapstructure:"healing" yaml:"healing"`
	Broadcast BroadcastConfig `mapstructure:"broadcast" yaml:"broadcast"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
}

func (f fileConfig) toConfig() *Config {
	return &Config{
		logger:    f.Logger,
		database:  f.Database,
		browser:   f.Browser,
		healing:   f.Healing,
		broadcast: f.Broadcast,
		engine:    f.Engine,
	}
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.logger }
func (c *Config) Database() DatabaseConfig   { return c.database }
func (c *Config) Browser() BrowserConfig     { return c.browser }
func (c *Config) Healing() HealingConfig     { return c.healing }
func (c *Config) Broadcast() BroadcastConfig { return c.broadcast }
func (c *Config) Engine() EngineConfig       { return c.engine }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetEngineWorkerConcurrency(w int)              { c.engine.WorkerConcurrency = w }
func (c *Config) SetBrowserHeadless(b bool)                     { c.browser.Headless = b }
func (c *Config) SetBrowserNavigationTimeout(d time.Duration)   { c.browser.NavigationTimeout = d }
func (c *Config) SetHealingTotalMaxAttempts(n int)              { c.healing.TotalMaxAttempts = n }
func (c *Config) SetHealingAutoApplyThreshold(threshold float64) {
	c.healing.Thresholds.AutoApply = threshold
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the session/identification store connection details.
// An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the headless browser sessions the
// extractor and validation runner drive.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	Args              []string      `mapstructure:"args" yaml:"args"`
}

// ThresholdsConfig mirrors the confidence ladder of the healing policy.
type ThresholdsConfig struct {
	AutoApply      float64 `mapstructure:"auto_apply" yaml:"auto_apply"`
	SuggestReview  float64 `mapstructure:"suggest_review" yaml:"suggest_review"`
	AttemptHealing float64 `mapstructure:"attempt_healing" yaml:"attempt_healing"`
	MinViable      float64 `mapstructure:"min_viable" yaml:"min_viable"`
}

// ValidationConfig tunes the validation runner.
type ValidationConfig struct {
	RequireScreenshot   bool    `mapstructure:"require_screenshot" yaml:"require_screenshot"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold" yaml:"similarity_threshold"`
	RequireFullTest     bool    `mapstructure:"require_full_test" yaml:"require_full_test"`
}

// HealingConfig holds the tenant-scoped healing policy.
type HealingConfig struct {
	Thresholds             ThresholdsConfig    `mapstructure:"thresholds" yaml:"thresholds"`
	MaxAttemptsPerStrategy int                 `mapstructure:"max_attempts_per_strategy" yaml:"max_attempts_per_strategy"`
	TotalMaxAttempts       int                 `mapstructure:"total_max_attempts" yaml:"total_max_attempts"`
	Validation             ValidationConfig    `mapstructure:"validation" yaml:"validation"`
	StrategyPriority       []string            `mapstructure:"strategy_priority" yaml:"strategy_priority"`
	ExcludedStrategies     map[string][]string `mapstructure:"excluded_strategies" yaml:"excluded_strategies"`
	AttemptTimeout         time.Duration       `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	SessionTimeout         time.Duration       `mapstructure:"session_timeout" yaml:"session_timeout"`
	PredictionRateLimit    float64             `mapstructure:"prediction_rate_limit" yaml:"prediction_rate_limit"`
}

// BroadcastConfig tunes the real-time event broadcaster.
type BroadcastConfig struct {
	SubscriberBufferSize int `mapstructure:"subscriber_buffer_size" yaml:"subscriber_buffer_size"`
}

// EngineConfig configures the concurrent session runner.
type EngineConfig struct {
	WorkerConcurrency int `mapstructure:"worker_concurrency" yaml:"worker_concurrency"`
}

// Snapshot converts the healing policy into the immutable configuration a
// session pins at creation time.
func (h HealingConfig) Snapshot() schemas.HealingConfiguration {
	priority := make([]schemas.StrategyName, 0, len(h.StrategyPriority))
	for _, name := range h.StrategyPriority {
		priority = append(priority, schemas.StrategyName(name))
	}
	var excluded map[schemas.FailureType][]schemas.StrategyName
	if len(h.ExcludedStrategies) > 0 {
		excluded = make(map[schemas.FailureType][]schemas.StrategyName, len(h.ExcludedStrategies))
		for ft, names := range h.ExcludedStrategies {
			list := make([]schemas.StrategyName, 0, len(names))
			for _, name := range names {
				list = append(list, schemas.StrategyName(name))
			}
			excluded[schemas.FailureType(ft)] = list
		}
	}
	return schemas.HealingConfiguration{
		Thresholds: schemas.ConfidenceThresholds{
			AutoApply:      h.Thresholds.AutoApply,
			SuggestReview:  h.Thresholds.SuggestReview,
			AttemptHealing: h.Thresholds.AttemptHealing,
			MinViable:      h.Thresholds.MinViable,
		},
		MaxAttemptsPerStrategy: h.MaxAttemptsPerStrategy,
		TotalMaxAttempts:       h.TotalMaxAttempts,
		Validation: schemas.ValidationSettings{
			RequireScreenshot:   h.Validation.RequireScreenshot,
			SimilarityThreshold: h.Validation.SimilarityThreshold,
			RequireFullTest:     h.Validation.RequireFullTest,
		},
		StrategyPriority:   priority,
		ExcludedStrategies: excluded,
		AttemptTimeout:     h.AttemptTimeout,
		SessionTimeout:     h.SessionTimeout,
	}
}

// NewDefaultConfig creates a new configuration struct populated with
// default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return raw.toConfig()
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "selfheal")
	v.SetDefault("logger.log_file", "selfheal.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Healing policy --
	v.SetDefault("healing.thresholds.auto_apply", 0.9)
	v.SetDefault("healing.thresholds.suggest_review", 0.7)
	v.SetDefault("healing.thresholds.attempt_healing", 0.5)
	v.SetDefault("healing.thresholds.min_viable", 0.3)
	v.SetDefault("healing.max_attempts_per_strategy", 2)
	v.SetDefault("healing.total_max_attempts", 8)
	v.SetDefault("healing.validation.require_screenshot", false)
	v.SetDefault("healing.validation.similarity_threshold", 0.8)
	v.SetDefault("healing.validation.require_full_test", false)
	v.SetDefault("healing.strategy_priority", []string{
		"semantic_matching",
		"visual_recognition",
		"context_analysis",
		"ml_prediction",
		"fallback_search",
	})
	v.SetDefault("healing.attempt_timeout", "30s")
	v.SetDefault("healing.session_timeout", "5m")
	v.SetDefault("healing.prediction_rate_limit", 2.0)

	// -- Broadcast --
	v.SetDefault("broadcast.subscriber_buffer_size", 100)

	// -- Engine --
	v.SetDefault("engine.worker_concurrency", 8)
}

// NewConfigFromViper creates a new configuration instance from a viper
// object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("database.url", "SELFHEAL_DATABASE_URL")

	var raw fileConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg := raw.toConfig()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.engine.WorkerConcurrency <= 0 {
		return fmt.Errorf("engine.worker_concurrency must be a positive integer")
	}
	if err := c.healing.Validate(); err != nil {
		return fmt.Errorf("healing configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the healing policy. The confidence ladder must be
// strictly decreasing inside (0, 1] and attempt budgets non-negative.
func (h *HealingConfig) Validate() error {
	t := h.Thresholds
	for name, val := range map[string]float64{
		"auto_apply":      t.AutoApply,
		"suggest_review":  t.SuggestReview,
		"attempt_healing": t.AttemptHealing,
		"min_viable":      t.MinViable,
	} {
		if val <= 0.0 || val > 1.0 {
			return fmt.Errorf("thresholds.%s must be in (0, 1]", name)
		}
	}
	if !(t.AutoApply > t.SuggestReview && t.SuggestReview > t.AttemptHealing && t.AttemptHealing > t.MinViable) {
		return fmt.Errorf("thresholds must be strictly decreasing: auto_apply > suggest_review > attempt_healing > min_viable")
	}
	if h.MaxAttemptsPerStrategy < 0 || h.TotalMaxAttempts < 0 {
		return fmt.Errorf("attempt budgets must not be negative")
	}
	if h.Validation.SimilarityThreshold < 0.0 || h.Validation.SimilarityThreshold > 1.0 {
		return fmt.Errorf("validation.similarity_threshold must be between 0.0 and 1.0")
	}
	if len(h.StrategyPriority) == 0 {
		return fmt.Errorf("strategy_priority must name at least one strategy")
	}
	return nil
}
