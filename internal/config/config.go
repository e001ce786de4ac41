package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Engine     EngineConfig     `yaml:"engine" mapstructure:"engine"`
	Classifier ClassifierConfig `yaml:"classifier" mapstructure:"classifier"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Profile    ProfileConfig    `yaml:"profile" mapstructure:"profile"`
	Ingest     IngestConfig     `yaml:"ingest" mapstructure:"ingest"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Slack      SlackConfig      `yaml:"slack" mapstructure:"slack"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// EngineConfig configures trigger execution and scheduling.
type EngineConfig struct {
	RunDeadlineSecs     int      `yaml:"run_deadline_secs" mapstructure:"run_deadline_secs"`
	StageTimeoutSecs    int      `yaml:"stage_timeout_secs" mapstructure:"stage_timeout_secs"`
	SchedulerTickSecs   int      `yaml:"scheduler_tick_secs" mapstructure:"scheduler_tick_secs"`
	SearchConcurrency   int      `yaml:"search_concurrency" mapstructure:"search_concurrency"`
	SummaryDestinations []string `yaml:"summary_destinations" mapstructure:"summary_destinations"`
}

// RunDeadline returns the overall per-run deadline.
func (e EngineConfig) RunDeadline() time.Duration {
	return time.Duration(e.RunDeadlineSecs) * time.Second
}

// StageTimeout returns the per-stage timeout.
func (e EngineConfig) StageTimeout() time.Duration {
	return time.Duration(e.StageTimeoutSecs) * time.Second
}

// SchedulerTick returns the scheduler polling interval.
func (e EngineConfig) SchedulerTick() time.Duration {
	return time.Duration(e.SchedulerTickSecs) * time.Second
}

// ClassifierConfig selects the LLM backend used for classification prompts.
type ClassifierConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina search settings.
type JinaConfig struct {
	Key           string  `yaml:"key" mapstructure:"key"`
	SearchBaseURL string  `yaml:"search_base_url" mapstructure:"search_base_url"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ProfileConfig holds the profile-detail API settings.
type ProfileConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// IngestConfig selects and configures the candidate ingestion backend.
type IngestConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
	Key      string `yaml:"key" mapstructure:"key"`
	BaseURL  string `yaml:"base_url" mapstructure:"base_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID   string `yaml:"client_id" mapstructure:"client_id"`
	Username   string `yaml:"username" mapstructure:"username"`
	KeyPath    string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string `yaml:"login_url" mapstructure:"login_url"`
	LeadSource string `yaml:"lead_source" mapstructure:"lead_source"`
}

// SlackConfig configures webhook delivery.
type SlackConfig struct {
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// NotionConfig holds Notion API credentials for notion:// destinations.
type NotionConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// TemporalConfig configures durable dispatch through Temporal.
type TemporalConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// MonitoringConfig configures run-health alerting. Destinations use the
// notify destination syntax: webhook URLs or notion://<database-id>.
type MonitoringConfig struct {
	Enabled              bool     `yaml:"enabled" mapstructure:"enabled"`
	Destinations         []string `yaml:"destinations" mapstructure:"destinations"`
	CheckIntervalSecs    int      `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	CooldownMins         int      `yaml:"cooldown_mins" mapstructure:"cooldown_mins"`
	LookbackWindowHours  int      `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64  `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// ResilienceConfig tunes retries and circuit breakers around collaborators.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. Unlike the default
// ./config.yaml lookup, a named file that does not exist is an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("TRIGGERS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("engine.run_deadline_secs", 1800)
	v.SetDefault("engine.stage_timeout_secs", 600)
	v.SetDefault("engine.scheduler_tick_secs", 60)
	v.SetDefault("engine.search_concurrency", 4)
	v.SetDefault("classifier.provider", "anthropic")
	v.SetDefault("classifier.max_attempts", 3)
	v.SetDefault("classifier.timeout_secs", 30)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 256)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("jina.rate_limit", 5.0)
	v.SetDefault("ingest.provider", "http")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.lead_source", "Trigger")
	v.SetDefault("slack.rate_limit", 1.0)
	v.SetDefault("slack.timeout_secs", 10)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "trigger-runs")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.cooldown_mins", 60)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 500)
	v.SetDefault("resilience.max_backoff_ms", 10000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.25)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
}

// Validate checks that the settings required by mode are present. Modes are
// "store" (database only), "engine" (store plus collaborators), "serve"
// (engine plus HTTP) and "worker" (engine plus Temporal).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "engine", "serve", "worker":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if mode != "store" {
		errs = append(errs, c.validateEngine()...)
	}
	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if mode == "worker" && c.Temporal.HostPort == "" {
		errs = append(errs, "temporal.host_port is required")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateEngine() []string {
	var errs []string

	switch c.Classifier.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "perplexity":
		if c.Perplexity.Key == "" {
			errs = append(errs, "perplexity.key is required")
		}
	case "gemini":
		if c.Gemini.Key == "" {
			errs = append(errs, "gemini.key is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("classifier.provider %q is not supported", c.Classifier.Provider))
	}
	if c.Classifier.MaxAttempts < 1 {
		errs = append(errs, "classifier.max_attempts must be >= 1")
	}

	if c.Jina.Key == "" {
		errs = append(errs, "jina.key is required")
	}
	if c.Profile.BaseURL == "" {
		errs = append(errs, "profile.base_url is required")
	}

	switch c.Ingest.Provider {
	case "http":
		if c.Ingest.BaseURL == "" {
			errs = append(errs, "ingest.base_url is required")
		}
	case "salesforce":
		if c.Salesforce.ClientID == "" || c.Salesforce.Username == "" || c.Salesforce.KeyPath == "" {
			errs = append(errs, "salesforce.client_id, username and key_path are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("ingest.provider %q is not supported", c.Ingest.Provider))
	}

	if c.Engine.RunDeadlineSecs <= 0 {
		errs = append(errs, "engine.run_deadline_secs must be > 0")
	}
	if c.Engine.StageTimeoutSecs <= 0 {
		errs = append(errs, "engine.stage_timeout_secs must be > 0")
	}
	if c.Engine.SearchConcurrency < 1 || c.Engine.SearchConcurrency > 32 {
		errs = append(errs, "engine.search_concurrency must be between 1 and 32")
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
