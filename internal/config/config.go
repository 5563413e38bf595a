package config

import (
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
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Checks     ChecksConfig     `yaml:"checks" mapstructure:"checks"`
	RateLimits RateLimitConfig  `yaml:"rate_limits" mapstructure:"rate_limits"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" mapstructure:"dispatcher"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// QueueConfig configures the Kafka jobs topic and its dead-letter queue.
type QueueConfig struct {
	Brokers    []string `yaml:"brokers" mapstructure:"brokers"`
	JobsTopic  string   `yaml:"jobs_topic" mapstructure:"jobs_topic"`
	DLQTopic   string   `yaml:"dlq_topic" mapstructure:"dlq_topic"`
	Group      string   `yaml:"group" mapstructure:"group"`
	MaxRetries int      `yaml:"max_retries" mapstructure:"max_retries"`
	DLQRequeue bool     `yaml:"dlq_requeue" mapstructure:"dlq_requeue"`
}

// AnthropicConfig holds Anthropic API settings for the reasoning stage.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// ChecksConfig configures per-check timeouts. PerCheck is keyed by check
// kind (whois, dns, mx_validation, website_scrape, llm_processing); any kind
// without an entry falls back to DefaultTimeoutSecs.
type ChecksConfig struct {
	DefaultTimeoutSecs int            `yaml:"default_timeout_secs" mapstructure:"default_timeout_secs"`
	PerCheck           map[string]int `yaml:"per_check_timeout_secs" mapstructure:"per_check_timeout_secs"`
}

// RateLimitConfig holds per-integration request rates in requests per second.
type RateLimitConfig struct {
	Rates map[string]float64 `yaml:"rates" mapstructure:"rates"`
}

// BreakerConfig configures the per-integration circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `yaml:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// DispatcherConfig bounds a single verification run.
type DispatcherConfig struct {
	LockTTLMins     int `yaml:"lock_ttl_mins" mapstructure:"lock_ttl_mins"`
	JobDeadlineMins int `yaml:"job_deadline_mins" mapstructure:"job_deadline_mins"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// LockTTL returns the dispatcher lock TTL as a duration.
func (d DispatcherConfig) LockTTL() time.Duration {
	return time.Duration(d.LockTTLMins) * time.Minute
}

// JobDeadline returns the per-job deadline as a duration.
func (d DispatcherConfig) JobDeadline() time.Duration {
	return time.Duration(d.JobDeadlineMins) * time.Minute
}

// Cooldown returns the breaker cooldown as a duration.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownSecs) * time.Second
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("KYB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys with no default are invisible to Unmarshal under AutomaticEnv;
	// bind them explicitly so env-only deployments work.
	v.BindEnv("anthropic.key")
	v.BindEnv("store.database_url")

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("queue.brokers", []string{"localhost:9092"})
	v.SetDefault("queue.jobs_topic", "kyb.verification.jobs")
	v.SetDefault("queue.dlq_topic", "kyb.verification.jobs.dlq")
	v.SetDefault("queue.group", "kyb-worker")
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.dlq_requeue", false)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("checks.default_timeout_secs", 30)
	v.SetDefault("checks.per_check_timeout_secs", map[string]int{
		"whois":          10,
		"dns":            10,
		"mx_validation":  10,
		"website_scrape": 30,
		"llm_processing": 60,
	})
	v.SetDefault("rate_limits.rates", map[string]float64{
		"whois":     1,
		"dns":       5,
		"http":      10,
		"anthropic": 3,
	})
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_secs", 60)
	v.SetDefault("dispatcher.lock_ttl_mins", 20)
	v.SetDefault("dispatcher.job_deadline_mins", 15)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
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
