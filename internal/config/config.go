package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Consensus ConsensusConfig `yaml:"consensus" mapstructure:"consensus"`
	Verify    VerifyConfig    `yaml:"verify" mapstructure:"verify"`
	Lookup    LookupConfig    `yaml:"lookup" mapstructure:"lookup"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Review    ReviewConfig    `yaml:"review" mapstructure:"review"`
	Bulk      BulkConfig      `yaml:"bulk" mapstructure:"bulk"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // memory, sqlite, postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings for the Claude provider.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ConsensusConfig tunes multi-provider aggregation.
type ConsensusConfig struct {
	MaxConcurrency      int     `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	AgreementBonus      float64 `yaml:"agreement_bonus" mapstructure:"agreement_bonus"`
	ProviderTimeoutSecs int     `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	QuickProviders      int     `yaml:"quick_providers" mapstructure:"quick_providers"`
}

// VerifyConfig tunes the website verification stage.
type VerifyConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RPS         float64 `yaml:"rps" mapstructure:"rps"`
}

// LookupConfig toggles quota-gated post-enrichment lookup stages.
type LookupConfig struct {
	EmailMX bool `yaml:"email_mx" mapstructure:"email_mx"`
}

// QuotaConfig configures the quota ledger.
type QuotaConfig struct {
	// PolicyPath points at an optional YAML policy file with per-service
	// budgets; defaults apply when empty.
	PolicyPath     string  `yaml:"policy_path" mapstructure:"policy_path"`
	DefaultMonthly int     `yaml:"default_monthly" mapstructure:"default_monthly"`
	AlertThreshold float64 `yaml:"alert_threshold" mapstructure:"alert_threshold"`
}

// ReviewConfig configures the review workflow.
type ReviewConfig struct {
	CooldownHours int `yaml:"cooldown_hours" mapstructure:"cooldown_hours"`
}

// BulkConfig configures batch processing.
type BulkConfig struct {
	MaxIDs      int `yaml:"max_ids" mapstructure:"max_ids"`
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// RateLimitConfig configures the inbound request throttle.
type RateLimitConfig struct {
	Requests   int `yaml:"requests" mapstructure:"requests"`
	WindowSecs int `yaml:"window_secs" mapstructure:"window_secs"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRMENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "crm-enrich.db")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("consensus.max_concurrency", 3)
	v.SetDefault("consensus.agreement_bonus", 0.1)
	v.SetDefault("consensus.provider_timeout_secs", 30)
	v.SetDefault("consensus.quick_providers", 2)
	v.SetDefault("verify.enabled", true)
	v.SetDefault("verify.timeout_secs", 10)
	v.SetDefault("verify.rps", 2)
	v.SetDefault("lookup.email_mx", true)
	v.SetDefault("quota.default_monthly", 3000)
	v.SetDefault("quota.alert_threshold", 0.8)
	v.SetDefault("review.cooldown_hours", 24)
	v.SetDefault("bulk.max_ids", 50)
	v.SetDefault("bulk.concurrency", 3)
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window_secs", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
