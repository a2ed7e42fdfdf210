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
	Cluster   ClusterConfig   `yaml:"cluster" mapstructure:"cluster"`
	Critic    CriticConfig    `yaml:"critic" mapstructure:"critic"`
	Variants  VariantConfig   `yaml:"variants" mapstructure:"variants"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	HaikuModel        string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel       string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`
}

// ClusterConfig configures headline deduplication.
type ClusterConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	RetentionHours      int     `yaml:"retention_hours" mapstructure:"retention_hours"`
}

// CriticConfig configures the contract critic enforcer.
type CriticConfig struct {
	BalanceThreshold float64 `yaml:"balance_threshold" mapstructure:"balance_threshold"`
	ConsistencyRuns  int     `yaml:"consistency_runs" mapstructure:"consistency_runs"`
	EnableCache      bool    `yaml:"enable_cache" mapstructure:"enable_cache"`
}

// VariantConfig configures multi-variant generation.
type VariantConfig struct {
	Target  int `yaml:"target" mapstructure:"target"`
	Minimum int `yaml:"minimum" mapstructure:"minimum"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentHeadlines int     `yaml:"max_concurrent_headlines" mapstructure:"max_concurrent_headlines"`
	ReliabilityTarget      float64 `yaml:"reliability_target" mapstructure:"reliability_target"`
}

// PricingConfig holds per-model pricing rates.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
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
	v.SetEnvPrefix("CASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. The empty key default registers the key with viper so
	// AutomaticEnv picks up CASCADE_ANTHROPIC_KEY during Unmarshal.
	v.SetDefault("anthropic.key", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "cascade.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_second", 5)
	v.SetDefault("anthropic.burst", 5)
	v.SetDefault("cluster.similarity_threshold", 0.7)
	v.SetDefault("cluster.retention_hours", 168)
	v.SetDefault("critic.balance_threshold", 0.4)
	v.SetDefault("critic.consistency_runs", 3)
	v.SetDefault("critic.enable_cache", false)
	v.SetDefault("variants.target", 5)
	v.SetDefault("variants.minimum", 3)
	v.SetDefault("batch.max_concurrent_headlines", 5)
	v.SetDefault("batch.reliability_target", 0.8)

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

// Validate checks that required settings are present for live runs.
func (c *Config) Validate() error {
	if c.Anthropic.Key == "" {
		return eris.New("config: anthropic.key is required (set CASCADE_ANTHROPIC_KEY)")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	return nil
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
