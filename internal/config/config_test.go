package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.SonnetModel)
	assert.Equal(t, 0.7, cfg.Cluster.SimilarityThreshold)
	assert.Equal(t, 168, cfg.Cluster.RetentionHours)
	assert.Equal(t, 0.4, cfg.Critic.BalanceThreshold)
	assert.Equal(t, 3, cfg.Critic.ConsistencyRuns)
	assert.Equal(t, 5, cfg.Variants.Target)
	assert.Equal(t, 3, cfg.Variants.Minimum)
	assert.Equal(t, 0.8, cfg.Batch.ReliabilityTarget)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CASCADE_ANTHROPIC_KEY", "sk-test")
	t.Setenv("CASCADE_STORE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Anthropic.Key)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestValidate_MissingKey(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite"}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}

func TestValidate_BadDriver(t *testing.T) {
	cfg := &Config{
		Anthropic: AnthropicConfig{Key: "sk-test"},
		Store:     StoreConfig{Driver: "mysql"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store driver")
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "nope", Format: "json"})
	require.Error(t, err)
}
