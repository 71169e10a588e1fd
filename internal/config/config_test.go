package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "crm-enrich.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.EqualValues(t, 2048, cfg.Anthropic.MaxTokens)
	assert.Equal(t, 3, cfg.Consensus.MaxConcurrency)
	assert.InDelta(t, 0.1, cfg.Consensus.AgreementBonus, 0.001)
	assert.Equal(t, 30, cfg.Consensus.ProviderTimeoutSecs)
	assert.Equal(t, 2, cfg.Consensus.QuickProviders)
	assert.True(t, cfg.Verify.Enabled)
	assert.True(t, cfg.Lookup.EmailMX)
	assert.Equal(t, 3000, cfg.Quota.DefaultMonthly)
	assert.InDelta(t, 0.8, cfg.Quota.AlertThreshold, 0.001)
	assert.Equal(t, 24, cfg.Review.CooldownHours)
	assert.Equal(t, 50, cfg.Bulk.MaxIDs)
	assert.Equal(t, 3, cfg.Bulk.Concurrency)
	assert.Equal(t, 60, cfg.RateLimit.Requests)
	assert.Equal(t, 60, cfg.RateLimit.WindowSecs)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chtemp(t)

	yaml := `
store:
  driver: memory
consensus:
  max_concurrency: 2
  agreement_bonus: 0.15
review:
  cooldown_hours: 48
log:
  level: debug
  format: console
server:
  port: 9090
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Consensus.MaxConcurrency)
	assert.InDelta(t, 0.15, cfg.Consensus.AgreementBonus, 0.001)
	assert.Equal(t, 48, cfg.Review.CooldownHours)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 9090, cfg.Server.Port)

	// Untouched keys keep their defaults.
	assert.Equal(t, 50, cfg.Bulk.MaxIDs)
}

func TestLoadFromEnv(t *testing.T) {
	chtemp(t)

	t.Setenv("CRMENRICH_STORE_DRIVER", "postgres")
	t.Setenv("CRMENRICH_QUOTA_DEFAULT_MONTHLY", "900")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 900, cfg.Quota.DefaultMonthly)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chtemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: ["), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "verbose", Format: "json"}))
}
