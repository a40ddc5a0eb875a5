package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/internal/config"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "providers/", cfg.Providers.Dir)
	assert.Equal(t, 3, cfg.Ranking.TopK)
	assert.Equal(t, 5, cfg.Ranking.TopN)
	assert.Equal(t, 8, cfg.Ranking.Concurrency)
	assert.Equal(t, 5*time.Second, cfg.Ranking.ProviderTimeout)
	assert.Zero(t, cfg.Ranking.AggregateTimeout)
	assert.Equal(t, model.DefaultWeights(), cfg.Ranking.Weights)
	assert.Equal(t, 10*time.Minute, cfg.TokenPrice.CacheTTL)
	assert.Equal(t, 25, cfg.TokenPrice.RateLimit)
	assert.Equal(t, time.Minute, cfg.TokenPrice.RateWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	data := []byte(`
storage:
  driver: http
  url: https://traces.example.com
server:
  listen: ":9090"
ranking:
  top_k: 5
  provider_timeout: 2s
  aggregate_timeout: 10s
  weights:
    price: 0.4
    latency: 0.2
    reputation: 0.2
    geography: 0.2
token_price:
  symbol_ids:
    akt: akash-network
logging:
  level: debug
`)
	err := os.WriteFile(cfgPath, data, 0o644)
	require.NoError(t, err)

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	assert.Equal(t, config.DriverHTTP, cfg.Storage.Driver)
	assert.Equal(t, "https://traces.example.com", cfg.Storage.URL)
	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 5, cfg.Ranking.TopK)
	assert.Equal(t, 2*time.Second, cfg.Ranking.ProviderTimeout)
	assert.Equal(t, 10*time.Second, cfg.Ranking.AggregateTimeout)
	assert.Equal(t, model.Weights{Price: 0.4, Latency: 0.2, Reputation: 0.2, Geography: 0.2}, cfg.Ranking.Weights)
	assert.Equal(t, "akash-network", cfg.TokenPrice.SymbolIDs["akt"])
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GPB_LOGGING_LEVEL", "error")
	t.Setenv("GPB_SERVER_LISTEN", ":7070")
	t.Setenv("GPB_RANKING_TOP_K", "4")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, ":7070", cfg.Server.Listen)
	assert.Equal(t, 4, cfg.Ranking.TopK)
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "bad.yaml")
	err := os.WriteFile(cfgPath, []byte("invalid: [yaml"), 0o644)
	require.NoError(t, err)

	_, err = config.Load(cfgPath)
	assert.Error(t, err)
}

func TestLoad_InvalidStorage(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("storage:\n  driver: postgres\n"), 0o644))

	_, err := config.Load(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.dsn is required")
}

func TestValidate(t *testing.T) {
	cfg := config.Config{
		Storage: config.StorageConfig{Driver: "mongo"},
		Ranking: config.RankingConfig{TopK: 0, Concurrency: 1},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown storage.driver "mongo"`)
	assert.Contains(t, err.Error(), "ranking.top_k")
}
