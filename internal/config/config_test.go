package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ANALYSIS_PROVIDER", "")
	t.Setenv("PIPELINE_MAX_ATTEMPTS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Analysis.Provider)
	assert.Equal(t, 30*time.Second, cfg.Analysis.Timeout())
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Pipeline.BackoffBase())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PIPELINE_WORKERS", "8")
	t.Setenv("ANALYSIS_TIMEOUT_SECONDS", "5")
	t.Setenv("ELASTICSEARCH_ADDRESSES", "http://es1:9200, http://es2:9200,")
	t.Setenv("LOG_ENCODING", "console")
	t.Setenv("LOG_OUTPUT", "stderr")
	t.Setenv("REDIS_POOL_SIZE", "20")
	t.Setenv("TRACING_EXPORTER", "otlp")
	t.Setenv("TRACING_OTLP_ENDPOINT", "collector:4317")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 5*time.Second, cfg.Analysis.Timeout())
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Knowledge.Addresses)
	assert.Equal(t, "console", cfg.Logger.Encoding)
	assert.Equal(t, "stderr", cfg.Logger.Output)
	assert.Equal(t, 20, cfg.Redis.PoolSize)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.OTLPEndpoint)
	assert.True(t, cfg.Tracing.OTLPInsecure)
}

func TestLoadRequiresAnthropicKey(t *testing.T) {
	t.Setenv("ANALYSIS_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestInvalidRedisDB(t *testing.T) {
	t.Setenv("REDIS_DB", "x")

	_, err := Load()
	assert.Error(t, err)
}
