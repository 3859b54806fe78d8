package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

func TestPoolConfig(t *testing.T) {
	cfg, err := poolConfig(config.PostgresConfig{
		DSN:            "postgres://helpdesk:pw@db.internal:5432/helpdesk?sslmode=disable",
		MaxConns:       4,
		MinConns:       8,
		ConnMaxIdleSec: 30,
		ConnMaxLifeSec: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, int32(4), cfg.MinConns, "min is clamped to max")
	assert.Equal(t, 30*time.Second, cfg.MaxConnIdleTime)
	assert.Equal(t, 5*time.Minute, cfg.MaxConnLifetime)
	assert.Equal(t, "db.internal", cfg.ConnConfig.Host)
	assert.Equal(t, "helpdesk", cfg.ConnConfig.Database)
	assert.Equal(t, applicationName, cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfigKeepsExplicitApplicationName(t *testing.T) {
	cfg, err := poolConfig(config.PostgresConfig{DSN: "postgres://db/helpdesk?application_name=helpdesk-cli"})
	require.NoError(t, err)
	assert.Equal(t, "helpdesk-cli", cfg.ConnConfig.RuntimeParams["application_name"])
}

func TestPoolConfigRejectsMissingOrBadDSN(t *testing.T) {
	_, err := poolConfig(config.PostgresConfig{})
	assert.ErrorContains(t, err, "POSTGRES_DSN is required")

	_, err = poolConfig(config.PostgresConfig{DSN: "postgres://%zz"})
	assert.Error(t, err)
}
