package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

func TestRedisPing(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedis(config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	defer r.Close()
	require.NoError(t, r.Ping(context.Background()))

	mr.Close()
	assert.Error(t, r.Ping(context.Background()))
}

func TestNilStoresFailPing(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
	r.Close()

	var pg *Postgres
	assert.Error(t, pg.Ping(context.Background()))
}
