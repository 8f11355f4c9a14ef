package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodline/internal/config"
	"prodline/internal/engine"
	"prodline/internal/lock"
)

func TestOpenDefaultsToMemoryLocks(t *testing.T) {
	a, err := Open(context.Background(), t.TempDir(), nil, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &lock.Memory{}, a.Engine.Locks)

	ws, err := a.Engine.CreateWorkshop(context.Background(), engine.Actor{ID: "tester"}, "Assembly", true)
	require.NoError(t, err)
	assert.NotEmpty(t, ws.ID)
}

func TestOpenWithRedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.Lock.Backend = "redis"
	cfg.Lock.Addr = mr.Addr()

	a, err := Open(context.Background(), t.TempDir(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &lock.Redis{}, a.Engine.Locks)
}

func TestOpenFailsWhenRedisIsDown(t *testing.T) {
	cfg := config.Default()
	cfg.Lock.Backend = "redis"
	cfg.Lock.Addr = "127.0.0.1:1"
	_, err := Open(context.Background(), t.TempDir(), cfg, nil)
	assert.ErrorContains(t, err, "connect redis")
}
