package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/xray-triage-api/pkg/config"
)

func TestOptions(t *testing.T) {
	opts := Options(config.RedisConfig{
		Host: "cache", Port: 6380, DB: 2, PoolSize: 16,
		DialTimeout: time.Second, ReadTimeout: 200 * time.Millisecond, WriteTimeout: 300 * time.Millisecond,
	})

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 16, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.Equal(t, 200*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 300*time.Millisecond, opts.WriteTimeout)
}

func TestNewRedisDisabled(t *testing.T) {
	client, err := NewRedis(context.Background(), config.RedisConfig{Enabled: false, Host: "unreachable"})
	require.NoError(t, err)
	assert.Nil(t, client)
}
