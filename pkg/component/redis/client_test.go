package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/inventory-rag/pkg/options/redis"
)

func newTestOptions(t *testing.T) (*options.Options, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	opts := options.NewOptions()
	opts.Enabled = true
	opts.Host = mr.Host()
	opts.Port = port
	return opts, mr
}

func TestNewAndPing(t *testing.T) {
	opts, mr := newTestOptions(t)

	client, err := New(opts)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "redis", client.Name())
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Client().Set(context.Background(), "k", "v", 0).Err())

	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestHealthWithStats(t *testing.T) {
	opts, mr := newTestOptions(t)

	client, err := New(opts)
	require.NoError(t, err)
	defer client.Close()

	stats := client.HealthWithStats(context.Background())
	assert.True(t, stats.Healthy)
	assert.NotNil(t, stats.PoolStats)

	mr.Close()
	stats = client.HealthWithStats(context.Background())
	assert.False(t, stats.Healthy)
	assert.NotEmpty(t, stats.Error)
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	opts, mr := newTestOptions(t)
	mr.Close()

	_, err := New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping redis")
}

func TestNewNilOptions(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}
