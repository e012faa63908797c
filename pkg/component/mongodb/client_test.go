package mongodb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	options "github.com/kart-io/inventory-rag/pkg/options/mongodb"
)

func TestClientOptions(t *testing.T) {
	opts := options.NewOptions()
	opts.Host = "db.internal"
	opts.Port = 27018
	opts.MaxPoolSize = 20
	opts.MinPoolSize = 2
	opts.ConnectTimeout = 3 * time.Second
	opts.Direct = true

	co := ClientOptions(opts)
	require.NotNil(t, co)
	assert.Equal(t, []string{"db.internal:27018"}, co.Hosts)
	require.NotNil(t, co.MaxPoolSize)
	assert.Equal(t, uint64(20), *co.MaxPoolSize)
	require.NotNil(t, co.MinPoolSize)
	assert.Equal(t, uint64(2), *co.MinPoolSize)
	require.NotNil(t, co.ConnectTimeout)
	assert.Equal(t, 3*time.Second, *co.ConnectTimeout)
	require.NotNil(t, co.Direct)
	assert.True(t, *co.Direct)
}

func TestNewRejectsInvalidOptions(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	opts := options.NewOptions()
	opts.Host = ""
	_, err = New(opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid mongodb options")
}
