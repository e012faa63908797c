package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpopts "github.com/kart-io/inventory-rag/pkg/options/server/http"
)

type fakeRunnable struct {
	name     string
	startErr error
	events   *[]string
}

func (f *fakeRunnable) Name() string { return f.name }

func (f *fakeRunnable) Start(context.Context) error {
	*f.events = append(*f.events, "start "+f.name)
	return f.startErr
}

func (f *fakeRunnable) Stop(context.Context) error {
	*f.events = append(*f.events, "stop "+f.name)
	return nil
}

func TestHTTPServerServesAndStops(t *testing.T) {
	opts := httpopts.NewOptions()
	opts.Addr = "127.0.0.1:0"
	opts.Mode = gin.TestMode

	srv := NewHTTPServer(opts)
	srv.Engine().GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	require.NoError(t, srv.Start(context.Background()))
	defer func() { _ = srv.Stop(context.Background()) }()

	resp, err := http.Get(fmt.Sprintf("http://%s/ping", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(fmt.Sprintf("http://%s/missing", srv.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
}

func TestManagerOrdering(t *testing.T) {
	var events []string
	m := NewManager(time.Second)
	m.Add(&fakeRunnable{name: "a", events: &events}, &fakeRunnable{name: "b", events: &events})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, events)
}

func TestManagerStartFailureStopsStarted(t *testing.T) {
	var events []string
	m := NewManager(time.Second)
	m.Add(
		&fakeRunnable{name: "a", events: &events},
		&fakeRunnable{name: "b", events: &events, startErr: errors.New("port in use")},
	)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port in use")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, events)
}
