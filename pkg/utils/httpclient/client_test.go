package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestDoJSON_Decodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{}`))
	require.NoError(t, err)

	var out struct {
		Model string `json:"model"`
	}
	require.NoError(t, NewClient(time.Second, 0).DoJSON(req, &out))
	assert.Equal(t, "text-embedding-3-small", out.Model)
}

func TestDoJSON_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	err = NewClient(time.Second, 0).DoJSON(req, nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Equal(t, "slow down", statusErr.Body)
	assert.True(t, statusErr.Temporary())
}

func TestDoRequest_RetriesServerErrorsWithBody(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		assert.Equal(t, `{"a":1}`, string(buf[:n]))
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"a":1}`))
	require.NoError(t, err)

	require.NoError(t, NewClient(time.Second, 1).DoJSON(req, nil))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestInjectTraceContext(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	otel.SetTextMapPropagator(propagation.TraceContext{})

	client := NewClient(time.Second, 0)

	ctx, span := tp.Tracer("test").Start(context.Background(), "embed")
	defer span.End()
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil).WithContext(ctx)
	client.injectTraceContext(req)
	assert.NotEmpty(t, req.Header.Get("traceparent"))

	bare := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	client.injectTraceContext(bare)
	assert.Empty(t, bare.Header.Get("traceparent"))
}
