package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/inventory-rag/pkg/llm"
	"github.com/kart-io/inventory-rag/pkg/utils/httpclient"
)

const testAPIKey = "test-key"

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(map[string]any{
		"api_key":     testAPIKey,
		"embed_model": "text-embedding-3-large",
		"chat_model":  "gpt-4o-mini",
		"timeout":     5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
	assert.Equal(t, "text-embedding-3-large", p.Model())

	_, err = NewProvider(map[string]any{})
	assert.Error(t, err)
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)

		_, _ = w.Write([]byte(`{"data":[{"embedding":[2,2],"index":1},{"embedding":[1,1],"index":0}],"model":"text-embedding-3-small"}`))
	}))
	defer srv.Close()

	p := NewProviderWithConfig(&Config{BaseURL: srv.URL, APIKey: testAPIKey, EmbedModel: "text-embedding-3-small", Timeout: time.Second})
	out, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 2}}, out)
}

func TestEmbed_MissingIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1],"index":0}]}`))
	}))
	defer srv.Close()

	p := NewProviderWithConfig(&Config{BaseURL: srv.URL, APIKey: testAPIKey, Timeout: time.Second})
	_, err := p.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestComplete_SendsSamplingParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])
		assert.InDelta(t, 0.3, req["temperature"], 1e-9)
		assert.EqualValues(t, 1000, req["max_tokens"])

		msgs := req["messages"].([]any)
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"$4 per unit"}}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`))
	}))
	defer srv.Close()

	p := NewProviderWithConfig(&Config{BaseURL: srv.URL, APIKey: testAPIKey, ChatModel: "gpt-4o", Timeout: time.Second})
	out, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "assistant",
		UserPrompt:   "question",
		Temperature:  0.3,
		MaxTokens:    1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "$4 per unit", out.Content)
	assert.Equal(t, 14, out.Usage.TotalTokens)
}

func TestComplete_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProviderWithConfig(&Config{BaseURL: srv.URL, APIKey: testAPIKey, Timeout: time.Second})
	_, err := p.Complete(context.Background(), llm.CompletionRequest{UserPrompt: "q"})

	var statusErr *httpclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}
