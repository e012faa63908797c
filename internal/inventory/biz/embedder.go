package biz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	"github.com/kart-io/inventory-rag/pkg/llm"
	"github.com/kart-io/inventory-rag/pkg/resilience"
)

// modelDimensions 已知 Embedding 模型的向量维度。
var modelDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// ExpectedDimension 返回模型约定的向量维度。
func ExpectedDimension(model string) (int, bool) {
	dim, ok := modelDimensions[model]
	return dim, ok
}

// EmbeddingClient 包装 EmbeddingProvider 并严格校验返回向量。
type EmbeddingClient struct {
	provider llm.EmbeddingProvider
	model    string
	dim      int
	metrics  *metrics.Metrics
}

// NewEmbeddingClient 创建 EmbeddingClient。
// dimensionOverride > 0 时覆盖模型表；模型不在表中且未覆盖时返回错误。
func NewEmbeddingClient(provider llm.EmbeddingProvider, dimensionOverride int, m *metrics.Metrics) (*EmbeddingClient, error) {
	model := provider.Model()
	dim := dimensionOverride
	if dim <= 0 {
		var ok bool
		if dim, ok = ExpectedDimension(model); !ok {
			return nil, fmt.Errorf("unknown embedding model %q: configure an explicit dimension", model)
		}
	}
	return &EmbeddingClient{
		provider: provider,
		model:    model,
		dim:      dim,
		metrics:  m,
	}, nil
}

// Model 返回模型标识。
func (c *EmbeddingClient) Model() string {
	return c.model
}

// Dimension 返回期望的向量维度。
func (c *EmbeddingClient) Dimension() int {
	return c.dim
}

// Embed 生成单个文本的向量，校验维度与每个分量是否有限。
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	start := time.Now()
	vec, err := c.provider.EmbedSingle(ctx, text)
	if err == nil {
		err = c.validate(vec)
	}
	c.metrics.RecordEmbedding(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return vec, nil
}

func (c *EmbeddingClient) validate(vec []float32) error {
	if len(vec) != c.dim {
		return &DimensionMismatchError{Expected: c.dim, Actual: len(vec), Model: c.model}
	}
	for i, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return &MalformedEmbeddingError{Index: i, Model: c.model}
		}
	}
	return nil
}

// EmbedWithRetry 在重试策略下调用 Embed。
// 维度与数值错误只做一次确认性重试。
func (c *EmbeddingClient) EmbedWithRetry(ctx context.Context, cfg *resilience.RetryConfig, text string) ([]float32, error) {
	return resilience.Do(ctx, c.retryConfig(cfg), func(ctx context.Context) ([]float32, error) {
		return c.Embed(ctx, text)
	})
}

func (c *EmbeddingClient) retryConfig(base *resilience.RetryConfig) *resilience.RetryConfig {
	if base == nil {
		base = resilience.DefaultRetryConfig()
	}
	cfg := *base
	cfg.Classify = classifyEmbedding
	onRetry := base.OnRetry
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.metrics.RecordEmbeddingRetry()
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return &cfg
}
