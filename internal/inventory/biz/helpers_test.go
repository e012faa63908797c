package biz

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	"github.com/kart-io/inventory-rag/internal/inventory/source"
	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/llm"
	"github.com/kart-io/inventory-rag/pkg/resilience"
)

const testDim = 8

// fakeEmbedder 将文本按词哈希到固定维度，结果确定。
type fakeEmbedder struct {
	dim    int
	calls  atomic.Int64
	mu     sync.Mutex
	failOn map[string]error
	// override 非空时直接返回该向量。
	override []float32
	// gate 非空时每次嵌入都等待其关闭。
	gate chan struct{}
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{dim: testDim, failOn: make(map[string]error)}
}

func (f *fakeEmbedder) failWhenContains(substr string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn[substr] = err
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	f.calls.Add(1)

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	for substr, err := range f.failOn {
		if strings.Contains(text, substr) {
			f.mu.Unlock()
			return nil, err
		}
	}
	f.mu.Unlock()

	if f.override != nil {
		return append([]float32(nil), f.override...), nil
	}

	vec := make([]float32, f.dim)
	vec[0] = 1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,:?$")))
		vec[h.Sum32()%uint32(f.dim)]++
	}
	return vec, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embedding" }
func (f *fakeEmbedder) Name() string  { return "fake" }

// fakeChat 记录请求并按 respond 生成回答。
type fakeChat struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	respond  func(req llm.CompletionRequest) (*llm.Completion, error)
}

func (f *fakeChat) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond == nil {
		return &llm.Completion{Content: "ok"}, nil
	}
	return f.respond(req)
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeChat) lastRequest() llm.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

// cheddarChat 只有在提示词包含 Cheddar 的单价时才回答价格。
func cheddarChat() *fakeChat {
	return &fakeChat{respond: func(req llm.CompletionRequest) (*llm.Completion, error) {
		if strings.Contains(req.UserPrompt, ": Cheddar\n  Category: DAIRY\n  Unit Cost: $4\n") {
			return &llm.Completion{Content: "Cheddar costs $4 per unit."}, nil
		}
		return &llm.Completion{Content: "The inventory data does not include Cheddar."}, nil
	}}
}

var errBadInput = errors.New("bad input")

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Classify:     resilience.ClassifyTransient,
	}
}

func newTestEmbeddingClient(t *testing.T, provider llm.EmbeddingProvider, m *metrics.Metrics) *EmbeddingClient {
	t.Helper()
	c, err := NewEmbeddingClient(provider, testDim, m)
	require.NoError(t, err)
	return c
}

func record(name, category string, unitCost float64) source.InventoryRecord {
	return source.InventoryRecord{
		SupplierName:      "Sysco",
		InventoryItemName: name,
		ItemName:          name + " Full Name",
		ItemNumber:        "1001",
		Category:          category,
		CasePrice:         source.Float(unitCost * 10),
		UnitCost:          source.Float(unitCost),
		PricedBy:          "per case",
		QuantityInCase:    source.Float(10),
		MeasuredIn:        "lb",
		TotalUnits:        source.Float(20),
		Splitable:         "NO",
	}
}

// testEnv 组装一套基于内存实现的服务。
type testEnv struct {
	source   *source.MemorySource
	gateway  *store.MemoryGateway
	embedder *fakeEmbedder
	chat     *fakeChat
	metrics  *metrics.Metrics
	registry *TenantRegistry
	service  *InventoryService
}

func newTestEnv(t *testing.T, chat *fakeChat, cache *QueryCache) *testEnv {
	t.Helper()
	return newTestEnvWithGateway(t, chat, cache, nil)
}

// newTestEnvWithGateway 与 newTestEnv 相同，wrap 非空时流水线与注册表使用包装后的网关。
func newTestEnvWithGateway(t *testing.T, chat *fakeChat, cache *QueryCache, wrap func(*store.MemoryGateway) store.VectorIndexGateway) *testEnv {
	t.Helper()
	env := &testEnv{
		source:   source.NewMemorySource(),
		gateway:  store.NewMemoryGateway(),
		embedder: newFakeEmbedder(),
		chat:     chat,
		metrics:  metrics.New(),
	}
	if env.chat == nil {
		env.chat = &fakeChat{}
	}
	var gw store.VectorIndexGateway = env.gateway
	if wrap != nil {
		gw = wrap(env.gateway)
	}

	factory := NewPipelineFactory(&FactoryConfig{
		Source:    env.source,
		Gateway:   gw,
		Embedder:  newTestEmbeddingClient(t, env.embedder, env.metrics),
		Chat:      env.chat,
		Ingestion: &IngestionConfig{Concurrency: 4, Retry: fastRetry()},
		Query:     &QueryConfig{TopK: store.DefaultTopK, Retry: fastRetry()},
		Metrics:   env.metrics,
	})
	queue := TaskQueueFunc(func(task func()) error {
		go task()
		return nil
	})
	env.registry = NewTenantRegistry(factory, gw, queue, &RegistryConfig{BuildTimeout: 5 * time.Second}, env.metrics)
	env.service = NewInventoryService(env.registry, gw, cache, store.DefaultTopK, env.metrics)
	return env
}

// failingUpsertGateway 写入总是失败的内存网关。
type failingUpsertGateway struct {
	*store.MemoryGateway
	err error
}

func (g *failingUpsertGateway) Upsert(context.Context, string, []store.IndexedDocument) error {
	return g.err
}

// testClock 可手动推进的时钟。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
