// Package metrics 提供库存 RAG 服务的业务指标收集。
//
// 所有记录方法允许 nil 接收者，未注入指标时调用方无需判空。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics 库存 RAG 业务指标。
type Metrics struct {
	// 摄取指标
	ingestRuns     uint64 // 摄取次数
	ingestErrors   uint64 // 摄取失败次数
	ingestDegraded uint64 // 全部条目失败的摄取次数
	itemsIndexed   uint64 // 已写入条目数
	itemsSkipped   uint64 // 跳过条目数

	// 查询指标
	queriesTotal     uint64 // 总查询次数
	queriesCacheHits uint64 // 缓存命中次数
	queriesPreparing uint64 // 索引准备中返回次数
	queriesNoData    uint64 // 无检索结果次数
	queriesFallback  uint64 // 降级回答次数

	// Embedding 指标
	embeddingsTotal   uint64
	embeddingsErrors  uint64
	embeddingsRetries uint64

	// Completion 指标
	completionsTotal     uint64
	completionsErrors    uint64
	tokensPrompt         uint64
	tokensCompletion     uint64
	circuitBreakerState  int32 // 0=closed, 1=open, 2=half-open
	backgroundBuilds     uint64
	backgroundBuildFails uint64

	durationMu         sync.Mutex
	embeddingDuration  float64 // 秒
	completionDuration float64 // 秒
	ingestDuration     float64 // 秒
	startTime          time.Time
}

// New 创建指标实例。
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// RecordIngest 记录一次摄取。
func (m *Metrics) RecordIngest(indexed, skipped int, degraded bool, duration time.Duration, err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ingestRuns, 1)
	if err != nil {
		atomic.AddUint64(&m.ingestErrors, 1)
	}
	if degraded {
		atomic.AddUint64(&m.ingestDegraded, 1)
	}
	if indexed > 0 {
		atomic.AddUint64(&m.itemsIndexed, uint64(indexed))
	}
	if skipped > 0 {
		atomic.AddUint64(&m.itemsSkipped, uint64(skipped))
	}
	m.addDuration(&m.ingestDuration, duration)
}

// QueryOutcome 查询结果分类。
type QueryOutcome int

const (
	// QueryAnswered 正常生成回答。
	QueryAnswered QueryOutcome = iota
	// QueryCached 命中缓存。
	QueryCached
	// QueryPreparing 索引尚在构建。
	QueryPreparing
	// QueryNoData 无检索结果。
	QueryNoData
	// QueryFallback 出错后返回降级文本。
	QueryFallback
)

// RecordQuery 记录一次查询。
func (m *Metrics) RecordQuery(outcome QueryOutcome) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queriesTotal, 1)
	switch outcome {
	case QueryCached:
		atomic.AddUint64(&m.queriesCacheHits, 1)
	case QueryPreparing:
		atomic.AddUint64(&m.queriesPreparing, 1)
	case QueryNoData:
		atomic.AddUint64(&m.queriesNoData, 1)
	case QueryFallback:
		atomic.AddUint64(&m.queriesFallback, 1)
	}
}

// RecordEmbedding 记录一次 Embedding 调用。
func (m *Metrics) RecordEmbedding(duration time.Duration, err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.embeddingsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.embeddingsErrors, 1)
		return
	}
	m.addDuration(&m.embeddingDuration, duration)
}

// RecordEmbeddingRetry 记录一次 Embedding 重试。
func (m *Metrics) RecordEmbeddingRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.embeddingsRetries, 1)
}

// RecordCompletion 记录一次补全调用。
func (m *Metrics) RecordCompletion(duration time.Duration, promptTokens, completionTokens int, err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.completionsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.completionsErrors, 1)
		return
	}
	m.addDuration(&m.completionDuration, duration)
	if promptTokens > 0 {
		atomic.AddUint64(&m.tokensPrompt, uint64(promptTokens))
	}
	if completionTokens > 0 {
		atomic.AddUint64(&m.tokensCompletion, uint64(completionTokens))
	}
}

// RecordBackgroundBuild 记录一次后台构建。
func (m *Metrics) RecordBackgroundBuild(err error) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.backgroundBuilds, 1)
	if err != nil {
		atomic.AddUint64(&m.backgroundBuildFails, 1)
	}
}

// SetCircuitBreakerState 设置熔断器状态 (0=closed, 1=open, 2=half-open)。
func (m *Metrics) SetCircuitBreakerState(state int32) {
	if m == nil {
		return
	}
	atomic.StoreInt32(&m.circuitBreakerState, state)
}

func (m *Metrics) addDuration(total *float64, d time.Duration) {
	m.durationMu.Lock()
	*total += d.Seconds()
	m.durationMu.Unlock()
}

// Stats 返回指标快照。
func (m *Metrics) Stats() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	m.durationMu.Lock()
	defer m.durationMu.Unlock()
	return map[string]any{
		"ingest_runs":             atomic.LoadUint64(&m.ingestRuns),
		"ingest_errors":           atomic.LoadUint64(&m.ingestErrors),
		"ingest_degraded":         atomic.LoadUint64(&m.ingestDegraded),
		"items_indexed":           atomic.LoadUint64(&m.itemsIndexed),
		"items_skipped":           atomic.LoadUint64(&m.itemsSkipped),
		"queries_total":           atomic.LoadUint64(&m.queriesTotal),
		"queries_cache_hits":      atomic.LoadUint64(&m.queriesCacheHits),
		"queries_preparing":       atomic.LoadUint64(&m.queriesPreparing),
		"queries_no_data":         atomic.LoadUint64(&m.queriesNoData),
		"queries_fallback":        atomic.LoadUint64(&m.queriesFallback),
		"embeddings_total":        atomic.LoadUint64(&m.embeddingsTotal),
		"embeddings_errors":       atomic.LoadUint64(&m.embeddingsErrors),
		"embeddings_retries":      atomic.LoadUint64(&m.embeddingsRetries),
		"completions_total":       atomic.LoadUint64(&m.completionsTotal),
		"completions_errors":      atomic.LoadUint64(&m.completionsErrors),
		"background_builds":       atomic.LoadUint64(&m.backgroundBuilds),
		"background_build_errors": atomic.LoadUint64(&m.backgroundBuildFails),
		"uptime_seconds":          time.Since(m.startTime).Seconds(),
	}
}

type sample struct {
	name  string
	help  string
	kind  string
	value string
}

// Export 导出 Prometheus 文本格式指标。
func (m *Metrics) Export(namespace, subsystem string) string {
	if m == nil {
		return ""
	}
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	m.durationMu.Lock()
	ingestDuration := m.ingestDuration
	embeddingDuration := m.embeddingDuration
	completionDuration := m.completionDuration
	m.durationMu.Unlock()

	counter := func(v uint64) string { return fmt.Sprintf("%d", v) }
	seconds := func(v float64) string { return fmt.Sprintf("%.6f", v) }

	samples := []sample{
		{"ingest_runs_total", "Total number of ingestion runs.", "counter", counter(atomic.LoadUint64(&m.ingestRuns))},
		{"ingest_errors_total", "Number of failed ingestion runs.", "counter", counter(atomic.LoadUint64(&m.ingestErrors))},
		{"ingest_degraded_total", "Number of ingestion runs where every item failed.", "counter", counter(atomic.LoadUint64(&m.ingestDegraded))},
		{"ingest_duration_seconds_total", "Total ingestion duration.", "counter", seconds(ingestDuration)},
		{"items_indexed_total", "Number of inventory items written to the index.", "counter", counter(atomic.LoadUint64(&m.itemsIndexed))},
		{"items_skipped_total", "Number of inventory items skipped during ingestion.", "counter", counter(atomic.LoadUint64(&m.itemsSkipped))},
		{"queries_total", "Total number of queries.", "counter", counter(atomic.LoadUint64(&m.queriesTotal))},
		{"queries_cache_hits_total", "Number of queries answered from cache.", "counter", counter(atomic.LoadUint64(&m.queriesCacheHits))},
		{"queries_preparing_total", "Number of queries answered while the index was being prepared.", "counter", counter(atomic.LoadUint64(&m.queriesPreparing))},
		{"queries_no_data_total", "Number of queries without retrieved items.", "counter", counter(atomic.LoadUint64(&m.queriesNoData))},
		{"queries_fallback_total", "Number of queries answered with the fallback message.", "counter", counter(atomic.LoadUint64(&m.queriesFallback))},
		{"embeddings_total", "Total number of embedding calls.", "counter", counter(atomic.LoadUint64(&m.embeddingsTotal))},
		{"embeddings_errors_total", "Number of failed embedding calls.", "counter", counter(atomic.LoadUint64(&m.embeddingsErrors))},
		{"embeddings_retries_total", "Number of embedding retries.", "counter", counter(atomic.LoadUint64(&m.embeddingsRetries))},
		{"embedding_duration_seconds_total", "Total embedding duration.", "counter", seconds(embeddingDuration)},
		{"completions_total", "Total number of completion calls.", "counter", counter(atomic.LoadUint64(&m.completionsTotal))},
		{"completions_errors_total", "Number of failed completion calls.", "counter", counter(atomic.LoadUint64(&m.completionsErrors))},
		{"completion_duration_seconds_total", "Total completion duration.", "counter", seconds(completionDuration)},
		{"tokens_prompt_total", "Prompt tokens consumed.", "counter", counter(atomic.LoadUint64(&m.tokensPrompt))},
		{"tokens_completion_total", "Completion tokens consumed.", "counter", counter(atomic.LoadUint64(&m.tokensCompletion))},
		{"circuit_breaker_state", "Circuit breaker state (0=closed, 1=open, 2=half-open).", "gauge", fmt.Sprintf("%d", atomic.LoadInt32(&m.circuitBreakerState))},
		{"background_builds_total", "Number of background tenant builds.", "counter", counter(atomic.LoadUint64(&m.backgroundBuilds))},
		{"background_build_errors_total", "Number of failed background tenant builds.", "counter", counter(atomic.LoadUint64(&m.backgroundBuildFails))},
		{"uptime_seconds", "Seconds since the metrics were created.", "gauge", seconds(time.Since(m.startTime).Seconds())},
	}

	var sb strings.Builder
	for _, s := range samples {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", prefix, s.name, s.help)
		fmt.Fprintf(&sb, "# TYPE %s_%s %s\n", prefix, s.name, s.kind)
		fmt.Fprintf(&sb, "%s_%s %s\n\n", prefix, s.name, s.value)
	}
	return sb.String()
}
