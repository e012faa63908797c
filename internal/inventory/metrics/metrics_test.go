package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndExport(t *testing.T) {
	m := New()

	m.RecordIngest(9, 1, false, time.Second, nil)
	m.RecordIngest(0, 3, true, time.Second, nil)
	m.RecordQuery(QueryAnswered)
	m.RecordQuery(QueryCached)
	m.RecordQuery(QueryPreparing)
	m.RecordEmbedding(10*time.Millisecond, nil)
	m.RecordEmbedding(0, errors.New("boom"))
	m.RecordEmbeddingRetry()
	m.RecordCompletion(time.Second, 100, 20, nil)
	m.RecordBackgroundBuild(errors.New("no inventory"))
	m.SetCircuitBreakerState(1)

	stats := m.Stats()
	assert.Equal(t, uint64(2), stats["ingest_runs"])
	assert.Equal(t, uint64(1), stats["ingest_degraded"])
	assert.Equal(t, uint64(9), stats["items_indexed"])
	assert.Equal(t, uint64(4), stats["items_skipped"])
	assert.Equal(t, uint64(3), stats["queries_total"])
	assert.Equal(t, uint64(1), stats["queries_cache_hits"])
	assert.Equal(t, uint64(1), stats["embeddings_errors"])
	assert.Equal(t, uint64(1), stats["background_build_errors"])

	out := m.Export("inventory", "rag")
	assert.Contains(t, out, "# TYPE inventory_rag_queries_total counter\ninventory_rag_queries_total 3\n")
	assert.Contains(t, out, "inventory_rag_items_indexed_total 9\n")
	assert.Contains(t, out, "inventory_rag_tokens_prompt_total 100\n")
	assert.Contains(t, out, "inventory_rag_circuit_breaker_state 1\n")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordIngest(1, 0, false, time.Second, nil)
		m.RecordQuery(QueryNoData)
		m.RecordEmbedding(time.Second, nil)
		m.RecordCompletion(time.Second, 1, 1, nil)
		m.RecordBackgroundBuild(nil)
		m.SetCircuitBreakerState(0)
	})
	assert.Empty(t, m.Export("inventory", ""))
	assert.Empty(t, m.Stats())
}
