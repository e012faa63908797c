package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	"github.com/kart-io/inventory-rag/internal/inventory/source"
	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/infra/pool"
	"github.com/kart-io/inventory-rag/pkg/resilience"
	"github.com/kart-io/inventory-rag/pkg/utils/id"
)

const tracerName = "github.com/kart-io/inventory-rag/internal/inventory/biz"

const dropIndexTimeout = 30 * time.Second

// IngestionConfig 摄取配置。
type IngestionConfig struct {
	// Concurrency 单次摄取中并发嵌入的条目数上限。
	Concurrency int
	// Retry Embedding 与写入共用的重试策略。
	Retry *resilience.RetryConfig
	// Compose 组合函数，为空时使用 DefaultCompose。
	Compose ComposeFunc
}

// DefaultIngestionConfig 返回默认摄取配置。
func DefaultIngestionConfig() *IngestionConfig {
	return &IngestionConfig{
		Concurrency: 4,
		Retry:       resilience.DefaultRetryConfig(),
		Compose:     DefaultCompose,
	}
}

// ItemResult 单个条目的处理结果，Err 非空表示失败。
type ItemResult struct {
	Index int
	Name  string
	Doc   *store.IndexedDocument
	Err   error
}

// ItemFailure 报告中记录的失败条目。
type ItemFailure struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Kind   string `json:"kind"`
}

// BatchReport 一次摄取的汇总结果。
type BatchReport struct {
	RunID    string        `json:"run_id"`
	TenantID string        `json:"tenant_id"`
	Total    int           `json:"total"`
	Indexed  int           `json:"indexed"`
	Skipped  int           `json:"skipped"`
	Failures []ItemFailure `json:"failures,omitempty"`
	// Degraded 所有条目均失败，未发生写入。
	Degraded bool          `json:"degraded"`
	Duration time.Duration `json:"duration"`
}

// Err 有条目被跳过时返回包装 ErrPartialBatch 的错误。
func (r *BatchReport) Err() error {
	if r == nil || r.Skipped == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d items skipped", ErrPartialBatch, r.Skipped, r.Total)
}

// IngestionPipeline 负责单个租户的全量索引构建。
type IngestionPipeline struct {
	tenantID string
	source   source.DocumentSource
	gateway  store.VectorIndexGateway
	embedder *EmbeddingClient
	config   *IngestionConfig
	metrics  *metrics.Metrics
}

// NewIngestionPipeline 创建摄取流水线。
func NewIngestionPipeline(
	tenantID string,
	src source.DocumentSource,
	gateway store.VectorIndexGateway,
	embedder *EmbeddingClient,
	config *IngestionConfig,
	m *metrics.Metrics,
) *IngestionPipeline {
	if config == nil {
		config = DefaultIngestionConfig()
	}
	if config.Compose == nil {
		config.Compose = DefaultCompose
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &IngestionPipeline{
		tenantID: tenantID,
		source:   src,
		gateway:  gateway,
		embedder: embedder,
		config:   config,
		metrics:  m,
	}
}

// Ingest 拉取租户文档并重建索引。
// 没有文档时返回 ErrNoInventoryFound 且不触碰索引；条目级失败只记入报告。
func (p *IngestionPipeline) Ingest(ctx context.Context) (report *BatchReport, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "inventory.ingest")
	defer span.End()

	start := time.Now()
	report = &BatchReport{
		RunID:    id.NewULID(),
		TenantID: p.tenantID,
	}
	span.SetAttributes(
		attribute.String("tenant.id", p.tenantID),
		attribute.String("ingest.run_id", report.RunID),
	)
	defer func() {
		report.Duration = time.Since(start)
		p.metrics.RecordIngest(report.Indexed, report.Skipped, report.Degraded, report.Duration, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	// 1. 拉取租户文档
	groups, err := p.source.FetchAll(ctx, p.tenantID)
	if err != nil {
		return report, fmt.Errorf("fetch inventory: %w", err)
	}
	if len(groups) == 0 {
		logger.Errorw("no inventory found", "tenant_id", p.tenantID)
		return report, fmt.Errorf("%w for tenant %s", ErrNoInventoryFound, p.tenantID)
	}
	if len(groups) > 1 {
		logger.Warnw("tenant has several inventory documents, indexing the first one",
			"tenant_id", p.tenantID, "documents", len(groups))
	}

	// 2. 重建索引
	err = resilience.Retry(ctx, p.config.Retry, func(ctx context.Context) error {
		return p.gateway.CreateOrReplaceIndex(ctx, p.tenantID, store.IndexSchema{Dimension: p.embedder.Dimension()})
	})
	if err != nil {
		return report, fmt.Errorf("create index: %w", err)
	}

	items := groups[0].Items
	report.Total = len(items)
	if len(items) == 0 {
		logger.Warnw("inventory document contains no items", "tenant_id", p.tenantID)
		return report, nil
	}

	// 3. 逐条组合、嵌入，失败条目隔离
	results := p.processItems(ctx, items)

	docs := make([]store.IndexedDocument, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			logger.Warnw("skipping inventory item",
				"tenant_id", p.tenantID,
				"index", r.Index,
				"item", r.Name,
				"error", r.Err.Error(),
			)
			report.Failures = append(report.Failures, ItemFailure{
				Index:  r.Index,
				Name:   r.Name,
				Reason: r.Err.Error(),
				Kind:   Kind(r.Err).String(),
			})
			continue
		}
		docs = append(docs, *r.Doc)
	}
	report.Skipped = len(report.Failures)

	if len(docs) == 0 {
		report.Degraded = true
		logger.Warnw("no documents were processed for indexing", "tenant_id", p.tenantID, "total", report.Total)
		return report, nil
	}

	// 4. 批量写入
	err = resilience.Retry(ctx, p.config.Retry, func(ctx context.Context) error {
		return p.gateway.Upsert(ctx, p.tenantID, docs)
	})
	if err != nil {
		p.dropPartialIndex(ctx)
		return report, fmt.Errorf("upsert documents: %w", err)
	}
	report.Indexed = len(docs)

	logger.Infow("inventory indexed",
		"tenant_id", p.tenantID,
		"run_id", report.RunID,
		"indexed", report.Indexed,
		"skipped", report.Skipped,
	)
	span.SetAttributes(attribute.Int("ingest.indexed", report.Indexed), attribute.Int("ingest.skipped", report.Skipped))
	return report, nil
}

// dropPartialIndex 写入失败后删除本次创建的集合，避免后续查询连接到空索引。
func (p *IngestionPipeline) dropPartialIndex(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dropIndexTimeout)
	defer cancel()
	if err := p.gateway.DropIndex(ctx, p.tenantID); err != nil {
		logger.Warnw("failed to drop partially built index", "tenant_id", p.tenantID, "error", err.Error())
	}
}

// processItems 在有界工作池中处理条目，结果顺序与输入一致。
func (p *IngestionPipeline) processItems(ctx context.Context, items []source.InventoryRecord) []ItemResult {
	results := make([]ItemResult, len(items))

	workers := min(p.config.Concurrency, len(items))
	if workers <= 1 {
		for i, rec := range items {
			results[i] = p.processItem(ctx, i, rec)
		}
		return results
	}

	wp, err := pool.NewPool("ingest-"+p.tenantID, pool.DefaultPool, &pool.Config{Capacity: workers})
	if err != nil {
		logger.Warnw("ingest pool unavailable, processing sequentially", "tenant_id", p.tenantID, "error", err.Error())
		for i, rec := range items {
			results[i] = p.processItem(ctx, i, rec)
		}
		return results
	}
	defer wp.Release()

	var wg sync.WaitGroup
	for i, rec := range items {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = ItemResult{Index: i, Name: rec.InventoryItemName, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			results[i] = p.processItem(ctx, i, rec)
		}
		if err := wp.Submit(task); err != nil {
			wg.Done()
			results[i] = ItemResult{Index: i, Name: rec.InventoryItemName, Err: fmt.Errorf("submit item: %w", err)}
		}
	}
	wg.Wait()
	return results
}

// processItem 组合、嵌入并组装单个条目的索引文档。
func (p *IngestionPipeline) processItem(ctx context.Context, index int, rec source.InventoryRecord) ItemResult {
	result := ItemResult{Index: index, Name: rec.InventoryItemName}

	content, err := p.config.Compose(rec)
	if err != nil {
		result.Err = fmt.Errorf("compose content: %w", err)
		return result
	}
	if content == "" {
		result.Err = errors.New("compose content: empty result")
		return result
	}

	vector, err := p.embedder.EmbedWithRetry(ctx, p.config.Retry, content)
	if err != nil {
		result.Err = fmt.Errorf("embed content: %w", err)
		return result
	}

	doc := documentFromRecord(p.tenantID, rec, content, vector)
	if err := store.ValidateDocument(doc); err != nil {
		result.Err = err
		return result
	}
	result.Doc = doc
	return result
}

// documentFromRecord 组装索引文档，可选字段缺失时取空串或 0。
func documentFromRecord(tenantID string, rec source.InventoryRecord, content string, vector []float32) *store.IndexedDocument {
	return &store.IndexedDocument{
		ID:                id.NewUUID(),
		TenantID:          tenantID,
		SupplierName:      rec.SupplierName,
		InventoryItemName: rec.InventoryItemName,
		ItemName:          rec.ItemName,
		ItemNumber:        string(rec.ItemNumber),
		QuantityInCase:    deref(rec.QuantityInCase),
		TotalUnits:        deref(rec.TotalUnits),
		CasePrice:         deref(rec.CasePrice),
		UnitCost:          deref(rec.UnitCost),
		Category:          rec.Category,
		MeasuredIn:        rec.MeasuredIn,
		CatchWeight:       string(rec.CatchWeight),
		PricedBy:          rec.PricedBy,
		Splitable:         rec.Splitable,
		Content:           content,
		Vector:            vector,
	}
}
