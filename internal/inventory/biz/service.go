package biz

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	"github.com/kart-io/inventory-rag/internal/inventory/source"
	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/llm"
)

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateTenantID 校验租户 ID。
func ValidateTenantID(tenantID string) error {
	if !tenantIDPattern.MatchString(tenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return nil
}

// 初始化与刷新状态。
const (
	StatusCreated  = "created"
	StatusExisting = "existing"
	StatusSuccess  = "success"
)

// InitializeResult 初始化结果。
type InitializeResult struct {
	Status    string       `json:"status"`
	IndexName string       `json:"index_name"`
	Report    *BatchReport `json:"report,omitempty"`
}

// QueryResponse 查询结果。
type QueryResponse struct {
	Answer         string         `json:"answer"`
	ProcessingTime time.Duration  `json:"processing_time"`
	Status         QueryReadiness `json:"status"`
	Cached         bool           `json:"cached"`
}

// RefreshResult 刷新结果。
type RefreshResult struct {
	Status string       `json:"status"`
	Report *BatchReport `json:"report,omitempty"`
}

// StatusResult 租户状态。
type StatusResult struct {
	TenantID       string      `json:"tenant_id"`
	IndexName      string      `json:"index_name"`
	IndexExists    bool        `json:"index_exists"`
	PipelineLoaded bool        `json:"pipeline_loaded"`
	State          TenantState `json:"state"`
	DocumentCount  int64       `json:"document_count"`
}

// FactoryConfig 流水线工厂的依赖。
type FactoryConfig struct {
	Source    source.DocumentSource
	Gateway   store.VectorIndexGateway
	Embedder  *EmbeddingClient
	Chat      llm.ChatProvider
	Ingestion *IngestionConfig
	Query     *QueryConfig
	Metrics   *metrics.Metrics
}

// NewPipelineFactory 返回按租户组装摄取与查询流水线的工厂。
func NewPipelineFactory(cfg *FactoryConfig) PipelineFactory {
	return func(tenantID string) *TenantPipeline {
		// 配置在流水线构造时会被补全，每个租户各持一份
		var ingestCfg *IngestionConfig
		if cfg.Ingestion != nil {
			c := *cfg.Ingestion
			ingestCfg = &c
		}
		var queryCfg *QueryConfig
		if cfg.Query != nil {
			c := *cfg.Query
			queryCfg = &c
		}

		return &TenantPipeline{
			TenantID:  tenantID,
			IndexName: store.DisplayName(tenantID),
			Ingestion: NewIngestionPipeline(tenantID, cfg.Source, cfg.Gateway, cfg.Embedder, ingestCfg, cfg.Metrics),
			Query:     NewQueryPipeline(tenantID, cfg.Gateway, cfg.Embedder, cfg.Chat, queryCfg, cfg.Metrics),
		}
	}
}

// InventoryService 对外的租户库存问答服务。
type InventoryService struct {
	registry *TenantRegistry
	gateway  store.VectorIndexGateway
	cache    *QueryCache
	metrics  *metrics.Metrics
	topK     int
}

// NewInventoryService 创建服务实例，cache 可以为空。
func NewInventoryService(registry *TenantRegistry, gateway store.VectorIndexGateway, cache *QueryCache, topK int, m *metrics.Metrics) *InventoryService {
	return &InventoryService{
		registry: registry,
		gateway:  gateway,
		cache:    cache,
		metrics:  m,
		topK:     topK,
	}
}

// Registry 返回租户注册表。
func (s *InventoryService) Registry() *TenantRegistry {
	return s.registry
}

// Initialize 初始化租户索引。force 为 true 时总是重建；否则索引存在时只做连接。
func (s *InventoryService) Initialize(ctx context.Context, tenantID string, force bool) (*InitializeResult, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	var (
		p       *TenantPipeline
		created bool
		err     error
	)
	if force {
		p, err = s.registry.Rebuild(ctx, tenantID)
		created = err == nil
	} else {
		p, created, err = s.registry.Resolve(ctx, tenantID)
	}
	if err != nil {
		logger.Errorw("failed to initialize tenant", "tenant_id", tenantID, "force", force, "error", err.Error())
		return nil, err
	}

	result := &InitializeResult{
		Status:    StatusExisting,
		IndexName: p.IndexName,
	}
	if created {
		result.Status = StatusCreated
		result.Report = p.Report
		s.invalidate(ctx, tenantID)
	}

	logger.Infow("tenant initialized", "tenant_id", tenantID, "status", result.Status, "index", result.IndexName)
	return result, nil
}

// Query 回答租户问题。
// 索引不存在时立即返回 PreparingMessage 并在后台构建；检索或生成失败时返回 ErrorMessage。
func (s *InventoryService) Query(ctx context.Context, tenantID, question string) (*QueryResponse, error) {
	start := time.Now()

	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrInvalidQuestion
	}

	// 1. 查缓存
	if cached, err := s.cache.Get(ctx, tenantID, question); err == nil && cached != nil {
		s.metrics.RecordQuery(metrics.QueryCached)
		return &QueryResponse{
			Answer:         cached.Answer,
			ProcessingTime: time.Since(start),
			Status:         Ready,
			Cached:         true,
		}, nil
	}

	// 2. 解析租户流水线
	p, readiness, err := s.registry.ResolveForQuery(ctx, tenantID)
	if err != nil {
		logger.Errorw("failed to resolve tenant for query", "tenant_id", tenantID, "error", err.Error())
		return nil, err
	}
	if readiness == Preparing {
		s.metrics.RecordQuery(metrics.QueryPreparing)
		return &QueryResponse{
			Answer:         PreparingMessage,
			ProcessingTime: time.Since(start),
			Status:         Preparing,
		}, nil
	}

	// 3. 检索并生成
	result := p.Query.AnswerDetailed(ctx, question, s.topK)
	switch {
	case result.Err != nil:
		s.metrics.RecordQuery(metrics.QueryFallback)
	case len(result.Hits) == 0:
		s.metrics.RecordQuery(metrics.QueryNoData)
	default:
		s.metrics.RecordQuery(metrics.QueryAnswered)
	}

	// 4. 仅缓存基于检索结果生成的回答
	if result.Grounded {
		if err := s.cache.Set(ctx, tenantID, question, result.Answer); err != nil {
			logger.Warnw("failed to cache answer", "tenant_id", tenantID, "error", err.Error())
		}
	}

	return &QueryResponse{
		Answer:         result.Answer,
		ProcessingTime: time.Since(start),
		Status:         Ready,
	}, nil
}

// Refresh 重建租户索引。已加载的租户返回 success，未加载的租户执行首次构建并返回 created。
func (s *InventoryService) Refresh(ctx context.Context, tenantID string) (*RefreshResult, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	status := StatusCreated
	if _, ok := s.registry.Lookup(tenantID); ok {
		status = StatusSuccess
	}

	p, err := s.registry.Rebuild(ctx, tenantID)
	if err != nil {
		logger.Errorw("failed to refresh tenant", "tenant_id", tenantID, "error", err.Error())
		return nil, err
	}
	s.invalidate(ctx, tenantID)

	logger.Infow("tenant refreshed", "tenant_id", tenantID, "status", status)
	return &RefreshResult{Status: status, Report: p.Report}, nil
}

// Status 返回租户的索引与流水线状态。
func (s *InventoryService) Status(ctx context.Context, tenantID string) (*StatusResult, error) {
	if err := ValidateTenantID(tenantID); err != nil {
		return nil, err
	}

	exists, err := s.gateway.Exists(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("check index for %s: %w", tenantID, err)
	}

	_, loaded := s.registry.Lookup(tenantID)
	result := &StatusResult{
		TenantID:       tenantID,
		IndexName:      store.DisplayName(tenantID),
		IndexExists:    exists,
		PipelineLoaded: loaded,
		State:          s.registry.State(tenantID),
	}

	if exists {
		stats, err := s.gateway.Stats(ctx, tenantID)
		if err != nil {
			logger.Warnw("failed to get index stats", "tenant_id", tenantID, "error", err.Error())
		} else {
			result.DocumentCount = stats.RowCount
		}
	}
	return result, nil
}

func (s *InventoryService) invalidate(ctx context.Context, tenantID string) {
	if _, err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		logger.Warnw("failed to invalidate answer cache", "tenant_id", tenantID, "error", err.Error())
	}
}
