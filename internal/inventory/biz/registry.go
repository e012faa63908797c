package biz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kart-io/logger"
	"golang.org/x/sync/singleflight"

	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/infra/pool"
)

// TenantState 租户流水线状态。
type TenantState string

const (
	StateUnregistered TenantState = "unregistered"
	StateInitializing TenantState = "initializing"
	StateReady        TenantState = "ready"
)

// QueryReadiness 查询时租户是否可用。
type QueryReadiness string

const (
	Ready     QueryReadiness = "ready"
	Preparing QueryReadiness = "preparing"
)

// TenantPipeline 单个租户的运行时绑定，仅在构建或连接完成后对外可见。
type TenantPipeline struct {
	TenantID  string
	IndexName string
	Ingestion *IngestionPipeline
	Query     *QueryPipeline
	CreatedAt time.Time
	// Report 最近一次构建的报告，连接已有索引时为空。
	Report *BatchReport
}

// PipelineFactory 为租户创建未初始化的流水线，不得执行 I/O。
type PipelineFactory func(tenantID string) *TenantPipeline

// TaskQueue 后台任务队列。
type TaskQueue interface {
	Submit(task func()) error
}

// TaskQueueFunc 将函数适配为 TaskQueue。
type TaskQueueFunc func(task func()) error

// Submit 提交任务。
func (f TaskQueueFunc) Submit(task func()) error {
	return f(task)
}

// PoolTaskQueue 基于全局工作池的任务队列。
type PoolTaskQueue struct {
	Type pool.Type
}

// Submit 提交到指定类型的全局池。
func (q PoolTaskQueue) Submit(task func()) error {
	return pool.SubmitToType(q.Type, task)
}

// RegistryConfig 注册表配置。
type RegistryConfig struct {
	// BuildTimeout 后台构建超时。
	BuildTimeout time.Duration
	// FailureRetryAfter 后台构建失败后，在此时间内查询直接返回该失败，之后才重新提交构建。
	FailureRetryAfter time.Duration
}

// DefaultFailureRetryAfter 后台构建失败记录的默认保留时间。
const DefaultFailureRetryAfter = 30 * time.Second

// buildFailure 最近一次后台构建失败。
type buildFailure struct {
	err error
	at  time.Time
}

// TenantRegistry 并发安全的租户流水线注册表。
//
// 构建、连接与重建在租户锁内串行执行；查询只做无锁读取，
// 持有旧流水线的查询在其上完成，注册表条目以最后写入为准。
type TenantRegistry struct {
	factory PipelineFactory
	gateway store.VectorIndexGateway
	queue   TaskQueue
	config  *RegistryConfig
	metrics *metrics.Metrics

	pipelines sync.Map // tenantID -> *TenantPipeline
	locks     sync.Map // tenantID -> *sync.Mutex
	failures  sync.Map // tenantID -> buildFailure
	inflight  singleflight.Group
	now       func() time.Time

	stateMu  sync.Mutex
	building map[string]int
}

// NewTenantRegistry 创建租户注册表。
func NewTenantRegistry(factory PipelineFactory, gateway store.VectorIndexGateway, queue TaskQueue, config *RegistryConfig, m *metrics.Metrics) *TenantRegistry {
	if config == nil {
		config = &RegistryConfig{BuildTimeout: 10 * time.Minute}
	}
	if config.FailureRetryAfter <= 0 {
		config.FailureRetryAfter = DefaultFailureRetryAfter
	}
	if queue == nil {
		queue = PoolTaskQueue{Type: pool.BackgroundPool}
	}
	return &TenantRegistry{
		factory:  factory,
		gateway:  gateway,
		queue:    queue,
		config:   config,
		metrics:  m,
		now:      time.Now,
		building: make(map[string]int),
	}
}

// Lookup 无锁读取已就绪的流水线。
func (r *TenantRegistry) Lookup(tenantID string) (*TenantPipeline, bool) {
	v, ok := r.pipelines.Load(tenantID)
	if !ok {
		return nil, false
	}
	return v.(*TenantPipeline), true
}

// State 返回租户当前状态。
func (r *TenantRegistry) State(tenantID string) TenantState {
	if _, ok := r.Lookup(tenantID); ok {
		return StateReady
	}
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.building[tenantID] > 0 {
		return StateInitializing
	}
	return StateUnregistered
}

// Resolve 返回租户流水线，created 表示本次执行了全量构建。
// 索引已存在时只做连接，不重新摄取。
func (r *TenantRegistry) Resolve(ctx context.Context, tenantID string) (*TenantPipeline, bool, error) {
	if p, ok := r.Lookup(tenantID); ok {
		return p, false, nil
	}

	mu := r.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	// 等锁期间可能已由其他调用方完成
	if p, ok := r.Lookup(tenantID); ok {
		return p, false, nil
	}

	done := r.markBuilding(tenantID)
	defer done()

	exists, err := r.gateway.Exists(ctx, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("check index for %s: %w", tenantID, err)
	}
	if exists {
		p := r.connect(tenantID)
		r.publish(tenantID, p)
		logger.Infow("connected to existing index", "tenant_id", tenantID, "index", p.IndexName)
		return p, false, nil
	}

	p, err := r.build(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	r.publish(tenantID, p)
	return p, true, nil
}

// Rebuild 强制全量重建并替换注册表条目。
func (r *TenantRegistry) Rebuild(ctx context.Context, tenantID string) (*TenantPipeline, error) {
	mu := r.lockFor(tenantID)
	mu.Lock()
	defer mu.Unlock()

	done := r.markBuilding(tenantID)
	defer done()

	p, err := r.build(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.publish(tenantID, p)
	return p, nil
}

// ResolveForQuery 查询路径的解析，不会等待全量构建：
//   - 已就绪返回 Ready；
//   - 构建在途返回 Preparing；
//   - 最近一次后台构建失败且未过重试窗口时返回该错误；
//   - 索引存在时连接并返回 Ready；
//   - 否则提交后台构建并立即返回 Preparing。
func (r *TenantRegistry) ResolveForQuery(ctx context.Context, tenantID string) (*TenantPipeline, QueryReadiness, error) {
	if p, ok := r.Lookup(tenantID); ok {
		return p, Ready, nil
	}
	if r.State(tenantID) == StateInitializing {
		return nil, Preparing, nil
	}
	if err := r.LastBuildError(tenantID); err != nil {
		return nil, Preparing, err
	}

	exists, err := r.gateway.Exists(ctx, tenantID)
	if err != nil {
		return nil, Preparing, fmt.Errorf("check index for %s: %w", tenantID, err)
	}
	if exists {
		p, _, err := r.Resolve(ctx, tenantID)
		if err != nil {
			return nil, Preparing, err
		}
		return p, Ready, nil
	}

	r.enqueueBuild(ctx, tenantID)
	return nil, Preparing, nil
}

// LastBuildError 返回重试窗口内最近一次后台构建的失败，过期记录会被清除。
func (r *TenantRegistry) LastBuildError(tenantID string) error {
	v, ok := r.failures.Load(tenantID)
	if !ok {
		return nil
	}
	f := v.(buildFailure)
	if r.now().Sub(f.at) >= r.config.FailureRetryAfter {
		r.failures.CompareAndDelete(tenantID, v)
		return nil
	}
	return f.err
}

// enqueueBuild 提交后台构建，同一租户同时只有一个后台构建在途。
func (r *TenantRegistry) enqueueBuild(ctx context.Context, tenantID string) {
	bgCtx := context.WithoutCancel(ctx)

	// DoChan 的回调在独立 goroutine 中等待队列任务结束，期间重复调用直接合并。
	_ = r.inflight.DoChan(tenantID, func() (any, error) {
		done := r.markBuilding(tenantID)
		defer done()

		finished := make(chan struct{})
		task := func() {
			defer close(finished)
			r.runBackgroundBuild(bgCtx, tenantID)
		}

		if err := r.queue.Submit(task); err != nil {
			logger.Warnw("background pool unavailable, falling back to goroutine",
				"tenant_id", tenantID,
				"error", err.Error(),
			)
			go task()
		}
		<-finished
		return nil, nil
	})
}

func (r *TenantRegistry) runBackgroundBuild(ctx context.Context, tenantID string) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			logger.Errorw("background tenant build panicked", "tenant_id", tenantID, "error", err.Error())
			r.failures.Store(tenantID, buildFailure{err: err, at: r.now()})
			r.metrics.RecordBackgroundBuild(err)
		}
	}()

	if r.config.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.BuildTimeout)
		defer cancel()
	}

	logger.Infow("background tenant build started", "tenant_id", tenantID)
	_, _, err := r.Resolve(ctx, tenantID)
	r.metrics.RecordBackgroundBuild(err)
	if err != nil {
		r.failures.Store(tenantID, buildFailure{err: err, at: r.now()})
		logger.Errorw("background tenant build failed", "tenant_id", tenantID, "error", err.Error())
		return
	}
	logger.Infow("background tenant build finished", "tenant_id", tenantID)
}

// build 执行全量摄取，调用方需持有租户锁。
func (r *TenantRegistry) build(ctx context.Context, tenantID string) (*TenantPipeline, error) {
	p := r.factory(tenantID)
	report, err := p.Ingestion.Ingest(ctx)
	if err != nil {
		return nil, fmt.Errorf("build tenant %s: %w", tenantID, err)
	}
	p.Report = report
	p.CreatedAt = time.Now()
	return p, nil
}

// publish 发布流水线并清除失败记录，调用方需持有租户锁。
func (r *TenantRegistry) publish(tenantID string, p *TenantPipeline) {
	r.pipelines.Store(tenantID, p)
	r.failures.Delete(tenantID)
}

func (r *TenantRegistry) connect(tenantID string) *TenantPipeline {
	p := r.factory(tenantID)
	p.CreatedAt = time.Now()
	return p
}

func (r *TenantRegistry) lockFor(tenantID string) *sync.Mutex {
	v, _ := r.locks.LoadOrStore(tenantID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (r *TenantRegistry) markBuilding(tenantID string) func() {
	r.stateMu.Lock()
	r.building[tenantID]++
	r.stateMu.Unlock()
	return func() {
		r.stateMu.Lock()
		defer r.stateMu.Unlock()
		if r.building[tenantID]--; r.building[tenantID] <= 0 {
			delete(r.building, tenantID)
		}
	}
}
