package biz

import (
	"errors"
	"fmt"

	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/resilience"
)

var (
	// ErrNoInventoryFound 租户在文档库中没有任何库存文档。
	ErrNoInventoryFound = errors.New("no inventory found")
	// ErrTenantNotInitialized 租户流水线尚未建立。
	ErrTenantNotInitialized = errors.New("tenant not initialized")
	// ErrPartialBatch 摄取过程中有条目被跳过。
	ErrPartialBatch = errors.New("ingestion skipped one or more items")
	// ErrInvalidTenant 租户 ID 不合法。
	ErrInvalidTenant = errors.New("invalid tenant id")
	// ErrInvalidQuestion 问题为空。
	ErrInvalidQuestion = errors.New("question must not be empty")
	// ErrEmptyText 待嵌入文本为空。
	ErrEmptyText = errors.New("embedding input must not be empty")
)

// DimensionMismatchError Embedding 维度与模型约定不一致。
type DimensionMismatchError struct {
	Expected int
	Actual   int
	Model    string
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch for model %s: expected %d, got %d", e.Model, e.Expected, e.Actual)
}

// MalformedEmbeddingError Embedding 含有 NaN 或 ±Inf 分量。
type MalformedEmbeddingError struct {
	Index int
	Model string
}

func (e *MalformedEmbeddingError) Error() string {
	return fmt.Sprintf("embedding from model %s has a non-finite component at index %d", e.Model, e.Index)
}

// ErrorKind 错误分类。
type ErrorKind int

const (
	// KindInternal 未分类的内部错误。
	KindInternal ErrorKind = iota
	// KindTransient 网络、超时、429/5xx 等可重试故障。
	KindTransient
	// KindContractViolation 外部服务违反约定（维度、数值、必填字段）。
	KindContractViolation
	// KindNotFound 租户无数据或未初始化。
	KindNotFound
	// KindPartialBatch 部分条目被跳过。
	KindPartialBatch
	// KindInvalid 调用方输入不合法。
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindContractViolation:
		return "contract_violation"
	case KindNotFound:
		return "not_found"
	case KindPartialBatch:
		return "partial_batch"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Kind 将任意错误映射为 ErrorKind，nil 返回 KindInternal。
func Kind(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}

	var (
		dimErr     *DimensionMismatchError
		malformed  *MalformedEmbeddingError
		missing    *store.MissingFieldError
		storeDimEr *store.DimensionError
	)

	switch {
	case errors.Is(err, ErrInvalidTenant), errors.Is(err, ErrInvalidQuestion), errors.Is(err, ErrEmptyText):
		return KindInvalid
	case errors.Is(err, ErrNoInventoryFound), errors.Is(err, ErrTenantNotInitialized), errors.Is(err, store.ErrIndexNotFound):
		return KindNotFound
	case errors.Is(err, ErrPartialBatch):
		return KindPartialBatch
	case errors.As(err, &dimErr), errors.As(err, &malformed), errors.As(err, &missing), errors.As(err, &storeDimEr):
		return KindContractViolation
	case errors.Is(err, resilience.ErrCircuitBreakerOpen), resilience.IsRetryableError(err):
		return KindTransient
	default:
		return KindInternal
	}
}

// classifyEmbedding 维度与数值错误仅确认性重试一次，空文本不重试，其余按瞬时故障判断。
func classifyEmbedding(err error) resilience.Decision {
	var (
		dimErr    *DimensionMismatchError
		malformed *MalformedEmbeddingError
	)
	switch {
	case errors.Is(err, ErrEmptyText):
		return resilience.Stop
	case errors.As(err, &dimErr), errors.As(err, &malformed):
		return resilience.RetryOnce
	default:
		return resilience.ClassifyTransient(err)
	}
}
