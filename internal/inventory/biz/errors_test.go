package biz

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/resilience"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindInternal},
		{"invalid tenant", fmt.Errorf("%w: x", ErrInvalidTenant), KindInvalid},
		{"invalid question", ErrInvalidQuestion, KindInvalid},
		{"no inventory", fmt.Errorf("build: %w", ErrNoInventoryFound), KindNotFound},
		{"index not found", store.ErrIndexNotFound, KindNotFound},
		{"partial batch", ErrPartialBatch, KindPartialBatch},
		{"dimension", &DimensionMismatchError{Expected: 8, Actual: 4}, KindContractViolation},
		{"malformed", &MalformedEmbeddingError{Index: 1}, KindContractViolation},
		{"missing field", &store.MissingFieldError{Field: store.FieldContent}, KindContractViolation},
		{"timeout", fmt.Errorf("embed: %w", context.DeadlineExceeded), KindTransient},
		{"breaker open", resilience.ErrCircuitBreakerOpen, KindTransient},
		{"other", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}

func TestErrorKind_String(t *testing.T) {
	assert.Equal(t, "not_found", KindNotFound.String())
	assert.Equal(t, "contract_violation", KindContractViolation.String())
	assert.Equal(t, "internal", ErrorKind(99).String())
}

func TestClassifyEmbedding(t *testing.T) {
	assert.Equal(t, resilience.Stop, classifyEmbedding(ErrEmptyText))
	assert.Equal(t, resilience.RetryOnce, classifyEmbedding(&DimensionMismatchError{}))
	assert.Equal(t, resilience.RetryOnce, classifyEmbedding(&MalformedEmbeddingError{}))
	assert.Equal(t, resilience.RetryAlways, classifyEmbedding(context.DeadlineExceeded))
	assert.Equal(t, resilience.Stop, classifyEmbedding(errors.New("400 bad request")))
}
