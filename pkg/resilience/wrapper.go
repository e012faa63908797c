package resilience

import (
	"context"

	"github.com/kart-io/inventory-rag/pkg/llm"
)

// GuardedChatProvider 以熔断器保护补全调用。补全失败不重试，
// 连续失败后直接快速失败，避免每个查询都等待上游超时。
type GuardedChatProvider struct {
	provider llm.ChatProvider
	cb       *CircuitBreaker
}

var _ llm.ChatProvider = (*GuardedChatProvider)(nil)

// NewGuardedChatProvider 创建带熔断的 Chat Provider。
func NewGuardedChatProvider(provider llm.ChatProvider, config *CircuitBreakerConfig) *GuardedChatProvider {
	return &GuardedChatProvider{
		provider: provider,
		cb:       NewCircuitBreaker(config),
	}
}

// Complete 通过熔断器执行补全。
func (g *GuardedChatProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	var out *llm.Completion
	err := g.cb.Execute(func() error {
		var err error
		out, err = g.provider.Complete(ctx, req)
		return err
	})
	return out, err
}

// Name 返回供应商名称。
func (g *GuardedChatProvider) Name() string {
	return g.provider.Name() + "-guarded"
}

// CircuitBreaker 返回熔断器实例（用于状态查询）。
func (g *GuardedChatProvider) CircuitBreaker() *CircuitBreaker {
	return g.cb
}
