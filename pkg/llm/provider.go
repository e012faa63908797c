// Package llm 提供统一的 LLM 供应商抽象层。
// Embedding 与 Completion 可以分别使用不同供应商的模型，供应商通过注册表按名称创建。
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EmbeddingProvider 定义 Embedding 供应商接口。
type EmbeddingProvider interface {
	// Embed 为多个文本生成向量嵌入，结果顺序与输入一致。
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle 为单个文本生成向量嵌入。
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Model 返回当前使用的 Embedding 模型标识。
	Model() string

	// Name 返回供应商名称。
	Name() string
}

// ChatProvider 定义文本补全供应商接口。
type ChatProvider interface {
	// Complete 以系统提示与用户提示执行单轮补全。
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)

	// Name 返回供应商名称。
	Name() string
}

// CompletionRequest 单轮补全请求。
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	// Temperature 采样温度，负值表示使用供应商默认值。
	Temperature float64
	// MaxTokens 输出 token 上限，0 表示使用供应商默认值。
	MaxTokens int
}

// Completion 补全结果。
type Completion struct {
	Content string
	Usage   TokenUsage
}

// TokenUsage token 消耗统计。
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Message 表示对话中的一条消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role 定义消息角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Messages 将补全请求展开为消息列表，系统提示为空时省略。
func (r CompletionRequest) Messages() []Message {
	msgs := make([]Message, 0, 2)
	if r.SystemPrompt != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	return append(msgs, Message{Role: RoleUser, Content: r.UserPrompt})
}

// Provider 同时支持 Embedding 和 Completion 的完整供应商。
type Provider interface {
	EmbeddingProvider
	ChatProvider
}

// ProviderFactory 供应商工厂函数类型。
type ProviderFactory func(config map[string]any) (Provider, error)

var registry = &providerRegistry{
	providers: make(map[string]ProviderFactory),
}

type providerRegistry struct {
	mu        sync.RWMutex
	providers map[string]ProviderFactory
}

// RegisterProvider 注册供应商工厂，同名注册会覆盖之前的工厂。
func RegisterProvider(name string, factory ProviderFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.providers[name] = factory
}

func lookup(name string) (ProviderFactory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.providers[name]
	return f, ok
}

// NewEmbeddingProvider 根据名称创建 Embedding 供应商实例。
func NewEmbeddingProvider(name string, config map[string]any) (EmbeddingProvider, error) {
	factory, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown embedding provider: %s", name)
	}
	return factory(config)
}

// NewChatProvider 根据名称创建 Chat 供应商实例。
func NewChatProvider(name string, config map[string]any) (ChatProvider, error) {
	factory, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown chat provider: %s", name)
	}
	return factory(config)
}

// ListProviders 列出所有已注册的供应商名称（按字母序）。
func ListProviders() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()

	names := make([]string, 0, len(registry.providers))
	for name := range registry.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
