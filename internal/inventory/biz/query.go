package biz

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	"github.com/kart-io/inventory-rag/internal/inventory/store"
	"github.com/kart-io/inventory-rag/pkg/llm"
	"github.com/kart-io/inventory-rag/pkg/resilience"
)

// 固定回复文本。
const (
	// NoDataMessage 检索无结果时的回复，不调用补全服务。
	NoDataMessage = "I couldn't find any relevant inventory information to answer your question. Please try rephrasing or ask about specific inventory items."
	// ErrorMessage 查询任一环节失败时的降级回复。
	ErrorMessage = "I encountered an issue while processing your question. Please try again or contact support if the problem persists."
	// PreparingMessage 索引尚在后台构建时的回复。
	PreparingMessage = "Your inventory index is being prepared. Please try again in a few moments."
	// SystemPrompt 补全服务的系统角色。
	SystemPrompt = "You are a helpful restaurant inventory assistant that provides accurate information about inventory items, prices, and quantities. Answer questions based only on the inventory data provided. If the data doesn't contain the information needed, acknowledge that limitation. Format your response in a clear, professional manner."
)

// 补全参数。
const (
	CompletionTemperature = 0.3
	CompletionMaxTokens   = 1000
)

// QueryConfig 查询配置。
type QueryConfig struct {
	// TopK 默认检索条数。
	TopK int
	// Retry 问题嵌入的重试策略。
	Retry *resilience.RetryConfig
}

// DefaultQueryConfig 返回默认查询配置。
func DefaultQueryConfig() *QueryConfig {
	return &QueryConfig{
		TopK:  store.DefaultTopK,
		Retry: resilience.DefaultRetryConfig(),
	}
}

// QueryResult 查询的详细结果。
type QueryResult struct {
	Answer string
	Hits   []store.SearchHit
	// Grounded 回答由补全服务基于检索结果生成。
	Grounded bool
	// Err 导致降级回复的错误。
	Err error
}

// QueryPipeline 负责单个租户的问答。
type QueryPipeline struct {
	tenantID string
	gateway  store.VectorIndexGateway
	embedder *EmbeddingClient
	chat     llm.ChatProvider
	config   *QueryConfig
	metrics  *metrics.Metrics
}

// NewQueryPipeline 创建查询流水线。
func NewQueryPipeline(
	tenantID string,
	gateway store.VectorIndexGateway,
	embedder *EmbeddingClient,
	chat llm.ChatProvider,
	config *QueryConfig,
	m *metrics.Metrics,
) *QueryPipeline {
	if config == nil {
		config = DefaultQueryConfig()
	}
	if config.TopK <= 0 {
		config.TopK = store.DefaultTopK
	}
	return &QueryPipeline{
		tenantID: tenantID,
		gateway:  gateway,
		embedder: embedder,
		chat:     chat,
		config:   config,
		metrics:  m,
	}
}

// Answer 回答问题，任何失败都返回 ErrorMessage。k <= 0 时使用配置的 TopK。
func (p *QueryPipeline) Answer(ctx context.Context, question string, k int) string {
	return p.AnswerDetailed(ctx, question, k).Answer
}

// AnswerDetailed 回答问题并返回检索结果与错误，供上层记录。
func (p *QueryPipeline) AnswerDetailed(ctx context.Context, question string, k int) *QueryResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "inventory.query")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.id", p.tenantID))

	if k <= 0 {
		k = p.config.TopK
	}

	result := p.answer(ctx, question, k)
	if result.Err != nil {
		logger.Errorw("error processing query",
			"tenant_id", p.tenantID,
			"error", result.Err.Error(),
		)
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	span.SetAttributes(attribute.Int("query.hits", len(result.Hits)), attribute.Bool("query.grounded", result.Grounded))
	return result
}

func (p *QueryPipeline) answer(ctx context.Context, question string, k int) *QueryResult {
	if strings.TrimSpace(question) == "" {
		return &QueryResult{Answer: ErrorMessage, Err: ErrInvalidQuestion}
	}

	// 1. 嵌入问题
	vector, err := p.embedder.EmbedWithRetry(ctx, p.config.Retry, question)
	if err != nil {
		return &QueryResult{Answer: ErrorMessage, Err: fmt.Errorf("embed question: %w", err)}
	}

	// 2. 检索
	hits, err := p.gateway.Search(ctx, p.tenantID, vector, k)
	if err != nil {
		return &QueryResult{Answer: ErrorMessage, Err: fmt.Errorf("search index: %w", err)}
	}
	if len(hits) == 0 {
		logger.Warnw("no relevant inventory items found", "tenant_id", p.tenantID)
		return &QueryResult{Answer: NoDataMessage, Hits: hits}
	}

	// 3. 构建提示词并调用补全服务
	prompt := BuildPrompt(question, FormatHits(hits))
	start := time.Now()
	completion, err := p.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: SystemPrompt,
		UserPrompt:   prompt,
		Temperature:  CompletionTemperature,
		MaxTokens:    CompletionMaxTokens,
	})
	if err == nil && strings.TrimSpace(completion.Content) == "" {
		err = errors.New("empty completion")
	}
	var promptTokens, completionTokens int
	if completion != nil {
		promptTokens = completion.Usage.PromptTokens
		completionTokens = completion.Usage.CompletionTokens
	}
	p.metrics.RecordCompletion(time.Since(start), promptTokens, completionTokens, err)
	if err != nil {
		return &QueryResult{Answer: ErrorMessage, Hits: hits, Err: fmt.Errorf("complete: %w", err)}
	}

	return &QueryResult{Answer: completion.Content, Hits: hits, Grounded: true}
}

// FormatHits 将检索结果格式化为提示词中的数据块，条目间以空行分隔。
func FormatHits(hits []store.SearchHit) string {
	items := make([]string, len(hits))
	for i, h := range hits {
		var sb strings.Builder
		sb.WriteString("Item " + strconv.Itoa(i+1) + ": " + orDefault(h.InventoryItemName, "Unknown") + "\n")
		sb.WriteString("  Category: " + orDefault(h.Category, "Unknown") + "\n")
		sb.WriteString("  Unit Cost: $" + FormatNumber(h.UnitCost) + "\n")
		sb.WriteString("  Total Units Available: " + FormatNumber(h.TotalUnits) + "\n")
		sb.WriteString("  Case Price: $" + FormatNumber(h.CasePrice) + "\n")
		sb.WriteString("  Details: " + h.Content)
		items[i] = sb.String()
	}
	return strings.Join(items, "\n\n")
}

// BuildPrompt 构建只允许依据检索数据回答的用户提示词。
func BuildPrompt(question, formatted string) string {
	return "\nI need information from my restaurant inventory to answer this question:\n\n" +
		"QUESTION:\n" + question + "\n\n" +
		"RELEVANT INVENTORY DATA:\n" + formatted + "\n\n" +
		"Based ONLY on the inventory data above, please provide a detailed answer to my question.\n" +
		"If the data doesn't contain enough information to answer completely, please acknowledge that limitation.\n" +
		"Focus on providing practical, actionable insights for restaurant inventory management.\n"
}
