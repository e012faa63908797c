// Package handler provides HTTP handlers for the inventory service.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/inventory-rag/internal/inventory/biz"
	"github.com/kart-io/inventory-rag/internal/inventory/metrics"
	errno "github.com/kart-io/inventory-rag/pkg/utils/errors"
	"github.com/kart-io/inventory-rag/pkg/utils/response"
)

// Service is the subset of biz.InventoryService the handlers use.
type Service interface {
	Initialize(ctx context.Context, tenantID string, force bool) (*biz.InitializeResult, error)
	Query(ctx context.Context, tenantID, question string) (*biz.QueryResponse, error)
	Refresh(ctx context.Context, tenantID string) (*biz.RefreshResult, error)
	Status(ctx context.Context, tenantID string) (*biz.StatusResult, error)
}

var _ Service = (*biz.InventoryService)(nil)

// InventoryHandler handles inventory HTTP requests.
type InventoryHandler struct {
	service Service
	metrics *metrics.Metrics
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(service Service, m *metrics.Metrics) *InventoryHandler {
	return &InventoryHandler{
		service: service,
		metrics: m,
	}
}

// QueryRequest represents a query request.
// user_id and text are accepted for older clients.
type QueryRequest struct {
	TenantID string `json:"tenant_id" binding:"required_without=UserID"`
	Question string `json:"question" binding:"required_without=Text"`
	UserID   string `json:"user_id" binding:"required_without=TenantID"`
	Text     string `json:"text" binding:"required_without=Question"`
}

func (r *QueryRequest) tenant() string {
	if r.TenantID != "" {
		return r.TenantID
	}
	return r.UserID
}

func (r *QueryRequest) question() string {
	if r.Question != "" {
		return r.Question
	}
	return r.Text
}

// QueryResponse is the query payload returned to clients.
type QueryResponse struct {
	Answer string `json:"answer"`
	// ProcessingTime is in seconds.
	ProcessingTime float64 `json:"processing_time"`
	Status         string  `json:"status"`
	Cached         bool    `json:"cached"`
}

// Initialize builds or connects the tenant's index.
func (h *InventoryHandler) Initialize(c *gin.Context) {
	force := false
	if v := c.Query("force"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			response.Fail(c, errno.ErrInvalidParam.WithMessagef("invalid force value %q", v))
			return
		}
		force = parsed
	}

	result, err := h.service.Initialize(c.Request.Context(), c.Param("tenant"), force)
	if err != nil {
		response.Fail(c, mapError(err))
		return
	}
	response.OK(c, result)
}

// Query answers a tenant question.
func (h *InventoryHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, errno.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	result, err := h.service.Query(c.Request.Context(), req.tenant(), req.question())
	if err != nil {
		response.Fail(c, mapError(err))
		return
	}

	response.OK(c, QueryResponse{
		Answer:         result.Answer,
		ProcessingTime: result.ProcessingTime.Seconds(),
		Status:         string(result.Status),
		Cached:         result.Cached,
	})
}

// Refresh rebuilds the tenant's index.
func (h *InventoryHandler) Refresh(c *gin.Context) {
	result, err := h.service.Refresh(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		response.Fail(c, mapError(err))
		return
	}
	response.OK(c, result)
}

// Status reports the tenant's index and pipeline state.
func (h *InventoryHandler) Status(c *gin.Context) {
	result, err := h.service.Status(c.Request.Context(), c.Param("tenant"))
	if err != nil {
		response.Fail(c, mapError(err))
		return
	}
	response.OK(c, result)
}

// Metrics serves counters in Prometheus text format.
func (h *InventoryHandler) Metrics(c *gin.Context) {
	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		response.OK(c, h.metrics.Stats())
		return
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4", []byte(h.metrics.Export("inventory", "rag")))
}

// mapError converts a biz error to the Errno returned to clients.
func mapError(err error) error {
	switch biz.Kind(err) {
	case biz.KindInvalid:
		if errors.Is(err, biz.ErrInvalidQuestion) {
			return errno.ErrInvalidQuestion.WithCause(err)
		}
		return errno.ErrInvalidTenant.WithCause(err)
	case biz.KindNotFound:
		return errno.ErrNoInventory.WithCause(err)
	case biz.KindTransient:
		return errno.ErrUpstreamUnavailable.WithCause(err)
	case biz.KindContractViolation:
		return errno.ErrEmbedding.WithCause(err)
	default:
		return errno.ErrInternal.WithCause(err)
	}
}
