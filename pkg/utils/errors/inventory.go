package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// 库存助手服务错误码 (AA = 21)
var (
	// 请求参数错误 (类别 01)
	ErrInvalidTenant   = Register(New(MakeCode(ServiceInventory, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid tenant id", "租户 ID 无效"))
	ErrInvalidQuestion = Register(New(MakeCode(ServiceInventory, CategoryRequest, 2), http.StatusBadRequest, codes.InvalidArgument, "Question must not be empty", "问题不能为空"))

	// 资源错误 (类别 04)
	ErrNoInventory          = Register(New(MakeCode(ServiceInventory, CategoryResource, 1), http.StatusNotFound, codes.NotFound, "No inventory data found for tenant", "未找到租户库存数据"))
	ErrTenantNotInitialized = Register(New(MakeCode(ServiceInventory, CategoryResource, 2), http.StatusNotFound, codes.NotFound, "Tenant index is not initialized", "租户索引未初始化"))

	// 内部错误 (类别 07)
	ErrIngestFailed = Register(New(MakeCode(ServiceInventory, CategoryInternal, 1), http.StatusInternalServerError, codes.Internal, "Inventory indexing failed", "库存索引失败"))
	ErrEmbedding    = Register(New(MakeCode(ServiceInventory, CategoryInternal, 2), http.StatusInternalServerError, codes.Internal, "Embedding response violated contract", "向量化结果不符合约定"))

	// 下游服务错误 (类别 10)
	ErrUpstreamUnavailable = Register(New(MakeCode(ServiceInventory, CategoryNetwork, 1), http.StatusServiceUnavailable, codes.Unavailable, "Upstream service unavailable", "下游服务不可用"))
)
