package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopK 检索条数缺省值。
const DefaultTopK = 5

// 集合字段名。
const (
	FieldID                = "id"
	FieldUserID            = "user_id"
	FieldSupplierName      = "supplier_name"
	FieldInventoryItemName = "inventory_item_name"
	FieldItemName          = "item_name"
	FieldItemNumber        = "item_number"
	FieldQuantityInCase    = "quantity_in_case"
	FieldTotalUnits        = "total_units"
	FieldCasePrice         = "case_price"
	FieldCostOfUnit        = "cost_of_unit"
	FieldCategory          = "category"
	FieldMeasuredIn        = "measured_in"
	FieldCatchWeight       = "catch_weight"
	FieldPricedBy          = "priced_by"
	FieldSplitable         = "splitable"
	FieldContent           = "content"
	FieldContentVector     = "content_vector"
)

// HitFields 检索结果投影字段。
var HitFields = []string{
	FieldInventoryItemName,
	FieldItemName,
	FieldCategory,
	FieldCasePrice,
	FieldCostOfUnit,
	FieldTotalUnits,
	FieldMeasuredIn,
	FieldPricedBy,
	FieldContent,
}

// ErrIndexNotFound 租户索引不存在。
var ErrIndexNotFound = errors.New("vector index not found")

// MissingFieldError 文档缺少必填字段。
type MissingFieldError struct {
	DocID string
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("document %q is missing required field %s", e.DocID, e.Field)
}

// DimensionError 向量维度与集合定义不一致。
type DimensionError struct {
	DocID    string
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("document %q vector has dimension %d, index expects %d", e.DocID, e.Actual, e.Expected)
}

// IndexSchema 创建集合所需参数。
type IndexSchema struct {
	// Dimension 向量维度。
	Dimension int
	// Description 集合描述（可选）。
	Description string
}

// IndexedDocument 写入向量索引的文档。
type IndexedDocument struct {
	ID                string
	TenantID          string
	SupplierName      string
	InventoryItemName string
	ItemName          string
	ItemNumber        string
	QuantityInCase    float64
	TotalUnits        float64
	CasePrice         float64
	UnitCost          float64
	Category          string
	MeasuredIn        string
	CatchWeight       string
	PricedBy          string
	Splitable         string
	Content           string
	Vector            []float32
}

// SearchHit 检索命中的展示字段。
type SearchHit struct {
	InventoryItemName string
	ItemName          string
	Category          string
	CasePrice         float64
	UnitCost          float64
	TotalUnits        float64
	MeasuredIn        string
	PricedBy          string
	Content           string
	Score             float32
}

// IndexStats 集合统计信息。
type IndexStats struct {
	Name     string
	RowCount int64
}

// VectorIndexGateway 定义租户向量索引的生命周期、写入与检索。
type VectorIndexGateway interface {
	// CreateOrReplaceIndex 删除已有集合（不存在不报错）并按固定字段重建，返回时集合已可写入。
	CreateOrReplaceIndex(ctx context.Context, tenantID string, schema IndexSchema) error
	// Upsert 批量写入文档，任一文档缺少必填字段时整批不写入。
	Upsert(ctx context.Context, tenantID string, docs []IndexedDocument) error
	// Search 返回与向量最相近的 k 条记录，k <= 0 时取 DefaultTopK。
	Search(ctx context.Context, tenantID string, vector []float32, k int) ([]SearchHit, error)
	// Exists 判断租户集合是否存在。
	Exists(ctx context.Context, tenantID string) (bool, error)
	// DropIndex 删除租户集合，不存在不报错。
	DropIndex(ctx context.Context, tenantID string) error
	// Stats 返回集合行数。
	Stats(ctx context.Context, tenantID string) (IndexStats, error)
}

// ValidateDocument 校验必填字段：ID、TenantID、InventoryItemName、Content、Vector。
func ValidateDocument(doc *IndexedDocument) error {
	switch {
	case doc.ID == "":
		return &MissingFieldError{DocID: doc.ID, Field: FieldID}
	case doc.TenantID == "":
		return &MissingFieldError{DocID: doc.ID, Field: FieldUserID}
	case doc.InventoryItemName == "":
		return &MissingFieldError{DocID: doc.ID, Field: FieldInventoryItemName}
	case doc.Content == "":
		return &MissingFieldError{DocID: doc.ID, Field: FieldContent}
	case len(doc.Vector) == 0:
		return &MissingFieldError{DocID: doc.ID, Field: FieldContentVector}
	}
	return nil
}

// ValidateDocuments 校验整批文档，返回第一个错误。
func ValidateDocuments(docs []IndexedDocument) error {
	for i := range docs {
		if err := ValidateDocument(&docs[i]); err != nil {
			return err
		}
	}
	return nil
}

// CollectionName 返回租户集合名。集合名只允许 [A-Za-z0-9_]，其余字符按可逆方式转义：
// "_" 写作 "__"，"-" 写作 "_h"，其他字符写作 "_x<十六进制码点>_"，保证不同租户得到不同集合。
func CollectionName(prefix, tenantID string) string {
	var sb strings.Builder
	sb.Grow(len(prefix) + 2*len(tenantID))
	sb.WriteString(prefix)
	for _, r := range tenantID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '_':
			sb.WriteString("__")
		case r == '-':
			sb.WriteString("_h")
		default:
			sb.WriteString("_x")
			sb.WriteString(strconv.FormatInt(int64(r), 16))
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// TenantFilter 返回按租户过滤的检索表达式。
func TenantFilter(tenantID string) string {
	return FieldUserID + " == " + strconv.Quote(tenantID)
}

// DisplayName 返回对外展示的索引名。
func DisplayName(tenantID string) string {
	return "inventory-" + tenantID
}
