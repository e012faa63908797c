package store

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"

	"github.com/kart-io/inventory-rag/pkg/component/milvus"
)

// HNSW 索引与检索参数。
const (
	hnswM              = 4
	hnswEfConstruction = 400
	searchEf           = 500
)

// VarChar 字段长度上限。
const (
	maxLenID      = 64
	maxLenTenant  = 128
	maxLenName    = 1024
	maxLenShort   = 256
	maxLenContent = 65535
)

// milvusClient 是 MilvusGateway 依赖的客户端能力子集。
type milvusClient interface {
	HasCollection(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, schema *milvus.CollectionSchema) error
	DropCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, columns ...column.Column) (int64, error)
	Search(ctx context.Context, name string, req milvus.SearchRequest) ([]milvus.SearchResult, error)
	GetCollectionStats(ctx context.Context, name string) (int64, error)
}

// MilvusGateway 基于 Milvus 的租户向量索引实现。
type MilvusGateway struct {
	client milvusClient
	prefix string
}

// NewMilvusGateway 创建 Milvus 网关，prefix 为集合名前缀。
func NewMilvusGateway(client *milvus.Client, prefix string) *MilvusGateway {
	return newMilvusGateway(client, prefix)
}

func newMilvusGateway(client milvusClient, prefix string) *MilvusGateway {
	if prefix == "" {
		prefix = "inventory_"
	}
	return &MilvusGateway{client: client, prefix: prefix}
}

// CollectionName 返回租户对应的集合名。
func (g *MilvusGateway) CollectionName(tenantID string) string {
	return CollectionName(g.prefix, tenantID)
}

// CreateOrReplaceIndex 删除并重建租户集合。
func (g *MilvusGateway) CreateOrReplaceIndex(ctx context.Context, tenantID string, schema IndexSchema) error {
	if schema.Dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", schema.Dimension)
	}

	name := g.CollectionName(tenantID)
	if err := g.client.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	if err := g.client.CreateCollection(ctx, collectionSchema(name, tenantID, schema)); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// DropIndex 删除租户集合。
func (g *MilvusGateway) DropIndex(ctx context.Context, tenantID string) error {
	name := g.CollectionName(tenantID)
	if err := g.client.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("drop collection %s: %w", name, err)
	}
	return nil
}

// collectionSchema 构建库存集合的字段定义。
func collectionSchema(name, tenantID string, schema IndexSchema) *milvus.CollectionSchema {
	desc := schema.Description
	if desc == "" {
		desc = "inventory items of tenant " + tenantID
	}
	return &milvus.CollectionSchema{
		Name:             name,
		Description:      desc,
		PrimaryKey:       FieldID,
		PrimaryKeyMaxLen: maxLenID,
		VectorField:      FieldContentVector,
		Dimension:        schema.Dimension,
		MetaFields: []milvus.MetaField{
			{Name: FieldUserID, DataType: entity.FieldTypeVarChar, MaxLen: maxLenTenant},
			{Name: FieldSupplierName, DataType: entity.FieldTypeVarChar, MaxLen: maxLenName},
			{Name: FieldInventoryItemName, DataType: entity.FieldTypeVarChar, MaxLen: maxLenName},
			{Name: FieldItemName, DataType: entity.FieldTypeVarChar, MaxLen: maxLenName},
			{Name: FieldItemNumber, DataType: entity.FieldTypeVarChar, MaxLen: maxLenShort},
			{Name: FieldQuantityInCase, DataType: entity.FieldTypeDouble},
			{Name: FieldTotalUnits, DataType: entity.FieldTypeDouble},
			{Name: FieldCasePrice, DataType: entity.FieldTypeDouble},
			{Name: FieldCostOfUnit, DataType: entity.FieldTypeDouble},
			{Name: FieldCategory, DataType: entity.FieldTypeVarChar, MaxLen: maxLenShort},
			{Name: FieldMeasuredIn, DataType: entity.FieldTypeVarChar, MaxLen: maxLenShort},
			{Name: FieldCatchWeight, DataType: entity.FieldTypeVarChar, MaxLen: maxLenShort},
			{Name: FieldPricedBy, DataType: entity.FieldTypeVarChar, MaxLen: maxLenShort},
			{Name: FieldSplitable, DataType: entity.FieldTypeVarChar, MaxLen: maxLenShort},
			{Name: FieldContent, DataType: entity.FieldTypeVarChar, MaxLen: maxLenContent},
		},
		Index: milvus.HNSWParams{
			Metric:         entity.COSINE,
			M:              hnswM,
			EfConstruction: hnswEfConstruction,
		},
	}
}

// Upsert 按列写入文档并刷盘。
func (g *MilvusGateway) Upsert(ctx context.Context, tenantID string, docs []IndexedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ValidateDocuments(docs); err != nil {
		return err
	}

	columns, err := buildColumns(docs)
	if err != nil {
		return err
	}

	name := g.CollectionName(tenantID)
	if _, err := g.client.Upsert(ctx, name, columns...); err != nil {
		return fmt.Errorf("upsert into %s: %w", name, err)
	}
	return nil
}

// varcharColumns 与 doubleColumns 定义标量列的取值方式，顺序即写入顺序。
var (
	varcharColumns = []struct {
		name string
		get  func(*IndexedDocument) string
	}{
		{FieldID, func(d *IndexedDocument) string { return d.ID }},
		{FieldUserID, func(d *IndexedDocument) string { return d.TenantID }},
		{FieldSupplierName, func(d *IndexedDocument) string { return d.SupplierName }},
		{FieldInventoryItemName, func(d *IndexedDocument) string { return d.InventoryItemName }},
		{FieldItemName, func(d *IndexedDocument) string { return d.ItemName }},
		{FieldItemNumber, func(d *IndexedDocument) string { return d.ItemNumber }},
		{FieldCategory, func(d *IndexedDocument) string { return d.Category }},
		{FieldMeasuredIn, func(d *IndexedDocument) string { return d.MeasuredIn }},
		{FieldCatchWeight, func(d *IndexedDocument) string { return d.CatchWeight }},
		{FieldPricedBy, func(d *IndexedDocument) string { return d.PricedBy }},
		{FieldSplitable, func(d *IndexedDocument) string { return d.Splitable }},
		{FieldContent, func(d *IndexedDocument) string { return d.Content }},
	}
	doubleColumns = []struct {
		name string
		get  func(*IndexedDocument) float64
	}{
		{FieldQuantityInCase, func(d *IndexedDocument) float64 { return d.QuantityInCase }},
		{FieldTotalUnits, func(d *IndexedDocument) float64 { return d.TotalUnits }},
		{FieldCasePrice, func(d *IndexedDocument) float64 { return d.CasePrice }},
		{FieldCostOfUnit, func(d *IndexedDocument) float64 { return d.UnitCost }},
	}
)

// buildColumns 将文档转换为列式数据，所有向量必须等长。
func buildColumns(docs []IndexedDocument) ([]column.Column, error) {
	dim := len(docs[0].Vector)
	vectors := make([][]float32, len(docs))
	for i := range docs {
		if len(docs[i].Vector) != dim {
			return nil, &DimensionError{DocID: docs[i].ID, Expected: dim, Actual: len(docs[i].Vector)}
		}
		vectors[i] = docs[i].Vector
	}

	columns := make([]column.Column, 0, len(varcharColumns)+len(doubleColumns)+1)
	for _, c := range varcharColumns {
		values := make([]string, len(docs))
		for i := range docs {
			values[i] = c.get(&docs[i])
		}
		columns = append(columns, column.NewColumnVarChar(c.name, values))
	}
	for _, c := range doubleColumns {
		values := make([]float64, len(docs))
		for i := range docs {
			values[i] = c.get(&docs[i])
		}
		columns = append(columns, column.NewColumnDouble(c.name, values))
	}
	columns = append(columns, column.NewColumnFloatVector(FieldContentVector, dim, vectors))

	return columns, nil
}

// Search 执行向量检索，集合为空时返回空切片。
func (g *MilvusGateway) Search(ctx context.Context, tenantID string, vector []float32, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = DefaultTopK
	}

	name := g.CollectionName(tenantID)
	exists, err := g.client.HasCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("check collection %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	results, err := g.client.Search(ctx, name, milvus.SearchRequest{
		Vector:       vector,
		TopK:         k,
		VectorField:  FieldContentVector,
		OutputFields: HitFields,
		Filter:       TenantFilter(tenantID),
		Ef:           searchEf,
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", name, err)
	}

	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, hitFromMetadata(r.Metadata, r.Score))
	}
	return hits, nil
}

// hitFromMetadata 将输出字段映射为 SearchHit，缺失字段取零值。
func hitFromMetadata(m map[string]any, score float32) SearchHit {
	return SearchHit{
		InventoryItemName: stringField(m, FieldInventoryItemName),
		ItemName:          stringField(m, FieldItemName),
		Category:          stringField(m, FieldCategory),
		CasePrice:         floatField(m, FieldCasePrice),
		UnitCost:          floatField(m, FieldCostOfUnit),
		TotalUnits:        floatField(m, FieldTotalUnits),
		MeasuredIn:        stringField(m, FieldMeasuredIn),
		PricedBy:          stringField(m, FieldPricedBy),
		Content:           stringField(m, FieldContent),
		Score:             score,
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Exists 判断租户集合是否存在。
func (g *MilvusGateway) Exists(ctx context.Context, tenantID string) (bool, error) {
	return g.client.HasCollection(ctx, g.CollectionName(tenantID))
}

// Stats 返回租户集合行数，集合不存在时返回 ErrIndexNotFound。
func (g *MilvusGateway) Stats(ctx context.Context, tenantID string) (IndexStats, error) {
	name := g.CollectionName(tenantID)
	exists, err := g.client.HasCollection(ctx, name)
	if err != nil {
		return IndexStats{}, err
	}
	if !exists {
		return IndexStats{Name: name}, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	count, err := g.client.GetCollectionStats(ctx, name)
	if err != nil {
		return IndexStats{Name: name}, err
	}
	return IndexStats{Name: name, RowCount: count}, nil
}

// 确保 MilvusGateway 实现了 VectorIndexGateway 接口。
var _ VectorIndexGateway = (*MilvusGateway)(nil)
