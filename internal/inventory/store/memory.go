package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// GatewayCalls 内存网关的调用计数。
type GatewayCalls struct {
	Create int
	Upsert int
	Search int
}

type memoryCollection struct {
	dim   int
	order []string
	docs  map[string]IndexedDocument
}

// MemoryGateway 基于内存的向量索引实现，使用余弦相似度暴力检索。
type MemoryGateway struct {
	mu          sync.RWMutex
	prefix      string
	collections map[string]*memoryCollection
	calls       GatewayCalls
}

// NewMemoryGateway 创建内存网关。
func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		prefix:      "inventory_",
		collections: make(map[string]*memoryCollection),
	}
}

// Calls 返回调用计数快照。
func (g *MemoryGateway) Calls() GatewayCalls {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.calls
}

// CreateOrReplaceIndex 重建租户集合。
func (g *MemoryGateway) CreateOrReplaceIndex(ctx context.Context, tenantID string, schema IndexSchema) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if schema.Dimension <= 0 {
		return fmt.Errorf("invalid vector dimension %d", schema.Dimension)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls.Create++
	g.collections[CollectionName(g.prefix, tenantID)] = &memoryCollection{
		dim:  schema.Dimension,
		docs: make(map[string]IndexedDocument),
	}
	return nil
}

// Upsert 写入文档，同 ID 覆盖。
func (g *MemoryGateway) Upsert(ctx context.Context, tenantID string, docs []IndexedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := ValidateDocuments(docs); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls.Upsert++

	name := CollectionName(g.prefix, tenantID)
	coll, ok := g.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	for i := range docs {
		if len(docs[i].Vector) != coll.dim {
			return &DimensionError{DocID: docs[i].ID, Expected: coll.dim, Actual: len(docs[i].Vector)}
		}
	}

	for _, d := range docs {
		if _, exists := coll.docs[d.ID]; !exists {
			coll.order = append(coll.order, d.ID)
		}
		d.Vector = append([]float32(nil), d.Vector...)
		coll.docs[d.ID] = d
	}
	return nil
}

// Search 返回余弦相似度最高的 k 条记录。
func (g *MemoryGateway) Search(ctx context.Context, tenantID string, vector []float32, k int) ([]SearchHit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = DefaultTopK
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls.Search++

	name := CollectionName(g.prefix, tenantID)
	coll, ok := g.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}

	hits := make([]SearchHit, 0, len(coll.order))
	for _, id := range coll.order {
		d := coll.docs[id]
		if d.TenantID != tenantID {
			continue
		}
		hits = append(hits, SearchHit{
			InventoryItemName: d.InventoryItemName,
			ItemName:          d.ItemName,
			Category:          d.Category,
			CasePrice:         d.CasePrice,
			UnitCost:          d.UnitCost,
			TotalUnits:        d.TotalUnits,
			MeasuredIn:        d.MeasuredIn,
			PricedBy:          d.PricedBy,
			Content:           d.Content,
			Score:             cosine(vector, d.Vector),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DropIndex 删除租户集合。
func (g *MemoryGateway) DropIndex(ctx context.Context, tenantID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.collections, CollectionName(g.prefix, tenantID))
	return nil
}

// Exists 判断租户集合是否存在。
func (g *MemoryGateway) Exists(ctx context.Context, tenantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.collections[CollectionName(g.prefix, tenantID)]
	return ok, nil
}

// Stats 返回租户集合行数。
func (g *MemoryGateway) Stats(ctx context.Context, tenantID string) (IndexStats, error) {
	if err := ctx.Err(); err != nil {
		return IndexStats{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	name := CollectionName(g.prefix, tenantID)
	coll, ok := g.collections[name]
	if !ok {
		return IndexStats{Name: name}, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
	}
	return IndexStats{Name: name, RowCount: int64(len(coll.docs))}, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// 确保 MemoryGateway 实现了 VectorIndexGateway 接口。
var _ VectorIndexGateway = (*MemoryGateway)(nil)
