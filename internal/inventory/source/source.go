// Package source reads raw tenant inventory documents from the document store.
package source

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DocumentSource fetches every inventory document owned by a tenant.
// An empty result is not an error; only transport failures are.
type DocumentSource interface {
	FetchAll(ctx context.Context, tenantID string) ([]RecordGroup, error)
}

// RecordGroup is one stored inventory upload.
type RecordGroup struct {
	ID     string            `bson:"id,omitempty" json:"id"`
	UserID string            `bson:"userId" json:"userId"`
	Items  []InventoryRecord `bson:"items" json:"items"`
}

// InventoryRecord is a single inventory line as stored by the upload service.
// Numeric fields are pointers so an absent value stays distinguishable from zero.
type InventoryRecord struct {
	SupplierName      string   `bson:"Supplier Name,omitempty" json:"Supplier Name,omitempty"`
	InventoryItemName string   `bson:"Inventory Item Name,omitempty" json:"Inventory Item Name,omitempty"`
	ItemName          string   `bson:"Item Name,omitempty" json:"Item Name,omitempty"`
	ItemNumber        Text     `bson:"Item Number,omitempty" json:"Item Number,omitempty"`
	Category          string   `bson:"Category,omitempty" json:"Category,omitempty"`
	Brand             string   `bson:"Brand,omitempty" json:"Brand,omitempty"`
	CasePrice         *float64 `bson:"Case Price,omitempty" json:"Case Price,omitempty"`
	UnitCost          *float64 `bson:"Cost of a Unit,omitempty" json:"Cost of a Unit,omitempty"`
	PricedBy          string   `bson:"Priced By,omitempty" json:"Priced By,omitempty"`
	QuantityInCase    *float64 `bson:"Quantity In a Case,omitempty" json:"Quantity In a Case,omitempty"`
	MeasuredIn        string   `bson:"Measured In,omitempty" json:"Measured In,omitempty"`
	TotalUnits        *float64 `bson:"Total Units,omitempty" json:"Total Units,omitempty"`
	CatchWeight       Text     `bson:"Catch Weight,omitempty" json:"Catch Weight,omitempty"`
	Splitable         string   `bson:"Splitable,omitempty" json:"Splitable,omitempty"`
}

// IsEmpty reports whether the record carries no usable field at all.
func (r InventoryRecord) IsEmpty() bool {
	return r.SupplierName == "" && r.InventoryItemName == "" && r.ItemName == "" &&
		r.ItemNumber == "" && r.Category == "" && r.Brand == "" &&
		r.CasePrice == nil && r.UnitCost == nil && r.PricedBy == "" &&
		r.QuantityInCase == nil && r.MeasuredIn == "" && r.TotalUnits == nil &&
		r.CatchWeight == "" && r.Splitable == ""
}

// Float returns a pointer to v, for building records in code.
func Float(v float64) *float64 {
	return &v
}

// Text is a string field that uploads sometimes store as a number.
type Text string

// UnmarshalBSONValue accepts strings and numbers.
func (t *Text) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	rv := bson.RawValue{Type: typ, Value: data}
	switch typ {
	case bsontype.String:
		*t = Text(rv.StringValue())
	case bsontype.Int32:
		*t = Text(strconv.FormatInt(int64(rv.Int32()), 10))
	case bsontype.Int64:
		*t = Text(strconv.FormatInt(rv.Int64(), 10))
	case bsontype.Double:
		*t = Text(strconv.FormatFloat(rv.Double(), 'f', -1, 64))
	case bsontype.Boolean:
		*t = Text(strconv.FormatBool(rv.Boolean()))
	case bsontype.Null, bsontype.Undefined:
		*t = ""
	default:
		return fmt.Errorf("cannot decode bson %s into text", typ)
	}
	return nil
}

// MongoSource reads inventory documents from a MongoDB collection.
type MongoSource struct {
	coll *mongo.Collection
}

// NewMongoSource creates a MongoSource over coll.
func NewMongoSource(coll *mongo.Collection) *MongoSource {
	return &MongoSource{coll: coll}
}

// TenantFilter is the query selecting one tenant's documents.
func TenantFilter(tenantID string) bson.M {
	return bson.M{"userId": tenantID}
}

// FetchAll returns the tenant's documents in insertion order.
func (s *MongoSource) FetchAll(ctx context.Context, tenantID string) ([]RecordGroup, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.coll.Find(ctx, TenantFilter(tenantID), opts)
	if err != nil {
		return nil, fmt.Errorf("find inventory for %s: %w", tenantID, err)
	}

	groups := make([]RecordGroup, 0)
	if err := cur.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode inventory for %s: %w", tenantID, err)
	}
	return groups, nil
}

// MemorySource is an in-process DocumentSource.
type MemorySource struct {
	mu     sync.RWMutex
	groups map[string][]RecordGroup
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{groups: make(map[string][]RecordGroup)}
}

// Put appends a document for the tenant.
func (s *MemorySource) Put(tenantID string, items ...InventoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[tenantID] = append(s.groups[tenantID], RecordGroup{
		ID:     fmt.Sprintf("%s-%d", tenantID, len(s.groups[tenantID])+1),
		UserID: tenantID,
		Items:  append([]InventoryRecord(nil), items...),
	})
}

// Reset removes every document of the tenant.
func (s *MemorySource) Reset(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups, tenantID)
}

// FetchAll returns a copy of the tenant's documents.
func (s *MemorySource) FetchAll(ctx context.Context, tenantID string) ([]RecordGroup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RecordGroup, len(s.groups[tenantID]))
	copy(out, s.groups[tenantID])
	return out, nil
}

var (
	_ DocumentSource = (*MongoSource)(nil)
	_ DocumentSource = (*MemorySource)(nil)
)
