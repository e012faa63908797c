package biz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kart-io/inventory-rag/internal/inventory/source"
)

func TestComposeContent_Dairy(t *testing.T) {
	rec := source.InventoryRecord{
		InventoryItemName: "Cheddar",
		ItemName:          "Cheddar Block 5lb",
		ItemNumber:        "1001",
		Category:          "DAIRY",
		Brand:             "Tillamook",
		CasePrice:         source.Float(40),
		UnitCost:          source.Float(4),
		PricedBy:          "per case",
		QuantityInCase:    source.Float(10),
		MeasuredIn:        "lb",
		TotalUnits:        source.Float(20),
		Splitable:         "NO",
	}

	want := "Product Overview:\n" +
		"This is Cheddar, a dairy product from Tillamook. The full product name is Cheddar Block 5lb.\n\n" +
		"Pricing Details:\n" +
		"It costs $40 per case. Each unit costs $4.\n\n" +
		"Quantity Information:\n" +
		"Each case contains 10 lb. Total available units are 20.\n\n" +
		"Specifications:\n" +
		"The item number is 1001. This item cannot be split.\n\n" +
		"Storage Requirements:\n" +
		"This is a dairy product that should be stored refrigerated."

	assert.Equal(t, want, ComposeContent(rec))
	// 纯函数，多次调用结果一致
	assert.Equal(t, ComposeContent(rec), ComposeContent(rec))
}

func TestComposeContent_Defaults(t *testing.T) {
	rec := source.InventoryRecord{
		InventoryItemName: "Paper Towels",
		Category:          "Supplies",
		UnitCost:          source.Float(2.5),
		Splitable:         "YES",
	}

	got := ComposeContent(rec)
	assert.Contains(t, got, "This is Paper Towels, a supplies product. The full product name is Unknown.")
	assert.Contains(t, got, "It costs $0 per unit. Each unit costs $2.5.")
	assert.Contains(t, got, "Each case contains 0 units. Total available units are 0.")
	assert.Contains(t, got, "The item number is unknown. This item can be split.")
	assert.NotContains(t, got, "Storage Requirements")
}

func TestComposeContent_StorageNotes(t *testing.T) {
	tests := []struct {
		category string
		note     string
	}{
		{"FROZEN", "This is a frozen product that must be kept frozen."},
		{"produce", "This is a fresh produce item with limited shelf life."},
		{"Dairy", "This is a dairy product that should be stored refrigerated."},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			got := ComposeContent(source.InventoryRecord{InventoryItemName: "X", Category: tt.category})
			assert.Contains(t, got, "Storage Requirements:\n"+tt.note)
		})
	}
}

func TestComposeContent_Fallback(t *testing.T) {
	assert.Equal(t, "Item: Unknown Item", ComposeContent(source.InventoryRecord{}))
	assert.Equal(t, "Item: Olive Oil", FallbackContent(source.InventoryRecord{InventoryItemName: "Olive Oil"}))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "4", FormatNumber(4))
	assert.Equal(t, "4.5", FormatNumber(4.5))
	assert.Equal(t, "0", FormatNumber(0))
	assert.Equal(t, "12.75", FormatNumber(12.75))
}
