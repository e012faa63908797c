package biz

import (
	"strconv"
	"strings"

	"github.com/kart-io/inventory-rag/internal/inventory/source"
)

// 组合文本缺省值。
const (
	defaultItemName   = "Unknown Item"
	defaultCategory   = "unknown"
	defaultFullName   = "Unknown"
	defaultPricedBy   = "unit"
	defaultMeasuredIn = "units"
	defaultItemNumber = "unknown"
	defaultSplitable  = "NO"
)

// storageNotes 需要附加存储说明的品类（大写）。
var storageNotes = map[string]string{
	"DAIRY":   "This is a dairy product that should be stored refrigerated.",
	"FROZEN":  "This is a frozen product that must be kept frozen.",
	"PRODUCE": "This is a fresh produce item with limited shelf life.",
}

type section struct {
	heading string
	body    string
}

// ComposeFunc 将库存记录组合为待嵌入文本，返回错误视为该条目失败。
type ComposeFunc func(rec source.InventoryRecord) (string, error)

// DefaultCompose 默认组合函数，不会失败。
func DefaultCompose(rec source.InventoryRecord) (string, error) {
	return ComposeContent(rec), nil
}

// ComposeContent 将库存记录组合为分节文本，纯函数且结果确定。
// 没有任何可用字段时返回 FallbackContent。
func ComposeContent(rec source.InventoryRecord) string {
	if rec.IsEmpty() {
		return FallbackContent(rec)
	}

	name := orDefault(rec.InventoryItemName, defaultItemName)
	category := strings.ToLower(orDefault(rec.Category, defaultCategory))
	fullName := orDefault(rec.ItemName, defaultFullName)
	pricedBy := strings.TrimPrefix(orDefault(rec.PricedBy, defaultPricedBy), "per ")
	measuredIn := orDefault(rec.MeasuredIn, defaultMeasuredIn)
	itemNumber := orDefault(string(rec.ItemNumber), defaultItemNumber)
	splitable := orDefault(rec.Splitable, defaultSplitable)

	var overview strings.Builder
	overview.WriteString("This is " + name + ", a " + category + " product")
	if rec.Brand != "" {
		overview.WriteString(" from " + rec.Brand)
	}
	overview.WriteString(". The full product name is " + fullName + ".")

	splitNote := "This item can be split."
	if splitable == "NO" {
		splitNote = "This item cannot be split."
	}

	sections := []section{
		{"Product Overview", overview.String()},
		{"Pricing Details", "It costs $" + FormatNumber(deref(rec.CasePrice)) + " per " + pricedBy +
			". Each unit costs $" + FormatNumber(deref(rec.UnitCost)) + "."},
		{"Quantity Information", "Each case contains " + FormatNumber(deref(rec.QuantityInCase)) + " " + measuredIn +
			". Total available units are " + FormatNumber(deref(rec.TotalUnits)) + "."},
		{"Specifications", "The item number is " + itemNumber + ". " + splitNote},
	}
	if note, ok := storageNotes[strings.ToUpper(category)]; ok {
		sections = append(sections, section{"Storage Requirements", note})
	}

	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = s.heading + ":\n" + s.body
	}
	return strings.Join(parts, "\n\n")
}

// FallbackContent 返回最小化文本，至少包含条目名称。
func FallbackContent(rec source.InventoryRecord) string {
	return "Item: " + orDefault(rec.InventoryItemName, defaultItemName)
}

// FormatNumber 以最短形式输出数字（4、4.5）。
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
