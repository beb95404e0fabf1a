package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"pricelist/internal"
)

// ExportItemsToXLSX writes mapped price items to a single-sheet workbook.
// Extra columns are flattened into one "key: value" cell.
func ExportItemsToXLSX(items []internal.PriceItem, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	headers := []string{"line_no", "sku", "description", "price", "price_raw", "unit", "extras"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, item := range items {
		r := i + 2
		set := func(col int, value any) {
			cell, _ := excelize.CoordinatesToCellName(col, r)
			_ = f.SetCellValue(sheet, cell, value)
		}

		set(1, item.LineNo)
		set(2, derefString(item.SKU))
		set(3, derefString(item.Description))
		set(4, derefFloat(item.Price))
		set(5, derefString(item.PriceRaw))
		set(6, derefString(item.Unit))
		set(7, joinExtras(item.Extras))
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	return f.SaveAs(outputPath)
}

func joinExtras(extras []internal.KV) string {
	parts := make([]string, 0, len(extras))
	for _, kv := range extras {
		parts = append(parts, kv.Key+": "+kv.Value)
	}
	return strings.Join(parts, "; ")
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
