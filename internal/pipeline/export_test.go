package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"pricelist/internal"
)

func strp(v string) *string { return &v }

func TestExportItemsToXLSX(t *testing.T) {
	price := 12.5
	items := []internal.PriceItem{
		{LineNo: 1, SKU: strp("A-1"), Description: strp("Widget"), Price: &price, PriceRaw: strp("12,50"), Unit: strp("un"),
			Extras: []internal.KV{{Key: "Marca", Value: "Acme"}, {Key: "Stock", Value: "4"}}},
		{LineNo: 3, Description: strp("Sin precio")},
	}

	out := filepath.Join(t.TempDir(), "nested", "items.xlsx")
	require.NoError(t, ExportItemsToXLSX(items, out))

	f, err := excelize.OpenFile(out)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"line_no", "sku", "description", "price", "price_raw", "unit", "extras"}, rows[0])
	assert.Equal(t, []string{"1", "A-1", "Widget", "12.5", "12,50", "un", "Marca: Acme; Stock: 4"}, rows[1])
	assert.Equal(t, "Sin precio", rows[2][2])
}

func TestInspectLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lista.csv")
	require.NoError(t, os.WriteFile(path, []byte("SKU;Desc;Price\nA-1;Widget;10\n"), 0o644))

	st, err := InspectLocalFile(path, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"SKU", "Desc", "Price"}, st.Headers)
	assert.Equal(t, 0, st.HeaderRowIndex)
	require.Len(t, st.Body, 1)

	_, err = InspectLocalFile(filepath.Join(dir, "scan.png"), 0)
	assert.ErrorIs(t, err, internal.ErrUnsupportedMedia)
}

func TestMediaTypeFor(t *testing.T) {
	assert.Equal(t, "text/csv", MediaTypeFor("a.CSV"))
	assert.True(t, IsDigital(MediaTypeFor("lista.xlsx")))
	assert.True(t, IsDigital(MediaTypeFor("lista.xls")))
	assert.False(t, IsDigital(MediaTypeFor("scan.jpeg")))
	assert.Equal(t, "application/octet-stream", MediaTypeFor("notes"))
}
