package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelist/internal"
)

func TestGuessMapping(t *testing.T) {
	headers := []string{"Código", "Descripción del Artículo", "Dto %", "Precio Unit.", "Unidad"}

	m := GuessMapping(headers)
	assert.Equal(t, []internal.FieldMapping{
		{Field: "sku", Header: "Código"},
		{Field: "descripcion", Header: "Descripción del Artículo"},
		{Field: "precio", Header: "Precio Unit."},
		{Field: "unidad", Header: "Unidad"},
	}, m.Fields)
}

func TestGuessMappingLeavesUnknownHeaders(t *testing.T) {
	m := GuessMapping([]string{"Marca", "Stock"})
	assert.True(t, m.IsEmpty())
}

func TestApplyMapping(t *testing.T) {
	mapping := colMapping("sku", "Código", "descripcion", "Detalle", "precio", "Precio", "unidad", "UM")
	rows := []internal.Row{
		{{Header: "Código", Value: "A-1"}, {Header: "Detalle", Value: "Tornillo  6mm"}, {Header: "Precio", Value: "$ 1.234,50"}, {Header: "UM", Value: "Unidades"}, {Header: "Marca", Value: "Fischer"}},
		{{Header: "Código", Value: ""}, {Header: "Detalle", Value: ""}, {Header: "Precio", Value: "10"}},
		{{Header: "Código", Value: ""}, {Header: "Detalle", Value: "Arandela"}, {Header: "Precio", Value: "consultar"}},
	}

	items := ApplyMapping(rows, mapping)
	require.Len(t, items, 2)

	first := items[0]
	assert.Equal(t, 1, first.LineNo)
	require.NotNil(t, first.SKU)
	assert.Equal(t, "A-1", *first.SKU)
	require.NotNil(t, first.Description)
	assert.Equal(t, "Tornillo 6mm", *first.Description)
	require.NotNil(t, first.Price)
	assert.InDelta(t, 1234.5, *first.Price, 1e-9)
	require.NotNil(t, first.Unit)
	assert.Equal(t, "un", *first.Unit)
	assert.Equal(t, []internal.KV{{Key: "Marca", Value: "Fischer"}}, first.Extras)

	second := items[1]
	assert.Equal(t, 3, second.LineNo)
	assert.Nil(t, second.SKU)
	assert.Nil(t, second.Price)
	require.NotNil(t, second.PriceRaw)
	assert.Equal(t, "consultar", *second.PriceRaw)
}

func TestApplyMappingAcceptsEnglishFields(t *testing.T) {
	mapping := colMapping("sku", "Code", "description", "Name", "price", "Cost")
	rows := []internal.Row{
		{{Header: "Code", Value: "Z9"}, {Header: "Name", Value: "Hose"}, {Header: "Cost", Value: "USD 12.00"}},
	}

	items := ApplyMapping(rows, mapping)
	require.Len(t, items, 1)
	assert.Equal(t, "Hose", *items[0].Description)
	assert.InDelta(t, 12.0, *items[0].Price, 1e-9)
	assert.Empty(t, items[0].Extras)
}
