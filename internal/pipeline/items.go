package pipeline

import (
	"strings"

	"pricelist/internal"
	"pricelist/internal/fingerprint"
	"pricelist/internal/util"
)

// Logical fields a mapping may name. Each accepts the Spanish and English
// spellings suppliers and operators use.
var fieldAliases = map[string][]string{
	"sku":         {"sku", "codigo", "code"},
	"description": {"descripcion", "description", "desc", "producto"},
	"price":       {"precio", "price"},
	"unit":        {"unidad", "unit"},
}

var guessOrder = []struct {
	field    string
	keywords []string
}{
	{field: "sku", keywords: []string{"sku", "codigo", "cod", "code", "ref"}},
	{field: "descripcion", keywords: []string{"descripcion", "description", "detalle", "producto", "nombre", "articulo", "desc"}},
	{field: "precio", keywords: []string{"precio", "price", "pvp", "importe", "costo", "unitario"}},
	{field: "unidad", keywords: []string{"unidad", "unit", "um", "presentacion"}},
}

var guessExcluded = []string{"descuento", "dto", "iva"}

// GuessMapping proposes a mapping from header names alone. Each header is
// used at most once.
func GuessMapping(headers []string) internal.ColumnMapping {
	var m internal.ColumnMapping
	used := make([]bool, len(headers))
	tokens := make([]string, len(headers))
	for i, h := range headers {
		tokens[i] = fingerprint.Normalize(h)
	}

	for _, g := range guessOrder {
	scan:
		for i, tok := range tokens {
			if used[i] || tok == "" || hasAnyPrefix(tok, guessExcluded) {
				continue
			}
			for _, kw := range g.keywords {
				if strings.HasPrefix(tok, kw) {
					m.Set(g.field, headers[i])
					used[i] = true
					break scan
				}
			}
		}
	}
	return m
}

// ApplyMapping turns body rows into price items. Rows without sku and
// description are skipped; cells no field claims are kept as extras.
func ApplyMapping(rows []internal.Row, mapping internal.ColumnMapping) []internal.PriceItem {
	claimed := map[string]bool{}
	for _, f := range mapping.Fields {
		claimed[f.Header] = true
	}

	out := make([]internal.PriceItem, 0, len(rows))
	for i, row := range rows {
		item := internal.PriceItem{
			LineNo:      i + 1,
			SKU:         util.StringPtr(util.NormalizeSpaces(lookup(row, mapping, "sku"))),
			Description: util.StringPtr(util.NormalizeSpaces(lookup(row, mapping, "description"))),
		}
		if item.SKU == nil && item.Description == nil {
			continue
		}

		if raw := lookup(row, mapping, "price"); raw != "" {
			parsed := util.ParsePrice(raw)
			item.Price = parsed.Value
			item.PriceRaw = parsed.Raw
		}
		if unit := lookup(row, mapping, "unit"); unit != "" {
			item.Unit = util.StringPtr(util.NormalizeUnit(unit))
		}

		for _, c := range row {
			if claimed[c.Header] || strings.TrimSpace(c.Value) == "" {
				continue
			}
			item.Extras = append(item.Extras, internal.KV{Key: c.Header, Value: c.Value})
		}
		out = append(out, item)
	}
	return out
}

func lookup(row internal.Row, mapping internal.ColumnMapping, field string) string {
	for _, alias := range fieldAliases[field] {
		header, ok := mapping.Header(alias)
		if !ok || header == "" {
			continue
		}
		if v, ok := row.Get(header); ok {
			return v
		}
	}
	return ""
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
