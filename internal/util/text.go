package util

import (
	"regexp"
	"strings"
)

var reSpaces = regexp.MustCompile(`\s+`)

// NormalizeSpaces collapses whitespace runs (NBSP included) and trims.
func NormalizeSpaces(input string) string {
	s := strings.ReplaceAll(input, "\u00A0", " ")
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

func NormalizeCells(row []string) []string {
	out := make([]string, len(row))
	for i, c := range row {
		out[i] = NormalizeSpaces(c)
	}
	return out
}

func IsBlankRow(row []string) bool {
	for _, c := range row {
		if NormalizeSpaces(c) != "" {
			return false
		}
	}
	return true
}

// NormalizeUnit maps common unit spellings to a short canonical form.
func NormalizeUnit(unit string) string {
	u := strings.ToLower(NormalizeSpaces(unit))
	u = strings.TrimSuffix(u, ".")
	switch u {
	case "u", "un", "und", "unid", "unidad", "unidades", "pcs", "pc", "unit", "units":
		return "un"
	case "m", "mt", "mts", "metro", "metros":
		return "m"
	case "kg", "kgs", "kilo", "kilos":
		return "kg"
	case "cj", "caja", "cajas", "box":
		return "caja"
	case "lt", "lts", "litro", "litros", "l":
		return "l"
	default:
		return u
	}
}

func StringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func FloatPtr(v float64) *float64 {
	return &v
}
