package util

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	numberPattern   = regexp.MustCompile(`-?\d[\d\s.,]*`)
	currencyPattern = regexp.MustCompile(`(?i)(US\$|U\$S|\$|€|USD|ARS|EUR)`)
	thousandsDot    = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
	thousandsComma  = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
)

type ParsedPrice struct {
	Value    *float64
	Currency *string
	Raw      *string
}

// ParsePrice reads the first number of a price cell. Separators are
// resolved the way supplier sheets use them: with both "." and "," the
// last one is the decimal mark; a lone separator followed by exactly
// three-digit groups is a thousands mark.
func ParsePrice(input string) ParsedPrice {
	line := NormalizeSpaces(input)
	if line == "" {
		return ParsedPrice{}
	}
	out := ParsedPrice{Raw: StringPtr(line)}

	if m := currencyPattern.FindString(line); m != "" {
		c := normalizeCurrency(m)
		out.Currency = &c
	}

	token := strings.TrimSpace(numberPattern.FindString(line))
	if token == "" {
		return out
	}
	if v, err := strconv.ParseFloat(normalizeNumericToken(token), 64); err == nil {
		out.Value = FloatPtr(v)
	}
	return out
}

func normalizeCurrency(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "US$", "U$S", "USD":
		return "USD"
	case "€", "EUR":
		return "EUR"
	default:
		return "ARS"
	}
}

func normalizeNumericToken(token string) string {
	compact := strings.ReplaceAll(token, " ", "")
	compact = strings.TrimRight(compact, ".,")

	dot := strings.LastIndex(compact, ".")
	comma := strings.LastIndex(compact, ",")
	switch {
	case dot >= 0 && comma >= 0:
		if comma > dot {
			compact = strings.ReplaceAll(compact, ".", "")
			return strings.Replace(compact, ",", ".", 1)
		}
		return strings.ReplaceAll(compact, ",", "")
	case thousandsDot.MatchString(strings.TrimPrefix(compact, "-")):
		return strings.ReplaceAll(compact, ".", "")
	case thousandsComma.MatchString(strings.TrimPrefix(compact, "-")):
		return strings.ReplaceAll(compact, ",", "")
	case comma >= 0:
		return strings.ReplaceAll(compact, ",", ".")
	}
	return compact
}
