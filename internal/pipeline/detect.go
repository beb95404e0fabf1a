package pipeline

import (
	"encoding/csv"
	"fmt"
	"strings"

	"pricelist/internal"
	"pricelist/internal/util"
)

// fallbackHeaderIndex is used when no row looks like a header: row 0 is
// assumed to be a title.
const fallbackHeaderIndex = 1

// minHeaderCells is the number of non-blank cells a row needs to be taken
// as the header row.
const minHeaderCells = 2

type Structure struct {
	HeaderRowIndex int
	Headers        []string
	Body           []internal.Row
}

// Detect locates the header row of raw decoded rows and splits them into
// headers and header-keyed body rows. explicitHeaderIndex > 1 overrides the
// header hunt.
func Detect(rows [][]string, explicitHeaderIndex int) (Structure, error) {
	if len(rows) == 0 {
		return Structure{}, internal.ErrEmptyInput
	}

	rows = RepairDelimiters(rows)

	idx := -1
	if explicitHeaderIndex > 1 {
		if explicitHeaderIndex >= len(rows) {
			return Structure{}, fmt.Errorf("%w: header row %d beyond %d rows", internal.ErrNoTabularStructure, explicitHeaderIndex, len(rows))
		}
		idx = explicitHeaderIndex
	} else {
		idx = huntHeaderRow(rows)
	}
	if idx < 0 {
		if len(rows) <= fallbackHeaderIndex {
			return Structure{}, fmt.Errorf("%w: %d rows, no header candidate", internal.ErrNoTabularStructure, len(rows))
		}
		idx = fallbackHeaderIndex
	}

	headers := MaterializeHeaders(rows[idx])
	body := make([]internal.Row, 0, len(rows)-idx-1)
	for _, raw := range rows[idx+1:] {
		body = append(body, KeyRow(headers, raw))
	}

	return Structure{HeaderRowIndex: idx, Headers: headers, Body: body}, nil
}

// RepairDelimiters re-splits rows when every row is a single cell holding
// ";" or "," separated text. The separator is taken from the first row,
// ";" winning over ",". Rows are returned unchanged otherwise.
func RepairDelimiters(rows [][]string) [][]string {
	if len(rows) == 0 {
		return rows
	}
	for _, row := range rows {
		if len(row) != 1 || !strings.ContainsAny(row[0], ";,") {
			return rows
		}
	}

	sep := ','
	if strings.Contains(rows[0][0], ";") {
		sep = ';'
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		out = append(out, splitRecord(row[0], sep))
	}
	return out
}

func splitRecord(line string, sep rune) []string {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = sep
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return strings.Split(line, string(sep))
	}
	return record
}

// MaterializeHeaders trims the header cells and names blank ones
// "Column N", N counting blanks only.
func MaterializeHeaders(row []string) []string {
	out := make([]string, len(row))
	blank := 0
	for i, cell := range row {
		cell = util.NormalizeSpaces(cell)
		if cell == "" {
			blank++
			cell = fmt.Sprintf("Column %d", blank)
		}
		out[i] = cell
	}
	return out
}

// KeyRow converts a positional row into header-keyed cells. Missing
// trailing cells are empty; cells beyond the header width are dropped.
func KeyRow(headers []string, raw []string) internal.Row {
	row := make(internal.Row, len(headers))
	for i, h := range headers {
		value := ""
		if i < len(raw) {
			value = strings.TrimSpace(raw[i])
		}
		row[i] = internal.Cell{Header: h, Value: value}
	}
	return row
}

func huntHeaderRow(rows [][]string) int {
	for i, row := range rows {
		filled := 0
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				filled++
			}
		}
		if filled >= minHeaderCells {
			return i
		}
	}
	return -1
}
