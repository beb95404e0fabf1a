package pipeline

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/xuri/excelize/v2"

	"pricelist/internal"
	"pricelist/internal/util"
)

var (
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// sniffLines bounds how much of a csv is read to pick its separator.
const sniffLines = 20

// IsDigital reports whether a media type is decoded locally rather than
// sent to the document analyzer.
func IsDigital(mediaType string) bool {
	mt := strings.ToLower(mediaType)
	return strings.Contains(mt, "spreadsheet") || strings.Contains(mt, "excel") || strings.Contains(mt, "csv")
}

func KindOf(meta internal.FileMetadata) internal.FileKind {
	if !IsDigital(meta.MediaType) {
		return internal.FileKindImage
	}
	if strings.Contains(strings.ToLower(meta.MediaType), "csv") || strings.EqualFold(filepath.Ext(meta.Name), ".csv") {
		return internal.FileKindCSV
	}
	return internal.FileKindXLSX
}

// DecodeRows turns a digital file into raw rows. Blank rows are dropped and
// cells are whitespace-normalized. HTML tables saved with an .xls name are
// read from their first table. Legacy binary workbooks are rejected with
// ErrUnsupportedMedia.
func DecodeRows(meta internal.FileMetadata, content []byte) ([][]string, error) {
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, nil
	}

	var (
		rows [][]string
		err  error
	)
	switch {
	case KindOf(meta) == internal.FileKindCSV:
		rows, err = decodeCSV(content)
	case looksLikeHTML(content):
		rows, err = decodeHTMLTable(content)
	case bytes.HasPrefix(content, oleMagic):
		return nil, fmt.Errorf("%w: %s is a legacy binary .xls workbook, re-save it as .xlsx or .csv", internal.ErrUnsupportedMedia, meta.Name)
	default:
		rows, err = decodeXLSX(content)
	}
	if err != nil {
		return nil, err
	}

	out := make([][]string, 0, len(rows))
	for _, row := range rows {
		if util.IsBlankRow(row) {
			continue
		}
		out = append(out, util.NormalizeCells(row))
	}
	return out, nil
}

func decodeCSV(content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	r := csv.NewReader(bytes.NewReader(content))
	r.Comma = sniffComma(content)
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// sniffComma picks the csv separator by letting each of the first non-blank
// lines vote for its most frequent candidate. Ties go to ';', since files
// that use it usually carry decimal commas.
func sniffComma(content []byte) rune {
	candidates := []rune{';', ',', '\t'}
	votes := make(map[rune]int, len(candidates))

	seen := 0
	for _, line := range strings.Split(string(content), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if seen++; seen > sniffLines {
			break
		}
		best, bestCount := rune(0), 0
		for _, c := range candidates {
			if n := strings.Count(line, string(c)); n > bestCount {
				best, bestCount = c, n
			}
		}
		if bestCount > 0 {
			votes[best]++
		}
	}

	winner, winnerVotes := ',', 0
	for _, c := range candidates {
		if votes[c] > winnerVotes {
			winner, winnerVotes = c, votes[c]
		}
	}
	return winner
}

func decodeXLSX(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

func decodeHTMLTable(content []byte) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var rows [][]string
	doc.Find("table").First().Find("tr").Each(func(_ int, tr *goquery.Selection) {
		cells := []string{}
		tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, cell.Text())
		})
		rows = append(rows, cells)
	})
	return rows, nil
}

func looksLikeHTML(content []byte) bool {
	return bytes.HasPrefix(bytes.TrimSpace(bytes.TrimPrefix(content, utf8BOM)), []byte("<"))
}
