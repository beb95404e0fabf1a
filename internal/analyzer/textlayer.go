package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	pdf "github.com/ledongthuc/pdf"

	"pricelist/internal"
	"pricelist/internal/pipeline"
	"pricelist/internal/util"
)

var cellSplit = regexp.MustCompile(`\t+|\s{2,}`)

// TextLayer reads tables from PDFs that carry a text layer. Scanned PDFs
// return ErrNoTextLayer so a vision analyzer can take over.
type TextLayer struct{}

func NewTextLayer() *TextLayer {
	return &TextLayer{}
}

func (t *TextLayer) CheckLegibility(_ context.Context, content []byte, mediaType string) (internal.Legibility, error) {
	if _, err := t.rows(content, mediaType); err != nil {
		return internal.Legibility{}, err
	}
	return internal.Legibility{Accepted: true}, nil
}

func (t *TextLayer) DiscoverStructure(_ context.Context, content []byte, mediaType string) (internal.Discovery, error) {
	rows, err := t.rows(content, mediaType)
	if err != nil {
		return internal.Discovery{}, err
	}

	s, err := pipeline.Detect(rows, 0)
	if err != nil {
		return internal.Discovery{}, fmt.Errorf("%w: text layer: %v", internal.ErrNoTextLayer, err)
	}

	return internal.Discovery{
		Headers:          s.Headers,
		Rows:             s.Body,
		SuggestedMapping: pipeline.GuessMapping(s.Headers),
		Notes:            fmt.Sprintf("text layer, header at line %d, %d rows", s.HeaderRowIndex+1, len(s.Body)),
	}, nil
}

func (t *TextLayer) rows(content []byte, mediaType string) ([][]string, error) {
	if !strings.EqualFold(mediaType, "application/pdf") {
		return nil, fmt.Errorf("%w: %s", internal.ErrUnsupportedMedia, mediaType)
	}

	text, err := plainText(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrNoTextLayer, err)
	}

	var rows [][]string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cells := cellSplit.Split(strings.TrimSpace(line), -1)
		rows = append(rows, util.NormalizeCells(cells))
	}
	if len(rows) == 0 {
		return nil, internal.ErrNoTextLayer
	}
	return rows, nil
}

func plainText(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}
