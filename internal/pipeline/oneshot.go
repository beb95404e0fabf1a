package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pricelist/internal"
)

var mediaTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

func MediaTypeFor(name string) string {
	if mt, ok := mediaTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// InspectLocalFile decodes a spreadsheet from disk and detects its header
// row without touching the record store. Only digital files are supported.
func InspectLocalFile(path string, headerIndex int) (Structure, error) {
	meta := internal.FileMetadata{ID: path, Name: filepath.Base(path), MediaType: MediaTypeFor(path)}
	if !IsDigital(meta.MediaType) {
		return Structure{}, fmt.Errorf("%w: %s", internal.ErrUnsupportedMedia, meta.MediaType)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		return Structure{}, err
	}
	rows, err := DecodeRows(meta, blob)
	if err != nil {
		return Structure{}, err
	}
	if len(rows) == 0 {
		return Structure{}, internal.ErrEmptySource
	}
	return Detect(rows, headerIndex)
}
