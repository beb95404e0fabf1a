package internal

import "time"

type TemplateState string

const (
	TemplateActive  TemplateState = "ACTIVE"
	TemplateRetired TemplateState = "RETIRED"
)

type FileKind string

const (
	FileKindXLSX  FileKind = "xlsx"
	FileKindCSV   FileKind = "csv"
	FileKindImage FileKind = "image"
)

type ToleranceMode string

const ToleranceStrict ToleranceMode = "strict"

type ExtractionMode string

const (
	ModeMapped    ExtractionMode = "MAPPED"
	ModeDiscovery ExtractionMode = "DISCOVERY"
)

// Fingerprint identifies a column layout. HeaderHash is derived from
// ExpectedHeaders and is never edited on its own.
type Fingerprint struct {
	HeaderHash      string        `json:"headerHash"`
	ExpectedHeaders []string      `json:"expectedHeaders"`
	FileKind        FileKind      `json:"fileKind"`
	ToleranceMode   ToleranceMode `json:"toleranceMode"`
}

// FieldMapping binds a logical field (sku, description, price, unit...) to
// the literal source header it is read from.
type FieldMapping struct {
	Field  string `json:"field"`
	Header string `json:"header"`
}

type ColumnMapping struct {
	Fields         []FieldMapping `json:"fields"`
	HeaderRowIndex *int           `json:"headerRowIndex,omitempty"`
}

func (m ColumnMapping) Header(field string) (string, bool) {
	for _, f := range m.Fields {
		if f.Field == field {
			return f.Header, true
		}
	}
	return "", false
}

// Set replaces the header of an existing field or appends a new one,
// keeping the original field order.
func (m *ColumnMapping) Set(field, header string) {
	for i := range m.Fields {
		if m.Fields[i].Field == field {
			m.Fields[i].Header = header
			return
		}
	}
	m.Fields = append(m.Fields, FieldMapping{Field: field, Header: header})
}

func (m ColumnMapping) IsEmpty() bool {
	return len(m.Fields) == 0
}

type FormatTemplate struct {
	ID           string
	SupplierID   string
	Name         string
	State        TemplateState
	Fingerprint  Fingerprint
	Mapping      ColumnMapping
	SourceFileID string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Cell struct {
	Header string `json:"header"`
	Value  string `json:"value"`
}

// Row keeps cells in column order. Duplicate headers are preserved.
type Row []Cell

func (r Row) Get(header string) (string, bool) {
	for _, c := range r {
		if c.Header == header {
			return c.Value, true
		}
	}
	return "", false
}

type FingerprintDiagnostics struct {
	ComputedHash string `json:"computedHash"`
	StoredHash   string `json:"storedHash,omitempty"`
	Drift        bool   `json:"drift"`
}

type ExtractionResult struct {
	Mode              ExtractionMode         `json:"mode"`
	FileID            string                 `json:"fileId"`
	FileName          string                 `json:"fileName"`
	MediaType         string                 `json:"mediaType"`
	FileKind          FileKind               `json:"fileKind"`
	SupplierID        string                 `json:"supplierId"`
	HeaderRowIndex    int                    `json:"headerRowIndex"`
	Headers           []string               `json:"headers"`
	SampleRows        []Row                  `json:"sampleRows"`
	FullRows          []Row                  `json:"fullRows"`
	Mapping           ColumnMapping          `json:"mapping"`
	MatchedTemplateID string                 `json:"matchedTemplateId,omitempty"`
	MatchedTemplate   string                 `json:"matchedTemplate,omitempty"`
	MatchOverride     bool                   `json:"matchOverride,omitempty"`
	Candidates        []FormatTemplate       `json:"candidates"`
	BestGuess         *ColumnMapping         `json:"bestGuess,omitempty"`
	BestGuessID       string                 `json:"bestGuessId,omitempty"`
	Notes             string                 `json:"notes,omitempty"`
	Diagnostics       FingerprintDiagnostics `json:"diagnostics"`
}

type FileMetadata struct {
	ID           string
	Name         string
	MediaType    string
	Size         int64
	ModifiedTime string
}

// KV is an ordered side-channel entry for columns no mapping claims.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type PriceItem struct {
	LineNo      int
	SKU         *string
	Description *string
	Price       *float64
	PriceRaw    *string
	Unit        *string
	Extras      []KV
}

type UploadStatus string

const (
	UploadMapped           UploadStatus = "MAPPED"
	UploadDiscovery        UploadStatus = "DISCOVERY"
	UploadErrorIllegible   UploadStatus = "ERROR_ILLEGIBLE"
	UploadErrorEmpty       UploadStatus = "ERROR_EMPTY"
	UploadErrorStructure   UploadStatus = "ERROR_STRUCTURE"
	UploadErrorUnsupported UploadStatus = "ERROR_UNSUPPORTED"
	UploadErrorSystem      UploadStatus = "ERROR_SYSTEM"
)

type Upload struct {
	ID         string
	SupplierID string
	FileID     string
	FileName   string
	Status     UploadStatus
	TemplateID *string
	HeaderHash *string
	Reason     *string
	CreatedAt  time.Time
}

// TemplateQuery filters format templates. Zero values do not filter.
type TemplateQuery struct {
	ID          string
	SupplierID  string
	HeaderHash  string
	State       TemplateState
	NewestFirst bool
	Limit       int
}

type UploadQuery struct {
	SupplierID string
	FileID     string
	Status     UploadStatus
	Limit      int
}

type StatusCount struct {
	Status UploadStatus
	Count  int
}

type FetchedMailMessage struct {
	Provider   string
	MessageID  string
	Subject    string
	From       string
	ReceivedAt string
	Raw        []byte
}

type EmailRow struct {
	ID         int
	Provider   string
	MessageID  string
	Subject    *string
	Sender     *string
	ReceivedAt *string
	Hash       string
	Status     string
	RawRef     string
}

type Legibility struct {
	Accepted bool
	Reason   string
}

// Discovery is the table structure an analyzer found in a document. Rows
// holds what the analyzer could read: a sample for vision models, every
// body row for text-layer documents.
type Discovery struct {
	Headers          []string
	Rows             []Row
	SuggestedMapping ColumnMapping
	Notes            string
}
