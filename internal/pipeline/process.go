package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"pricelist/internal"
	"pricelist/internal/config"
	"pricelist/internal/fingerprint"
	"pricelist/internal/formats"
	"pricelist/internal/metrics"
)

const defaultSampleRows = 5

type FileSource interface {
	GetMetadata(ctx context.Context, fileID string) (internal.FileMetadata, error)
	GetContent(ctx context.Context, fileID string) ([]byte, error)
}

type DocumentAnalyzer interface {
	CheckLegibility(ctx context.Context, content []byte, mediaType string) (internal.Legibility, error)
	DiscoverStructure(ctx context.Context, content []byte, mediaType string) (internal.Discovery, error)
}

type Options struct {
	// HeaderIndex forces the header row when greater than 1.
	HeaderIndex int
}

// Service routes one file at a time through decoding, structure detection,
// fingerprinting and template matching. It keeps no state between calls.
type Service struct {
	files    FileSource
	analyzer DocumentAnalyzer
	formats  *formats.Memory
	cfg      config.Config
	logger   zerolog.Logger
	validate *validator.Validate
}

func NewService(files FileSource, analyzer DocumentAnalyzer, mem *formats.Memory, cfg config.Config, logger zerolog.Logger) *Service {
	return &Service{
		files:    files,
		analyzer: analyzer,
		formats:  mem,
		cfg:      cfg,
		logger:   logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// parsed is what either path hands to matching.
type parsed struct {
	headers        []string
	headerRowIndex int
	body           []internal.Row
	suggested      internal.ColumnMapping
	notes          string
}

func (s *Service) ProcessFile(ctx context.Context, fileID, supplierID string, opts Options) (*internal.ExtractionResult, error) {
	res, err := s.processFile(ctx, fileID, supplierID, opts)
	if err != nil {
		metrics.ExtractionErrors.WithLabelValues(string(internal.UploadStatusFor(err))).Inc()
		s.logger.Warn().Err(err).Str("file_id", fileID).Str("supplier_id", supplierID).Msg("extraction.failed")
		return nil, err
	}
	metrics.ExtractionResults.WithLabelValues(string(res.Mode), strconv.FormatBool(res.MatchOverride)).Inc()
	return res, nil
}

func (s *Service) processFile(ctx context.Context, fileID, supplierID string, opts Options) (*internal.ExtractionResult, error) {
	meta, err := s.files.GetMetadata(ctx, fileID)
	if err != nil {
		return nil, internal.NewExtractionError(internal.ErrAnalysis, fileID, "fetch metadata", err)
	}
	content, err := s.files.GetContent(ctx, fileID)
	if err != nil {
		return nil, internal.NewExtractionError(internal.ErrAnalysis, fileID, "fetch content", err)
	}
	if len(content) == 0 {
		return nil, internal.NewExtractionError(internal.ErrEmptySource, fileID, "file has no content", nil)
	}

	res := &internal.ExtractionResult{
		FileID:     fileID,
		FileName:   meta.Name,
		MediaType:  meta.MediaType,
		FileKind:   KindOf(meta),
		SupplierID: supplierID,
	}

	var p parsed
	if IsDigital(meta.MediaType) {
		p, err = s.parseDigital(meta, content, opts)
	} else {
		p, err = s.analyzeDocument(ctx, meta, content)
	}
	if err != nil {
		return nil, err
	}

	res.Headers = p.headers
	res.HeaderRowIndex = p.headerRowIndex
	res.FullRows = p.body
	res.SampleRows = sample(p.body, s.sampleSize())
	res.Notes = p.notes

	s.match(ctx, res, p)
	return res, nil
}

func (s *Service) parseDigital(meta internal.FileMetadata, content []byte, opts Options) (parsed, error) {
	rows, err := DecodeRows(meta, content)
	if err != nil {
		kind := internal.ErrAnalysis
		if errors.Is(err, internal.ErrUnsupportedMedia) {
			kind = internal.ErrUnsupportedMedia
		}
		return parsed{}, internal.NewExtractionError(kind, meta.ID, "decode "+meta.Name, err)
	}
	if len(rows) == 0 {
		return parsed{}, internal.NewExtractionError(internal.ErrEmptySource, meta.ID, "no usable rows", nil)
	}

	st, err := Detect(rows, opts.HeaderIndex)
	if err != nil {
		kind := internal.ErrNoTabularStructure
		if errors.Is(err, internal.ErrEmptyInput) {
			kind = internal.ErrEmptySource
		}
		return parsed{}, internal.NewExtractionError(kind, meta.ID, "detect structure", err)
	}

	return parsed{
		headers:        st.Headers,
		headerRowIndex: st.HeaderRowIndex,
		body:           st.Body,
		suggested:      internal.ColumnMapping{Fields: []internal.FieldMapping{}},
		notes:          fmt.Sprintf("Direct extraction (header row %d)", st.HeaderRowIndex),
	}, nil
}

func (s *Service) analyzeDocument(ctx context.Context, meta internal.FileMetadata, content []byte) (parsed, error) {
	if s.analyzer == nil {
		return parsed{}, internal.NewExtractionError(internal.ErrAnalysis, meta.ID, "no document analyzer configured", nil)
	}

	verdict, err := s.analyzer.CheckLegibility(ctx, content, meta.MediaType)
	if err != nil {
		return parsed{}, internal.NewExtractionError(internal.ErrAnalysis, meta.ID, "legibility check", err)
	}
	if !verdict.Accepted {
		return parsed{}, internal.NewExtractionError(internal.ErrIllegible, meta.ID, verdict.Reason, nil)
	}

	d, err := s.analyzer.DiscoverStructure(ctx, content, meta.MediaType)
	if err != nil {
		return parsed{}, internal.NewExtractionError(internal.ErrAnalysis, meta.ID, "discover structure", err)
	}
	if len(d.Headers) == 0 {
		return parsed{}, internal.NewExtractionError(internal.ErrNoTabularStructure, meta.ID, "analyzer found no headers", nil)
	}

	suggested := d.SuggestedMapping
	if suggested.Fields == nil {
		suggested.Fields = []internal.FieldMapping{}
	}
	return parsed{
		headers:   d.Headers,
		body:      d.Rows,
		suggested: suggested,
		notes:     d.Notes,
	}, nil
}

func (s *Service) match(ctx context.Context, res *internal.ExtractionResult, p parsed) {
	hash, _ := fingerprint.Hash(p.headers)
	res.Diagnostics.ComputedHash = hash

	tpl := s.formats.FindMatch(ctx, hash, res.SupplierID)
	if tpl == nil && s.cfg.OverridesMostRecent(res.SupplierID) {
		recent, err := s.formats.MostRecentActive(ctx, res.SupplierID)
		if err != nil {
			s.logger.Warn().Err(err).Str("supplier_id", res.SupplierID).Msg("extraction.match_override.store_error")
			metrics.StoreDegraded.WithLabelValues("match_override").Inc()
		}
		if recent != nil {
			tpl = recent
			res.MatchOverride = true
			s.logger.Warn().
				Str("file_id", res.FileID).
				Str("supplier_id", res.SupplierID).
				Str("template_id", recent.ID).
				Str("computed_hash", hash).
				Str("stored_hash", recent.Fingerprint.HeaderHash).
				Msg("extraction.match_override")
		}
	}

	if tpl != nil {
		res.Mode = internal.ModeMapped
		res.Mapping = tpl.Mapping
		res.MatchedTemplateID = tpl.ID
		res.MatchedTemplate = tpl.Name
		res.Candidates = []internal.FormatTemplate{}
		res.Notes = "Recognized format: " + tpl.Name
		res.Diagnostics.StoredHash = tpl.Fingerprint.HeaderHash
		res.Diagnostics.Drift = tpl.Fingerprint.HeaderHash != hash
		if res.Diagnostics.Drift {
			metrics.FingerprintDrift.Inc()
			s.logger.Warn().
				Str("template_id", tpl.ID).
				Str("computed_hash", hash).
				Str("stored_hash", tpl.Fingerprint.HeaderHash).
				Msg("extraction.fingerprint_drift")
		}
		s.logger.Info().Str("file_id", res.FileID).Str("template_id", tpl.ID).Int("rows", len(res.FullRows)).Msg("extraction.mapped")
		return
	}

	net := s.formats.Resolve(ctx, res.SupplierID, s.cfg.CandidateLimit)
	res.Mode = internal.ModeDiscovery
	res.Mapping = p.suggested
	res.Candidates = net.Candidates
	if net.BestGuess != nil {
		guess := net.BestGuess.Mapping
		res.BestGuess = &guess
		res.BestGuessID = net.BestGuess.ID
	}
	s.logger.Info().
		Str("file_id", res.FileID).
		Str("supplier_id", res.SupplierID).
		Int("candidates", len(res.Candidates)).
		Bool("best_guess", res.BestGuess != nil).
		Msg("extraction.discovery")
}

type ConfirmRequest struct {
	SupplierID   string                 `validate:"required"`
	Headers      []string               `validate:"required,min=1"`
	Mapping      internal.ColumnMapping `validate:"-"`
	SourceFileID string
	FileKind     internal.FileKind `validate:"omitempty,oneof=xlsx csv image"`
	Name         string            `validate:"max=200"`
}

// ConfirmMapping remembers a user-confirmed mapping for the headers'
// fingerprint. Store failures are returned.
func (s *Service) ConfirmMapping(ctx context.Context, req ConfirmRequest) (internal.FormatTemplate, error) {
	if err := s.validate.Struct(req); err != nil {
		return internal.FormatTemplate{}, fmt.Errorf("%w: %v", internal.ErrInvalidConfirmation, err)
	}
	if req.Mapping.IsEmpty() {
		return internal.FormatTemplate{}, fmt.Errorf("%w: mapping is empty", internal.ErrInvalidConfirmation)
	}

	known := map[string]bool{}
	for _, h := range req.Headers {
		known[h] = true
	}
	for _, f := range req.Mapping.Fields {
		if !known[f.Header] {
			s.logger.Warn().Str("field", f.Field).Str("header", f.Header).Msg("formats.confirm.unknown_header")
		}
	}

	tpl, created, err := s.formats.Upsert(ctx, formats.UpsertRequest{
		SupplierID:   req.SupplierID,
		Headers:      req.Headers,
		FileKind:     req.FileKind,
		Mapping:      req.Mapping,
		SourceFileID: req.SourceFileID,
		Name:         req.Name,
	})
	if err != nil {
		return internal.FormatTemplate{}, err
	}
	s.logger.Info().Str("template_id", tpl.ID).Bool("created", created).Msg("formats.confirmed")
	return tpl, nil
}

func (s *Service) ComputeFingerprint(headers []string) (string, bool) {
	return fingerprint.Hash(headers)
}

func (s *Service) sampleSize() int {
	if s.cfg.SampleRows > 0 {
		return s.cfg.SampleRows
	}
	return defaultSampleRows
}

func sample(rows []internal.Row, n int) []internal.Row {
	if len(rows) < n {
		n = len(rows)
	}
	out := make([]internal.Row, n)
	copy(out, rows[:n])
	return out
}
