// Package formats remembers supplier file layouts as format templates and
// resolves uploads against them.
package formats

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"pricelist/internal"
	"pricelist/internal/fingerprint"
	"pricelist/internal/metrics"
)

const DefaultCandidateLimit = 5

type TemplateStore interface {
	ListTemplates(ctx context.Context, q internal.TemplateQuery) ([]internal.FormatTemplate, error)
	InsertTemplate(ctx context.Context, t *internal.FormatTemplate) error
	UpdateTemplate(ctx context.Context, t *internal.FormatTemplate) error
}

type Memory struct {
	store  TemplateStore
	logger zerolog.Logger
}

func NewMemory(store TemplateStore, logger zerolog.Logger) *Memory {
	return &Memory{store: store, logger: logger}
}

// FindMatch returns the oldest ACTIVE template of the supplier with the
// given header hash. Store failures are logged and reported as no match.
func (m *Memory) FindMatch(ctx context.Context, headerHash, supplierID string) *internal.FormatTemplate {
	if headerHash == "" {
		return nil
	}

	list, err := m.store.ListTemplates(ctx, internal.TemplateQuery{
		SupplierID: supplierID,
		HeaderHash: headerHash,
		State:      internal.TemplateActive,
		Limit:      1,
	})
	if err != nil {
		m.logger.Warn().Err(err).Str("supplier_id", supplierID).Str("header_hash", headerHash).Msg("formats.match.store_error")
		metrics.StoreDegraded.WithLabelValues("find_match").Inc()
		return nil
	}
	if len(list) == 0 {
		return nil
	}
	return &list[0]
}

func (m *Memory) ListCandidates(ctx context.Context, supplierID string, limit int) ([]internal.FormatTemplate, error) {
	if limit <= 0 {
		limit = DefaultCandidateLimit
	}
	list, err := m.store.ListTemplates(ctx, internal.TemplateQuery{
		SupplierID:  supplierID,
		State:       internal.TemplateActive,
		NewestFirst: true,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list candidates: %v", internal.ErrStoreUnavailable, err)
	}
	return list, nil
}

func (m *Memory) MostRecentActive(ctx context.Context, supplierID string) (*internal.FormatTemplate, error) {
	list, err := m.ListCandidates(ctx, supplierID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

type UpsertRequest struct {
	SupplierID   string
	Headers      []string
	FileKind     internal.FileKind
	Mapping      internal.ColumnMapping
	SourceFileID string
	Name         string
}

// Upsert replaces the mapping and name of the supplier's ACTIVE template
// for the headers' hash, or creates one. The fingerprint of an existing
// template is never rewritten here.
func (m *Memory) Upsert(ctx context.Context, req UpsertRequest) (internal.FormatTemplate, bool, error) {
	hash, ok := fingerprint.Hash(req.Headers)
	if !ok {
		return internal.FormatTemplate{}, false, fmt.Errorf("%w: headers carry no fingerprint", internal.ErrInvalidConfirmation)
	}

	existing, err := m.store.ListTemplates(ctx, internal.TemplateQuery{
		SupplierID: req.SupplierID,
		HeaderHash: hash,
		State:      internal.TemplateActive,
		Limit:      1,
	})
	if err != nil {
		return internal.FormatTemplate{}, false, fmt.Errorf("%w: lookup before upsert: %v", internal.ErrStoreUnavailable, err)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = defaultName(req.Headers, hash)
	}

	if len(existing) > 0 {
		t := existing[0]
		t.Mapping = req.Mapping
		t.Name = name + " (updated)"
		if err := m.store.UpdateTemplate(ctx, &t); err != nil {
			return internal.FormatTemplate{}, false, fmt.Errorf("%w: update template: %v", internal.ErrStoreUnavailable, err)
		}
		m.logger.Info().Str("template_id", t.ID).Str("supplier_id", t.SupplierID).Msg("formats.upsert.updated")
		return t, false, nil
	}

	kind := req.FileKind
	if kind == "" {
		kind = internal.FileKindXLSX
	}
	t := internal.FormatTemplate{
		SupplierID: req.SupplierID,
		Name:       name,
		State:      internal.TemplateActive,
		Fingerprint: internal.Fingerprint{
			HeaderHash:      hash,
			ExpectedHeaders: append([]string(nil), req.Headers...),
			FileKind:        kind,
			ToleranceMode:   internal.ToleranceStrict,
		},
		Mapping:      req.Mapping,
		SourceFileID: req.SourceFileID,
	}
	if err := m.store.InsertTemplate(ctx, &t); err != nil {
		return internal.FormatTemplate{}, false, fmt.Errorf("%w: insert template: %v", internal.ErrStoreUnavailable, err)
	}
	m.logger.Info().Str("template_id", t.ID).Str("supplier_id", t.SupplierID).Str("header_hash", hash).Msg("formats.upsert.created")
	return t, true, nil
}

func defaultName(headers []string, hash string) string {
	tokens := fingerprint.Tokens(headers)
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	return fmt.Sprintf("Format %s [%s]", strings.Join(tokens, "/"), hash[:8])
}
