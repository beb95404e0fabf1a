package formats

import (
	"context"
	"fmt"

	"pricelist/internal"
	"pricelist/internal/fingerprint"
	"pricelist/internal/metrics"
)

type ReconcileReport struct {
	Groups  int
	Kept    []string
	Retired []string
}

type groupKey struct {
	supplierID string
	headerHash string
}

// Reconcile retires all but the most recently written ACTIVE template of
// each (supplier, header hash) group. With dryRun nothing is written.
func (m *Memory) Reconcile(ctx context.Context, dryRun bool) (ReconcileReport, error) {
	active, err := m.store.ListTemplates(ctx, internal.TemplateQuery{State: internal.TemplateActive})
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("%w: list active templates: %v", internal.ErrStoreUnavailable, err)
	}

	var order []groupKey
	groups := map[groupKey][]internal.FormatTemplate{}
	for _, t := range active {
		k := groupKey{supplierID: t.SupplierID, headerHash: t.Fingerprint.HeaderHash}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], t)
	}

	report := ReconcileReport{Groups: len(order)}
	for _, k := range order {
		members := groups[k]
		keep := 0
		for i := 1; i < len(members); i++ {
			if newerThan(members[i], members[keep]) {
				keep = i
			}
		}
		report.Kept = append(report.Kept, members[keep].ID)

		for i := range members {
			if i == keep {
				continue
			}
			t := members[i]
			report.Retired = append(report.Retired, t.ID)
			m.logger.Warn().
				Str("template_id", t.ID).
				Str("kept_id", members[keep].ID).
				Str("supplier_id", k.supplierID).
				Str("header_hash", k.headerHash).
				Bool("dry_run", dryRun).
				Msg("formats.reconcile.retire")
			if dryRun {
				continue
			}
			t.State = internal.TemplateRetired
			if err := m.store.UpdateTemplate(ctx, &t); err != nil {
				return report, fmt.Errorf("%w: retire %s: %v", internal.ErrStoreUnavailable, t.ID, err)
			}
			metrics.TemplatesRetired.Inc()
		}
	}
	return report, nil
}

// newerThan orders by last write, then creation. Ties keep the later row
// in store order.
func newerThan(a, b internal.FormatTemplate) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return !a.CreatedAt.Before(b.CreatedAt)
}

type AuditEntry struct {
	TemplateID   string
	Name         string
	StoredHash   string
	ComputedHash string
	Drift        bool
	Skipped      bool
	Fixed        bool
}

// Audit recomputes every template's header hash from its expected headers.
// With fix, drifted hashes are rewritten.
func (m *Memory) Audit(ctx context.Context, fix bool) ([]AuditEntry, error) {
	all, err := m.store.ListTemplates(ctx, internal.TemplateQuery{})
	if err != nil {
		return nil, fmt.Errorf("%w: list templates: %v", internal.ErrStoreUnavailable, err)
	}

	out := make([]AuditEntry, 0, len(all))
	for _, t := range all {
		entry := AuditEntry{TemplateID: t.ID, Name: t.Name, StoredHash: t.Fingerprint.HeaderHash}
		if len(t.Fingerprint.ExpectedHeaders) == 0 {
			entry.Skipped = true
			out = append(out, entry)
			continue
		}

		computed, drift := fingerprint.Drifted(t.Fingerprint.HeaderHash, t.Fingerprint.ExpectedHeaders)
		entry.ComputedHash = computed
		entry.Drift = drift
		if drift {
			m.logger.Warn().
				Str("template_id", t.ID).
				Str("stored_hash", t.Fingerprint.HeaderHash).
				Str("computed_hash", computed).
				Msg("formats.audit.drift")
		}
		if drift && fix && computed != "" {
			t.Fingerprint.HeaderHash = computed
			if err := m.store.UpdateTemplate(ctx, &t); err != nil {
				return out, fmt.Errorf("%w: fix %s: %v", internal.ErrStoreUnavailable, t.ID, err)
			}
			entry.Fixed = true
		}
		out = append(out, entry)
	}
	return out, nil
}
