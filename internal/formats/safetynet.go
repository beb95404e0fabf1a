package formats

import (
	"context"

	"pricelist/internal"
	"pricelist/internal/metrics"
)

type SafetyNet struct {
	Candidates []internal.FormatTemplate
	// BestGuess is set only when exactly one candidate exists.
	BestGuess *internal.FormatTemplate
}

// Resolve lists sibling templates for a supplier whose upload found no
// exact match. A store failure yields an empty safety net.
func (m *Memory) Resolve(ctx context.Context, supplierID string, limit int) SafetyNet {
	candidates, err := m.ListCandidates(ctx, supplierID, limit)
	if err != nil {
		m.logger.Warn().Err(err).Str("supplier_id", supplierID).Msg("formats.safety_net.store_error")
		metrics.StoreDegraded.WithLabelValues("list_candidates").Inc()
		return SafetyNet{Candidates: []internal.FormatTemplate{}}
	}
	if candidates == nil {
		candidates = []internal.FormatTemplate{}
	}

	net := SafetyNet{Candidates: candidates}
	if len(candidates) == 1 {
		best := candidates[0]
		net.BestGuess = &best
	}
	return net
}
