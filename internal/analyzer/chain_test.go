package analyzer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricelist/internal"
)

type stubAnalyzer struct {
	name  string
	err   error
	calls int
}

func (s *stubAnalyzer) CheckLegibility(context.Context, []byte, string) (internal.Legibility, error) {
	s.calls++
	if s.err != nil {
		return internal.Legibility{}, s.err
	}
	return internal.Legibility{Accepted: true, Reason: s.name}, nil
}

func (s *stubAnalyzer) DiscoverStructure(context.Context, []byte, string) (internal.Discovery, error) {
	s.calls++
	if s.err != nil {
		return internal.Discovery{}, s.err
	}
	return internal.Discovery{Headers: []string{s.name}}, nil
}

func TestChainFallsThrough(t *testing.T) {
	text := &stubAnalyzer{name: "text", err: fmt.Errorf("%w: scanned", internal.ErrNoTextLayer)}
	vision := &stubAnalyzer{name: "vision"}
	chain := Chain{text, vision}

	verdict, err := chain.CheckLegibility(context.Background(), nil, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "vision", verdict.Reason)

	d, err := chain.DiscoverStructure(context.Background(), nil, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"vision"}, d.Headers)
	assert.Equal(t, 2, text.calls)
}

func TestChainStopsOnRealError(t *testing.T) {
	first := &stubAnalyzer{err: fmt.Errorf("%w: status=500", internal.ErrAnalysis)}
	second := &stubAnalyzer{name: "second"}

	_, err := Chain{first, second}.CheckLegibility(context.Background(), nil, "image/png")
	assert.ErrorIs(t, err, internal.ErrAnalysis)
	assert.Equal(t, 0, second.calls)
}

func TestChainExhausted(t *testing.T) {
	only := &stubAnalyzer{err: internal.ErrUnsupportedMedia}

	_, err := Chain{only}.DiscoverStructure(context.Background(), nil, "application/zip")
	assert.ErrorIs(t, err, internal.ErrAnalysis)
	assert.False(t, errors.Is(err, internal.ErrUnsupportedMedia))
}

func TestTextLayerDeclines(t *testing.T) {
	tl := NewTextLayer()

	_, err := tl.CheckLegibility(context.Background(), []byte("img"), "image/png")
	assert.ErrorIs(t, err, internal.ErrUnsupportedMedia)

	_, err = tl.DiscoverStructure(context.Background(), []byte("not a pdf"), "application/pdf")
	assert.ErrorIs(t, err, internal.ErrNoTextLayer)
}
