package analyzer

import (
	"context"
	"errors"
	"fmt"

	"pricelist/internal"
)

type Analyzer interface {
	CheckLegibility(ctx context.Context, content []byte, mediaType string) (internal.Legibility, error)
	DiscoverStructure(ctx context.Context, content []byte, mediaType string) (internal.Discovery, error)
}

// Chain asks each analyzer in turn, moving on when one cannot handle the
// document (unsupported media or no text layer). Any other error stops the
// chain.
type Chain []Analyzer

func (c Chain) CheckLegibility(ctx context.Context, content []byte, mediaType string) (internal.Legibility, error) {
	for _, a := range c {
		verdict, err := a.CheckLegibility(ctx, content, mediaType)
		if fallThrough(err) {
			continue
		}
		return verdict, err
	}
	return internal.Legibility{}, fmt.Errorf("%w: no analyzer for %s", internal.ErrAnalysis, mediaType)
}

func (c Chain) DiscoverStructure(ctx context.Context, content []byte, mediaType string) (internal.Discovery, error) {
	for _, a := range c {
		d, err := a.DiscoverStructure(ctx, content, mediaType)
		if fallThrough(err) {
			continue
		}
		return d, err
	}
	return internal.Discovery{}, fmt.Errorf("%w: no analyzer for %s", internal.ErrAnalysis, mediaType)
}

func fallThrough(err error) bool {
	return errors.Is(err, internal.ErrUnsupportedMedia) || errors.Is(err, internal.ErrNoTextLayer)
}
