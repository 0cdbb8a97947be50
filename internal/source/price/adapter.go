// Package price holds the quote-page adapters. Each adapter fetches one
// page per attempt and runs its strategy cascade over it.
package price

import (
	"context"
	"errors"
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/source"
)

// Adapter IDs in default priority order
const (
	Yahoo       = "yahoo"
	Google      = "google"
	MarketWatch = "marketwatch"
	Investing   = "investing"
)

// DefaultOrder is the default fallback priority
var DefaultOrder = []string{Yahoo, Google, MarketWatch, Investing}

// pageAdapter fetches candidate URLs in order and extracts from the first
// page that yields a valid price. Only NotFound moves on to the next URL;
// any other failure means the host itself is refusing us.
type pageAdapter struct {
	id         string
	fetcher    source.Fetcher
	urls       func(symbol market.Symbol) []string
	strategies []source.Strategy
	now        func() time.Time
}

func (a *pageAdapter) ID() string { return a.id }

func (a *pageAdapter) Fetch(ctx context.Context, symbol market.Symbol) (market.PriceSample, error) {
	var lastErr error
	for _, u := range a.urls(symbol) {
		sample, err := a.fetchPage(ctx, u, symbol)
		if err == nil {
			return sample, nil
		}
		lastErr = err
		if !errors.Is(err, source.ErrNotFound) {
			break
		}
	}
	return market.PriceSample{}, source.Annotate(lastErr, a.id, symbol)
}

func (a *pageAdapter) fetchPage(ctx context.Context, url string, symbol market.Symbol) (market.PriceSample, error) {
	resp, err := a.fetcher.Get(ctx, url)
	if err != nil {
		return market.PriceSample{}, err
	}
	return extractSample(a.id, resp.Body, a.strategies, symbol, a.now)
}

func extractSample(id string, body []byte, strategies []source.Strategy, symbol market.Symbol, now func() time.Time) (market.PriceSample, error) {
	price, _, err := source.Cascade(strategies, body, symbol)
	if err != nil {
		return market.PriceSample{}, err
	}
	sample := market.PriceSample{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: now(),
		SourceID:   id,
	}
	if err := sample.Validate(); err != nil {
		return market.PriceSample{}, &source.FetchError{Kind: source.KindNotFound, Err: err}
	}
	return sample, nil
}
