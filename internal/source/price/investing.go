package price

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/source"
)

// investingAdapter resolves the symbol through the site search before
// fetching the quote page, since quote URLs are slugs rather than tickers.
type investingAdapter struct {
	fetcher source.Fetcher
	base    string
	now     func() time.Time
}

// NewInvesting returns the search-then-quote adapter
func NewInvesting(f source.Fetcher, opts Options) source.PriceAdapter {
	return &investingAdapter{fetcher: f, base: opts.base(Investing), now: opts.clock()}
}

func (a *investingAdapter) ID() string { return Investing }

func (a *investingAdapter) Fetch(ctx context.Context, symbol market.Symbol) (market.PriceSample, error) {
	quoteURL, err := a.resolve(ctx, symbol)
	if err != nil {
		return market.PriceSample{}, source.Annotate(err, Investing, symbol)
	}

	resp, err := a.fetcher.Get(ctx, quoteURL)
	if err != nil {
		return market.PriceSample{}, source.Annotate(err, Investing, symbol)
	}
	sample, err := extractSample(Investing, resp.Body, investingStrategies, symbol, a.now)
	if err != nil {
		return market.PriceSample{}, source.Annotate(err, Investing, symbol)
	}
	return sample, nil
}

func (a *investingAdapter) resolve(ctx context.Context, symbol market.Symbol) (string, error) {
	resp, err := a.fetcher.Get(ctx, a.base+"/search/?q="+url.QueryEscape(string(symbol)))
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return "", source.Errorf(source.KindMalformed, "parse search page: %v", err)
	}

	var href string
	doc.Find(`a[href*="/equities/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ = s.Attr("href")
		href = strings.TrimSpace(href)
		return href == ""
	})
	if href == "" {
		return "", source.Errorf(source.KindNotFound, "no equities link for %s", symbol)
	}

	base, err := url.Parse(a.base + "/")
	if err != nil {
		return "", source.Errorf(source.KindMalformed, "base url: %v", err)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", source.Errorf(source.KindMalformed, "equities link %q: %v", href, err)
	}
	return base.ResolveReference(ref).String(), nil
}
