package price

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/net/policy"
	"github.com/sawpanic/moverun/internal/source"
)

var fixedNow = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

// stubFetcher serves canned pages keyed by URL path and records calls
type stubFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls []string
}

func (f *stubFetcher) Get(ctx context.Context, rawURL string) (*source.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	for suffix, err := range f.errs {
		if strings.HasSuffix(rawURL, suffix) {
			return nil, err
		}
	}
	for suffix, body := range f.pages {
		if strings.HasSuffix(rawURL, suffix) {
			return &source.Response{URL: rawURL, Status: 200, Body: []byte(body)}, nil
		}
	}
	return nil, &source.FetchError{Kind: source.KindNotFound, Status: 404}
}

func opts() Options {
	return Options{
		BaseURLs: map[string]string{
			Yahoo: "http://y", Google: "http://g", MarketWatch: "http://m", Investing: "http://i",
		},
		Now: func() time.Time { return fixedNow },
	}
}

func TestYahoo_Strategies(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{
			name: "app main json",
			page: "<script>root.App.main = {\"context\":{\"dispatcher\":{\"stores\":{\"QuoteSummaryStore\":{\"financialData\":{\"currentPrice\":{\"raw\":189.84,\"fmt\":\"189.84\"}}}}}}};\n</script>",
			want: "189.84",
		},
		{
			name: "symbol scoped streamer",
			page: `<fin-streamer data-symbol="^GSPC" data-field="regularMarketPrice">5,100.20</fin-streamer>
<fin-streamer data-symbol="AAPL" data-field="regularMarketPrice">150.00</fin-streamer>`,
			want: "150",
		},
		{
			name: "raw json fallback",
			page: `<div>{"regularMarketPrice":{"raw":0.001}} {"price":{"raw":42.5}}</div>`,
			want: "42.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &stubFetcher{pages: map[string]string{"/quote/AAPL": tt.page}}
			sample, err := NewYahoo(f, opts()).Fetch(context.Background(), "AAPL")
			require.NoError(t, err)
			assert.Equal(t, tt.want, sample.Price.String())
			assert.Equal(t, market.Symbol("AAPL"), sample.Symbol)
			assert.Equal(t, Yahoo, sample.SourceID)
			assert.Equal(t, fixedNow, sample.ObservedAt)
		})
	}
}

func TestYahoo_NoValidValueIsNotFound(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{"/quote/AAPL": `<div data-testid="qsp-price">0.00</div>`}}
	_, err := NewYahoo(f, opts()).Fetch(context.Background(), "AAPL")

	var fe *source.FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, source.KindNotFound, fe.Kind)
	assert.Equal(t, Yahoo, fe.Source)
	assert.Equal(t, market.Symbol("AAPL"), fe.Symbol)
}

func TestGoogle_TriesExchangeVariants(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{
		"/finance/quote/IBM:NYSE": `<div class="YMlKec fxKbKc">$187.32</div>`,
	}}
	sample, err := NewGoogle(f, opts()).Fetch(context.Background(), "IBM")
	require.NoError(t, err)
	assert.Equal(t, "187.32", sample.Price.String())
	assert.Equal(t, []string{
		"http://g/finance/quote/IBM:NASDAQ",
		"http://g/finance/quote/IBM:NYSE",
	}, f.calls)
}

func TestGoogle_BlockedStopsVariants(t *testing.T) {
	f := &stubFetcher{errs: map[string]error{
		":NASDAQ": &source.FetchError{Kind: source.KindBlocked, Status: 429},
	}}
	_, err := NewGoogle(f, opts()).Fetch(context.Background(), "IBM")
	assert.ErrorIs(t, err, source.ErrBlocked)
	assert.Len(t, f.calls, 1)
}

func TestMarketWatch_LowercasePath(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{
		"/investing/stock/msft": `<h2 class="intraday__price"><bg-quote class="value">415.50</bg-quote></h2>`,
	}}
	sample, err := NewMarketWatch(f, opts()).Fetch(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Equal(t, "415.5", sample.Price.String())
}

func TestInvesting_SearchThenQuote(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{
		"/search/?q=NVDA":       `<a href="/news/x">news</a><a href="/equities/nvidia-corp">NVIDIA</a>`,
		"/equities/nvidia-corp": `<div data-test="instrument-price-last">875.28</div>`,
	}}
	sample, err := NewInvesting(f, opts()).Fetch(context.Background(), "NVDA")
	require.NoError(t, err)
	assert.Equal(t, "875.28", sample.Price.String())
	assert.Equal(t, "http://i/equities/nvidia-corp", f.calls[1])
}

func TestInvesting_NoEquitiesLink(t *testing.T) {
	f := &stubFetcher{pages: map[string]string{"/search/?q=ZZZZ": `<p>no results</p>`}}
	_, err := NewInvesting(f, opts()).Fetch(context.Background(), "ZZZZ")
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestBuild(t *testing.T) {
	adapters, err := Build(nil, &stubFetcher{}, opts())
	require.NoError(t, err)
	var ids []string
	for _, a := range adapters {
		ids = append(ids, a.ID())
	}
	assert.Equal(t, DefaultOrder, ids)

	_, err = Build([]string{Yahoo, "bloomberg"}, &stubFetcher{}, opts())
	assert.Error(t, err)
	_, err = Build([]string{Yahoo, Yahoo}, &stubFetcher{}, opts())
	assert.Error(t, err)
}

func TestYahoo_ThroughPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote/TSLA" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<fin-streamer data-symbol="TSLA" data-field="regularMarketPrice">242.10</fin-streamer>`)
	}))
	defer srv.Close()

	cfg := policy.DefaultConfig()
	cfg.MinSpacing, cfg.MaxSpacing = 0, 0
	p := policy.New(cfg, nil)

	o := opts()
	o.BaseURLs[Yahoo] = srv.URL
	sample, err := NewYahoo(p, o).Fetch(context.Background(), "TSLA")
	require.NoError(t, err)
	assert.Equal(t, "242.1", sample.Price.String())
}
