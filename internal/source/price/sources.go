package price

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/source"
)

// Options override adapter endpoints and the clock, mainly for tests
type Options struct {
	BaseURLs map[string]string
	Now      func() time.Time
}

var defaultBaseURLs = map[string]string{
	Yahoo:       "https://finance.yahoo.com",
	Google:      "https://www.google.com",
	MarketWatch: "https://www.marketwatch.com",
	Investing:   "https://www.investing.com",
}

func (o Options) base(id string) string {
	if b, ok := o.BaseURLs[id]; ok && b != "" {
		return strings.TrimRight(b, "/")
	}
	return defaultBaseURLs[id]
}

func (o Options) clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

var yahooStrategies = []source.Strategy{
	source.Structured("app-main", `(?s)root\.App\.main = (\{.*?\});\s*\n`,
		"context", "dispatcher", "stores", "QuoteSummaryStore", "financialData", "currentPrice"),
	source.Regex("symbol-market-price", `"symbol":"{{symbol}}".*?"regularMarketPrice":\{"raw":([0-9.]+)`),
	source.CSS("streamer", `fin-streamer[data-symbol="{{symbol}}"][data-field="regularMarketPrice"]`, ""),
	source.CSS("qsp-price-symbol", `[data-testid="qsp-price"][data-symbol="{{symbol}}"]`, ""),
	source.CSS("qsp-price", `[data-testid="qsp-price"]`, ""),
	source.Regex("market-price", `"regularMarketPrice":\{"raw":([0-9.]+)`),
	source.Regex("price-raw", `"price":\{"raw":([0-9.]+)`),
}

var googleStrategies = []source.Strategy{
	source.CSS("last-price-attr", `[data-last-price]`, "data-last-price"),
	source.CSS("price", `.YMlKec.fxKbKc`, ""),
	source.CSS("kf1m0", `.kf1m0`, ""),
	source.CSS("ip75Cb", `div[jsname="ip75Cb"]`, ""),
}

var marketWatchStrategies = []source.Strategy{
	source.CSS("meta-price", `meta[name="price"]`, "content"),
	source.CSS("intraday-value", `.intraday__price .value`, ""),
	source.CSS("bg-quote", `bg-quote .value`, ""),
	source.CSS("price-value", `.price .value`, ""),
	source.CSS("intraday-heading", `h2.intraday__price`, ""),
	source.CSS("price-class", `.price-value`, ""),
}

var investingStrategies = []source.Strategy{
	source.CSS("price-last", `[data-test="instrument-price-last"]`, ""),
	source.CSS("price-last-class", `.instrument-price_last__JQN7O`, ""),
	source.CSS("headline", `.text-2xl`, ""),
}

// NewYahoo reads the quote page's embedded data, then its price elements
func NewYahoo(f source.Fetcher, opts Options) source.PriceAdapter {
	base := opts.base(Yahoo)
	return &pageAdapter{
		id:      Yahoo,
		fetcher: f,
		urls: func(s market.Symbol) []string {
			return []string{base + "/quote/" + url.PathEscape(string(s))}
		},
		strategies: yahooStrategies,
		now:        opts.clock(),
	}
}

// NewGoogle tries the NASDAQ listing, then NYSE, then the bare symbol
func NewGoogle(f source.Fetcher, opts Options) source.PriceAdapter {
	base := opts.base(Google)
	return &pageAdapter{
		id:      Google,
		fetcher: f,
		urls: func(s market.Symbol) []string {
			sym := url.PathEscape(string(s))
			return []string{
				base + "/finance/quote/" + sym + ":NASDAQ",
				base + "/finance/quote/" + sym + ":NYSE",
				base + "/finance/quote/" + sym,
			}
		},
		strategies: googleStrategies,
		now:        opts.clock(),
	}
}

func NewMarketWatch(f source.Fetcher, opts Options) source.PriceAdapter {
	base := opts.base(MarketWatch)
	return &pageAdapter{
		id:      MarketWatch,
		fetcher: f,
		urls: func(s market.Symbol) []string {
			return []string{base + "/investing/stock/" + url.PathEscape(strings.ToLower(string(s)))}
		},
		strategies: marketWatchStrategies,
		now:        opts.clock(),
	}
}

// Build constructs adapters in the given priority order
func Build(order []string, f source.Fetcher, opts Options) ([]source.PriceAdapter, error) {
	if len(order) == 0 {
		order = DefaultOrder
	}
	adapters := make([]source.PriceAdapter, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			return nil, fmt.Errorf("price source %q listed twice", name)
		}
		seen[name] = true

		switch name {
		case Yahoo:
			adapters = append(adapters, NewYahoo(f, opts))
		case Google:
			adapters = append(adapters, NewGoogle(f, opts))
		case MarketWatch:
			adapters = append(adapters, NewMarketWatch(f, opts))
		case Investing:
			adapters = append(adapters, NewInvesting(f, opts))
		default:
			return nil, fmt.Errorf("unknown price source %q", name)
		}
	}
	return adapters, nil
}
