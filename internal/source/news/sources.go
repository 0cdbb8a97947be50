package news

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sawpanic/moverun/internal/source"
)

// Adapter IDs
const (
	Reuters     = "reuters"
	YahooNews   = "yahoo_news"
	MarketWatch = "marketwatch_news"
	CNN         = "cnn"
	Bloomberg   = "bloomberg"
)

// DefaultSources lists every news adapter
var DefaultSources = []string{Reuters, YahooNews, MarketWatch, CNN, Bloomberg}

// Options override listing URLs and the clock
type Options struct {
	PageURLs map[string]string
	Now      func() time.Time
}

type listing struct {
	pageURL       string
	itemSelectors []string
	linkPattern   string
	limit         int
}

var listings = map[string]listing{
	Reuters: {
		pageURL: "https://www.reuters.com/business/",
		itemSelectors: []string{
			`article[data-testid="ArticleCard"]`,
			`.story-collection__item`,
			`[data-module="ArticleCard"]`,
			`article`,
			`.story-card`,
			`[data-testid*="article"]`,
			`.media-story-card`,
		},
		linkPattern: `/(business|markets|technology)/.*\d{4}`,
		limit:       15,
	},
	YahooNews: {
		pageURL: "https://finance.yahoo.com/news/",
		itemSelectors: []string{
			`div[data-test-locator="mega"] li`,
			`div[data-module="stream"] li`,
			`.js-stream-content li`,
			`[data-module="StreamStore"] li`,
			`ul[data-module="stream"] li`,
			`article`,
			`.story-item`,
		},
		linkPattern: `/news/[a-z0-9-]+\.html`,
		limit:       20,
	},
	MarketWatch: {
		pageURL: "https://www.marketwatch.com/latest-news",
		itemSelectors: []string{
			`.collection__element`,
			`.article__content`,
			`div[data-module="ArticleCard"]`,
		},
		linkPattern: `/story/`,
		limit:       15,
	},
	CNN: {
		pageURL: "https://www.cnn.com/business",
		itemSelectors: []string{
			`[data-module-name="card-media-over-text"]`,
			`.container__headline`,
			`article`,
		},
		linkPattern: `/\d{4}/\d{2}/\d{2}/business/`,
		limit:       15,
	},
	Bloomberg: {
		pageURL:     "https://www.bloomberg.com/markets",
		linkPattern: `/news/articles/`,
		limit:       10,
	},
}

// New builds the named news adapter
func New(name string, f source.Fetcher, opts Options) (source.NewsAdapter, error) {
	sp, ok := listings[name]
	if !ok {
		return nil, fmt.Errorf("unknown news source %q", name)
	}
	pageURL := sp.pageURL
	if u, ok := opts.PageURLs[name]; ok && u != "" {
		pageURL = u
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	a := &listAdapter{
		id:            name,
		fetcher:       f,
		pageURL:       pageURL,
		itemSelectors: sp.itemSelectors,
		limit:         sp.limit,
		now:           now,
	}
	if sp.linkPattern != "" {
		a.linkPattern = regexp.MustCompile(sp.linkPattern)
	}
	return a, nil
}

// Build constructs the named adapters; an empty list builds all of them
func Build(names []string, f source.Fetcher, opts Options) ([]source.NewsAdapter, error) {
	if len(names) == 0 {
		names = DefaultSources
	}
	out := make([]source.NewsAdapter, 0, len(names))
	for _, n := range names {
		a, err := New(strings.TrimSpace(n), f, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
