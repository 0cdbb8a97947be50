// Package source defines the adapter contracts shared by price and news
// sources, the failure taxonomy, and the extraction strategy cascade.
package source

import (
	"context"
	"net/http"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// Response is a successful (2xx, non-interstitial) page fetch
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher performs one outbound GET under the anti-blocking policy.
// Non-success responses come back as *FetchError.
type Fetcher interface {
	Get(ctx context.Context, url string) (*Response, error)
}

// PriceAdapter fetches one quote from one external source. Implementations
// are stateless and safe to retry.
type PriceAdapter interface {
	ID() string
	Fetch(ctx context.Context, symbol market.Symbol) (market.PriceSample, error)
}

// NewsAdapter returns the source's current headline list, possibly empty
type NewsAdapter interface {
	ID() string
	FetchRecent(ctx context.Context) ([]market.NewsArticle, error)
}
