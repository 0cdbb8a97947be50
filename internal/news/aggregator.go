package news

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/source"
)

// AdapterObserver receives one call per adapter per collection pass
type AdapterObserver interface {
	OnNewsFetch(sourceID string, articles int, kind source.Kind, d time.Duration)
}

// CollectResult summarises one aggregation pass
type CollectResult struct {
	Fetched  int
	Added    int
	Merged   int
	Evicted  int
	Failed   map[string]source.Kind
	Articles []market.NewsArticle // merged view of this pass
}

// Aggregator fetches every news adapter, tags and deduplicates the
// results and merges them into the shared cache
type Aggregator struct {
	cache       *Cache
	tagger      *Tagger
	concurrency int
	observer    AdapterObserver
}

// NewAggregator wires a tagger to a cache. concurrency <= 0 fetches all
// adapters at once.
func NewAggregator(cache *Cache, tagger *Tagger, concurrency int) *Aggregator {
	return &Aggregator{cache: cache, tagger: tagger, concurrency: concurrency}
}

// SetObserver installs a per-adapter observer
func (a *Aggregator) SetObserver(o AdapterObserver) { a.observer = o }

// Cache returns the backing cache
func (a *Aggregator) Cache() *Cache { return a.cache }

type fetched struct {
	articles []market.NewsArticle
	err      error
}

// Collect runs one pass over adapters. A failing adapter is logged and
// skipped; Collect only errors when ctx is done before any merge.
func (a *Aggregator) Collect(ctx context.Context, adapters []source.NewsAdapter) (CollectResult, error) {
	results := make([]fetched, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	if a.concurrency > 0 {
		g.SetLimit(a.concurrency)
	}
	for i, ad := range adapters {
		i, ad := i, ad
		g.Go(func() error {
			start := time.Now()
			arts, err := ad.FetchRecent(gctx)
			results[i] = fetched{articles: arts, err: err}
			if a.observer != nil {
				var kind source.Kind
				if err != nil {
					kind = source.KindOf(err)
				}
				a.observer.OnNewsFetch(ad.ID(), len(arts), kind, time.Since(start))
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return CollectResult{}, err
	}

	res := CollectResult{Failed: make(map[string]source.Kind)}
	var batch []market.NewsArticle
	// adapter order decides which copy is seen first
	for i, r := range results {
		id := adapters[i].ID()
		if r.err != nil {
			kind := source.KindOf(r.err)
			res.Failed[id] = kind
			log.Warn().Err(r.err).Str("source", id).Str("kind", string(kind)).
				Msg("News source failed, skipping")
			continue
		}
		for _, art := range r.articles {
			art = art.Clone()
			if art.SourceID == "" {
				art.SourceID = id
			}
			art.ID = ArticleID(art.URL)
			a.tagger.Tag(&art)
			art.Sentiment, art.ImpactKeywords = Score(art.Title + " " + art.Summary)
			batch = append(batch, art)
		}
		res.Fetched += len(r.articles)
	}

	merged, stats := a.cache.Merge(ctx, batch)
	res.Added, res.Merged, res.Evicted = stats.Added, stats.Merged, stats.Evicted
	res.Articles = merged

	log.Debug().Int("fetched", res.Fetched).Int("added", res.Added).Int("merged", res.Merged).
		Int("failed", len(res.Failed)).Int("cached", a.cache.Len()).Msg("News collected")
	return res, nil
}
