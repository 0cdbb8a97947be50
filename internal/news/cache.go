package news

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/ring"
)

// CacheConfig bounds the rolling article cache
type CacheConfig struct {
	Capacity   int
	MaxAge     time.Duration // measured from first sight
	Similarity float64
}

// DefaultCacheConfig keeps six hours or 2000 articles, whichever is smaller
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{Capacity: 2000, MaxAge: 6 * time.Hour, Similarity: DefaultSimilarity}
}

// Mirror persists merged articles outside the process
type Mirror interface {
	Save(ctx context.Context, articles []market.NewsArticle) error
}

// MergeStats reports what one merge did
type MergeStats struct {
	Added   int
	Merged  int
	Evicted int
}

type cached struct {
	article   market.NewsArticle
	normTitle string
	normURL   string
}

// Cache is the shared rolling store consulted by correlation. All access
// goes through one mutex that is never held across I/O.
type Cache struct {
	cfg CacheConfig
	now func() time.Time

	mu      sync.RWMutex
	order   *ring.Buffer[string] // ids in first-seen order
	byID    map[string]*cached
	byURL   map[string]string
	byTitle map[string]string

	mirror Mirror
}

// NewCache creates an empty cache. now may be nil.
func NewCache(cfg CacheConfig, now func() time.Time) *Cache {
	def := DefaultCacheConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.Similarity <= 0 || cfg.Similarity > 1 {
		cfg.Similarity = def.Similarity
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{
		cfg:     cfg,
		now:     now,
		order:   ring.New[string](cfg.Capacity),
		byID:    make(map[string]*cached),
		byURL:   make(map[string]string),
		byTitle: make(map[string]string),
	}
}

// SetMirror installs an external mirror written after each merge
func (c *Cache) SetMirror(m Mirror) {
	c.mu.Lock()
	c.mirror = m
	c.mu.Unlock()
}

// findDuplicate must be called with mu held
func (c *Cache) findDuplicate(normURL, normTitle string) *cached {
	if id, ok := c.byURL[normURL]; ok {
		return c.byID[id]
	}
	if normTitle == "" {
		return nil
	}
	if id, ok := c.byTitle[normTitle]; ok {
		return c.byID[id]
	}
	var best *cached
	c.order.Do(func(id string) bool {
		e := c.byID[id]
		if similarAtLeast(normTitle, e.normTitle, c.cfg.Similarity) {
			best = e
			return false
		}
		return true
	})
	return best
}

// Merge folds articles into the cache. Duplicates keep the earliest-seen
// copy's metadata and gain the union of matched symbols. Returns the
// articles as stored after merging, in input order without repeats.
func (c *Cache) Merge(ctx context.Context, articles []market.NewsArticle) ([]market.NewsArticle, MergeStats) {
	return c.merge(ctx, articles, true)
}

func (c *Cache) merge(ctx context.Context, articles []market.NewsArticle, mirrored bool) ([]market.NewsArticle, MergeStats) {
	var stats MergeStats
	var touched []string
	seen := make(map[string]bool)

	c.mu.Lock()
	stats.Evicted += c.evictLocked()
	cutoff := c.now().Add(-c.cfg.MaxAge)
	for _, a := range articles {
		if !a.FirstSeenAt.IsZero() && a.FirstSeenAt.Before(cutoff) {
			continue
		}
		normURL := NormalizeURL(a.URL)
		normTitle := NormalizeTitle(a.Title)

		if dup := c.findDuplicate(normURL, normTitle); dup != nil {
			dup.article.MatchedSymbols = unionSymbols(dup.article.MatchedSymbols, a.MatchedSymbols)
			if _, ok := c.byURL[normURL]; !ok {
				c.byURL[normURL] = dup.article.ID
			}
			stats.Merged++
			if !seen[dup.article.ID] {
				seen[dup.article.ID] = true
				touched = append(touched, dup.article.ID)
			}
			continue
		}

		stored := a.Clone()
		stored.ID = ArticleID(a.URL)
		if stored.FirstSeenAt.IsZero() {
			stored.FirstSeenAt = c.now()
		}
		e := &cached{article: stored, normTitle: normTitle, normURL: normURL}
		if old, evicted := c.order.Push(stored.ID); evicted {
			c.dropLocked(old)
			stats.Evicted++
		}
		c.byID[stored.ID] = e
		c.byURL[normURL] = stored.ID
		if normTitle != "" {
			c.byTitle[normTitle] = stored.ID
		}
		stats.Added++
		seen[stored.ID] = true
		touched = append(touched, stored.ID)
	}

	out := make([]market.NewsArticle, 0, len(touched))
	for _, id := range touched {
		if e, ok := c.byID[id]; ok {
			out = append(out, e.article.Clone())
		}
	}
	mirror := c.mirror
	c.mu.Unlock()

	if mirrored && mirror != nil && len(out) > 0 {
		if err := mirror.Save(ctx, out); err != nil {
			log.Warn().Err(err).Int("articles", len(out)).Msg("News mirror write failed")
		}
	}
	return out, stats
}

// evictLocked drops entries first seen more than MaxAge ago
func (c *Cache) evictLocked() int {
	cutoff := c.now().Add(-c.cfg.MaxAge)
	n := 0
	for {
		id, ok := c.order.Oldest()
		if !ok {
			return n
		}
		e := c.byID[id]
		if e != nil && !e.article.FirstSeenAt.Before(cutoff) {
			return n
		}
		c.order.DropOldest(1)
		c.dropLocked(id)
		n++
	}
}

func (c *Cache) dropLocked(id string) {
	e, ok := c.byID[id]
	if !ok {
		return
	}
	delete(c.byID, id)
	for u, ref := range c.byURL {
		if ref == id {
			delete(c.byURL, u)
		}
	}
	if c.byTitle[e.normTitle] == id {
		delete(c.byTitle, e.normTitle)
	}
}

// Window returns copies of articles tagged with symbol whose publishedAt
// lies in the closed interval [from, to], oldest first
func (c *Cache) Window(symbol market.Symbol, from, to time.Time) []market.NewsArticle {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []market.NewsArticle
	for _, e := range c.byID {
		p := e.article.PublishedAt
		if p.Before(from) || p.After(to) || !e.article.Matches(symbol) {
			continue
		}
		out = append(out, e.article.Clone())
	}
	sortByPublished(out)
	return out
}

// Recent returns up to limit articles, newest first. An empty symbol
// returns articles for every symbol, tagged or not.
func (c *Cache) Recent(symbol market.Symbol, limit int) []market.NewsArticle {
	c.mu.RLock()
	var out []market.NewsArticle
	for _, e := range c.byID {
		if symbol != "" && !e.article.Matches(symbol) {
			continue
		}
		out = append(out, e.article.Clone())
	}
	c.mu.RUnlock()

	sortByPublished(out)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len returns the number of cached articles
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

func sortByPublished(a []market.NewsArticle) {
	sort.Slice(a, func(i, j int) bool {
		if !a[i].PublishedAt.Equal(a[j].PublishedAt) {
			return a[i].PublishedAt.Before(a[j].PublishedAt)
		}
		return a[i].ID < a[j].ID
	})
}
