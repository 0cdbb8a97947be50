// Package correlate attaches recent news to detected price movements.
package correlate

import (
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/news"
)

const (
	// DefaultWindow is W in [detectedAt-W, detectedAt+W]
	DefaultWindow = 5 * time.Minute
	// MaxConfidence caps the confidence of any correlation
	MaxConfidence = 0.95
)

// ArticleSource is the part of the news cache the correlator reads
type ArticleSource interface {
	Window(symbol market.Symbol, from, to time.Time) []market.NewsArticle
}

var _ ArticleSource = (*news.Cache)(nil)

// Correlator queries the news cache around each movement. The window can
// be replaced at runtime; each call reads it once.
type Correlator struct {
	articles ArticleSource
	window   atomic.Int64
}

// New creates a correlator over articles with window W
func New(articles ArticleSource, window time.Duration) *Correlator {
	c := &Correlator{articles: articles}
	if window <= 0 {
		window = DefaultWindow
	}
	c.window.Store(int64(window))
	return c
}

// Window returns the current correlation half-width
func (c *Correlator) Window() time.Duration { return time.Duration(c.window.Load()) }

// SetWindow swaps the correlation half-width
func (c *Correlator) SetWindow(w time.Duration) error {
	if w <= 0 {
		return fmt.Errorf("correlation window must be positive, got %s", w)
	}
	c.window.Store(int64(w))
	return nil
}

// Correlate returns the articles around the movement, closest first. Zero
// candidates is a valid result with confidence 0.
func (c *Correlator) Correlate(ev market.MovementEvent) market.CorrelationResult {
	w := c.Window()
	arts := c.articles.Window(ev.Symbol, ev.DetectedAt.Add(-w), ev.DetectedAt.Add(w))
	return Rank(ev, arts, w)
}

// Rank is the pure ranking step: it filters articles to the closed window
// and symbol, orders them by absolute gap then title then URL, and scores
// confidence.
func Rank(ev market.MovementEvent, articles []market.NewsArticle, w time.Duration) market.CorrelationResult {
	from, to := ev.DetectedAt.Add(-w), ev.DetectedAt.Add(w)

	var cands []market.Candidate
	for _, a := range articles {
		if a.PublishedAt.Before(from) || a.PublishedAt.After(to) || !a.Matches(ev.Symbol) {
			continue
		}
		cands = append(cands, market.Candidate{
			Article:   a,
			Gap:       ev.DetectedAt.Sub(a.PublishedAt),
			Relevance: news.Relevance(a, ev.Symbol),
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		gi, gj := absDuration(cands[i].Gap), absDuration(cands[j].Gap)
		if gi != gj {
			return gi < gj
		}
		if cands[i].Article.Title != cands[j].Article.Title {
			return cands[i].Article.Title < cands[j].Article.Title
		}
		return cands[i].Article.URL < cands[j].Article.URL
	})

	res := market.CorrelationResult{Movement: ev, Candidates: cands, Window: w}
	if len(cands) > 0 {
		res.Confidence = Confidence(len(cands), absDuration(cands[0].Gap), w)
	}
	return res
}

// Confidence grows with the candidate count and shrinks with the smallest
// gap, halving every W/2. It is 0 for no candidates and never exceeds
// MaxConfidence.
func Confidence(n int, minGap, w time.Duration) float64 {
	if n <= 0 || w <= 0 {
		return 0
	}
	countTerm := 1 - math.Exp(-float64(n)/2)
	gapTerm := math.Pow(2, -minGap.Seconds()/(w.Seconds()/2))
	return MaxConfidence * (countTerm + gapTerm) / 2
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
