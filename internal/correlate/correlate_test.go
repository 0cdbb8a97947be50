package correlate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/news"
)

var detected = time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

func movement(sym market.Symbol) market.MovementEvent {
	return market.MovementEvent{
		ID:             "m1",
		Symbol:         sym,
		CurrentPrice:   decimal.RequireFromString("150.00"),
		ReferencePrice: decimal.RequireFromString("145.00"),
		ChangePercent:  3.448276,
		Classification: market.ClassSignificantUp,
		DetectedAt:     detected,
		Baseline:       true,
	}
}

func art(title, url string, published time.Time, syms ...market.Symbol) market.NewsArticle {
	return market.NewsArticle{ID: news.ArticleID(url), Title: title, URL: url, PublishedAt: published, MatchedSymbols: syms}
}

func TestRank_WindowBoundaryInclusive(t *testing.T) {
	w := 5 * time.Minute
	articles := []market.NewsArticle{
		art("Exactly at the lower edge", "https://x/edge", detected.Add(-w), "AAPL"),
		art("Just outside the lower edge", "https://x/out", detected.Add(-w-time.Nanosecond), "AAPL"),
		art("Exactly at the upper edge", "https://x/upper", detected.Add(w), "AAPL"),
	}

	res := Rank(movement("AAPL"), articles, w)
	require.Len(t, res.Candidates, 2)
	urls := []string{res.Candidates[0].Article.URL, res.Candidates[1].Article.URL}
	assert.ElementsMatch(t, []string{"https://x/edge", "https://x/upper"}, urls)
}

func TestCorrelate_ArticleTwoMinutesPrior(t *testing.T) {
	cache := news.NewCache(news.DefaultCacheConfig(), func() time.Time { return detected })
	cache.Merge(context.Background(), []market.NewsArticle{
		art("Apple unveils new product line", "https://x/apple", detected.Add(-2*time.Minute), "AAPL"),
		art("Tesla recall widens", "https://x/tsla", detected.Add(-time.Minute), "TSLA"),
		art("Apple supplier news from last week", "https://x/old", detected.Add(-time.Hour), "AAPL"),
	})

	c := New(cache, 0)
	res := c.Correlate(movement("AAPL"))

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "https://x/apple", res.Candidates[0].Article.URL)
	assert.Equal(t, 2*time.Minute, res.Candidates[0].Gap)
	assert.Greater(t, res.Confidence, 0.0)
	assert.LessOrEqual(t, res.Confidence, MaxConfidence)
	assert.True(t, res.HasCatalyst())
	assert.Equal(t, DefaultWindow, res.Window)
}

func TestCorrelate_NoCandidatesIsValid(t *testing.T) {
	cache := news.NewCache(news.DefaultCacheConfig(), func() time.Time { return detected })
	res := New(cache, time.Minute).Correlate(movement("NVDA"))

	assert.Empty(t, res.Candidates)
	assert.Zero(t, res.Confidence)
	assert.False(t, res.HasCatalyst())
	assert.Equal(t, "m1", res.Movement.ID)
}

func TestRank_OrderAndTieBreak(t *testing.T) {
	articles := []market.NewsArticle{
		art("Zeta headline", "https://x/z", detected.Add(-time.Minute), "AAPL"),
		art("Alpha headline", "https://x/b", detected.Add(time.Minute), "AAPL"),
		art("Alpha headline", "https://x/a", detected.Add(-time.Minute), "AAPL"),
		art("Closest headline", "https://x/c", detected.Add(-10*time.Second), "AAPL"),
	}

	res := Rank(movement("AAPL"), articles, 5*time.Minute)
	var got []string
	for _, c := range res.Candidates {
		got = append(got, c.Article.URL)
	}
	assert.Equal(t, []string{"https://x/c", "https://x/a", "https://x/b", "https://x/z"}, got)
	assert.Equal(t, -time.Minute, res.Candidates[2].Gap, "articles after the move have negative gap")
}

func TestConfidence_Monotonic(t *testing.T) {
	w := 5 * time.Minute
	assert.Zero(t, Confidence(0, 0, w))

	// more articles, same gap
	for n := 1; n < 10; n++ {
		assert.Greater(t, Confidence(n+1, time.Minute, w), Confidence(n, time.Minute, w))
	}
	// closer articles, same count
	assert.Greater(t, Confidence(2, 30*time.Second, w), Confidence(2, 3*time.Minute, w))

	assert.LessOrEqual(t, Confidence(1000, 0, w), MaxConfidence)
}

func TestCorrelator_SetWindow(t *testing.T) {
	c := New(news.NewCache(news.DefaultCacheConfig(), nil), time.Minute)
	assert.Error(t, c.SetWindow(0))
	require.NoError(t, c.SetWindow(10*time.Minute))
	assert.Equal(t, 10*time.Minute, c.Window())
}
