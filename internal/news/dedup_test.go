package news

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	assert.Equal(t, "apple stock rises 5 on earnings", NormalizeTitle("  Apple Stock Rises 5% on Earnings!! "))
	assert.Equal(t, "", NormalizeTitle("?!"))
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"http://www.example.com/a/b/", "https://example.com/a/b"},
		{"https://example.com/a?utm_source=x&id=7#top", "https://example.com/a?id=7"},
		{"https://EXAMPLE.com/a?mod=rss", "https://example.com/a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestArticleID_StableAcrossTracking(t *testing.T) {
	a := ArticleID("https://example.com/story?utm_campaign=feed")
	b := ArticleID("http://www.example.com/story/")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, ArticleID("https://example.com/other"))
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Apple stock rises on earnings", "APPLE stock rises on earnings!"))
	assert.GreaterOrEqual(t, Similarity("Apple stock rises on strong earnings", "Apple stock rises on strong earning"), DefaultSimilarity)
	assert.Less(t, Similarity("Apple stock rises", "Tesla recalls vehicles"), DefaultSimilarity)
	assert.Zero(t, Similarity("", ""))
}

func TestSimilarAtLeast_LengthPrune(t *testing.T) {
	assert.False(t, similarAtLeast("short title", "a much much longer title than the other", 0.9))
	assert.True(t, similarAtLeast("same words here", "same words here", 0.9))
}
