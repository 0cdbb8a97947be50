package news

import (
	"strings"

	"github.com/sawpanic/moverun/internal/domain/market"
)

var (
	positiveKeywords = []string{
		"earnings beat", "profit surge", "revenue growth", "breakthrough",
		"partnership", "acquisition", "expansion", "innovation", "upgrade",
		"bullish", "outperform", "strong results", "record high",
	}
	negativeKeywords = []string{
		"earnings miss", "profit decline", "revenue drop", "lawsuit",
		"investigation", "scandal", "layoffs", "downgrade", "bearish",
		"underperform", "weak results", "concerns", "risks",
	}
)

// Score returns the impact keywords found in text and the sentiment their
// balance implies
func Score(text string) (market.Sentiment, []string) {
	lower := strings.ToLower(text)
	var found []string
	pos, neg := 0, 0
	for _, k := range positiveKeywords {
		if strings.Contains(lower, k) {
			found = append(found, k)
			pos++
		}
	}
	for _, k := range negativeKeywords {
		if strings.Contains(lower, k) {
			found = append(found, k)
			neg++
		}
	}
	switch {
	case pos > neg:
		return market.SentimentPositive, found
	case neg > pos:
		return market.SentimentNegative, found
	default:
		return market.SentimentNeutral, found
	}
}

// Relevance scores how strongly an article speaks to symbol: a base for
// being tagged, a boost when the ticker itself appears, and a small boost
// per impact keyword. Capped at 1.
func Relevance(a market.NewsArticle, symbol market.Symbol) float64 {
	if !a.Matches(symbol) {
		return 0
	}
	r := 0.5
	if strings.Contains(a.Title+" "+a.Summary, string(symbol)) {
		r += 0.2
	}
	r += 0.1 * float64(len(a.ImpactKeywords))
	if r > 1 {
		r = 1
	}
	return r
}
