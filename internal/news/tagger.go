// Package news merges headlines from every news adapter into one
// deduplicated, symbol-tagged rolling cache.
package news

import (
	"regexp"
	"sort"
	"strings"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// DefaultAliases maps the default tracked symbols to company, product and
// executive names
var DefaultAliases = map[market.Symbol][]string{
	"AAPL":  {"Apple", "Apple Inc", "iPhone", "iPad", "MacBook", "Tim Cook"},
	"MSFT":  {"Microsoft", "Azure", "Satya Nadella"},
	"GOOGL": {"Google", "Alphabet", "YouTube", "Android", "Sundar Pichai"},
	"AMZN":  {"Amazon", "Amazon.com", "AWS", "Jeff Bezos", "Andy Jassy"},
	"TSLA":  {"Tesla", "Elon Musk", "Model S", "Model 3", "Model Y", "Cybertruck"},
	"META":  {"Meta Platforms", "Facebook", "Instagram", "WhatsApp", "Mark Zuckerberg", "Metaverse"},
	"NVDA":  {"NVIDIA", "Jensen Huang", "AI chips"},
	"NFLX":  {"Netflix", "Reed Hastings"},
	"AMD":   {"Advanced Micro Devices", "Lisa Su", "Ryzen", "Radeon"},
	"INTC":  {"Intel", "Pat Gelsinger"},
	"UBER":  {"Uber", "Dara Khosrowshahi"},
	"COIN":  {"Coinbase", "crypto exchange"},
	"PLTR":  {"Palantir", "Alex Karp"},
	"SNOW":  {"Snowflake", "data warehouse"},
	"ZM":    {"Zoom Video", "Eric Yuan"},
}

// DefaultSymbols returns the symbols of DefaultAliases, sorted
func DefaultSymbols() []market.Symbol {
	out := make([]market.Symbol, 0, len(DefaultAliases))
	for s := range DefaultAliases {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type matcher struct {
	symbol market.Symbol
	ticker *regexp.Regexp // case-sensitive, optional cashtag
	alias  *regexp.Regexp // case-insensitive, nil without aliases
}

// Tagger attaches symbols to articles by whole-word keyword matching.
// Tickers match case-sensitively so "META" does not fire on "meta".
type Tagger struct {
	matchers []matcher
}

// NewTagger builds a tagger for symbols, using aliases where known
func NewTagger(symbols []market.Symbol, aliases map[market.Symbol][]string) *Tagger {
	t := &Tagger{}
	seen := make(map[market.Symbol]bool)
	for _, sym := range symbols {
		if seen[sym] || sym == "" {
			continue
		}
		seen[sym] = true

		m := matcher{
			symbol: sym,
			ticker: regexp.MustCompile(`(?:^|[^\w$])\$?` + regexp.QuoteMeta(string(sym)) + `\b`),
		}
		if names := aliases[sym]; len(names) > 0 {
			quoted := make([]string, len(names))
			for i, n := range names {
				quoted[i] = regexp.QuoteMeta(n)
			}
			m.alias = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		}
		t.matchers = append(t.matchers, m)
	}
	sort.Slice(t.matchers, func(i, j int) bool { return t.matchers[i].symbol < t.matchers[j].symbol })
	return t
}

// Match returns the sorted symbols mentioned in text
func (t *Tagger) Match(text string) []market.Symbol {
	var out []market.Symbol
	for _, m := range t.matchers {
		if m.ticker.MatchString(text) || (m.alias != nil && m.alias.MatchString(text)) {
			out = append(out, m.symbol)
		}
	}
	return out
}

// Tag sets MatchedSymbols from the article's title and summary, keeping
// any symbols already present
func (t *Tagger) Tag(a *market.NewsArticle) {
	found := t.Match(a.Title + "\n" + a.Summary)
	a.MatchedSymbols = unionSymbols(a.MatchedSymbols, found)
}

func unionSymbols(a, b []market.Symbol) []market.Symbol {
	set := make(map[market.Symbol]struct{}, len(a)+len(b))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		set[s] = struct{}{}
	}
	out := make([]market.Symbol, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
