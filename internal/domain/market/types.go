package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Price bounds for a plausible quote. Both ends are exclusive.
var (
	MinPrice = decimal.RequireFromString("0.01")
	MaxPrice = decimal.NewFromInt(100000)
)

// Symbol is an upper-case ticker identifier
type Symbol string

// NormalizeSymbol trims and upper-cases a raw ticker
func NormalizeSymbol(raw string) Symbol {
	return Symbol(strings.ToUpper(strings.TrimSpace(raw)))
}

// Validate checks the symbol is non-empty and uses ticker characters only
func (s Symbol) Validate() error {
	if s == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	for _, r := range string(s) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '^':
		default:
			return fmt.Errorf("symbol %q contains invalid character %q", string(s), r)
		}
	}
	return nil
}

func (s Symbol) String() string { return string(s) }

// PriceSample is one validated quote observation
type PriceSample struct {
	Symbol     Symbol          `json:"symbol"`
	Price      decimal.Decimal `json:"price"`
	ObservedAt time.Time       `json:"observed_at"`
	SourceID   string          `json:"source_id"`
}

// Validate enforces the plausibility invariant; rejected samples are never stored
func (p PriceSample) Validate() error {
	if err := p.Symbol.Validate(); err != nil {
		return err
	}
	if !ValidPrice(p.Price) {
		return fmt.Errorf("price %s for %s outside (%s, %s)", p.Price, p.Symbol, MinPrice, MaxPrice)
	}
	if p.ObservedAt.IsZero() {
		return fmt.Errorf("sample for %s has zero observed_at", p.Symbol)
	}
	return nil
}

// ValidPrice reports whether v lies strictly inside (MinPrice, MaxPrice)
func ValidPrice(v decimal.Decimal) bool {
	return v.GreaterThan(MinPrice) && v.LessThan(MaxPrice)
}

// Classification of a movement against the threshold
type Classification string

const (
	ClassNone            Classification = "none"
	ClassSignificantUp   Classification = "significant_up"
	ClassSignificantDown Classification = "significant_down"
)

// Significant reports whether the classification crossed the threshold
func (c Classification) Significant() bool {
	return c == ClassSignificantUp || c == ClassSignificantDown
}

// MovementEvent is the immutable result of classifying one sample.
// Prices are copies taken at detection time, not references into history.
type MovementEvent struct {
	ID              string          `json:"id"`
	Symbol          Symbol          `json:"symbol"`
	CurrentPrice    decimal.Decimal `json:"current_price"`
	ReferencePrice  decimal.Decimal `json:"reference_price"`
	ChangePercent   float64         `json:"change_percent"`
	Classification  Classification  `json:"classification"`
	DetectedAt      time.Time       `json:"detected_at"`
	SourceID        string          `json:"source_id"`
	Baseline        bool            `json:"baseline"`
	BaselineSamples int             `json:"baseline_samples"`
}

// Sentiment derived from impact keywords
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// NewsArticle is one deduplicated, symbol-tagged headline
type NewsArticle struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Summary        string    `json:"summary,omitempty"`
	SourceID       string    `json:"source_id"`
	PublishedAt    time.Time `json:"published_at"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
	MatchedSymbols []Symbol  `json:"matched_symbols"`
	Sentiment      Sentiment `json:"sentiment,omitempty"`
	ImpactKeywords []string  `json:"impact_keywords,omitempty"`
}

// Matches reports whether the article was tagged with symbol
func (a NewsArticle) Matches(symbol Symbol) bool {
	for _, s := range a.MatchedSymbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with a
func (a NewsArticle) Clone() NewsArticle {
	out := a
	out.MatchedSymbols = append([]Symbol(nil), a.MatchedSymbols...)
	out.ImpactKeywords = append([]string(nil), a.ImpactKeywords...)
	return out
}

// Candidate is a correlated article with its distance to the movement
type Candidate struct {
	Article   NewsArticle   `json:"article"`
	Gap       time.Duration `json:"gap"`
	Relevance float64       `json:"relevance"`
}

// CorrelationResult attaches candidate news to a movement.
// Zero candidates means an unusual move without a visible catalyst.
type CorrelationResult struct {
	Movement   MovementEvent `json:"movement"`
	Candidates []Candidate   `json:"candidates"`
	Confidence float64       `json:"confidence"`
	Window     time.Duration `json:"window"`
}

// HasCatalyst reports whether any article was correlated
func (c CorrelationResult) HasCatalyst() bool { return len(c.Candidates) > 0 }

// Explanation returned by the external explanation collaborator
type Explanation struct {
	MovementID string    `json:"movement_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	ReceivedAt time.Time `json:"received_at"`
}

// MovementRecord is the enriched output handed to downstream consumers
type MovementRecord struct {
	Movement    MovementEvent     `json:"movement"`
	Correlation CorrelationResult `json:"correlation"`
}
