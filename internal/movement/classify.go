// Package movement classifies fresh price samples against a recent baseline.
package movement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// BaselineMode selects how the reference price is derived from the window
type BaselineMode string

const (
	BaselineMean     BaselineMode = "mean"
	BaselineEarliest BaselineMode = "earliest"
)

// Policy is read once per classification
type Policy struct {
	ThresholdPct float64       `yaml:"threshold_pct" json:"threshold_pct"`
	Lookback     time.Duration `yaml:"lookback" json:"lookback"`
	Baseline     BaselineMode  `yaml:"baseline" json:"baseline"`
}

// DefaultPolicy flags a 2% move against the mean of the last five minutes
func DefaultPolicy() Policy {
	return Policy{ThresholdPct: 2.0, Lookback: 5 * time.Minute, Baseline: BaselineMean}
}

// Validate checks the policy is usable
func (p Policy) Validate() error {
	if p.ThresholdPct <= 0 {
		return fmt.Errorf("threshold_pct must be positive, got %v", p.ThresholdPct)
	}
	if p.Lookback <= 0 {
		return fmt.Errorf("lookback must be positive, got %s", p.Lookback)
	}
	switch p.Baseline {
	case BaselineMean, BaselineEarliest:
	default:
		return fmt.Errorf("baseline must be %q or %q, got %q", BaselineMean, BaselineEarliest, p.Baseline)
	}
	return nil
}

var hundred = decimal.NewFromInt(100)

// Classify compares sample against prior samples of the same symbol whose
// observedAt falls in [sample.ObservedAt-Lookback, sample.ObservedAt).
// Samples outside that window are ignored, so callers may pass a wider
// slice. With no baseline the result is ClassNone with Baseline false.
func Classify(prior []market.PriceSample, sample market.PriceSample, p Policy) market.MovementEvent {
	ev := market.MovementEvent{
		Symbol:         sample.Symbol,
		CurrentPrice:   sample.Price,
		Classification: market.ClassNone,
		DetectedAt:     sample.ObservedAt,
		SourceID:       sample.SourceID,
	}

	from := sample.ObservedAt.Add(-p.Lookback)
	var window []decimal.Decimal
	var earliest market.PriceSample
	for _, s := range prior {
		if s.Symbol != sample.Symbol || s.ObservedAt.Before(from) || !s.ObservedAt.Before(sample.ObservedAt) {
			continue
		}
		if len(window) == 0 || s.ObservedAt.Before(earliest.ObservedAt) {
			earliest = s
		}
		window = append(window, s.Price)
	}
	if len(window) == 0 {
		return ev
	}

	var ref decimal.Decimal
	switch p.Baseline {
	case BaselineEarliest:
		ref = earliest.Price
	default:
		ref = decimal.Avg(window[0], window[1:]...)
	}
	if !ref.IsPositive() {
		return ev
	}

	ev.Baseline = true
	ev.BaselineSamples = len(window)
	ev.ReferencePrice = ref
	change := sample.Price.Sub(ref).Div(ref).Mul(hundred)
	ev.ChangePercent = change.Round(6).InexactFloat64()

	// the threshold applies to the exact change, not the rounded report
	threshold := decimal.NewFromFloat(p.ThresholdPct)
	switch {
	case change.GreaterThanOrEqual(threshold):
		ev.Classification = market.ClassSignificantUp
	case change.LessThanOrEqual(threshold.Neg()):
		ev.Classification = market.ClassSignificantDown
	}
	return ev
}
