package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/source"
)

// Attempt records one adapter failure inside a chain invocation
type Attempt struct {
	Source   string        `json:"source"`
	Kind     source.Kind   `json:"kind"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// AllSourcesFailedError is the only error a PriceChain returns. Attempts
// are in priority order.
type AllSourcesFailedError struct {
	Chain    string
	Symbol   market.Symbol
	Attempts []Attempt
}

func (e *AllSourcesFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Source + ":" + string(a.Kind)
	}
	return fmt.Sprintf("all sources failed for %s (%d attempts: %s)",
		e.Symbol, len(e.Attempts), strings.Join(parts, ", "))
}

// Observer receives chain events for metrics and diagnostics
type Observer interface {
	OnAttempt(sourceID string, symbol market.Symbol, kind source.Kind, d time.Duration)
	OnSuccess(sourceID string, symbol market.Symbol, attempts int, d time.Duration)
	OnAllFailed(err *AllSourcesFailedError)
}

// PriceChain tries price adapters strictly in their configured order and
// returns the first valid sample. Order never changes at runtime.
type PriceChain struct {
	name     string
	adapters []source.PriceAdapter

	mu       sync.RWMutex
	observer Observer
}

// NewPriceChain creates a chain over adapters in priority order
func NewPriceChain(name string, adapters []source.PriceAdapter) *PriceChain {
	if len(adapters) == 0 {
		panic("price chain must have at least one adapter")
	}
	return &PriceChain{
		name:     name,
		adapters: append([]source.PriceAdapter(nil), adapters...),
	}
}

// SetObserver installs the chain observer
func (pc *PriceChain) SetObserver(o Observer) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.observer = o
}

// Sources returns adapter ids in priority order
func (pc *PriceChain) Sources() []string {
	ids := make([]string, len(pc.adapters))
	for i, a := range pc.adapters {
		ids[i] = a.ID()
	}
	return ids
}

// FetchWithFallback invokes each adapter once, in order, until one
// succeeds. Adapters after the first success are never called. A cancelled
// ctx ends the chain early; the adapters not reached are not recorded.
func (pc *PriceChain) FetchWithFallback(ctx context.Context, symbol market.Symbol) (market.PriceSample, error) {
	pc.mu.RLock()
	obs := pc.observer
	pc.mu.RUnlock()

	attempts := make([]Attempt, 0, len(pc.adapters))
	for _, adapter := range pc.adapters {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		sample, err := adapter.Fetch(ctx, symbol)
		duration := time.Since(start)

		if err == nil {
			err = sample.Validate()
			if err != nil {
				err = &source.FetchError{Source: adapter.ID(), Symbol: symbol, Kind: source.KindNotFound, Err: err}
			}
		}
		if err == nil {
			if obs != nil {
				obs.OnSuccess(adapter.ID(), symbol, len(attempts)+1, duration)
			}
			return sample, nil
		}

		kind := source.KindOf(err)
		attempts = append(attempts, Attempt{Source: adapter.ID(), Kind: kind, Duration: duration, Err: err})
		if obs != nil {
			obs.OnAttempt(adapter.ID(), symbol, kind, duration)
		}
		log.Warn().
			Str("chain", pc.name).
			Str("source", adapter.ID()).
			Str("symbol", string(symbol)).
			Str("kind", string(kind)).
			Dur("duration", duration).
			Err(err).
			Msg("Price source failed")
	}

	failure := &AllSourcesFailedError{Chain: pc.name, Symbol: symbol, Attempts: attempts}
	if obs != nil {
		obs.OnAllFailed(failure)
	}
	return market.PriceSample{}, failure
}
