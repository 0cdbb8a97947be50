package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/source"
)

type mockAdapter struct {
	id    string
	price string
	kind  source.Kind

	mu    sync.Mutex
	calls int
}

func (m *mockAdapter) ID() string { return m.id }

func (m *mockAdapter) Fetch(ctx context.Context, symbol market.Symbol) (market.PriceSample, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.kind != "" {
		return market.PriceSample{}, &source.FetchError{Source: m.id, Symbol: symbol, Kind: m.kind}
	}
	return market.PriceSample{
		Symbol:     symbol,
		Price:      decimal.RequireFromString(m.price),
		ObservedAt: time.Now(),
		SourceID:   m.id,
	}, nil
}

func (m *mockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type countingObserver struct {
	attempts  int
	successes int
	failures  []*AllSourcesFailedError
}

func (o *countingObserver) OnAttempt(string, market.Symbol, source.Kind, time.Duration) { o.attempts++ }
func (o *countingObserver) OnSuccess(string, market.Symbol, int, time.Duration)         { o.successes++ }
func (o *countingObserver) OnAllFailed(err *AllSourcesFailedError) {
	o.failures = append(o.failures, err)
}

func TestPriceChain_FetchWithFallback(t *testing.T) {
	t.Run("first_adapter_succeeds", func(t *testing.T) {
		a := &mockAdapter{id: "yahoo", price: "150.00"}
		b := &mockAdapter{id: "google", price: "151.00"}
		chain := NewPriceChain("price", []source.PriceAdapter{a, b})

		sample, err := chain.FetchWithFallback(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "yahoo", sample.SourceID)
		assert.Equal(t, 0, b.Calls(), "adapters after the first success must not be invoked")
	})

	t.Run("falls_through_in_order", func(t *testing.T) {
		a := &mockAdapter{id: "yahoo", kind: source.KindBlocked}
		b := &mockAdapter{id: "google", kind: source.KindNotFound}
		c := &mockAdapter{id: "marketwatch", price: "151.00"}
		d := &mockAdapter{id: "investing", price: "152.00"}
		obs := &countingObserver{}
		chain := NewPriceChain("price", []source.PriceAdapter{a, b, c, d})
		chain.SetObserver(obs)

		sample, err := chain.FetchWithFallback(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "marketwatch", sample.SourceID)
		assert.Equal(t, 1, a.Calls())
		assert.Equal(t, 1, b.Calls())
		assert.Equal(t, 0, d.Calls())
		assert.Equal(t, 2, obs.attempts)
		assert.Equal(t, 1, obs.successes)
	})

	t.Run("invalid_sample_counts_as_not_found", func(t *testing.T) {
		bad := &mockAdapter{id: "yahoo", price: "0"}
		good := &mockAdapter{id: "google", price: "10"}
		chain := NewPriceChain("price", []source.PriceAdapter{bad, good})

		sample, err := chain.FetchWithFallback(context.Background(), "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "google", sample.SourceID)
	})
}

func TestPriceChain_AllBlocked(t *testing.T) {
	ids := []string{"yahoo", "google", "marketwatch", "investing"}
	var adapters []source.PriceAdapter
	for _, id := range ids {
		adapters = append(adapters, &mockAdapter{id: id, kind: source.KindBlocked})
	}
	obs := &countingObserver{}
	chain := NewPriceChain("price", adapters)
	chain.SetObserver(obs)

	_, err := chain.FetchWithFallback(context.Background(), "TSLA")
	require.Error(t, err)

	var failed *AllSourcesFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, market.Symbol("TSLA"), failed.Symbol)
	require.Len(t, failed.Attempts, 4)
	for i, a := range failed.Attempts {
		assert.Equal(t, ids[i], a.Source)
		assert.Equal(t, source.KindBlocked, a.Kind)
	}
	assert.Contains(t, err.Error(), "yahoo:blocked, google:blocked, marketwatch:blocked, investing:blocked")
	assert.Len(t, obs.failures, 1)
}

func TestPriceChain_CancelledContextStops(t *testing.T) {
	a := &mockAdapter{id: "yahoo", kind: source.KindTimeout}
	b := &mockAdapter{id: "google", price: "10"}
	chain := NewPriceChain("price", []source.PriceAdapter{a, b})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := chain.FetchWithFallback(ctx, "AAPL")
	var failed *AllSourcesFailedError
	require.True(t, errors.As(err, &failed))
	assert.Empty(t, failed.Attempts)
	assert.Equal(t, 0, a.Calls())
	assert.Equal(t, 0, b.Calls())
}

func TestNewPriceChain_RequiresAdapters(t *testing.T) {
	assert.Panics(t, func() { NewPriceChain("empty", nil) })
	chain := NewPriceChain("price", []source.PriceAdapter{&mockAdapter{id: "a"}, &mockAdapter{id: "b"}})
	assert.Equal(t, []string{"a", "b"}, chain.Sources())
}
