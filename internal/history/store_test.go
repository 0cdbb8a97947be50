package history

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
)

var t0 = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func sample(sym market.Symbol, price string, at time.Time) market.PriceSample {
	return market.PriceSample{Symbol: sym, Price: decimal.RequireFromString(price), ObservedAt: at, SourceID: "test"}
}

func TestStore_RejectsInvalid(t *testing.T) {
	s := NewStore(DefaultConfig())
	assert.Error(t, s.Record(sample("AAPL", "0.01", t0)))
	assert.Error(t, s.Record(sample("AAPL", "100000", t0)))
	assert.Equal(t, 0, s.Len("AAPL"))
	assert.Empty(t, s.Symbols(), "rejected samples must not create a series")
}

func TestStore_RetentionBoundAfterEveryRecord(t *testing.T) {
	cfg := Config{Capacity: 50, Retention: 10 * time.Minute}
	s := NewStore(cfg)
	rnd := rand.New(rand.NewSource(7))

	at := t0
	for i := 0; i < 500; i++ {
		// mostly forward, occasionally out of order
		step := time.Duration(rnd.Intn(90)-10) * time.Second
		at = at.Add(step)
		require.NoError(t, s.Record(sample("AAPL", "100", at)))

		snap := s.Snapshot("AAPL")
		require.LessOrEqual(t, len(snap), cfg.Capacity)
		newest := snap[len(snap)-1].ObservedAt
		for j, smp := range snap {
			require.False(t, smp.ObservedAt.Before(newest.Add(-cfg.Retention)), "sample %d older than retention", j)
			if j > 0 {
				require.False(t, smp.ObservedAt.Before(snap[j-1].ObservedAt), "series out of order at %d", j)
			}
		}
	}
}

func TestStore_OutOfOrderInsert(t *testing.T) {
	s := NewStore(DefaultConfig())
	require.NoError(t, s.Record(sample("MSFT", "10", t0)))
	require.NoError(t, s.Record(sample("MSFT", "30", t0.Add(2*time.Minute))))
	require.NoError(t, s.Record(sample("MSFT", "20", t0.Add(time.Minute))))

	var prices []string
	for _, smp := range s.Snapshot("MSFT") {
		prices = append(prices, smp.Price.String())
	}
	assert.Equal(t, []string{"10", "20", "30"}, prices)

	latest, ok := s.Latest("MSFT")
	require.True(t, ok)
	assert.Equal(t, "30", latest.Price.String())
}

func TestStore_StaleSampleDropped(t *testing.T) {
	s := NewStore(Config{Capacity: 10, Retention: time.Hour})
	require.NoError(t, s.Record(sample("X", "10", t0)))
	require.NoError(t, s.Record(sample("X", "11", t0.Add(-2*time.Hour))))
	assert.Equal(t, 1, s.Len("X"))
}

func TestStore_WindowHalfOpen(t *testing.T) {
	s := NewStore(DefaultConfig())
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(sample("AAPL", "100", t0.Add(time.Duration(i)*time.Minute))))
	}

	w := s.Window("AAPL", t0.Add(time.Minute), t0.Add(3*time.Minute))
	require.Len(t, w, 2)
	assert.Equal(t, t0.Add(time.Minute), w[0].ObservedAt)
	assert.Equal(t, t0.Add(2*time.Minute), w[1].ObservedAt)

	assert.Nil(t, s.Window("NOPE", t0, t0.Add(time.Hour)))
	assert.Nil(t, s.Window("AAPL", t0.Add(time.Hour), t0.Add(2*time.Hour)))
}

func TestStore_ConcurrentSymbols(t *testing.T) {
	s := NewStore(Config{Capacity: 100, Retention: time.Hour})
	syms := []market.Symbol{"AAPL", "MSFT", "TSLA", "NVDA"}

	var wg sync.WaitGroup
	for _, sym := range syms {
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(sym market.Symbol, g int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					_ = s.Record(sample(sym, "50", t0.Add(time.Duration(g*50+i)*time.Second)))
				}
			}(sym, g)
		}
	}
	wg.Wait()

	assert.Equal(t, syms[0], s.Symbols()[0])
	for _, sym := range syms {
		assert.Equal(t, 100, s.Len(sym))
	}
}
