package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/stream"
)

var t0 = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func record(id string, sym market.Symbol, at time.Time, candidates int) market.MovementRecord {
	ev := market.MovementEvent{
		ID:             id,
		Symbol:         sym,
		CurrentPrice:   decimal.RequireFromString("150"),
		ReferencePrice: decimal.RequireFromString("145"),
		ChangePercent:  3.448,
		Classification: market.ClassSignificantUp,
		DetectedAt:     at,
		SourceID:       "yahoo",
	}
	res := market.CorrelationResult{Movement: ev, Window: 5 * time.Minute}
	for i := 0; i < candidates; i++ {
		res.Candidates = append(res.Candidates, market.Candidate{
			Article: market.NewsArticle{ID: "a", Title: "Apple beats", URL: "https://news.example/a"},
			Gap:     2 * time.Minute,
		})
		res.Confidence = 0.8
	}
	return market.MovementRecord{Movement: ev, Correlation: res}
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn     string
		driver  string
		source  string
		wantErr bool
	}{
		{"postgres://u:p@localhost/db", "postgres", "postgres://u:p@localhost/db", false},
		{"postgresql://localhost/db", "postgres", "postgresql://localhost/db", false},
		{"sqlite:///var/lib/moverun.db", "sqlite3", "/var/lib/moverun.db", false},
		{"moverun.db", "sqlite3", "moverun.db", false},
		{"mysql://localhost/db", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			driver, src, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.driver, driver)
			assert.Equal(t, tt.source, src)
		})
	}
}

func TestStore_Samples(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, p := range []string{"145.00", "146.50", "150.25"} {
		require.NoError(t, s.SaveSample(ctx, market.PriceSample{
			Symbol:     "AAPL",
			Price:      decimal.RequireFromString(p),
			ObservedAt: t0.Add(time.Duration(i) * time.Minute),
			SourceID:   "yahoo",
		}))
	}
	require.NoError(t, s.SaveSample(ctx, market.PriceSample{
		Symbol: "MSFT", Price: decimal.RequireFromString("410"), ObservedAt: t0, SourceID: "google",
	}))

	rows, err := s.ListSamples(ctx, "AAPL", TimeRange{From: t0, To: t0.Add(2 * time.Minute)}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "145", decimal.RequireFromString(rows[0].Price).String())
	assert.Equal(t, "146.5", decimal.RequireFromString(rows[1].Price).String())
	assert.True(t, rows[0].ObservedAt.Equal(t0))
}

func TestStore_SaveMovementIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	rec := record("m1", "AAPL", t0, 1)
	require.NoError(t, s.SaveMovement(ctx, rec))
	require.NoError(t, s.SaveMovement(ctx, rec))

	rows, err := s.RecentMovements(ctx, "AAPL", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "m1", rows[0].ID)
	assert.Equal(t, 1, rows[0].Candidates)
	assert.InDelta(t, 0.8, rows[0].Confidence, 1e-9)
	assert.Nil(t, rows[0].ExplanationText)

	decoded, err := rows[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "Apple beats", decoded.Correlation.Candidates[0].Article.Title)
	assert.True(t, decoded.Movement.CurrentPrice.Equal(decimal.RequireFromString("150")))
}

func TestStore_RecentMovementsOrder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMovement(ctx, record("m1", "AAPL", t0, 0)))
	require.NoError(t, s.SaveMovement(ctx, record("m2", "TSLA", t0.Add(time.Minute), 0)))
	require.NoError(t, s.SaveMovement(ctx, record("m3", "AAPL", t0.Add(2*time.Minute), 2)))

	all, err := s.RecentMovements(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"m3", "m2", "m1"}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := s.RecentMovements(ctx, "AAPL", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "m3", limited[0].ID)
}

func TestStore_SaveExplanation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveMovement(ctx, record("m1", "AAPL", t0, 1)))
	require.NoError(t, s.SaveExplanation(ctx, market.Explanation{MovementID: "m1", Text: "Earnings beat", Confidence: 0.7}))

	rows, err := s.RecentMovements(ctx, "AAPL", 1)
	require.NoError(t, err)
	require.NotNil(t, rows[0].ExplanationText)
	assert.Equal(t, "Earnings beat", *rows[0].ExplanationText)
	assert.InDelta(t, 0.7, *rows[0].ExplanationConfidence, 1e-9)

	err = s.SaveExplanation(ctx, market.Explanation{MovementID: "missing", Text: "x"})
	assert.ErrorContains(t, err, "not found")
}

func TestStore_Health(t *testing.T) {
	s := newStore(t)
	hc := s.Health(context.Background())
	assert.True(t, hc.Healthy)
	assert.Equal(t, "sqlite3", hc.Driver)
	assert.Empty(t, hc.Errors)
}

func TestSink_PersistsStream(t *testing.T) {
	s := newStore(t)
	bus := stream.NewBus(64)
	sink := NewSink(s, bus, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	// wait for the subscription to be registered
	require.Eventually(t, func() bool { return bus.Health().Subscribers == 1 }, time.Second, 5*time.Millisecond)

	rec := record("m1", "AAPL", t0, 1)
	_, err := bus.Publish(stream.PriceEvent(market.PriceSample{
		Symbol: "AAPL", Price: decimal.RequireFromString("150"), ObservedAt: t0, SourceID: "yahoo",
	}))
	require.NoError(t, err)
	_, err = bus.Publish(stream.DiagnosticEvent(stream.Diagnostic{Reason: stream.ReasonAllSourcesFailed, Symbol: "TSLA"}))
	require.NoError(t, err)
	_, err = bus.Publish(stream.MovementEvent(rec))
	require.NoError(t, err)
	_, err = bus.Publish(stream.ExplanationEvent("AAPL", market.Explanation{MovementID: "m1", Text: "Earnings", Confidence: 0.6}))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows, err := s.RecentMovements(context.Background(), "AAPL", 1)
		return err == nil && len(rows) == 1 && rows[0].ExplanationText != nil
	}, 2*time.Second, 10*time.Millisecond)

	samples, err := s.ListSamples(context.Background(), "AAPL", TimeRange{From: t0, To: t0.Add(time.Second)}, 10)
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
