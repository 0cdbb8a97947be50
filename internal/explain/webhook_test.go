package explain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/stream"
)

var fastRetry = RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func record() market.MovementRecord {
	ev := market.MovementEvent{
		ID:             "01HQ",
		Symbol:         "AAPL",
		CurrentPrice:   decimal.RequireFromString("150"),
		ReferencePrice: decimal.RequireFromString("145"),
		ChangePercent:  3.448276,
		Classification: market.ClassSignificantUp,
		DetectedAt:     time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
		Baseline:       true,
	}
	return market.MovementRecord{Movement: ev, Correlation: market.CorrelationResult{Movement: ev}}
}

func TestWebhookExplainer_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body map[string]json.RawMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body, "movement")
		assert.Contains(t, body, "correlation")

		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"text":"Apple rose after a product launch.","confidence":0.7}`))
	}))
	defer srv.Close()

	e := NewWebhookExplainer(srv.URL, time.Second, fastRetry)
	e.SetHeader("Authorization", "Bearer k")

	exp, err := e.Explain(context.Background(), record())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "01HQ", exp.MovementID)
	assert.Equal(t, "Apple rose after a product launch.", exp.Text)
	assert.Equal(t, 0.7, exp.Confidence)
}

func TestWebhookExplainer_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{"missing confidence", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"text":"something"}`))
		}, ErrIncomplete},
		{"empty text still present", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"text":"","confidence":0}`))
		}, nil},
		{"client error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewWebhookExplainer(srv.URL, time.Second, fastRetry).Explain(context.Background(), record())
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.name == "client error":
				assert.ErrorContains(t, err, "HTTP 401")
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestWebhookExplainer_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewWebhookExplainer(srv.URL, time.Second, fastRetry).Explain(context.Background(), record())
	assert.ErrorContains(t, err, "all 3 attempts failed")
	assert.Equal(t, int32(3), calls.Load())
}

type stubExplainer struct{ calls atomic.Int32 }

func (s *stubExplainer) Explain(ctx context.Context, rec market.MovementRecord) (market.Explanation, error) {
	s.calls.Add(1)
	return market.Explanation{MovementID: rec.Movement.ID, Text: "why", Confidence: 0.5}, nil
}

func TestWorker_PublishesExplanations(t *testing.T) {
	bus := stream.NewBus(32)
	exp := &stubExplainer{}
	w := NewWorker(exp, bus, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.Health().Subscribers == 1 }, time.Second, 5*time.Millisecond)

	_, _ = bus.Publish(stream.PriceEvent(market.PriceSample{Symbol: "AAPL"}))
	_, _ = bus.Publish(stream.MovementEvent(record()))

	require.Eventually(t, func() bool {
		return len(bus.Filter(stream.KindExplanation, 0, 0)) == 1
	}, time.Second, 5*time.Millisecond)

	got := bus.Filter(stream.KindExplanation, 0, 0)[0]
	assert.Equal(t, market.Symbol("AAPL"), got.Symbol)
	assert.Equal(t, "01HQ", got.Explanation.MovementID)
	assert.Equal(t, int32(1), exp.calls.Load(), "price events are ignored")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWorker_StopsWhenBusCloses(t *testing.T) {
	bus := stream.NewBus(4)
	w := NewWorker(&stubExplainer{}, bus, time.Second)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	require.Eventually(t, func() bool { return bus.Health().Subscribers == 1 }, time.Second, 5*time.Millisecond)

	bus.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

type blockingExplainer struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingExplainer) Explain(ctx context.Context, rec market.MovementRecord) (market.Explanation, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
	case <-ctx.Done():
		return market.Explanation{}, ctx.Err()
	}
	return market.Explanation{MovementID: rec.Movement.ID, Text: "why", Confidence: 0.5}, nil
}

func TestWorker_SlowExplainerKeepsDrainingPrices(t *testing.T) {
	bus := stream.NewBus(256)
	exp := &blockingExplainer{release: make(chan struct{})}
	w := NewWorker(exp, bus, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.Health().Subscribers == 1 }, time.Second, 5*time.Millisecond)

	_, _ = bus.Publish(stream.MovementEvent(record()))
	require.Eventually(t, func() bool { return exp.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// more price events than the subscription buffer holds, while the
	// explainer is stuck on the first movement
	for batch := 0; batch < 2; batch++ {
		for i := 0; i < 40; i++ {
			_, _ = bus.Publish(stream.PriceEvent(market.PriceSample{Symbol: "AAPL"}))
		}
		require.Eventually(t, func() bool { return len(w.sub.C) == 0 }, time.Second, 5*time.Millisecond)
	}

	second := record()
	second.Movement.ID = "01HR"
	_, _ = bus.Publish(stream.MovementEvent(second))
	require.Eventually(t, func() bool { return len(w.sub.C) == 0 }, time.Second, 5*time.Millisecond)

	close(exp.release)
	require.Eventually(t, func() bool {
		return len(bus.Filter(stream.KindExplanation, 0, 0)) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), exp.calls.Load())
	assert.Zero(t, w.sub.Dropped())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
