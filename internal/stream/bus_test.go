package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
)

func price(sym market.Symbol, p string) Event {
	return PriceEvent(market.PriceSample{
		Symbol:     sym,
		Price:      decimal.RequireFromString(p),
		ObservedAt: time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC),
		SourceID:   "yahoo",
	})
}

func TestBus_PublishAssignsSequence(t *testing.T) {
	b := NewBus(8)
	for i := 0; i < 3; i++ {
		ev, err := b.Publish(price("AAPL", "150"))
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.False(t, ev.Time.IsZero())
	}
	assert.Equal(t, uint64(3), b.LastSeq())
}

func TestBus_SinceAndRetention(t *testing.T) {
	b := NewBus(3)
	for i := 0; i < 5; i++ {
		_, _ = b.Publish(price("AAPL", "150"))
	}

	all := b.Since(0, 0)
	require.Len(t, all, 3)
	assert.Equal(t, uint64(3), all[0].Seq)
	assert.Equal(t, uint64(5), all[2].Seq)

	tail := b.Since(4, 0)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(5), tail[0].Seq)

	assert.Len(t, b.Since(0, 2), 2)
	assert.Empty(t, b.Since(5, 0))
}

func TestBus_Filter(t *testing.T) {
	b := NewBus(16)
	_, _ = b.Publish(price("AAPL", "150"))
	_, _ = b.Publish(DiagnosticEvent(Diagnostic{Reason: ReasonAllSourcesFailed, Symbol: "TSLA"}))
	_, _ = b.Publish(price("MSFT", "410"))

	diags := b.Filter(KindDiagnostic, 0, 0)
	require.Len(t, diags, 1)
	assert.Equal(t, market.Symbol("TSLA"), diags[0].Symbol)
	assert.Equal(t, ReasonAllSourcesFailed, diags[0].Diagnostic.Reason)
}

func TestBus_SubscribeReceivesInOrder(t *testing.T) {
	b := NewBus(16)
	sub := b.Subscribe(10)
	defer sub.Cancel()

	for i := 0; i < 5; i++ {
		_, _ = b.Publish(price("AAPL", "150"))
	}
	for i := 0; i < 5; i++ {
		ev := <-sub.C
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}

func TestBus_SlowSubscriberDropsWithoutBlocking(t *testing.T) {
	b := NewBus(16)
	sub := b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_, _ = b.Publish(price("AAPL", "150"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Equal(t, uint64(9), sub.Dropped())
	assert.Equal(t, uint64(9), b.Health().Dropped)
}

func TestBus_Close(t *testing.T) {
	b := NewBus(4)
	sub := b.Subscribe(4)
	b.Close()

	_, ok := <-sub.C
	assert.False(t, ok)

	_, err := b.Publish(price("AAPL", "150"))
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.False(t, b.Health().Healthy)

	late := b.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)

	sub.Cancel() // no double close
}

func TestBus_ConcurrentPublish(t *testing.T) {
	b := NewBus(1000)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_, _ = b.Publish(price("AAPL", "150"))
			}
		}()
	}
	wg.Wait()

	evs := b.Since(0, 0)
	require.Len(t, evs, 400)
	for i := 1; i < len(evs); i++ {
		assert.Equal(t, evs[i-1].Seq+1, evs[i].Seq)
	}
}
