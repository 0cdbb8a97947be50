package movement

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/history"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func sample(price string, at time.Time) market.PriceSample {
	return market.PriceSample{Symbol: "AAPL", Price: decimal.RequireFromString(price), ObservedAt: at, SourceID: "test"}
}

func TestClassify_SignificantUp(t *testing.T) {
	prior := []market.PriceSample{sample("145.00", t0.Add(-2*time.Minute))}
	ev := Classify(prior, sample("150.00", t0), DefaultPolicy())

	assert.Equal(t, market.ClassSignificantUp, ev.Classification)
	assert.InDelta(t, 3.448276, ev.ChangePercent, 1e-6)
	assert.Equal(t, "145", ev.ReferencePrice.String())
	assert.Equal(t, "150", ev.CurrentPrice.String())
	assert.True(t, ev.Baseline)
	assert.Equal(t, 1, ev.BaselineSamples)
	assert.Equal(t, t0, ev.DetectedAt)
}

func TestClassify_Table(t *testing.T) {
	tests := []struct {
		name     string
		prior    []market.PriceSample
		current  string
		policy   Policy
		want     market.Classification
		baseline bool
	}{
		{
			name:    "no history",
			current: "150",
			policy:  DefaultPolicy(),
			want:    market.ClassNone,
		},
		{
			name:    "history outside lookback",
			prior:   []market.PriceSample{sample("100", t0.Add(-6*time.Minute))},
			current: "150",
			policy:  DefaultPolicy(),
			want:    market.ClassNone,
		},
		{
			name:     "lookback start inclusive",
			prior:    []market.PriceSample{sample("100", t0.Add(-5*time.Minute))},
			current:  "150",
			policy:   DefaultPolicy(),
			want:     market.ClassSignificantUp,
			baseline: true,
		},
		{
			name:    "same instant excluded",
			prior:   []market.PriceSample{sample("100", t0)},
			current: "150",
			policy:  DefaultPolicy(),
			want:    market.ClassNone,
		},
		{
			name:     "threshold inclusive up",
			prior:    []market.PriceSample{sample("100", t0.Add(-time.Minute))},
			current:  "102",
			policy:   DefaultPolicy(),
			want:     market.ClassSignificantUp,
			baseline: true,
		},
		{
			name:     "threshold inclusive down",
			prior:    []market.PriceSample{sample("100", t0.Add(-time.Minute))},
			current:  "98",
			policy:   DefaultPolicy(),
			want:     market.ClassSignificantDown,
			baseline: true,
		},
		{
			name:     "below threshold",
			prior:    []market.PriceSample{sample("100", t0.Add(-time.Minute))},
			current:  "101.99",
			policy:   DefaultPolicy(),
			want:     market.ClassNone,
			baseline: true,
		},
		{
			name:     "just below threshold up rounds to it",
			prior:    []market.PriceSample{sample("100", t0.Add(-time.Minute))},
			current:  "101.9999996",
			policy:   DefaultPolicy(),
			want:     market.ClassNone,
			baseline: true,
		},
		{
			name:     "just below threshold down rounds to it",
			prior:    []market.PriceSample{sample("100", t0.Add(-time.Minute))},
			current:  "98.0000004",
			policy:   DefaultPolicy(),
			want:     market.ClassNone,
			baseline: true,
		},
		{
			name: "mean baseline dampens spike",
			prior: []market.PriceSample{
				sample("100", t0.Add(-4*time.Minute)),
				sample("110", t0.Add(-2*time.Minute)),
			},
			current:  "106",
			policy:   DefaultPolicy(),
			want:     market.ClassNone,
			baseline: true,
		},
		{
			name: "earliest baseline",
			prior: []market.PriceSample{
				sample("110", t0.Add(-2*time.Minute)),
				sample("100", t0.Add(-4*time.Minute)),
			},
			current:  "106",
			policy:   Policy{ThresholdPct: 2, Lookback: 5 * time.Minute, Baseline: BaselineEarliest},
			want:     market.ClassSignificantUp,
			baseline: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Classify(tt.prior, sample(tt.current, t0), tt.policy)
			assert.Equal(t, tt.want, ev.Classification)
			assert.Equal(t, tt.baseline, ev.Baseline)
			if !tt.baseline {
				assert.Zero(t, ev.ChangePercent)
			}
		})
	}
}

func TestClassify_ThresholdUsesExactChange(t *testing.T) {
	prior := []market.PriceSample{sample("100", t0.Add(-time.Minute))}
	ev := Classify(prior, sample("101.9999996", t0), DefaultPolicy())

	assert.Equal(t, market.ClassNone, ev.Classification)
	assert.Equal(t, 2.0, ev.ChangePercent)
}

func TestClassify_SignMatchesClassification(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	p := DefaultPolicy()

	for i := 0; i < 1000; i++ {
		var prior []market.PriceSample
		for j := 0; j < rnd.Intn(5); j++ {
			price := decimal.NewFromFloat(50 + rnd.Float64()*100).Round(2)
			prior = append(prior, market.PriceSample{
				Symbol: "AAPL", Price: price, ObservedAt: t0.Add(-time.Duration(rnd.Intn(400)) * time.Second),
			})
		}
		cur := market.PriceSample{Symbol: "AAPL", Price: decimal.NewFromFloat(50 + rnd.Float64()*100).Round(2), ObservedAt: t0}
		ev := Classify(prior, cur, p)

		switch ev.Classification {
		case market.ClassSignificantUp:
			require.GreaterOrEqual(t, ev.ChangePercent, p.ThresholdPct)
		case market.ClassSignificantDown:
			require.LessOrEqual(t, ev.ChangePercent, -p.ThresholdPct)
		case market.ClassNone:
			if ev.Baseline {
				// the reported value is rounded, so it may touch the threshold
				require.LessOrEqual(t, ev.ChangePercent, p.ThresholdPct)
				require.GreaterOrEqual(t, ev.ChangePercent, -p.ThresholdPct)
			}
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{ThresholdPct: 0, Lookback: time.Minute, Baseline: BaselineMean}.Validate())
	assert.Error(t, Policy{ThresholdPct: 1, Lookback: 0, Baseline: BaselineMean}.Validate())
	assert.Error(t, Policy{ThresholdPct: 1, Lookback: time.Minute, Baseline: "median"}.Validate())
}

func TestDetector_ObserveAlwaysRecords(t *testing.T) {
	d := NewDetector(history.NewStore(history.DefaultConfig()), DefaultPolicy())

	ev, err := d.Observe(sample("145.00", t0.Add(-2*time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, market.ClassNone, ev.Classification)
	assert.False(t, ev.Baseline)
	assert.NotEmpty(t, ev.ID)

	ev, err = d.Observe(sample("145.50", t0.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, market.ClassNone, ev.Classification)
	assert.True(t, ev.Baseline)

	ev, err = d.Observe(sample("150.00", t0))
	require.NoError(t, err)
	assert.Equal(t, market.ClassSignificantUp, ev.Classification)
	assert.Equal(t, 2, ev.BaselineSamples)

	assert.Equal(t, 3, d.Store().Len("AAPL"))

	_, err = d.Observe(sample("0", t0.Add(time.Minute)))
	assert.Error(t, err)
	assert.Equal(t, 3, d.Store().Len("AAPL"))
}

func TestDetector_SetPolicy(t *testing.T) {
	d := NewDetector(history.NewStore(history.DefaultConfig()), DefaultPolicy())
	_, _ = d.Observe(sample("100", t0.Add(-time.Minute)))

	assert.Equal(t, market.ClassNone, d.Classify(sample("101", t0)).Classification)

	d.SetPolicy(Policy{ThresholdPct: 0.5, Lookback: 5 * time.Minute, Baseline: BaselineMean})
	assert.Equal(t, market.ClassSignificantUp, d.Classify(sample("101", t0)).Classification)
	assert.Equal(t, 1, d.Store().Len("AAPL"), "Classify must not record")
}
