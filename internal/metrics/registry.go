// Package metrics exposes the diagnostic surface as Prometheus metrics and
// a JSON-friendly per-source health summary.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/provider"
	"github.com/sawpanic/moverun/internal/source"
)

const namespace = "moverun"

// Registry holds every moverun metric. It implements the observer hooks of
// the network policy, the price chain and the news aggregator.
type Registry struct {
	reg *prometheus.Registry

	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	PacingWait     *prometheus.HistogramVec
	SourceAttempts *prometheus.CounterVec
	SourceDuration *prometheus.HistogramVec
	ChainSuccess   *prometheus.CounterVec
	ChainFailures  *prometheus.CounterVec
	NewsFetches    *prometheus.CounterVec
	NewsArticles   *prometheus.CounterVec
	Movements      *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	TicksAbandoned prometheus.Counter
	SymbolsSkipped prometheus.Counter

	mu      sync.Mutex
	sources map[string]*SourceHealth
}

// SourceHealth tracks recent outcomes for one adapter
type SourceHealth struct {
	Source      string    `json:"source"`
	Status      string    `json:"status"` // healthy, degraded, down
	Successes   int64     `json:"successes"`
	Failures    int64     `json:"failures"`
	Streak      int       `json:"failure_streak"`
	LastKind    string    `json:"last_kind,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// NewRegistry creates the metrics on a private Prometheus registry with
// the Go and process collectors attached
func NewRegistry() *Registry {
	r := &Registry{
		reg:     prometheus.NewRegistry(),
		sources: make(map[string]*SourceHealth),

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "Outbound requests by host and outcome kind",
		}, []string{"host", "kind"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds",
			Help:    "Outbound request duration excluding pacing",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"host"}),
		PacingWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "pacing_wait_seconds",
			Help:    "Time spent waiting for per-host spacing",
			Buckets: []float64{0, 0.25, 0.5, 1, 2, 3, 5},
		}, []string{"host"}),
		SourceAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "source_failures_total",
			Help: "Adapter-level failures by source and kind",
		}, []string{"source", "kind"}),
		SourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "source_fetch_duration_seconds",
			Help:    "Adapter fetch duration by source",
			Buckets: prometheus.DefBuckets,
		}, []string{"source", "result"}),
		ChainSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_success_total",
			Help: "Successful chain invocations by winning source and attempt position",
		}, []string{"source", "position"}),
		ChainFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chain_all_failed_total",
			Help: "Chain invocations where every source failed",
		}, []string{"symbol"}),
		NewsFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "news_fetches_total",
			Help: "News adapter fetches by source and outcome kind",
		}, []string{"source", "kind"}),
		NewsArticles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "news_articles_fetched_total",
			Help: "Articles returned by each news adapter before dedup",
		}, []string{"source"}),
		Movements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "movements_total",
			Help: "Significant movements by symbol and direction",
		}, []string{"symbol", "classification"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "tick_duration_seconds",
			Help:    "Wall time of one price tick",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		TicksAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticks_abandoned_total",
			Help: "Price ticks abandoned at the deadline",
		}),
		SymbolsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "symbols_skipped_total",
			Help: "Symbols skipped because an earlier tick still held them",
		}),
	}

	r.reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		r.HTTPRequests, r.HTTPDuration, r.PacingWait,
		r.SourceAttempts, r.SourceDuration, r.ChainSuccess, r.ChainFailures,
		r.NewsFetches, r.NewsArticles, r.Movements,
		r.TickDuration, r.TicksAbandoned, r.SymbolsSkipped,
	)
	return r
}

// Gatherer returns the underlying registry for promhttp
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// MustRegister adds extra collectors, such as gauge funcs over live state
func (r *Registry) MustRegister(cs ...prometheus.Collector) { r.reg.MustRegister(cs...) }

func kindLabel(k source.Kind) string {
	if k == "" {
		return "ok"
	}
	return string(k)
}

// OnRequest implements policy.Observer
func (r *Registry) OnRequest(host string, status int, kind source.Kind, wait, d time.Duration) {
	r.HTTPRequests.WithLabelValues(host, kindLabel(kind)).Inc()
	r.HTTPDuration.WithLabelValues(host).Observe(d.Seconds())
	r.PacingWait.WithLabelValues(host).Observe(wait.Seconds())
}

// OnAttempt implements provider.Observer
func (r *Registry) OnAttempt(sourceID string, symbol market.Symbol, kind source.Kind, d time.Duration) {
	r.SourceAttempts.WithLabelValues(sourceID, string(kind)).Inc()
	r.SourceDuration.WithLabelValues(sourceID, "failure").Observe(d.Seconds())
	r.recordSource(sourceID, kind, time.Now())
}

// OnSuccess implements provider.Observer
func (r *Registry) OnSuccess(sourceID string, symbol market.Symbol, attempts int, d time.Duration) {
	r.ChainSuccess.WithLabelValues(sourceID, positionLabel(attempts)).Inc()
	r.SourceDuration.WithLabelValues(sourceID, "success").Observe(d.Seconds())
	r.recordSource(sourceID, "", time.Now())
}

// OnAllFailed implements provider.Observer
func (r *Registry) OnAllFailed(err *provider.AllSourcesFailedError) {
	r.ChainFailures.WithLabelValues(string(err.Symbol)).Inc()
}

// OnNewsFetch implements news.AdapterObserver
func (r *Registry) OnNewsFetch(sourceID string, articles int, kind source.Kind, d time.Duration) {
	r.NewsFetches.WithLabelValues(sourceID, kindLabel(kind)).Inc()
	r.NewsArticles.WithLabelValues(sourceID).Add(float64(articles))
	r.recordSource(sourceID, kind, time.Now())
}

// RecordTick records one price tick's outcome
func (r *Registry) RecordTick(d time.Duration, skipped int, abandoned bool) {
	r.TickDuration.Observe(d.Seconds())
	r.SymbolsSkipped.Add(float64(skipped))
	if abandoned {
		r.TicksAbandoned.Inc()
	}
}

// RecordMovement counts a significant movement
func (r *Registry) RecordMovement(ev market.MovementEvent) {
	r.Movements.WithLabelValues(string(ev.Symbol), string(ev.Classification)).Inc()
}

func positionLabel(n int) string {
	switch {
	case n <= 1:
		return "1"
	case n == 2:
		return "2"
	case n == 3:
		return "3"
	default:
		return "4+"
	}
}

// recordSource updates the health summary; an empty kind is a success
func (r *Registry) recordSource(sourceID string, kind source.Kind, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.sources[sourceID]
	if !ok {
		h = &SourceHealth{Source: sourceID}
		r.sources[sourceID] = h
	}
	prev := h.Status
	if kind == "" {
		h.Successes++
		h.Streak = 0
		h.LastSuccess = at
	} else {
		h.Failures++
		h.Streak++
		h.LastKind = string(kind)
		h.LastFailure = at
	}
	h.Status = healthStatus(h.Streak)

	if prev != "" && prev != h.Status {
		log.Info().Str("source", sourceID).Str("from", prev).Str("to", h.Status).Msg("Source health changed")
	}
}

func healthStatus(streak int) string {
	switch {
	case streak == 0:
		return "healthy"
	case streak < 5:
		return "degraded"
	default:
		return "down"
	}
}

// Sources returns the health summary for every source seen, sorted by id
func (r *Registry) Sources() []SourceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SourceHealth, 0, len(r.sources))
	for _, h := range r.sources {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}
