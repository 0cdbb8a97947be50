package http

import (
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/metrics"
	"github.com/sawpanic/moverun/internal/movement"
	"github.com/sawpanic/moverun/internal/net/policy"
	"github.com/sawpanic/moverun/internal/persistence"
	"github.com/sawpanic/moverun/internal/pipeline"
	"github.com/sawpanic/moverun/internal/stream"
)

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string                   `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time                `json:"timestamp"`
	Uptime    string                   `json:"uptime"`
	Version   string                   `json:"version"`
	System    SystemInfo               `json:"system"`
	Bus       stream.HealthStatus      `json:"bus"`
	Sources   []metrics.SourceHealth   `json:"sources"`
	Storage   *persistence.HealthCheck `json:"storage,omitempty"`
}

// SystemInfo provides process-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// SymbolsResponse lists the tracked symbols and their state machines
type SymbolsResponse struct {
	Timestamp time.Time               `json:"timestamp"`
	Symbols   []pipeline.SymbolStatus `json:"symbols"`
}

// PricesResponse carries recent history for one symbol
type PricesResponse struct {
	Symbol  market.Symbol        `json:"symbol"`
	From    time.Time            `json:"from"`
	To      time.Time            `json:"to"`
	Latest  *market.PriceSample  `json:"latest,omitempty"`
	Samples []market.PriceSample `json:"samples"`
}

// EventsResponse is a page of the output stream. Pass Next as since to
// continue.
type EventsResponse struct {
	Events []stream.Event `json:"events"`
	Next   uint64         `json:"next"`
}

// StoredMovementsResponse is served from the storage collaborator
type StoredMovementsResponse struct {
	Movements []persistence.MovementRow `json:"movements"`
}

// NewsResponse lists cached articles, newest first
type NewsResponse struct {
	Symbol   market.Symbol        `json:"symbol,omitempty"`
	Count    int                  `json:"count"`
	Cached   int                  `json:"cached"`
	Articles []market.NewsArticle `json:"articles"`
}

// PolicyInfo is the classification and correlation policy in effect
type PolicyInfo struct {
	Movement movement.Policy `json:"movement"`
	Window   time.Duration   `json:"correlation_window"`
}

// DiagnosticsResponse gathers the operational picture in one document
type DiagnosticsResponse struct {
	Timestamp   time.Time                   `json:"timestamp"`
	Policy      PolicyInfo                  `json:"policy"`
	Sources     []metrics.SourceHealth      `json:"sources"`
	Hosts       map[string]policy.HostStats `json:"hosts,omitempty"`
	Bus         stream.HealthStatus         `json:"bus"`
	Symbols     []pipeline.SymbolStatus     `json:"symbols"`
	Metrics     []metrics.Sample            `json:"metrics"`
	Diagnostics []stream.Event              `json:"recent_diagnostics"`
}

// ErrorResponse represents API error responses
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
