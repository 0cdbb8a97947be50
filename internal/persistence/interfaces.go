// Package persistence stores the output stream for later analysis. It is a
// collaborator of the pipeline: nothing in the core waits on it.
package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// TimeRange is a half-open query window [From, To)
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SampleRow is a stored price sample
type SampleRow struct {
	ID         int64     `db:"id"`
	Symbol     string    `db:"symbol"`
	Price      string    `db:"price"`
	ObservedAt time.Time `db:"observed_at"`
	SourceID   string    `db:"source_id"`
}

// MovementRow is a stored movement with its correlation and, once known,
// its explanation
type MovementRow struct {
	ID                    string    `db:"id" json:"id"`
	Symbol                string    `db:"symbol" json:"symbol"`
	Classification        string    `db:"classification" json:"classification"`
	ChangePct             float64   `db:"change_pct" json:"change_pct"`
	CurrentPrice          string    `db:"current_price" json:"current_price"`
	ReferencePrice        string    `db:"reference_price" json:"reference_price"`
	DetectedAt            time.Time `db:"detected_at" json:"detected_at"`
	Candidates            int       `db:"candidates" json:"candidates"`
	Confidence            float64   `db:"confidence" json:"confidence"`
	Record                string    `db:"record" json:"-"`
	ExplanationText       *string   `db:"explanation_text" json:"explanation_text,omitempty"`
	ExplanationConfidence *float64  `db:"explanation_confidence" json:"explanation_confidence,omitempty"`
}

// SamplesRepo persists the raw price stream
type SamplesRepo interface {
	SaveSample(ctx context.Context, s market.PriceSample) error
	ListSamples(ctx context.Context, symbol market.Symbol, tr TimeRange, limit int) ([]SampleRow, error)
}

// MovementsRepo persists enriched movements
type MovementsRepo interface {
	// SaveMovement is idempotent on the movement id
	SaveMovement(ctx context.Context, rec market.MovementRecord) error
	SaveExplanation(ctx context.Context, e market.Explanation) error
	RecentMovements(ctx context.Context, symbol market.Symbol, limit int) ([]MovementRow, error)
}

// HealthCheck reports repository health
type HealthCheck struct {
	Healthy        bool      `json:"healthy"`
	Driver         string    `json:"driver"`
	Errors         []string  `json:"errors,omitempty"`
	OpenConns      int       `json:"open_conns"`
	LastCheck      time.Time `json:"last_check"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}
