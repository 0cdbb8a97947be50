package stream

import (
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
)

// Kind names the payload an Event carries
type Kind string

const (
	KindPrice       Kind = "price"
	KindMovement    Kind = "movement"
	KindDiagnostic  Kind = "diagnostic"
	KindExplanation Kind = "explanation"
)

// Event is one entry in the output stream. Exactly one payload field is
// set, matching Kind.
type Event struct {
	Seq         uint64                 `json:"seq"`
	Kind        Kind                   `json:"kind"`
	Time        time.Time              `json:"time"`
	Symbol      market.Symbol          `json:"symbol,omitempty"`
	Price       *market.PriceSample    `json:"price,omitempty"`
	Movement    *market.MovementRecord `json:"movement,omitempty"`
	Diagnostic  *Diagnostic            `json:"diagnostic,omitempty"`
	Explanation *market.Explanation    `json:"explanation,omitempty"`
}

// DiagnosticReason classifies operational events
type DiagnosticReason string

const (
	ReasonAllSourcesFailed DiagnosticReason = "all_sources_failed"
	ReasonTickAbandoned    DiagnosticReason = "tick_abandoned"
	ReasonSymbolBusy       DiagnosticReason = "symbol_busy"
	ReasonRejectedSample   DiagnosticReason = "rejected_sample"
)

// AttemptInfo is one adapter attempt inside a diagnostic
type AttemptInfo struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Error  string `json:"error,omitempty"`
}

// Diagnostic reports a failure that degraded coverage without stopping
// the pipeline
type Diagnostic struct {
	Reason   DiagnosticReason `json:"reason"`
	Symbol   market.Symbol    `json:"symbol,omitempty"`
	Attempts []AttemptInfo    `json:"attempts,omitempty"`
	Message  string           `json:"message"`
}

// PriceEvent, MovementEvent, DiagnosticEvent and ExplanationEvent build
// unsequenced events for Publish
func PriceEvent(s market.PriceSample) Event {
	return Event{Kind: KindPrice, Symbol: s.Symbol, Price: &s}
}

func MovementEvent(r market.MovementRecord) Event {
	return Event{Kind: KindMovement, Symbol: r.Movement.Symbol, Movement: &r}
}

func DiagnosticEvent(d Diagnostic) Event {
	return Event{Kind: KindDiagnostic, Symbol: d.Symbol, Diagnostic: &d}
}

func ExplanationEvent(symbol market.Symbol, e market.Explanation) Event {
	return Event{Kind: KindExplanation, Symbol: symbol, Explanation: &e}
}
