package movement

import (
	"sync"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/history"
	"github.com/sawpanic/moverun/internal/id"
)

// Detector owns the history store and applies the current policy to each
// incoming sample
type Detector struct {
	store *history.Store

	mu     sync.RWMutex
	policy Policy
}

// NewDetector creates a detector over store
func NewDetector(store *history.Store, policy Policy) *Detector {
	return &Detector{store: store, policy: policy}
}

// Store exposes the underlying history
func (d *Detector) Store() *history.Store { return d.store }

// Policy returns the policy snapshot in effect
func (d *Detector) Policy() Policy {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.policy
}

// SetPolicy swaps the policy; in-flight classifications keep their snapshot
func (d *Detector) SetPolicy(p Policy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy = p
}

// Record appends sample to its symbol's history
func (d *Detector) Record(sample market.PriceSample) error {
	return d.store.Record(sample)
}

// Classify evaluates sample against stored history without recording it
func (d *Detector) Classify(sample market.PriceSample) market.MovementEvent {
	p := d.Policy()
	prior := d.store.Window(sample.Symbol, sample.ObservedAt.Add(-p.Lookback), sample.ObservedAt)
	ev := Classify(prior, sample, p)
	ev.ID = id.At(sample.ObservedAt)
	return ev
}

// Observe classifies sample against prior history, then records it.
// The sample is recorded whatever the classification.
func (d *Detector) Observe(sample market.PriceSample) (market.MovementEvent, error) {
	if err := sample.Validate(); err != nil {
		return market.MovementEvent{}, err
	}
	ev := d.Classify(sample)
	if err := d.store.Record(sample); err != nil {
		return market.MovementEvent{}, err
	}
	return ev, nil
}
