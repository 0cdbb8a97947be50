// Package history keeps a bounded, time-ordered price series per symbol.
package history

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/ring"
)

// Config bounds every series by count and by age
type Config struct {
	Capacity  int           // max samples per symbol
	Retention time.Duration // max age relative to the newest sample
}

// DefaultConfig keeps 24h of samples at a 30s tick
func DefaultConfig() Config {
	return Config{Capacity: 2880, Retention: 24 * time.Hour}
}

// Store partitions history by symbol. The map lock is only held to find
// or create a series; each series has its own lock.
type Store struct {
	cfg Config

	mu     sync.RWMutex
	series map[market.Symbol]*series
}

type series struct {
	mu  sync.Mutex
	buf *ring.Buffer[market.PriceSample]
}

// NewStore creates an empty store
func NewStore(cfg Config) *Store {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	return &Store{cfg: cfg, series: make(map[market.Symbol]*series)}
}

// Config returns the store bounds
func (s *Store) Config() Config { return s.cfg }

func (s *Store) get(symbol market.Symbol, create bool) *series {
	s.mu.RLock()
	sr, ok := s.series[symbol]
	s.mu.RUnlock()
	if ok || !create {
		return sr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sr, ok := s.series[symbol]; ok {
		return sr
	}
	sr = &series{buf: ring.New[market.PriceSample](s.cfg.Capacity)}
	s.series[symbol] = sr
	return sr
}

// Record stores a valid sample in observedAt order, then evicts by count
// and by age. A sample already older than the retention bound is dropped.
func (s *Store) Record(sample market.PriceSample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("rejecting sample: %w", err)
	}

	sr := s.get(sample.Symbol, true)
	sr.mu.Lock()
	defer sr.mu.Unlock()

	buf := sr.buf
	if newest, ok := buf.Newest(); !ok || !sample.ObservedAt.Before(newest.ObservedAt) {
		buf.Push(sample)
	} else {
		// first index with a strictly later timestamp keeps equal stamps in arrival order
		i := sort.Search(buf.Len(), func(i int) bool {
			return buf.At(i).ObservedAt.After(sample.ObservedAt)
		})
		buf.Insert(i, sample)
	}

	newest, _ := buf.Newest()
	cutoff := newest.ObservedAt.Add(-s.cfg.Retention)
	stale := sort.Search(buf.Len(), func(i int) bool {
		return !buf.At(i).ObservedAt.Before(cutoff)
	})
	buf.DropOldest(stale)
	return nil
}

// Window returns a copy of the samples with from <= observedAt < to
func (s *Store) Window(symbol market.Symbol, from, to time.Time) []market.PriceSample {
	sr := s.get(symbol, false)
	if sr == nil {
		return nil
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()

	buf := sr.buf
	lo := sort.Search(buf.Len(), func(i int) bool { return !buf.At(i).ObservedAt.Before(from) })
	hi := sort.Search(buf.Len(), func(i int) bool { return !buf.At(i).ObservedAt.Before(to) })
	if lo >= hi {
		return nil
	}
	out := make([]market.PriceSample, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, buf.At(i))
	}
	return out
}

// Snapshot copies the whole series for symbol, oldest first
func (s *Store) Snapshot(symbol market.Symbol) []market.PriceSample {
	sr := s.get(symbol, false)
	if sr == nil {
		return nil
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.buf.Slice()
}

// Latest returns the newest sample for symbol
func (s *Store) Latest(symbol market.Symbol) (market.PriceSample, bool) {
	sr := s.get(symbol, false)
	if sr == nil {
		return market.PriceSample{}, false
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.buf.Newest()
}

// Len returns the number of samples held for symbol
func (s *Store) Len(symbol market.Symbol) int {
	sr := s.get(symbol, false)
	if sr == nil {
		return 0
	}
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.buf.Len()
}

// Symbols lists every symbol with a series, sorted
func (s *Store) Symbols() []market.Symbol {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]market.Symbol, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
