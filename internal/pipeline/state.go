package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/stream"
)

// State of one symbol's tick
type State int

const (
	StateIdle State = iota
	StateFetching
	StateClassifying
	StateCorrelating
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateClassifying:
		return "classifying"
	case StateCorrelating:
		return "correlating"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText is the inverse of MarshalText; API clients decode with it
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateCorrelating; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// SymbolStatus is a point-in-time view of one symbol
type SymbolStatus struct {
	Symbol              market.Symbol         `json:"symbol"`
	State               State                 `json:"state"`
	LastTickAt          time.Time             `json:"last_tick_at,omitempty"`
	LastSample          *market.PriceSample   `json:"last_sample,omitempty"`
	LastMovement        *market.MovementEvent `json:"last_movement,omitempty"`
	LastChangePct       float64               `json:"last_change_pct"`
	LastError           string                `json:"last_error,omitempty"`
	LastAttempts        []stream.AttemptInfo  `json:"last_attempts,omitempty"`
	ConsecutiveFailures int                   `json:"consecutive_failures"`
}

type symbolState struct {
	symbol market.Symbol

	mu     sync.Mutex
	status SymbolStatus
}

// acquire moves Idle to Fetching; false means the symbol is busy
func (s *symbolState) acquire(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != StateIdle {
		return false
	}
	s.status.State = StateFetching
	s.status.LastTickAt = now
	return true
}

func (s *symbolState) release() { s.setState(StateIdle) }

func (s *symbolState) setState(st State) {
	s.mu.Lock()
	s.status.State = st
	s.mu.Unlock()
}

func (s *symbolState) succeed(sample market.PriceSample, ev market.MovementEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSample = &sample
	s.status.LastChangePct = ev.ChangePercent
	s.status.LastError = ""
	s.status.LastAttempts = nil
	s.status.ConsecutiveFailures = 0
}

func (s *symbolState) movement(ev market.MovementEvent) {
	s.mu.Lock()
	s.status.LastMovement = &ev
	s.mu.Unlock()
}

func (s *symbolState) fail(msg string, attempts []stream.AttemptInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastError = msg
	s.status.LastAttempts = attempts
	s.status.ConsecutiveFailures++
}

func (s *symbolState) snapshot() SymbolStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.status
	out.Symbol = s.symbol
	out.LastAttempts = append([]stream.AttemptInfo(nil), s.status.LastAttempts...)
	return out
}
