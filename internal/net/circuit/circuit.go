package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// ErrOpen is returned when a host's breaker rejects the call
var ErrOpen = errors.New("circuit breaker is open")

// Config represents per-host breaker settings
type Config struct {
	ConsecutiveFailures uint32        // failures in a row that trip the breaker
	MaxRequests         uint32        // probes allowed while half-open
	Interval            time.Duration // closed-state count reset period; 0 never resets
	Timeout             time.Duration // open duration before probing
	// IsFailure decides which errors count against the host. Nil counts every error.
	IsFailure func(error) bool
}

// DefaultConfig trips after five consecutive failures and probes after a minute
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 5,
		MaxRequests:         1,
		Interval:            5 * time.Minute,
		Timeout:             time.Minute,
	}
}

// Manager lazily creates one breaker per host
type Manager struct {
	mu       sync.RWMutex
	config   Config
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewManager creates a breaker manager applying config to every host
func NewManager(config Config) *Manager {
	if config.ConsecutiveFailures == 0 {
		config.ConsecutiveFailures = DefaultConfig().ConsecutiveFailures
	}
	return &Manager{
		config:   config,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (m *Manager) get(host string) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[host]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[host]; ok {
		return cb
	}

	threshold := m.config.ConsecutiveFailures
	isFailure := m.config.IsFailure
	settings := gobreaker.Settings{
		Name:        host,
		MaxRequests: m.config.MaxRequests,
		Interval:    m.config.Interval,
		Timeout:     m.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("host", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
		},
	}
	if isFailure != nil {
		settings.IsSuccessful = func(err error) bool { return err == nil || !isFailure(err) }
	}

	cb = gobreaker.NewCircuitBreaker(settings)
	m.breakers[host] = cb
	return cb
}

// Execute runs fn through the breaker for host. A rejected call returns an
// error wrapping ErrOpen without invoking fn.
func (m *Manager) Execute(host string, fn func() error) error {
	_, err := m.get(host).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &OpenError{Host: host, Err: err}
	}
	return err
}

// State returns the breaker state for host; unknown hosts are closed
func (m *Manager) State(host string) gobreaker.State {
	m.mu.RLock()
	cb, ok := m.breakers[host]
	m.mu.RUnlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Status represents one host breaker snapshot
type Status struct {
	Host                string  `json:"host"`
	State               string  `json:"state"`
	Requests            uint32  `json:"requests"`
	TotalFailures       uint32  `json:"total_failures"`
	ConsecutiveFailures uint32  `json:"consecutive_failures"`
	ErrorRate           float64 `json:"error_rate"`
}

// Stats returns a snapshot for every known host
func (m *Manager) Stats() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.breakers))
	for host, cb := range m.breakers {
		counts := cb.Counts()
		var errorRate float64
		if counts.Requests > 0 {
			errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
		}
		out[host] = Status{
			Host:                host,
			State:               cb.State().String(),
			Requests:            counts.Requests,
			TotalFailures:       counts.TotalFailures,
			ConsecutiveFailures: counts.ConsecutiveFailures,
			ErrorRate:           errorRate,
		}
	}
	return out
}

// OpenError reports a call rejected by an open or saturated half-open breaker
type OpenError struct {
	Host string
	Err  error
}

func (e *OpenError) Error() string { return "host " + e.Host + ": " + ErrOpen.Error() }

func (e *OpenError) Unwrap() []error { return []error{ErrOpen, e.Err} }
