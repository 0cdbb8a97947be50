package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter enforces a minimum spacing between requests to the same host.
// Each request additionally waits a uniform random jitter in
// [0, maxSpacing-minSpacing] before taking its slot, so requests land at
// irregular intervals that are never closer than minSpacing.
type Limiter struct {
	mu         sync.RWMutex
	hosts      map[string]*hostState
	minSpacing time.Duration
	maxSpacing time.Duration

	rndMu sync.Mutex
	rnd   *rand.Rand
}

type hostState struct {
	limiter *rate.Limiter

	mu   sync.Mutex
	last time.Time
}

// NewLimiter creates a pacing limiter. A zero minSpacing disables pacing.
func NewLimiter(minSpacing, maxSpacing time.Duration) *Limiter {
	if maxSpacing < minSpacing {
		maxSpacing = minSpacing
	}
	return &Limiter{
		hosts:      make(map[string]*hostState),
		minSpacing: minSpacing,
		maxSpacing: maxSpacing,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *Limiter) limit() rate.Limit {
	if l.minSpacing <= 0 {
		return rate.Inf
	}
	return rate.Every(l.minSpacing)
}

// getHost returns or creates the state for host
func (l *Limiter) getHost(host string) *hostState {
	l.mu.RLock()
	h, exists := l.hosts[host]
	l.mu.RUnlock()

	if exists {
		return h
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if h, exists := l.hosts[host]; exists {
		return h
	}

	h = &hostState{limiter: rate.NewLimiter(l.limit(), 1)}
	l.hosts[host] = h
	return h
}

func (l *Limiter) jitter() time.Duration {
	l.mu.RLock()
	span := l.maxSpacing - l.minSpacing
	l.mu.RUnlock()
	if span <= 0 {
		return 0
	}
	l.rndMu.Lock()
	defer l.rndMu.Unlock()
	return time.Duration(l.rnd.Int63n(int64(span) + 1))
}

// Wait blocks until a request to host may proceed and returns how long it
// waited. It fails only when ctx ends first.
func (l *Limiter) Wait(ctx context.Context, host string) (time.Duration, error) {
	h := l.getHost(host)
	start := time.Now()

	if j := l.jitter(); j > 0 {
		timer := time.NewTimer(j)
		select {
		case <-ctx.Done():
			timer.Stop()
			return time.Since(start), ctx.Err()
		case <-timer.C:
		}
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return time.Since(start), err
	}

	h.mu.Lock()
	h.last = time.Now()
	h.mu.Unlock()
	return time.Since(start), nil
}

// Allow takes a slot for host without waiting, reporting whether one was free
func (l *Limiter) Allow(host string) bool {
	h := l.getHost(host)
	if !h.limiter.Allow() {
		return false
	}
	h.mu.Lock()
	h.last = time.Now()
	h.mu.Unlock()
	return true
}

// SetSpacing updates pacing bounds for all hosts
func (l *Limiter) SetSpacing(minSpacing, maxSpacing time.Duration) {
	if maxSpacing < minSpacing {
		maxSpacing = minSpacing
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.minSpacing = minSpacing
	l.maxSpacing = maxSpacing
	for _, h := range l.hosts {
		h.limiter.SetLimit(l.limit())
	}
}

// Spacing returns the current pacing bounds
func (l *Limiter) Spacing() (minSpacing, maxSpacing time.Duration) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minSpacing, l.maxSpacing
}

// Stats returns pacing state for all known hosts
func (l *Limiter) Stats() map[string]HostStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]HostStats, len(l.hosts))
	now := time.Now()
	for host, h := range l.hosts {
		h.mu.Lock()
		last := h.last
		h.mu.Unlock()

		var delay time.Duration
		if !last.IsZero() && l.minSpacing > 0 {
			if next := last.Add(l.minSpacing); next.After(now) {
				delay = next.Sub(now)
			}
		}
		stats[host] = HostStats{
			Host:          host,
			LastRequestAt: last,
			NextAllowedAt: now.Add(delay),
			Delay:         delay,
		}
	}
	return stats
}

// Reset forgets all host state
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.hosts = make(map[string]*hostState)
}

// HostStats represents pacing state for a single host
type HostStats struct {
	Host          string        `json:"host"`
	LastRequestAt time.Time     `json:"last_request_at"`
	NextAllowedAt time.Time     `json:"next_allowed_at"`
	Delay         time.Duration `json:"delay"`
}

// IsThrottled returns true if the next request to the host would wait
func (s *HostStats) IsThrottled() bool {
	return s.Delay > 0
}
