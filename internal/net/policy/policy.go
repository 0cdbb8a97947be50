// Package policy shapes every outbound scrape request: identity rotation,
// per-host pacing, a hard timeout and a per-host circuit breaker.
package policy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/net/circuit"
	"github.com/sawpanic/moverun/internal/net/ratelimit"
	"github.com/sawpanic/moverun/internal/source"
)

// DefaultIdentities is the browser user-agent rotation set
var DefaultIdentities = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.107 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:90.0) Gecko/20100101 Firefox/90.0",
}

var browserHeaders = map[string]string{
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-US,en;q=0.5",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// Config holds the anti-blocking knobs
type Config struct {
	Identities     []string
	MinSpacing     time.Duration
	MaxSpacing     time.Duration
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Breaker        circuit.Config
}

// DefaultConfig paces each host 1-3s apart with a 10s request timeout
func DefaultConfig() Config {
	return Config{
		Identities:     DefaultIdentities,
		MinSpacing:     time.Second,
		MaxSpacing:     3 * time.Second,
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   8 << 20,
		Breaker:        circuit.DefaultConfig(),
	}
}

// Observer receives one callback per completed request
type Observer interface {
	OnRequest(host string, status int, kind source.Kind, wait, duration time.Duration)
}

// Policy is the single owned network policy handed to every adapter.
// Its per-host state is internally synchronized; locks are never held
// across a network call.
type Policy struct {
	client     *http.Client
	limiter    *ratelimit.Limiter
	breakers   *circuit.Manager
	identities []string
	timeout    time.Duration
	maxBody    int64
	observer   Observer

	mu       sync.Mutex
	rnd      *rand.Rand
	hostLast map[string]hostUse
}

type hostUse struct {
	identity int
	at       time.Time
}

// New creates a Policy. A nil transport uses http.DefaultTransport.
func New(cfg Config, transport http.RoundTripper) *Policy {
	def := DefaultConfig()
	if len(cfg.Identities) == 0 {
		cfg.Identities = def.Identities
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.IsFailure == nil {
		// a page without a price says nothing about the host's health
		breakerCfg.IsFailure = func(err error) bool { return source.KindOf(err) != source.KindNotFound }
	}

	return &Policy{
		client:     &http.Client{Transport: transport},
		limiter:    ratelimit.NewLimiter(cfg.MinSpacing, cfg.MaxSpacing),
		breakers:   circuit.NewManager(breakerCfg),
		identities: append([]string(nil), cfg.Identities...),
		timeout:    cfg.RequestTimeout,
		maxBody:    cfg.MaxBodyBytes,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		hostLast:   make(map[string]hostUse),
	}
}

// SetObserver installs a request observer; call before first use
func (p *Policy) SetObserver(o Observer) { p.observer = o }

// SetPacing updates the per-host spacing bounds
func (p *Policy) SetPacing(minSpacing, maxSpacing time.Duration) {
	p.limiter.SetSpacing(minSpacing, maxSpacing)
}

// Identity picks the user agent for the next request to host. With more
// than one identity the pick always differs from the host's previous one.
func (p *Policy) Identity(host string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.identities)
	idx := 0
	if n > 1 {
		prev, seen := p.hostLast[host]
		if seen {
			// random among the n-1 others
			idx = (prev.identity + 1 + p.rnd.Intn(n-1)) % n
		} else {
			idx = p.rnd.Intn(n)
		}
	}
	p.hostLast[host] = hostUse{identity: idx, at: time.Now()}
	return p.identities[idx]
}

// Get fetches rawURL under the policy
func (p *Policy) Get(ctx context.Context, rawURL string) (*source.Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, source.Errorf(source.KindMalformed, "build request: %v", err)
	}
	return p.Do(ctx, req)
}

// Do sends req after pacing and identity selection. Every failure is a
// *source.FetchError carrying the host as Source.
func (p *Policy) Do(ctx context.Context, req *http.Request) (*source.Response, error) {
	host := req.URL.Host
	start := time.Now()

	wait, err := p.limiter.Wait(ctx, host)
	if err != nil {
		fe := &source.FetchError{Source: host, Kind: source.KindTimeout, Err: fmt.Errorf("pacing wait: %w", err)}
		p.observe(host, 0, fe.Kind, wait, time.Since(start))
		return nil, fe
	}

	for k, v := range browserHeaders {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	req.Header.Set("User-Agent", p.Identity(host))

	var resp *source.Response
	sent := time.Now()
	err = p.breakers.Execute(host, func() error {
		var callErr error
		resp, callErr = p.roundTrip(ctx, req)
		return callErr
	})
	elapsed := time.Since(sent)

	if err != nil {
		var fe *source.FetchError
		switch {
		case errors.As(err, &fe):
		case errors.Is(err, circuit.ErrOpen):
			fe = &source.FetchError{Kind: source.KindBlocked, Err: err}
		default:
			fe = &source.FetchError{Kind: source.KindOf(err), Err: err}
		}
		fe.Source = host
		p.observe(host, fe.Status, fe.Kind, wait, elapsed)
		log.Debug().
			Str("host", host).
			Str("kind", string(fe.Kind)).
			Int("status", fe.Status).
			Dur("duration", elapsed).
			Msg("Request failed")
		return nil, fe
	}

	p.observe(host, resp.Status, "", wait, elapsed)
	return resp, nil
}

func (p *Policy) roundTrip(ctx context.Context, req *http.Request) (*source.Response, error) {
	tctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpResp, err := p.client.Do(req.Clone(tctx))
	if err != nil {
		if tctx.Err() == context.DeadlineExceeded {
			return nil, &source.FetchError{Kind: source.KindTimeout, Err: fmt.Errorf("after %s: %w", p.timeout, err)}
		}
		return nil, &source.FetchError{Kind: source.KindOf(err), Err: err}
	}
	defer httpResp.Body.Close()

	if kind, failed := source.KindForStatus(httpResp.StatusCode); failed {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 64<<10))
		return nil, &source.FetchError{Kind: kind, Status: httpResp.StatusCode, Err: fmt.Errorf("HTTP %d", httpResp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, p.maxBody))
	if err != nil {
		if tctx.Err() == context.DeadlineExceeded {
			return nil, &source.FetchError{Kind: source.KindTimeout, Status: httpResp.StatusCode, Err: err}
		}
		return nil, &source.FetchError{Kind: source.KindMalformed, Status: httpResp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if source.LooksBlocked(body) {
		return nil, &source.FetchError{Kind: source.KindBlocked, Status: httpResp.StatusCode, Err: errors.New("captcha or consent interstitial")}
	}

	return &source.Response{
		URL:    httpResp.Request.URL.String(),
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   body,
	}, nil
}

func (p *Policy) observe(host string, status int, kind source.Kind, wait, d time.Duration) {
	if p.observer != nil {
		p.observer.OnRequest(host, status, kind, wait, d)
	}
}

// HostStats is the per-host view exposed for diagnostics
type HostStats struct {
	Host          string        `json:"host"`
	LastRequestAt time.Time     `json:"last_request_at"`
	LastIdentity  string        `json:"last_identity"`
	PacingDelay   time.Duration `json:"pacing_delay"`
	BreakerState  string        `json:"breaker_state"`
	ErrorRate     float64       `json:"error_rate"`
}

// Stats returns a snapshot for every host contacted so far
func (p *Policy) Stats() map[string]HostStats {
	pacing := p.limiter.Stats()
	breakers := p.breakers.Stats()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]HostStats, len(p.hostLast))
	for host, use := range p.hostLast {
		hs := HostStats{
			Host:          host,
			LastRequestAt: use.at,
			LastIdentity:  p.identities[use.identity],
			BreakerState:  "closed",
		}
		if ps, ok := pacing[host]; ok {
			hs.PacingDelay = ps.Delay
		}
		if bs, ok := breakers[host]; ok {
			hs.BreakerState = bs.State
			hs.ErrorRate = bs.ErrorRate
		}
		out[host] = hs
	}
	return out
}
