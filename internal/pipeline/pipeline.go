// Package pipeline drives the fetch, classify and correlate cycle for the
// tracked symbols and the independent news refresh.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/moverun/internal/correlate"
	"github.com/sawpanic/moverun/internal/domain/market"
	"github.com/sawpanic/moverun/internal/history"
	"github.com/sawpanic/moverun/internal/movement"
	"github.com/sawpanic/moverun/internal/news"
	"github.com/sawpanic/moverun/internal/provider"
	"github.com/sawpanic/moverun/internal/source"
	"github.com/sawpanic/moverun/internal/stream"
)

// PriceFetcher is the fallback chain as seen by the pipeline
type PriceFetcher interface {
	FetchWithFallback(ctx context.Context, symbol market.Symbol) (market.PriceSample, error)
}

// Config holds the scheduling parameters
type Config struct {
	Symbols        []market.Symbol
	TickInterval   time.Duration
	TickDeadline   time.Duration // 0 means 2x TickInterval
	NewsInterval   time.Duration
	MaxConcurrency int
}

// DefaultConfig ticks prices every 30s and news every 2m
func DefaultConfig() Config {
	return Config{
		TickInterval:   30 * time.Second,
		NewsInterval:   2 * time.Minute,
		MaxConcurrency: 4,
	}
}

func (c Config) deadline() time.Duration {
	if c.TickDeadline > 0 {
		return c.TickDeadline
	}
	return 2 * c.TickInterval
}

// Observer receives tick and movement outcomes; metrics.Registry
// implements it
type Observer interface {
	RecordTick(d time.Duration, skipped int, abandoned bool)
	RecordMovement(ev market.MovementEvent)
}

// Deps are the collaborators a Pipeline drives. Aggregator and Observer
// are optional.
type Deps struct {
	Prices       PriceFetcher
	Detector     *movement.Detector
	Correlator   *correlate.Correlator
	Aggregator   *news.Aggregator
	NewsAdapters []source.NewsAdapter
	Bus          *stream.Bus
	Observer     Observer
}

// TickResult counts what one price tick did
type TickResult struct {
	Fetched   int  `json:"fetched"`
	Failed    int  `json:"failed"`
	Skipped   int  `json:"skipped"`
	Movements int  `json:"movements"`
	Abandoned bool `json:"abandoned"`
}

// Pipeline owns one state machine per tracked symbol
type Pipeline struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	symbols map[market.Symbol]*symbolState
	order   []market.Symbol

	newsRunning atomic.Bool
	wg          sync.WaitGroup
}

// New validates cfg and wires deps
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if len(cfg.Symbols) == 0 {
		return nil, errors.New("pipeline needs at least one symbol")
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive, got %s", cfg.TickInterval)
	}
	if deps.Prices == nil || deps.Detector == nil || deps.Correlator == nil || deps.Bus == nil {
		return nil, errors.New("pipeline requires prices, detector, correlator and bus")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}

	p := &Pipeline{cfg: cfg, deps: deps, now: time.Now, symbols: make(map[market.Symbol]*symbolState)}
	for _, raw := range cfg.Symbols {
		sym := market.NormalizeSymbol(string(raw))
		if err := sym.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.symbols[sym]; dup {
			continue
		}
		p.symbols[sym] = &symbolState{symbol: sym}
		p.order = append(p.order, sym)
	}
	return p, nil
}

// Symbols returns the tracked symbols in configured order
func (p *Pipeline) Symbols() []market.Symbol {
	return append([]market.Symbol(nil), p.order...)
}

// Policy returns the movement policy and correlation window in effect
func (p *Pipeline) Policy() (movement.Policy, time.Duration) {
	return p.deps.Detector.Policy(), p.deps.Correlator.Window()
}

// History exposes the per-symbol price history
func (p *Pipeline) History() *history.Store { return p.deps.Detector.Store() }

// UpdatePolicy swaps the movement policy and correlation window. The next
// classification and correlation read the new values.
func (p *Pipeline) UpdatePolicy(mp movement.Policy, window time.Duration) error {
	if err := mp.Validate(); err != nil {
		return err
	}
	if err := p.deps.Correlator.SetWindow(window); err != nil {
		return err
	}
	p.deps.Detector.SetPolicy(mp)
	log.Info().Float64("threshold_pct", mp.ThresholdPct).Dur("lookback", mp.Lookback).
		Dur("window", window).Msg("Policy updated")
	return nil
}

// Run ticks until ctx is done. The first price and news ticks start
// immediately. A tick that overruns its deadline is abandoned; the next
// tick does not wait for it.
func (p *Pipeline) Run(ctx context.Context) error {
	log.Info().Int("symbols", len(p.order)).Dur("tick", p.cfg.TickInterval).
		Dur("news_tick", p.cfg.NewsInterval).Msg("Pipeline starting")

	priceTicker := time.NewTicker(p.cfg.TickInterval)
	defer priceTicker.Stop()

	var newsC <-chan time.Time
	if p.cfg.NewsInterval > 0 && p.deps.Aggregator != nil {
		newsTicker := time.NewTicker(p.cfg.NewsInterval)
		defer newsTicker.Stop()
		newsC = newsTicker.C
		p.goNews(ctx)
	}
	p.goTick(ctx)

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			log.Info().Msg("Pipeline stopped")
			return ctx.Err()
		case <-priceTicker.C:
			p.goTick(ctx)
		case <-newsC:
			p.goNews(ctx)
		}
	}
}

func (p *Pipeline) goTick(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		_ = p.RunOnce(ctx)
	}()
}

func (p *Pipeline) goNews(ctx context.Context) {
	if !p.newsRunning.CompareAndSwap(false, true) {
		log.Debug().Msg("News refresh still running, skipping tick")
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.newsRunning.Store(false)
		if _, err := p.RefreshNews(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("News refresh failed")
		}
	}()
}

// RunOnce runs one price tick over every symbol under the tick deadline
// and waits for it. Symbols still busy from an earlier tick are skipped.
func (p *Pipeline) RunOnce(ctx context.Context) TickResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.deadline())
	defer cancel()

	start := p.now()
	var fetched, failed, skipped, movements atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for _, sym := range p.order {
		st := p.symbols[sym]
		if !st.acquire(p.now()) {
			skipped.Add(1)
			log.Debug().Str("symbol", string(sym)).Msg("Symbol still busy, skipping tick")
			p.publish(stream.DiagnosticEvent(stream.Diagnostic{
				Reason: stream.ReasonSymbolBusy, Symbol: sym,
				Message: "previous tick still in progress",
			}))
			continue
		}
		g.Go(func() error {
			defer st.release()
			switch p.processSymbol(gctx, st) {
			case outcomeFetched:
				fetched.Add(1)
			case outcomeMovement:
				fetched.Add(1)
				movements.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{
		Fetched:   int(fetched.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
		Movements: int(movements.Load()),
		Abandoned: errors.Is(ctx.Err(), context.DeadlineExceeded),
	}
	if res.Abandoned {
		log.Warn().Dur("deadline", p.cfg.deadline()).Msg("Tick abandoned at deadline")
		p.publish(stream.DiagnosticEvent(stream.Diagnostic{
			Reason:  stream.ReasonTickAbandoned,
			Message: fmt.Sprintf("tick exceeded %s deadline, partial results discarded", p.cfg.deadline()),
		}))
	}
	took := p.now().Sub(start)
	if p.deps.Observer != nil {
		p.deps.Observer.RecordTick(took, res.Skipped, res.Abandoned)
	}
	log.Debug().Int("fetched", res.Fetched).Int("failed", res.Failed).Int("skipped", res.Skipped).
		Int("movements", res.Movements).Dur("duration", took).Msg("Tick complete")
	return res
}

type outcome int

const (
	outcomeDiscarded outcome = iota
	outcomeFetched
	outcomeMovement
	outcomeFailed
)

// processSymbol is one symbol's strictly sequential fetch, record,
// classify and correlate. Failures end here. A movement is only published
// while the tick is still live.
func (p *Pipeline) processSymbol(ctx context.Context, st *symbolState) outcome {
	sym := st.symbol

	sample, err := p.deps.Prices.FetchWithFallback(ctx, sym)
	if ctx.Err() != nil {
		return outcomeDiscarded
	}
	if err != nil {
		p.reportFetchFailure(st, err)
		return outcomeFailed
	}

	st.setState(StateClassifying)
	ev, err := p.deps.Detector.Observe(sample)
	if err != nil {
		st.fail(err.Error(), nil)
		log.Warn().Str("symbol", string(sym)).Str("source", sample.SourceID).Err(err).Msg("Rejected price sample")
		p.publish(stream.DiagnosticEvent(stream.Diagnostic{
			Reason: stream.ReasonRejectedSample, Symbol: sym, Message: err.Error(),
		}))
		return outcomeFailed
	}
	st.succeed(sample, ev)
	p.publish(stream.PriceEvent(sample))

	if !ev.Classification.Significant() {
		return outcomeFetched
	}

	st.setState(StateCorrelating)
	corr := p.deps.Correlator.Correlate(ev)
	if ctx.Err() != nil {
		log.Debug().Str("symbol", string(sym)).Msg("Tick ended before movement was published, discarding")
		return outcomeDiscarded
	}
	rec := market.MovementRecord{Movement: ev, Correlation: corr}
	st.movement(ev)
	p.publish(stream.MovementEvent(rec))
	if p.deps.Observer != nil {
		p.deps.Observer.RecordMovement(ev)
	}

	log.Info().
		Str("symbol", string(sym)).
		Str("classification", string(ev.Classification)).
		Float64("change_pct", ev.ChangePercent).
		Str("reference", ev.ReferencePrice.String()).
		Str("current", ev.CurrentPrice.String()).
		Int("candidates", len(corr.Candidates)).
		Float64("confidence", corr.Confidence).
		Msg("Significant movement")
	return outcomeMovement
}

func (p *Pipeline) reportFetchFailure(st *symbolState, err error) {
	diag := stream.Diagnostic{Reason: stream.ReasonAllSourcesFailed, Symbol: st.symbol, Message: err.Error()}

	var asf *provider.AllSourcesFailedError
	if errors.As(err, &asf) {
		for _, a := range asf.Attempts {
			info := stream.AttemptInfo{Source: a.Source, Kind: string(a.Kind)}
			if a.Err != nil {
				info.Error = a.Err.Error()
			}
			diag.Attempts = append(diag.Attempts, info)
		}
	}
	st.fail(err.Error(), diag.Attempts)

	log.Warn().
		Str("symbol", string(st.symbol)).
		Int("attempts", len(diag.Attempts)).
		Err(err).
		Msg("All price sources failed")
	p.publish(stream.DiagnosticEvent(diag))
}

func (p *Pipeline) publish(ev stream.Event) {
	if _, err := p.deps.Bus.Publish(ev); err != nil && !errors.Is(err, stream.ErrBusClosed) {
		log.Error().Err(err).Str("kind", string(ev.Kind)).Msg("Publish failed")
	}
}

// RefreshNews runs one aggregation pass into the shared cache
func (p *Pipeline) RefreshNews(ctx context.Context) (news.CollectResult, error) {
	if p.deps.Aggregator == nil {
		return news.CollectResult{}, errors.New("no news aggregator configured")
	}
	ctx, cancel := context.WithTimeout(ctx, p.newsDeadline())
	defer cancel()
	return p.deps.Aggregator.Collect(ctx, p.deps.NewsAdapters)
}

func (p *Pipeline) newsDeadline() time.Duration {
	if p.cfg.NewsInterval > 0 {
		return 2 * p.cfg.NewsInterval
	}
	return p.cfg.deadline()
}

// SymbolStatus returns a snapshot of every symbol's state, sorted by symbol
func (p *Pipeline) SymbolStatus() []SymbolStatus {
	out := make([]SymbolStatus, 0, len(p.symbols))
	for _, st := range p.symbols {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Status returns one symbol's snapshot
func (p *Pipeline) Status(sym market.Symbol) (SymbolStatus, bool) {
	st, ok := p.symbols[sym]
	if !ok {
		return SymbolStatus{}, false
	}
	return st.snapshot(), true
}
