package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/moverun/internal/config"
	"github.com/sawpanic/moverun/internal/correlate"
	"github.com/sawpanic/moverun/internal/explain"
	"github.com/sawpanic/moverun/internal/history"
	"github.com/sawpanic/moverun/internal/metrics"
	"github.com/sawpanic/moverun/internal/movement"
	"github.com/sawpanic/moverun/internal/net/circuit"
	"github.com/sawpanic/moverun/internal/net/policy"
	"github.com/sawpanic/moverun/internal/news"
	"github.com/sawpanic/moverun/internal/persistence"
	"github.com/sawpanic/moverun/internal/pipeline"
	"github.com/sawpanic/moverun/internal/provider"
	"github.com/sawpanic/moverun/internal/source"
	newssrc "github.com/sawpanic/moverun/internal/source/news"
	"github.com/sawpanic/moverun/internal/source/price"
	"github.com/sawpanic/moverun/internal/stream"
)

// engine owns every collaborator built from one Config
type engine struct {
	cfg *config.Config

	metrics      *metrics.Registry
	net          *policy.Policy
	chain        *provider.PriceChain
	newsAdapters []source.NewsAdapter
	cache        *news.Cache
	aggregator   *news.Aggregator
	bus          *stream.Bus
	pipeline     *pipeline.Pipeline

	redis  *redis.Client
	mirror *news.RedisMirror
	store  *persistence.Store
}

type engineOptions struct {
	// skipExternal leaves Redis and the database unopened
	skipExternal bool
}

func networkPolicy(cfg *config.Config, transport http.RoundTripper) *policy.Policy {
	n := cfg.Network
	return policy.New(policy.Config{
		Identities:     n.Identities,
		MinSpacing:     n.MinSpacing,
		MaxSpacing:     n.MaxSpacing,
		RequestTimeout: n.RequestTimeout,
		MaxBodyBytes:   n.MaxResponseBytes,
		Breaker: circuit.Config{
			ConsecutiveFailures: n.BreakerFailures,
			MaxRequests:         n.BreakerHalfOpen,
			Interval:            circuit.DefaultConfig().Interval,
			Timeout:             n.BreakerOpenFor,
		},
	}, transport)
}

func buildEngine(ctx context.Context, cfg *config.Config, opts engineOptions) (*engine, error) {
	e := &engine{cfg: cfg, metrics: metrics.NewRegistry()}

	e.net = networkPolicy(cfg, nil)
	e.net.SetObserver(e.metrics)

	adapters, err := price.Build(cfg.Sources.Price, e.net, price.Options{BaseURLs: cfg.Sources.PriceURLs})
	if err != nil {
		return nil, err
	}
	e.chain = provider.NewPriceChain("quotes", adapters)
	e.chain.SetObserver(e.metrics)

	e.newsAdapters, err = newssrc.Build(cfg.Sources.News, e.net, newssrc.Options{PageURLs: cfg.Sources.NewsPageURLs})
	if err != nil {
		return nil, err
	}

	e.cache = news.NewCache(cfg.CacheConfig(), time.Now)
	e.aggregator = news.NewAggregator(e.cache, news.NewTagger(cfg.Symbols, cfg.Aliases()), cfg.News.Concurrency)
	e.aggregator.SetObserver(e.metrics)
	e.bus = stream.NewBus(cfg.Bus.Capacity)

	if !opts.skipExternal {
		if err := e.openExternal(ctx); err != nil {
			e.Close()
			return nil, err
		}
	}

	store := history.NewStore(history.Config{Capacity: cfg.History.Capacity, Retention: cfg.History.Retention})
	e.pipeline, err = pipeline.New(pipeline.Config{
		Symbols:        cfg.Symbols,
		TickInterval:   cfg.Pipeline.TickInterval,
		TickDeadline:   cfg.Pipeline.TickDeadline,
		NewsInterval:   cfg.Pipeline.NewsInterval,
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
	}, pipeline.Deps{
		Prices:       e.chain,
		Detector:     movement.NewDetector(store, cfg.Movement),
		Correlator:   correlate.New(e.cache, cfg.Correlation.Window),
		Aggregator:   e.aggregator,
		NewsAdapters: e.newsAdapters,
		Bus:          e.bus,
		Observer:     e.metrics,
	})
	if err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// openExternal connects the optional Redis mirror and database. A Redis
// outage only costs the warm start; a configured database must be
// reachable.
func (e *engine) openExternal(ctx context.Context) error {
	if rc := e.cfg.Redis; rc.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", rc.Addr).Msg("Redis unreachable, news mirror disabled")
			_ = client.Close()
		} else {
			e.redis = client
			e.mirror = news.NewRedisMirror(client, rc.Prefix, rc.TTL)
			n, err := news.Warm(ctx, e.cache, e.mirror, time.Now().Add(-e.cfg.News.MaxAge))
			if err != nil {
				log.Warn().Err(err).Msg("News warm start failed")
			} else {
				log.Info().Int("articles", n).Msg("News cache warmed from Redis")
			}
			e.cache.SetMirror(e.mirror)
		}
	}

	if sc := e.cfg.Storage; sc.DSN != "" {
		st, err := persistence.Open(ctx, sc.DSN, sc.Timeout)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return fmt.Errorf("migrate storage: %w", err)
		}
		e.store = st
		log.Info().Str("driver", st.Driver()).Msg("Storage enabled")
	}
	return nil
}

// explainer returns the webhook worker, or nil when none is configured
func (e *engine) explainer() *explain.Worker {
	ec := e.cfg.Explain
	if ec.WebhookURL == "" {
		return nil
	}
	retry := explain.DefaultRetry
	if ec.MaxAttempts > 0 {
		retry.MaxAttempts = ec.MaxAttempts
	}
	// the worker deadline covers every attempt plus backoff
	budget := time.Duration(retry.MaxAttempts) * (ec.Timeout + retry.MaxDelay)
	return explain.NewWorker(explain.NewWebhookExplainer(ec.WebhookURL, ec.Timeout, retry), e.bus, budget)
}

func (e *engine) Close() {
	if e.bus != nil {
		e.bus.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing storage")
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Closing Redis client")
		}
	}
}
