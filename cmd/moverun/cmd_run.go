package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/moverun/internal/config"
	api "github.com/sawpanic/moverun/internal/interfaces/http"
	"github.com/sawpanic/moverun/internal/persistence"
)

func newRunCmd() *cobra.Command {
	var (
		addr   string
		noHTTP bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline and the HTTP API until interrupted",
		Long: `Run ticks every configured symbol through the price fallback chain,
refreshes the news cache, publishes movements with their correlated
news and serves the read-only HTTP API. SIGHUP reloads the movement
threshold, lookback and correlation window from the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.HTTP.Addr = addr
			}
			if noHTTP {
				cfg.HTTP.Enabled = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().BoolVar(&noHTTP, "no-http", false, "disable the HTTP API")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	e, err := buildEngine(ctx, cfg, engineOptions{})
	if err != nil {
		return err
	}
	defer e.Close()

	log.Info().Str("version", version).Strs("price_sources", e.chain.Sources()).
		Int("news_sources", len(e.newsAdapters)).Int("symbols", len(cfg.Symbols)).
		Msg("Starting moverun")

	g, gctx := errgroup.WithContext(ctx)

	// consumers subscribe before the first tick publishes
	if e.store != nil {
		sink := persistence.NewSink(e.store, e.bus, cfg.Storage.Samples)
		g.Go(func() error { return sink.Run(gctx) })
	}
	if w := e.explainer(); w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error { return e.pipeline.Run(gctx) })

	if cfg.HTTP.Enabled {
		srvCfg := api.DefaultServerConfig()
		srvCfg.Addr = cfg.HTTP.Addr
		srv, err := api.NewServer(srvCfg, api.Deps{
			Pipeline: e.pipeline,
			News:     e.cache,
			Bus:      e.bus,
			Metrics:  e.metrics,
			Hosts:    e.net,
			Store:    e.store,
			Version:  version,
		})
		if err != nil {
			return err
		}
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		watchReload(gctx, e)
		return nil
	})

	err = g.Wait()
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Info().Msg("Shutdown complete")
		return nil
	}
	return err
}

// watchReload applies the movement policy and correlation window from a
// fresh config load on every SIGHUP. Other settings need a restart.
func watchReload(ctx context.Context, e *engine) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			reload(e)
		}
	}
}

func reload(e *engine) {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("Config reload failed, keeping current policy")
		return
	}
	if err := e.pipeline.UpdatePolicy(cfg.Movement, cfg.Correlation.Window); err != nil {
		log.Error().Err(err).Msg("Rejected reloaded policy")
		return
	}
	log.Info().Float64("threshold_pct", cfg.Movement.ThresholdPct).
		Dur("lookback", cfg.Movement.Lookback).Dur("window", cfg.Correlation.Window).
		Msg("Policy reloaded")
}
