package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/calendar-server/pkg/cache"
	"github.com/Sternrassler/calendar-server/pkg/calendar"
	"github.com/Sternrassler/calendar-server/pkg/config"
	"github.com/Sternrassler/calendar-server/pkg/executor"
	"github.com/Sternrassler/calendar-server/pkg/fetch"
	"github.com/Sternrassler/calendar-server/pkg/ics"
	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/server"
)

// app holds the wired components of a running server.
type app struct {
	cfg    *config.Config
	pool   *executor.Pool
	engine *cache.Engine
	warmer *calendar.Warmer
	server *server.Server
	logger zerolog.Logger
}

// newApp builds every component from a validated configuration.
func newApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	fetchCfg := fetch.DefaultConfig(cfg.UserAgent)
	fetchCfg.ServerVersion = version
	fetchCfg.ConnectTimeout = cfg.DownloadConnectTimeout.Std()
	fetchCfg.ReadTimeout = cfg.DownloadRetrieveTimeout.Std()
	fetchCfg.Retry = fetchCfg.Retry.WithRetries(cfg.FetchRetries)

	fetcher, err := fetch.New(fetchCfg)
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	normalizer, err := ics.NewNormalizer(ics.Config{
		HiddenPattern:     cfg.HiddenRegex,
		Location:          loc,
		ExpandRecurrences: cfg.ExpandRecurrences,
	})
	if err != nil {
		return nil, fmt.Errorf("create normalizer: %w", err)
	}

	pipeline, err := calendar.NewPipeline(cfg.URLTemplate, fetcher, normalizer)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	// a computation may retry, so give it room beyond one download
	taskTimeout := time.Duration(cfg.FetchRetries+1) * (fetchCfg.ConnectTimeout + fetchCfg.ReadTimeout)
	pool := executor.NewPool(executor.Config{
		MaxConcurrency: cfg.Workers,
		TaskTimeout:    taskTimeout,
	})

	engine, err := cache.NewEngine(cache.Config{
		TTL:      cfg.CacheTTL.Std(),
		Executor: pool,
	}, pipeline.Compute)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	a := &app{
		cfg:    cfg,
		pool:   pool,
		engine: engine,
		logger: logging.NewLogger("main"),
	}

	if cfg.WarmSchedule != "" {
		a.warmer, err = calendar.NewWarmer(calendar.WarmerConfig{
			Schedule:    cfg.WarmSchedule,
			MonthsAhead: cfg.WarmMonthsAhead,
			Location:    loc,
			Validator:   cfg.YearWindow(),
			Timeout:     taskTimeout,
		}, engine)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("create warmer: %w", err)
		}
	}

	a.server, err = server.New(server.Config{
		CORS:           cfg.CORS,
		Validator:      cfg.YearWindow(),
		RequestTimeout: taskTimeout,
	}, engine)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create server: %w", err)
	}

	return a, nil
}

// run serves until ctx is cancelled and then drains background work.
func (a *app) run(ctx context.Context) error {
	a.logger.Info().
		Str("version", version).
		Str("listen", a.cfg.Listen).
		Str("url_template", a.cfg.URLTemplate).
		Dur("cache_ttl", a.cfg.CacheTTL.Std()).
		Bool("cors", a.cfg.CORS).
		Int("workers", a.cfg.Workers).
		Msg("Starting calendar server")

	if a.warmer != nil {
		a.warmer.Start()
	}

	serveErr := a.server.Run(ctx, a.cfg.Listen)

	var errs []error
	if serveErr != nil {
		errs = append(errs, serveErr)
	}

	if a.warmer != nil {
		<-a.warmer.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.pool.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain workers: %w", err))
	}

	a.logger.Info().Msg("Calendar server stopped")
	return errors.Join(errs...)
}
