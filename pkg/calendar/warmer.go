package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/calendar-server/pkg/cache"
	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

var warmRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "calendar_warm_runs_total",
	Help: "Total scheduled warm runs by result",
}, []string{"result"}) // "success", "partial", "failure"

// Requester is the part of the cache engine the warmer needs.
type Requester interface {
	Request(m month.Month) *cache.Future
}

// WarmerConfig holds warmer configuration.
type WarmerConfig struct {
	// Schedule is a standard five-field cron expression.
	Schedule string

	// MonthsAhead is how many months after the current one are warmed.
	MonthsAhead int

	// Location decides which month is current. Nil means UTC.
	Location *time.Location

	// Validator drops months outside the served year window. Use
	// month.NoWindow to accept every year.
	Validator month.Validator

	// Timeout bounds a single run. Zero means one minute.
	Timeout time.Duration

	// Clock defaults to cache.SystemClock.
	Clock cache.Clock
}

// Warmer requests upcoming months on a cron schedule so the first client of
// a month does not pay for the upstream fetch.
type Warmer struct {
	config    WarmerConfig
	requester Requester
	cron      *cron.Cron
	logger    zerolog.Logger
}

// NewWarmer parses the schedule and registers the warm job. Call Start to
// begin running it.
func NewWarmer(config WarmerConfig, requester Requester) (*Warmer, error) {
	if requester == nil {
		return nil, fmt.Errorf("requester is required")
	}
	if config.MonthsAhead < 0 {
		return nil, fmt.Errorf("months ahead must not be negative, got %d", config.MonthsAhead)
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if config.Clock == nil {
		config.Clock = cache.SystemClock{}
	}

	w := &Warmer{
		config:    config,
		requester: requester,
		logger:    logging.NewLogger("warmer"),
	}

	logger := cronLogger{logger: w.logger}
	w.cron = cron.New(
		cron.WithLocation(config.Location),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := w.cron.AddFunc(config.Schedule, w.runScheduled); err != nil {
		return nil, fmt.Errorf("parse warm schedule %q: %w", config.Schedule, err)
	}
	return w, nil
}

// Months returns the months a run would request.
func (w *Warmer) Months() []month.Month {
	current := month.FromTime(w.config.Clock.Now().In(w.config.Location))

	months := make([]month.Month, 0, w.config.MonthsAhead+1)
	for i := 0; i <= w.config.MonthsAhead; i++ {
		m := current.Add(i)
		if err := w.config.Validator.Check(m); err != nil {
			continue
		}
		months = append(months, m)
	}
	return months
}

// Run requests every month and waits for the results. It returns the
// number of months that failed.
func (w *Warmer) Run(ctx context.Context) int {
	months := w.Months()
	futures := make([]*cache.Future, len(months))
	for i, m := range months {
		futures[i] = w.requester.Request(m)
	}

	failed := 0
	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			failed++
			w.logger.Warn().
				Err(err).
				Str("month", months[i].String()).
				Msg("Warming month failed")
		}
	}

	switch {
	case failed == 0:
		warmRuns.WithLabelValues("success").Inc()
	case failed < len(months):
		warmRuns.WithLabelValues("partial").Inc()
	default:
		warmRuns.WithLabelValues("failure").Inc()
	}

	w.logger.Info().
		Int("months", len(months)).
		Int("failed", failed).
		Msg("Warm run finished")

	return failed
}

func (w *Warmer) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.Timeout)
	defer cancel()
	w.Run(ctx)
}

// Start begins the cron scheduler in its own goroutine.
func (w *Warmer) Start() {
	w.cron.Start()
	w.logger.Info().
		Str("schedule", w.config.Schedule).
		Int("months_ahead", w.config.MonthsAhead).
		Msg("Warmer started")
}

// Stop halts the scheduler. The returned context is done once a running
// job has finished.
func (w *Warmer) Stop() context.Context {
	return w.cron.Stop()
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
