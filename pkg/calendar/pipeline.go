package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/calendar-server/pkg/fetch"
	"github.com/Sternrassler/calendar-server/pkg/ics"
	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

// ErrSerialize indicates the event list could not be encoded.
var ErrSerialize = errors.New("serialize events")

var (
	pipelineFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_pipeline_failures_total",
		Help: "Total pipeline failures by stage",
	}, []string{"stage"}) // "fetch", "normalize", "serialize"

	pipelineEvents = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calendar_pipeline_events",
		Help:    "Number of events produced per month computation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
)

// Fetcher downloads a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Normalizer turns a feed into events.
type Normalizer interface {
	Normalize(body []byte, m month.Month) ([]ics.Event, error)
}

// Pipeline computes the JSON body for a month: fetch, normalize, serialize.
type Pipeline struct {
	urlTemplate string
	fetcher     Fetcher
	normalizer  Normalizer
	logger      zerolog.Logger
}

// NewPipeline creates a pipeline. urlTemplate must contain fetch.Placeholder.
func NewPipeline(urlTemplate string, fetcher Fetcher, normalizer Normalizer) (*Pipeline, error) {
	if urlTemplate == "" {
		return nil, fmt.Errorf("url template is required")
	}
	if fetcher == nil || normalizer == nil {
		return nil, fmt.Errorf("fetcher and normalizer are required")
	}
	return &Pipeline{
		urlTemplate: urlTemplate,
		fetcher:     fetcher,
		normalizer:  normalizer,
		logger:      logging.NewLogger("pipeline"),
	}, nil
}

// Compute is a cache.Computation.
func (p *Pipeline) Compute(ctx context.Context, m month.Month) ([]byte, error) {
	start := time.Now()
	url := fetch.FormatURL(p.urlTemplate, m)

	feed, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		pipelineFailures.WithLabelValues("fetch").Inc()
		return nil, fmt.Errorf("fetch %s: %w", m, err)
	}

	events, err := p.normalizer.Normalize(feed, m)
	if err != nil {
		pipelineFailures.WithLabelValues("normalize").Inc()
		return nil, fmt.Errorf("normalize %s: %w", m, err)
	}
	if events == nil {
		events = []ics.Event{}
	}

	body, err := json.Marshal(events)
	if err != nil {
		pipelineFailures.WithLabelValues("serialize").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSerialize, err)
	}

	pipelineEvents.Observe(float64(len(events)))
	p.logger.Debug().
		Str("month", m.String()).
		Str("url", url).
		Int("events", len(events)).
		Int("feed_bytes", len(feed)).
		Dur("duration", time.Since(start)).
		Msg("Month computed")

	return body, nil
}
