// Package metrics provides the Prometheus registry and exposition handler for
// the calendar server. All metrics are defined in their respective packages
// (cache, fetch, executor, calendar, server) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the calendar server.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects what Registry holds.
var Gatherer = prometheus.DefaultGatherer

// Handler serves every registered metric in the Prometheus text format. Its
// own request counters are registered on Registry.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry,
		promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - calendar_cache_hits_total{state} (Counter): Requests served from an existing entry
//   - calendar_cache_misses_total (Counter): Requests that triggered an update
//   - calendar_cache_coalesced_total (Counter): Updates joined to an in-flight computation
//   - calendar_cache_updates_total{result} (Counter): Computations by result (success, failure, rejected)
//   - calendar_cache_update_duration_seconds (Histogram): Computation latency
//   - calendar_cache_entries (Gauge): Months currently held
//
// Fetch Metrics (pkg/fetch):
//   - calendar_fetch_requests_total{status} (Counter): Upstream requests by HTTP status
//   - calendar_fetch_duration_seconds (Histogram): Upstream request duration
//   - calendar_fetch_errors_total{class} (Counter): Upstream errors by class (transport, status)
//   - calendar_fetch_retries_total{error_class} (Counter): Retry attempts by error class
//   - calendar_fetch_retry_backoff_seconds (Histogram): Backoff duration
//   - calendar_fetch_retry_exhausted_total (Counter): Downloads that exhausted their retries
//
// Pipeline Metrics (pkg/calendar):
//   - calendar_pipeline_failures_total{stage} (Counter): Failures by stage (fetch, normalize, serialize)
//   - calendar_pipeline_events (Histogram): Events produced per month
//   - calendar_warm_runs_total{result} (Counter): Scheduled warm runs by result
//
// Executor Metrics (pkg/executor):
//   - calendar_executor_inflight (Gauge): Tasks currently running
//   - calendar_executor_queued (Gauge): Tasks waiting for a slot
//   - calendar_executor_tasks_total{result} (Counter): Finished tasks (completed, cancelled, panicked)
//
// HTTP Metrics (pkg/server):
//   - calendar_http_requests_total{code} (Counter): Responses by status code
//   - calendar_http_request_duration_seconds (Histogram): Response latency
//   - calendar_http_not_modified_total (Counter): 304 Not Modified responses
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(calendar_cache_hits_total[5m])) /
//   (sum(rate(calendar_cache_hits_total[5m])) + sum(rate(calendar_cache_misses_total[5m])))
//
//   # Upstream Failure Rate
//   rate(calendar_cache_updates_total{result="failure"}[5m])
//
//   # P95 Upstream Latency
//   histogram_quantile(0.95, rate(calendar_fetch_duration_seconds_bucket[5m]))
//
//   # Worker Saturation
//   calendar_executor_queued > 0
