// Package fetch downloads iCalendar feeds over HTTP with connect and read
// timeouts, typed failures and optional retries.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/month"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for feed downloads.
var (
	fetchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_fetch_requests_total",
		Help: "Total feed download attempts by status",
	}, []string{"status"})

	fetchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "calendar_fetch_duration_seconds",
		Help:    "Feed download duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_fetch_errors_total",
		Help: "Total feed download errors by class",
	}, []string{"class"})
)

// Placeholder is replaced by the month expression in URL templates.
const Placeholder = "$$"

// DefaultMaxBodyBytes caps the size of a downloaded feed.
const DefaultMaxBodyBytes = 16 << 20

// Config holds the fetcher configuration.
type Config struct {
	// User-Agent header sent with every request.
	UserAgent string

	// Server name and version sent as identification headers.
	ServerName    string
	ServerVersion string

	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration

	// ReadTimeout bounds the whole request including the body.
	ReadTimeout time.Duration

	// MaxBodyBytes rejects feeds larger than this.
	MaxBodyBytes int64

	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:      userAgent,
		ServerName:     "calendar-server",
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    30 * time.Second,
		MaxBodyBytes:   DefaultMaxBodyBytes,
		Retry:          DefaultRetryConfig(),
	}
}

// Fetcher performs feed downloads.
type Fetcher struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new Fetcher.
func New(cfg Config) (*Fetcher, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.ConnectTimeout <= 0 {
		return nil, fmt.Errorf("connect timeout must be positive (got %s)", cfg.ConnectTimeout)
	}
	if cfg.ReadTimeout <= 0 {
		return nil, fmt.Errorf("read timeout must be positive (got %s)", cfg.ReadTimeout)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Fetcher{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.ReadTimeout,
		},
		config: cfg,
		logger: logging.NewLogger("fetch"),
	}, nil
}

// FormatURL substitutes every placeholder in template with m's "YYYY-MM" form.
func FormatURL(template string, m month.Month) string {
	return strings.ReplaceAll(template, Placeholder, m.String())
}

// Fetch downloads url and returns the response body. Non-2xx responses and
// transport failures are reported as *Error.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	startTime := time.Now()
	defer func() {
		fetchRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	var body []byte
	err := retryWithBackoff(ctx, f.config.Retry, f.logger, func() error {
		var attemptErr error
		body, attemptErr = f.do(ctx, url)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// do performs a single download attempt.
func (f *Fetcher) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", f.config.UserAgent)
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if f.config.ServerName != "" {
		req.Header.Set("X-Calendar-Server", f.config.ServerName)
	}
	if f.config.ServerVersion != "" {
		req.Header.Set("X-Calendar-Server-Version", f.config.ServerVersion)
	}

	f.logger.Debug().
		Str("url", url).
		Msg("Downloading feed")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		fetchRequestsTotal.WithLabelValues("transport_error").Inc()
		f.logger.Warn().Err(err).Str("url", url).Msg("Feed request failed")
		return nil, &Error{URL: url, Class: ErrorClassTransport, Err: err}
	}
	defer resp.Body.Close()

	fetchRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		fetchErrorsTotal.WithLabelValues(string(ErrorClassStatus)).Inc()
		f.logger.Warn().
			Str("url", url).
			Int("status", resp.StatusCode).
			Msg("Feed request returned bad status")
		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Class: ErrorClassStatus}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes+1))
	if err != nil {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Class: ErrorClassTransport, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.config.MaxBodyBytes {
		fetchErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		return nil, &Error{
			URL:        url,
			StatusCode: resp.StatusCode,
			Class:      ErrorClassTransport,
			Err:        fmt.Errorf("body exceeds %d bytes", f.config.MaxBodyBytes),
		}
	}

	f.logger.Debug().
		Str("url", url).
		Int("status", resp.StatusCode).
		Int("bytes", len(body)).
		Msg("Feed downloaded")

	return body, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *Fetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}
