// Package server exposes the month cache over HTTP.
//
// Routes:
//
//	GET /{YYYY-MM}  JSON array of events for the month
//	GET /health     "OK"
//	GET /metrics    Prometheus exposition
//
// Leading and trailing slashes as well as any query or fragment are trimmed
// before routing, so "//2024-08/?x=1" addresses the same month as "/2024-08".
// Every other method is answered with 405.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/calendar-server/pkg/cache"
	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/metrics"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

const (
	contentTypeText = "text/plain; charset=utf-8"
	contentTypeJSON = "application/json"

	msgMethodNotAllowed = "This server only accepts GET requests"
	msgYearOutOfRange   = "Year out of range"
	msgInternalError    = "Internal server error"
)

// Requester is the part of the cache engine the server needs.
type Requester interface {
	Request(m month.Month) *cache.Future
}

// Config holds server configuration.
type Config struct {
	// CORS adds permissive Access-Control-Allow-* headers to every response.
	CORS bool

	// Validator applies the year window. Use month.NoWindow to accept every year.
	Validator month.Validator

	// RequestTimeout bounds how long a client waits for a month. Zero means
	// two minutes.
	RequestTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown in Run. Zero means ten seconds.
	ShutdownTimeout time.Duration
}

// Server answers month requests from the cache engine.
type Server struct {
	config  Config
	engine  Requester
	metrics http.Handler
	logger  zerolog.Logger
}

// New creates a server.
func New(config Config, engine Requester) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 2 * time.Minute
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		config:  config,
		engine:  engine,
		metrics: metrics.Handler(),
		logger:  logging.NewLogger("server"),
	}, nil
}

// Handler returns the server with its middleware applied.
func (s *Server) Handler() http.Handler {
	var h http.Handler = http.HandlerFunc(s.route)
	h = getOnly(h)
	if s.config.CORS {
		h = cors(h)
	}
	h = instrument(h)
	h = withRequestID(s.logger, h)
	return h
}

// route dispatches on the trimmed request path.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	key := trimPath(r)

	switch key {
	case "health":
		writeText(w, http.StatusOK, "OK")
	case "metrics":
		s.metrics.ServeHTTP(w, r)
	default:
		s.serveMonth(w, r, key)
	}
}

func (s *Server) serveMonth(w http.ResponseWriter, r *http.Request, key string) {
	logger := zerolog.Ctx(r.Context())

	m, err := s.config.Validator.Parse(key)
	if err != nil {
		logger.Debug().Err(err).Str("path", key).Msg("Rejected month")
		if errors.Is(err, month.ErrYearOutOfRange) {
			writeText(w, http.StatusBadRequest, msgYearOutOfRange)
			return
		}
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
	defer cancel()

	body, err := s.engine.Request(m).Wait(ctx)
	if err != nil {
		if r.Context().Err() != nil {
			logger.Debug().Str("month", m.String()).Msg("Client went away")
			return
		}
		logger.Error().
			Err(err).
			Str("month", m.String()).
			Msg("Month request failed")
		writeText(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	writeJSON(w, r, body)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP server listening")
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info().Msg("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// trimPath strips slashes, query and fragment from the raw request URI.
func trimPath(r *http.Request) string {
	uri := r.RequestURI
	if uri == "" {
		uri = r.URL.RequestURI()
	}
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		uri = uri[:i]
	}
	return strings.Trim(uri, "/")
}

func writeText(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", contentTypeText)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(msg))
}
