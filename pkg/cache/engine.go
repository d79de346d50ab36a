package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/calendar-server/pkg/executor"
	"github.com/Sternrassler/calendar-server/pkg/logging"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

// ErrPanic wraps a panic raised by a computation.
var ErrPanic = errors.New("computation panicked")

// Computation produces the body for a month.
type Computation func(ctx context.Context, m month.Month) ([]byte, error)

// Config holds engine configuration.
type Config struct {
	// TTL is how long a completed body stays fresh. Must be positive.
	TTL time.Duration

	// Clock defaults to SystemClock.
	Clock Clock

	// Executor runs computations. Required.
	Executor executor.Executor
}

// Engine is an in-memory, per-month result cache with request coalescing
// and stale-while-revalidate refresh.
type Engine struct {
	mu      sync.RWMutex
	entries map[month.Month]entry

	ttl     time.Duration
	clock   Clock
	exec    executor.Executor
	compute Computation
	logger  zerolog.Logger
}

// NewEngine creates a new engine.
func NewEngine(config Config, compute Computation) (*Engine, error) {
	if config.TTL <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", config.TTL)
	}
	if config.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if compute == nil {
		return nil, fmt.Errorf("computation is required")
	}
	if config.Clock == nil {
		config.Clock = SystemClock{}
	}

	return &Engine{
		entries: make(map[month.Month]entry),
		ttl:     config.TTL,
		clock:   config.Clock,
		exec:    config.Executor,
		compute: compute,
		logger:  logging.NewLogger("cache"),
	}, nil
}

// Request returns the body for m. A valid entry is served as is; a missing
// or expired one triggers Update.
func (e *Engine) Request(m month.Month) *Future {
	now := e.clock.Now()

	e.mu.RLock()
	current, ok := e.entries[m]
	e.mu.RUnlock()

	if ok && current.valid(now) {
		state := current.state(now)
		CacheHits.WithLabelValues(state.String()).Inc()
		e.logger.Debug().
			Str("month", m.String()).
			Str("state", state.String()).
			Msg("Cache hit")
		return current.body()
	}

	CacheMisses.Inc()
	return e.Update(m)
}

// Get is Request followed by Future.Wait.
func (e *Engine) Get(ctx context.Context, m month.Month) ([]byte, error) {
	return e.Request(m).Wait(ctx)
}

// Update starts a computation for m unless one is already in flight or the
// slot holds a fresh value, in which case the existing body is returned. An
// expired entry keeps being served while the new computation runs.
func (e *Engine) Update(m month.Month) *Future {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.entries[m]
	switch current.(type) {
	case *pendingEntry, *updatingEntry:
		CacheCoalesced.Inc()
		return current.body()
	}
	// another refresh landed after the caller's read
	if current != nil && current.valid(e.clock.Now()) {
		CacheCoalesced.Inc()
		return current.body()
	}

	future := newFuture()
	pending := &pendingEntry{future: future}

	var installed entry = pending
	if completed, ok := current.(*completedEntry); ok {
		installed = &updatingEntry{old: completed, next: pending}
	}

	err := e.exec.Submit(func(ctx context.Context) {
		e.run(ctx, m, installed, future)
	})
	if err != nil {
		CacheUpdates.WithLabelValues("rejected").Inc()
		e.logger.Warn().
			Err(err).
			Str("month", m.String()).
			Msg("Could not schedule computation")
		future.resolve(nil, fmt.Errorf("schedule %s: %w", m, err))
		return future
	}

	e.entries[m] = installed
	CacheEntries.Set(float64(len(e.entries)))

	e.logger.Debug().
		Str("month", m.String()).
		Str("state", installed.state(e.clock.Now()).String()).
		Msg("Computation scheduled")

	return installed.body()
}

// run executes the computation and settles the slot it was installed in.
// A slot that was replaced or removed meanwhile is left alone.
func (e *Engine) run(ctx context.Context, m month.Month, installed entry, future *Future) {
	start := time.Now()
	body, err := e.safeCompute(ctx, m)
	CacheUpdateDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		// resolve before swapping so an updating entry already serves it
		future.resolve(body, nil)
	}

	e.mu.Lock()
	if e.entries[m] == installed {
		if err != nil {
			delete(e.entries, m)
		} else {
			e.entries[m] = &completedEntry{
				future:  future,
				expires: e.clock.Now().Add(e.ttl),
			}
		}
		CacheEntries.Set(float64(len(e.entries)))
	}
	e.mu.Unlock()

	if err != nil {
		// resolve after removal so a waiter retrying immediately recomputes
		future.resolve(nil, err)
		CacheUpdates.WithLabelValues("failure").Inc()
		e.logger.Warn().
			Err(err).
			Str("month", m.String()).
			Dur("duration", time.Since(start)).
			Msg("Computation failed")
		return
	}

	CacheUpdates.WithLabelValues("success").Inc()
	e.logger.Info().
		Str("month", m.String()).
		Int("bytes", len(body)).
		Dur("duration", time.Since(start)).
		Msg("Computation completed")
}

func (e *Engine) safeCompute(ctx context.Context, m month.Month) (body []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return e.compute(ctx, m)
}

// Invalidate drops a completed entry so the next request recomputes. In-flight
// entries are left alone. It reports whether an entry was removed.
func (e *Engine) Invalidate(m month.Month) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.entries[m].(*completedEntry); !ok {
		return false
	}
	delete(e.entries, m)
	CacheEntries.Set(float64(len(e.entries)))
	return true
}

// State reports what the engine holds for m.
func (e *Engine) State(m month.Month) State {
	now := e.clock.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	current, ok := e.entries[m]
	if !ok {
		return StateAbsent
	}
	return current.state(now)
}

// Len returns the number of months held.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}
