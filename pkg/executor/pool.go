package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Sternrassler/calendar-server/pkg/logging"
)

var (
	executorInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calendar_executor_inflight",
		Help: "Number of tasks currently running",
	})

	executorQueued = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "calendar_executor_queued",
		Help: "Number of tasks waiting for a free slot",
	})

	executorTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calendar_executor_tasks_total",
		Help: "Total tasks finished by result",
	}, []string{"result"}) // "completed", "cancelled", "panicked"
)

// ErrClosed is returned by Submit after the pool has been closed.
var ErrClosed = errors.New("executor closed")

// Task is a unit of background work. The context is cancelled when the pool
// shuts down or the task timeout elapses.
type Task func(ctx context.Context)

// Executor accepts tasks without blocking the caller.
type Executor interface {
	Submit(task Task) error
}

// Config holds pool configuration.
type Config struct {
	// MaxConcurrency is the maximum number of tasks running at once.
	MaxConcurrency int

	// TaskTimeout bounds each task. Zero disables the bound.
	TaskTimeout time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		TaskTimeout:    2 * time.Minute,
	}
}

// Pool is a bounded Executor. Submit spawns a goroutine that waits on a
// weighted semaphore, so callers never block on a full pool.
type Pool struct {
	sem    *semaphore.Weighted
	config Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a new pool.
func NewPool(config Config) *Pool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if config.TaskTimeout < 0 {
		config.TaskTimeout = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(config.MaxConcurrency)),
		config: config,
		logger: logging.NewLogger("executor"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit schedules task and returns immediately.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	p.wg.Add(1)
	executorQueued.Inc()
	go p.run(task)
	return nil
}

// run waits for a slot and executes task.
func (p *Pool) run(task Task) {
	defer p.wg.Done()

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		executorQueued.Dec()
		executorTasksTotal.WithLabelValues("cancelled").Inc()
		p.logger.Debug().Msg("Task cancelled before start")
		// still run it so the task can report the cancellation to its waiters
		p.invoke(p.ctx, task)
		return
	}
	defer p.sem.Release(1)

	executorQueued.Dec()
	executorInflight.Inc()
	defer executorInflight.Dec()

	ctx := p.ctx
	if p.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.config.TaskTimeout)
		defer cancel()
	}

	if p.invoke(ctx, task) {
		executorTasksTotal.WithLabelValues("completed").Inc()
	}
}

// invoke runs task, converting a panic into a log entry. It reports
// whether the task returned normally.
func (p *Pool) invoke(ctx context.Context, task Task) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			executorTasksTotal.WithLabelValues("panicked").Inc()
			p.logger.Error().
				Interface("panic", r).
				Msg("Task panicked")
			ok = false
		}
	}()
	task(ctx)
	return true
}

// Shutdown stops accepting tasks and waits for submitted ones to finish.
// If ctx expires first, running tasks are cancelled and Shutdown waits for
// them to return before reporting ctx's error.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Close cancels all tasks and waits for them to return.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
