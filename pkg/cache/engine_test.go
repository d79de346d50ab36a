package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sternrassler/calendar-server/internal/testutil"
	"github.com/Sternrassler/calendar-server/pkg/executor"
	"github.com/Sternrassler/calendar-server/pkg/month"
)

type result struct {
	body string
	err  error
}

// controlledComputation blocks every call until the test hands it a result.
type controlledComputation struct {
	calls   atomic.Int32
	results chan result
}

func newControlledComputation() *controlledComputation {
	return &controlledComputation{results: make(chan result)}
}

func (c *controlledComputation) compute(ctx context.Context, m month.Month) ([]byte, error) {
	c.calls.Add(1)
	select {
	case r := <-c.results:
		if r.err != nil {
			return nil, r.err
		}
		return []byte(r.body), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *controlledComputation) release(t *testing.T, r result) {
	t.Helper()
	select {
	case c.results <- r:
	case <-time.After(2 * time.Second):
		t.Fatal("computation was never started")
	}
}

func newTestEngine(t *testing.T, ttl time.Duration, compute Computation) (*Engine, *testutil.FakeClock) {
	t.Helper()

	pool := executor.NewPool(executor.Config{MaxConcurrency: 4})
	t.Cleanup(pool.Close)

	clock := testutil.NewFakeClock(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC))
	engine, err := NewEngine(Config{TTL: ttl, Clock: clock, Executor: pool}, compute)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine, clock
}

func waitForState(t *testing.T, e *Engine, m month.Month, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State(m) == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", e.State(m), want)
}

func waitBody(t *testing.T, f *Future) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	body, err := f.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return string(body)
}

func mustMonth(t *testing.T, expr string) month.Month {
	t.Helper()
	m, err := month.Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", expr, err)
	}
	return m
}

func TestNewEngine_Validation(t *testing.T) {
	pool := executor.NewPool(executor.DefaultConfig())
	defer pool.Close()

	compute := func(ctx context.Context, m month.Month) ([]byte, error) { return nil, nil }

	tests := []struct {
		name    string
		config  Config
		compute Computation
		wantErr bool
	}{
		{"valid", Config{TTL: time.Minute, Executor: pool}, compute, false},
		{"zero ttl", Config{TTL: 0, Executor: pool}, compute, true},
		{"negative ttl", Config{TTL: -time.Second, Executor: pool}, compute, true},
		{"missing executor", Config{TTL: time.Minute}, compute, true},
		{"missing computation", Config{TTL: time.Minute, Executor: pool}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.config, tt.compute)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEngine() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEngine_CoalescesConcurrentMisses(t *testing.T) {
	comp := newControlledComputation()
	e, _ := newTestEngine(t, time.Minute, comp.compute)
	m := mustMonth(t, "2024-08")

	const n = 50
	futures := make([]*Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = e.Request(m)
		}(i)
	}
	wg.Wait()

	if got := e.State(m); got != StatePending {
		t.Fatalf("state = %v, want pending", got)
	}

	comp.release(t, result{body: "august"})

	for i, f := range futures {
		if f != futures[0] {
			t.Errorf("request %d got a different future", i)
		}
		if got := waitBody(t, f); got != "august" {
			t.Errorf("request %d body = %q, want %q", i, got, "august")
		}
	}

	if got := comp.calls.Load(); got != 1 {
		t.Errorf("computations = %d, want 1", got)
	}
}

func TestEngine_UpdateJoinsInFlight(t *testing.T) {
	comp := newControlledComputation()
	e, _ := newTestEngine(t, time.Minute, comp.compute)
	m := mustMonth(t, "2024-09")

	coalesced := promtest.ToFloat64(CacheCoalesced)

	first := e.Update(m)
	second := e.Update(m)
	if first != second {
		t.Error("second Update did not join the in-flight computation")
	}
	if got := promtest.ToFloat64(CacheCoalesced) - coalesced; got != 1 {
		t.Errorf("coalesced = %v, want 1", got)
	}

	comp.release(t, result{body: "september"})
	if got := waitBody(t, second); got != "september" {
		t.Errorf("body = %q, want %q", got, "september")
	}
}

func TestEngine_UpdateKeepsFreshEntry(t *testing.T) {
	comp := newControlledComputation()
	e, _ := newTestEngine(t, time.Minute, comp.compute)
	m := mustMonth(t, "2024-10")

	f := e.Request(m)
	comp.release(t, result{body: "october"})
	if got := waitBody(t, f); got != "october" {
		t.Fatalf("first body = %q, want october", got)
	}
	waitForState(t, e, m, StateCompleted)

	// a caller that saw the slot before the refresh landed
	if got := waitBody(t, e.Update(m)); got != "october" {
		t.Errorf("Update() body = %q, want october", got)
	}
	if got := e.State(m); got != StateCompleted {
		t.Errorf("state = %v, want completed", got)
	}
	if got := comp.calls.Load(); got != 1 {
		t.Errorf("computations = %d, want 1", got)
	}
}

func TestEngine_TTLAndStaleWhileRevalidate(t *testing.T) {
	comp := newControlledComputation()
	e, clock := newTestEngine(t, 100*time.Millisecond, comp.compute)
	m := mustMonth(t, "2024-08")

	f := e.Request(m)
	comp.release(t, result{body: "v1"})
	if got := waitBody(t, f); got != "v1" {
		t.Fatalf("first body = %q, want v1", got)
	}
	waitForState(t, e, m, StateCompleted)

	// still fresh
	clock.Advance(50 * time.Millisecond)
	f = e.Request(m)
	if !f.Ready() {
		t.Fatal("fresh hit should be ready immediately")
	}
	if got := waitBody(t, f); got != "v1" {
		t.Errorf("fresh body = %q, want v1", got)
	}
	if got := comp.calls.Load(); got != 1 {
		t.Errorf("computations after fresh hit = %d, want 1", got)
	}

	// expired: old body served while the refresh runs
	clock.Advance(100 * time.Millisecond)
	if got := e.State(m); got != StateStale {
		t.Fatalf("state = %v, want stale", got)
	}

	f = e.Request(m)
	if !f.Ready() {
		t.Fatal("stale request should return the previous body immediately")
	}
	if got := waitBody(t, f); got != "v1" {
		t.Errorf("stale body = %q, want v1", got)
	}
	if got := e.State(m); got != StateUpdating {
		t.Fatalf("state = %v, want updating", got)
	}

	// further requests join the refresh
	if got := waitBody(t, e.Request(m)); got != "v1" {
		t.Errorf("body during update = %q, want v1", got)
	}
	if got := waitBody(t, e.Update(m)); got != "v1" {
		t.Errorf("Update() during update = %q, want v1", got)
	}

	comp.release(t, result{body: "v2"})
	waitForState(t, e, m, StateCompleted)

	if got := waitBody(t, e.Request(m)); got != "v2" {
		t.Errorf("refreshed body = %q, want v2", got)
	}
	if got := comp.calls.Load(); got != 2 {
		t.Errorf("computations = %d, want 2", got)
	}
}

func TestEngine_FailureLeavesNoEntry(t *testing.T) {
	comp := newControlledComputation()
	e, _ := newTestEngine(t, time.Minute, comp.compute)
	m := mustMonth(t, "2024-08")

	wantErr := errors.New("upstream down")
	f := e.Request(m)
	comp.release(t, result{err: wantErr})

	if _, err := f.Wait(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("Wait() error = %v, want %v", err, wantErr)
	}
	if got := e.State(m); got != StateAbsent {
		t.Errorf("state after failure = %v, want absent", got)
	}
	if got := e.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}

	// next request recomputes
	f = e.Request(m)
	comp.release(t, result{body: "recovered"})
	if got := waitBody(t, f); got != "recovered" {
		t.Errorf("body = %q, want recovered", got)
	}
	if got := comp.calls.Load(); got != 2 {
		t.Errorf("computations = %d, want 2", got)
	}
}

func TestEngine_FailedRefreshDropsStaleValue(t *testing.T) {
	comp := newControlledComputation()
	e, clock := newTestEngine(t, time.Minute, comp.compute)
	m := mustMonth(t, "2024-08")

	f := e.Request(m)
	comp.release(t, result{body: "v1"})
	waitBody(t, f)
	waitForState(t, e, m, StateCompleted)

	clock.Advance(2 * time.Minute)

	if got := waitBody(t, e.Request(m)); got != "v1" {
		t.Fatalf("stale body = %q, want v1", got)
	}
	comp.release(t, result{err: errors.New("boom")})
	waitForState(t, e, m, StateAbsent)

	f = e.Request(m)
	if f.Ready() {
		t.Fatal("request after failed refresh should start a new computation")
	}
	comp.release(t, result{body: "v3"})
	if got := waitBody(t, f); got != "v3" {
		t.Errorf("body = %q, want v3", got)
	}
}

func TestEngine_MonthsAreIndependent(t *testing.T) {
	var calls atomic.Int32
	e, _ := newTestEngine(t, time.Minute, func(ctx context.Context, m month.Month) ([]byte, error) {
		calls.Add(1)
		return []byte(m.String()), nil
	})

	months := []string{"2024-01", "2024-02", "2025-01"}
	for _, expr := range months {
		m := mustMonth(t, expr)
		if got := waitBody(t, e.Request(m)); got != expr {
			t.Errorf("body = %q, want %q", got, expr)
		}
	}
	for _, expr := range months {
		waitForState(t, e, mustMonth(t, expr), StateCompleted)
	}

	if got := e.Len(); got != len(months) {
		t.Errorf("Len() = %d, want %d", got, len(months))
	}
	if got := calls.Load(); got != int32(len(months)) {
		t.Errorf("computations = %d, want %d", got, len(months))
	}
}

func TestEngine_Invalidate(t *testing.T) {
	comp := newControlledComputation()
	e, _ := newTestEngine(t, time.Minute, comp.compute)
	m := mustMonth(t, "2024-08")

	if e.Invalidate(m) {
		t.Error("Invalidate() on absent month returned true")
	}

	f := e.Request(m)
	if e.Invalidate(m) {
		t.Error("Invalidate() must not drop an in-flight computation")
	}

	comp.release(t, result{body: "v1"})
	waitBody(t, f)
	waitForState(t, e, m, StateCompleted)

	if !e.Invalidate(m) {
		t.Error("Invalidate() on completed month returned false")
	}
	if got := e.State(m); got != StateAbsent {
		t.Errorf("state = %v, want absent", got)
	}
}

func TestEngine_PanicBecomesError(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute, func(ctx context.Context, m month.Month) ([]byte, error) {
		panic("bad input")
	})
	m := mustMonth(t, "2024-08")

	_, err := e.Request(m).Wait(context.Background())
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("Wait() error = %v, want ErrPanic", err)
	}
	waitForState(t, e, m, StateAbsent)
}

func TestEngine_ClosedExecutor(t *testing.T) {
	pool := executor.NewPool(executor.DefaultConfig())
	pool.Close()

	e, err := NewEngine(Config{TTL: time.Minute, Executor: pool}, func(ctx context.Context, m month.Month) ([]byte, error) {
		return []byte("never"), nil
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	rejected := promtest.ToFloat64(CacheUpdates.WithLabelValues("rejected"))

	_, err = e.Get(context.Background(), mustMonth(t, "2024-08"))
	if got := promtest.ToFloat64(CacheUpdates.WithLabelValues("rejected")) - rejected; got != 1 {
		t.Errorf("rejected updates = %v, want 1", got)
	}
	if !errors.Is(err, executor.ErrClosed) {
		t.Errorf("Get() error = %v, want ErrClosed", err)
	}
	if got := e.Len(); got != 0 {
		t.Errorf("Len() = %d, want 0", got)
	}
}

func TestEngine_Get(t *testing.T) {
	e, _ := newTestEngine(t, time.Minute, func(ctx context.Context, m month.Month) ([]byte, error) {
		return []byte("[]"), nil
	})

	body, err := e.Get(context.Background(), mustMonth(t, "2024-08"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(body) != "[]" {
		t.Errorf("Get() = %q, want []", body)
	}
}
