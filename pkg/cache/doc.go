// Package cache provides the in-memory month cache behind the calendar server.
//
// The engine keeps one entry per month and guarantees:
//
// - At most one computation in flight per month (request coalescing)
// - Completed bodies are served until their TTL elapses
// - Expired bodies keep being served while a refresh runs (stale-while-revalidate)
// - A failed computation never leaves a cached value behind
//
// Freshness is evaluated lazily on each request against an injectable Clock;
// there is no background sweep.
//
// # Basic Usage
//
//	pool := executor.NewPool(executor.DefaultConfig())
//	defer pool.Close()
//
//	engine, err := cache.NewEngine(cache.Config{
//		TTL:      30 * time.Minute,
//		Executor: pool,
//	}, pipeline.Compute)
//	if err != nil {
//		return err
//	}
//
//	body, err := engine.Request(m).Wait(ctx)
//
// # Entry States
//
//	absent  --Request-->  pending  --success-->  completed
//	                         |                       |
//	                      failure                TTL elapsed
//	                         v                       v
//	                      absent     <--failure--  updating  --success-->  completed
//
// While updating, readers receive the previous body until the new one has
// resolved successfully.
//
// # Metrics
//
//   - calendar_cache_hits_total{state} - Requests served from an existing entry
//   - calendar_cache_misses_total - Requests that triggered an update
//   - calendar_cache_coalesced_total - Updates answered by an in-flight computation or a fresh entry
//   - calendar_cache_updates_total{result} - Finished computations
//   - calendar_cache_update_duration_seconds - Computation latency
//   - calendar_cache_entries - Months currently held
package cache
