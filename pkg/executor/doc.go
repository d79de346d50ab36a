// Package executor runs background tasks on a bounded pool of goroutines.
//
// Cache refreshes are submitted while the cache holds its map lock, so
// Submit must never block. Pool achieves this by starting one goroutine per
// task that waits on a weighted semaphore before running.
//
// Example usage:
//
//	pool := executor.NewPool(executor.DefaultConfig())
//	defer pool.Close()
//
//	err := pool.Submit(func(ctx context.Context) {
//		body, err := fetcher.Fetch(ctx, url)
//		...
//	})
//
// The pool:
//   - Bounds concurrent tasks (default 8)
//   - Applies a per-task timeout (default 2 minutes)
//   - Recovers task panics and logs them
//   - Cancels waiting and running tasks on Close
//   - Drains gracefully with Shutdown(ctx)
package executor
