package cache

import (
	"context"
	"errors"
	"sync"
)

// ErrNotReady is returned by Future.Result before the computation finished.
var ErrNotReady = errors.New("result not ready")

// Future is the write-once result of a month computation. Every caller that
// joins the same computation receives the same *Future.
type Future struct {
	done chan struct{}
	once sync.Once
	body []byte
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future that already holds body.
func Resolved(body []byte) *Future {
	f := newFuture()
	f.resolve(body, nil)
	return f
}

// Failed returns a Future that already holds err.
func Failed(err error) *Future {
	f := newFuture()
	f.resolve(nil, err)
	return f
}

// resolve stores the outcome. Later calls are ignored.
func (f *Future) resolve(body []byte, err error) {
	f.once.Do(func() {
		f.body = body
		f.err = err
		close(f.done)
	})
}

// Done is closed once the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the result is available.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the outcome without blocking, or ErrNotReady.
func (f *Future) Result() ([]byte, error) {
	if !f.Ready() {
		return nil, ErrNotReady
	}
	return f.body, f.err
}

// Wait blocks until the result is available or ctx is done. Abandoning a
// wait does not cancel the shared computation.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.body, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// succeeded reports whether the future resolved without error.
func (f *Future) succeeded() bool {
	return f.Ready() && f.err == nil
}
