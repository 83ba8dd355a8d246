// Package panel holds the request/result state of one request-driven view:
// a single in-flight request, its error, and its latest result.
package panel

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned by Run while a previous request is still loading.
var ErrBusy = errors.New("panel: request already in flight")

// Snapshot is a point-in-time copy of a panel.
type Snapshot[T any] struct {
	Loading bool
	Err     error
	Result  *T
}

type Panel[T any] struct {
	mu      sync.Mutex
	loading bool
	err     error
	result  *T
}

// Run clears the previous result and error, calls fn, and records its outcome.
// Only one fn runs at a time; concurrent calls get ErrBusy without queueing.
func (p *Panel[T]) Run(ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p.mu.Lock()
	if p.loading {
		p.mu.Unlock()
		return zero, ErrBusy
	}
	p.loading = true
	p.err = nil
	p.result = nil
	p.mu.Unlock()

	res, err := fn(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.loading = false
	if err != nil {
		p.err = err
		return zero, err
	}
	p.result = &res
	return res, nil
}

func (p *Panel[T]) Snapshot() Snapshot[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot[T]{Loading: p.loading, Err: p.err, Result: p.result}
}

// Reset drops the last result and error. It does not affect a running request.
func (p *Panel[T]) Reset() {
	p.mu.Lock()
	p.err = nil
	p.result = nil
	p.mu.Unlock()
}
