package usecase

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// InferencePool bounds how many capability calls run at once so slow
// inference on one request cannot starve the others.
type InferencePool struct {
	sem  *semaphore.Weighted
	size int
}

// NewInferencePool returns a pool with size slots. A non-positive size uses
// the number of CPUs.
func NewInferencePool(size int) *InferencePool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &InferencePool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size reports the number of slots.
func (p *InferencePool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// Do runs fn once a slot is free. Waiting stops when ctx is done.
func (p *InferencePool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if p == nil {
		return fn(ctx)
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire inference slot: %w", err)
	}
	defer p.sem.Release(1)
	return fn(ctx)
}
