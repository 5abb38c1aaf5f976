package subagent

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of simultaneously executing tasks. Acquire
// suspends the caller while the limit is reached; Release is safe to call
// more than once so holders can release on every exit path.
type Limiter struct {
	sem *semaphore.Weighted
	k   int
}

// NewLimiter creates a Limiter admitting at most k concurrent holders.
func NewLimiter(k int) (*Limiter, error) {
	if k <= 0 {
		return nil, fmt.Errorf("limiter capacity must be positive, got %d", k)
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(k)), k: k}, nil
}

// Capacity returns the configured limit.
func (l *Limiter) Capacity() int {
	return l.k
}

// Acquire blocks until a permit is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p := &Permit{}
	p.release = func() { l.sem.Release(1) }
	return p, nil
}

// Permit is one admission slot. Release returns it; extra calls are no-ops.
type Permit struct {
	once    sync.Once
	release func()
}

// Release returns the permit to the limiter.
func (p *Permit) Release() {
	p.once.Do(p.release)
}
