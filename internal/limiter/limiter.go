// Package limiter bounds how many hunts of one category execute
// concurrently. The limit is either a local in-process semaphore or a
// named semaphore held by a remote coordinator shared across
// deployments.
package limiter

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/semaphore"
)

// Token is one acquired concurrency slot.
type Token interface {
	// Release returns the slot. Safe to call exactly once.
	Release()
}

// Limiter hands out concurrency tokens. Acquire may block
// indefinitely; it must honor context cancellation.
type Limiter interface {
	Acquire(ctx context.Context) (Token, error)
}

// New builds a limiter from the per-category concurrency_limit value:
// empty means unlimited, a small integer selects a local semaphore,
// anything else names a remote semaphore at coordinatorAddr.
func New(limit, coordinatorAddr string) (Limiter, error) {
	if limit == "" {
		return Unlimited{}, nil
	}
	if n, err := strconv.Atoi(limit); err == nil {
		if n <= 0 {
			return nil, fmt.Errorf("concurrency limit must be positive, got %d", n)
		}
		return NewLocal(int64(n)), nil
	}
	if coordinatorAddr == "" {
		return nil, fmt.Errorf("concurrency limit %q names a remote semaphore but no coordinator address is configured", limit)
	}
	return NewRemote(coordinatorAddr, limit), nil
}

// Unlimited applies no concurrency bound.
type Unlimited struct{}

func (Unlimited) Acquire(ctx context.Context) (Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return noopToken{}, nil
}

type noopToken struct{}

func (noopToken) Release() {}

// Local is an in-process counting semaphore.
type Local struct {
	sem *semaphore.Weighted
}

// NewLocal creates a local limiter with the given capacity.
func NewLocal(capacity int64) *Local {
	return &Local{sem: semaphore.NewWeighted(capacity)}
}

// Acquire blocks until a slot is free or ctx is cancelled.
func (l *Local) Acquire(ctx context.Context) (Token, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &localToken{sem: l.sem}, nil
}

type localToken struct {
	sem *semaphore.Weighted
}

func (t *localToken) Release() {
	t.sem.Release(1)
}
