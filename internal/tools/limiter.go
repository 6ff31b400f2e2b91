package tools

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrSubagentBudget is returned when a root turn has spawned its maximum
// number of sub-agents.
var ErrSubagentBudget = errors.New("sub-agent budget exhausted for this request")

// Limiter bounds sub-agent spawning for one root user request: at most
// maxTotal spawns overall and maxConcurrent running at once. It is created
// when the request starts and discarded when it completes.
type Limiter struct {
	sem *semaphore.Weighted

	mu           sync.Mutex
	totalSpawned int
	maxTotal     int
}

// NewLimiter builds a limiter with the given concurrent and total caps.
func NewLimiter(maxConcurrent int64, maxTotal int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}
	if maxTotal <= 0 {
		maxTotal = 10
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(maxConcurrent),
		maxTotal: maxTotal,
	}
}

// Acquire reserves one spawn slot, counting it against the total budget
// before waiting on the concurrency semaphore. The total is never returned:
// a finished sub-agent frees its concurrent slot but still counts toward
// max_total.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.totalSpawned >= l.maxTotal {
		l.mu.Unlock()
		return ErrSubagentBudget
	}
	l.totalSpawned++
	l.mu.Unlock()

	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	return nil
}

// Release frees the concurrent slot. Must be called exactly once per
// successful Acquire, in a defer so errors cannot leak the slot.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// TotalSpawned returns how many sub-agents this request has started.
func (l *Limiter) TotalSpawned() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSpawned
}
