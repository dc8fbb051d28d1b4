// Package semaphore bounds concurrent work with a timeout-aware slot pool.
// Command dispatch and the control listener both cap their goroutines with
// one of these.
package semaphore

import (
	"context"
	"fmt"
	"time"
)

// Semaphore limits concurrency to a fixed number of slots. Acquire blocks
// until a slot frees up, the timeout expires, or the context ends.
type Semaphore struct {
	sem     chan struct{}
	timeout time.Duration
}

// New creates a semaphore with n slots, all available, and a default
// acquire timeout.
func New(n int, timeout time.Duration) *Semaphore {
	sem := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
	}
	return &Semaphore{sem: sem, timeout: timeout}
}

// Acquire takes a slot, waiting at most the configured timeout. A nil
// semaphore is a no-op, so callers can leave limiting unconfigured.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if s == nil {
		return nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	select {
	case <-s.sem:
		return nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("timeout acquiring slot after %v", s.timeout)
	}
}

// Release returns a slot. A nil semaphore is a no-op.
func (s *Semaphore) Release() {
	if s == nil {
		return
	}
	s.sem <- struct{}{}
}

// Idle reports how many slots are currently free.
func (s *Semaphore) Idle() int {
	if s == nil {
		return 0
	}
	return len(s.sem)
}
