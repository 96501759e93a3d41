// Package slot implements a bounded pool of concurrent service permits: a
// fair counting semaphore with a timeout-bounded acquire, backed by a
// buffered channel of empty structs.
package slot

import (
	"context"
	"time"
)

// Pool is a bounded semaphore of service permits.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a Pool with the given number of initial permits.
func NewPool(permits int) *Pool {
	if permits < 1 {
		permits = 1
	}
	return &Pool{sem: make(chan struct{}, permits)}
}

// TryAcquire blocks up to timeout waiting for a permit. It returns true if a
// permit was obtained. A context cancellation or a timeout are both treated
// as ordinary acquisition failure, never as an error.
func (p *Pool) TryAcquire(ctx context.Context, timeout time.Duration) bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
	}

	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case p.sem <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release returns one permit to the pool. Calling Release without a prior
// successful TryAcquire is a programmer error and will block forever (there
// is nothing queued to drain) — callers must track permit ownership
// themselves.
func (p *Pool) Release() {
	<-p.sem
}

// Len returns the number of permits currently checked out.
func (p *Pool) Len() int {
	return len(p.sem)
}

// Cap returns the total number of permits the pool was created with.
func (p *Pool) Cap() int {
	return cap(p.sem)
}
