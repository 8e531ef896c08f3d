package backlinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/starford/othala/internal/apperr"
)

// lockTable provides exclusive per-note locks with a bounded wait.
// Deadlock freedom is the caller's responsibility: within one drained
// queue batch, locks must be acquired in ascending target-id order.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]chan struct{})}
}

func (lt *lockTable) slot(id string) chan struct{} {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ch, ok := lt.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		lt.locks[id] = ch
	}
	return ch
}

// acquire blocks until the lock for id is held, the timeout elapses, or
// ctx is cancelled. On success it returns a release func that must be
// called on every exit path.
func (lt *lockTable) acquire(ctx context.Context, id string, timeout time.Duration) (func(), error) {
	ch := lt.slot(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-timer.C:
		return nil, fmt.Errorf("lock %s after %s: %w", id, timeout, apperr.ErrLockTimeout)
	case <-ctx.Done():
		return nil, fmt.Errorf("lock %s: %w", id, ctx.Err())
	}
}
