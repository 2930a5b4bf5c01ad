package progress

import (
	"context"
	"sync"
	"time"
)

// syncOp is one deferred store write.
type syncOp struct {
	name string
	run  func(ctx context.Context) error
}

// syncQueue holds pending writes. Draining is serialized by drainMu; the
// queue itself is guarded by mu so pushes never wait on a drain.
type syncQueue struct {
	drainMu sync.Mutex

	mu        sync.Mutex
	ops       []syncOp
	lastDrain time.Time
}

func (q *syncQueue) push(op syncOp) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
}

// take removes every queued op and marks the drain time.
func (q *syncQueue) take(now time.Time) []syncOp {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops := q.ops
	q.ops = nil
	if len(ops) > 0 {
		q.lastDrain = now
	}
	return ops
}

// throttled reports whether a drain happened within window of now.
func (q *syncQueue) throttled(now time.Time, window time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.lastDrain.IsZero() && now.Sub(q.lastDrain) < window
}

func (q *syncQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *syncQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
}
