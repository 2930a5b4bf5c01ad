package background

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrShuttingDown is returned by Add once Shutdown has started.
var ErrShuttingDown = errors.New("background: shutting down")

// Background tracks goroutines that must finish before the process exits.
type Background struct {
	log logrus.FieldLogger

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopping bool
}

func New(log logrus.FieldLogger) *Background {
	return &Background{log: log}
}

// Add runs fn in its own goroutine. A panic in fn is logged, not
// propagated.
func (b *Background) Add(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopping {
		return ErrShuttingDown
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				b.log.WithField("message", fmt.Sprint(rec)).Error("background task panicked")
			}
		}()
		fn()
	}()
	return nil
}

// Shutdown refuses new tasks and waits for running ones until ctx is done.
func (b *Background) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
