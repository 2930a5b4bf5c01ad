// Package rate keeps one token bucket per client key.
package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the bucket shape. Idle clients are forgotten after Expiry.
type Config struct {
	Burst  int
	RPS    float64
	Expiry time.Duration
}

type Limiter struct {
	cfg     Config
	clients map[string]*clientLimiter
	mu      sync.Mutex
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func NewLimiter(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 10 * time.Minute
	}
	return &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientLimiter),
	}
}

// Check reports whether key may proceed now.
func (l *Limiter) Check(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, ok := l.clients[key]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(l.cfg.RPS), l.cfg.Burst),
		}
		l.clients[key] = cl
	}
	cl.lastAccess = time.Now()
	return cl.limiter.Allow()
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run evicts idle clients every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.evict(now)
		}
	}
}

func (l *Limiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, v := range l.clients {
		if now.Sub(v.lastAccess) > l.cfg.Expiry {
			delete(l.clients, key)
		}
	}
}

func Every(interval time.Duration) float64 {
	return float64(rate.Every(interval))
}
