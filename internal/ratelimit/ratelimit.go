package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultLimit  = 50
	DefaultWindow = 24 * time.Hour
)

// Limiter counts attempts per client key. Each check refreshes the key's
// expiry, so the window slides from the last attempt rather than the first.
type Limiter struct {
	mu       sync.Mutex
	counters map[string]*counter
	limit    int
	window   time.Duration
	now      func() time.Time
}

type counter struct {
	count     int
	expiresAt time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now as the limiter's time source
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter admitting limit attempts per key within window
func New(limit int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		counters: make(map[string]*counter),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an attempt for key and reports whether it is admitted.
// Rejected attempts still count.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, ok := l.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{}
		l.counters[key] = c
	}

	previous := c.count
	c.count++
	c.expiresAt = now.Add(l.window)

	return previous < l.limit
}

// Count returns the live attempt count for key
func (l *Limiter) Count(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.counters[key]
	if !ok || !l.now().Before(c.expiresAt) {
		return 0
	}
	return c.count
}

// Len returns the number of tracked keys, expired ones included until swept
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counters)
}

// Sweep removes expired counters and returns how many were dropped
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, c := range l.counters {
		if !now.Before(c.expiresAt) {
			delete(l.counters, key)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.Sweep()
		}
	}
}
