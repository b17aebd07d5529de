// Package ratelimit gates callers with a fixed-window request ceiling.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Limiter decides whether a caller may make another request in the current window.
// Allow never fails; backends that can error decide locally whether to admit.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
	// RetryAfter returns how long key must wait for its window to reset, or 0.
	RetryAfter(ctx context.Context, key string) time.Duration
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter keeps windows in process memory. Construct one per process.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	size    time.Duration
	ceiling int
	now     func() time.Time
}

// Option configures a MemoryLimiter.
type Option func(*MemoryLimiter)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemory creates a limiter admitting ceiling requests per key per window.
func NewMemory(size time.Duration, ceiling int, opts ...Option) *MemoryLimiter {
	l := &MemoryLimiter{
		windows: make(map[string]*window),
		size:    size,
		ceiling: ceiling,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow admits the request when the key has no live window, resetting it,
// or when the live window is still under the ceiling.
func (l *MemoryLimiter) Allow(_ context.Context, key string) bool {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.size)}
		return true
	}
	if w.count < l.ceiling {
		w.count++
		return true
	}
	return false
}

// RetryAfter returns how long key must wait for its window to reset, or 0.
func (l *MemoryLimiter) RetryAfter(_ context.Context, key string) time.Duration {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return 0
	}
	return w.resetAt.Sub(now)
}

// Prune drops every elapsed window and returns how many were removed.
func (l *MemoryLimiter) Prune() int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run prunes elapsed windows every interval until ctx is cancelled.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := l.Prune(); n > 0 {
				slog.Debug("rate limiter pruned windows", "removed", n)
			}
		}
	}
}
