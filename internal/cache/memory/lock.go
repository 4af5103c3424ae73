package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// LockManager is an in-process domain.LockManager with expiring locks.
type LockManager struct {
	mu    sync.Mutex
	now   func() time.Time
	held  map[string]time.Time
	token map[string]uint64
	seq   uint64
}

// NewLockManager creates a LockManager. now may be nil.
func NewLockManager(now func() time.Time) *LockManager {
	if now == nil {
		now = time.Now
	}
	return &LockManager{now: now, held: make(map[string]time.Time), token: make(map[string]uint64)}
}

func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("memory: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	l.seq++
	tok := l.seq
	l.held[key] = now.Add(ttl)
	l.token[key] = tok

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.token[key] == tok {
				delete(l.held, key)
				delete(l.token, key)
			}
		})
	}, nil
}

// RateLimiter is an in-process sliding-window domain.RateLimiter.
type RateLimiter struct {
	mu   sync.Mutex
	now  func() time.Time
	hits map[string][]time.Time
}

// NewRateLimiter creates a RateLimiter. now may be nil.
func NewRateLimiter(now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{now: now, hits: make(map[string][]time.Time)}
}

func (r *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-window)
	hits := r.hits[key][:0]
	for _, h := range r.hits[key] {
		if h.After(cutoff) {
			hits = append(hits, h)
		}
	}
	if len(hits) >= limit {
		r.hits[key] = hits
		return false, nil
	}
	r.hits[key] = append(hits, now)
	return true, nil
}

var (
	_ domain.LockManager = (*LockManager)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
)
