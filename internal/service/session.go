package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// Sessions serializes mutating requests per caller: one trade or bid
// attempt in flight per wallet. A second attempt fails fast with
// domain.ErrLockHeld.
type Sessions struct {
	locks domain.LockManager
	ttl   time.Duration
}

// NewSessions creates Sessions. ttl bounds how long a crashed attempt can
// hold a caller's lock and should exceed the Ledger confirm timeout.
func NewSessions(locks domain.LockManager, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &Sessions{locks: locks, ttl: ttl}
}

// Do runs fn while holding caller's session lock.
func (s *Sessions) Do(ctx context.Context, caller string, fn func(context.Context) error) error {
	unlock, err := s.locks.Acquire(ctx, "session:"+caller, s.ttl)
	if err != nil {
		return fmt.Errorf("session %s: %w", caller, err)
	}
	defer unlock()
	return fn(ctx)
}
