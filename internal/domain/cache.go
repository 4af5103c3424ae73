package domain

import (
	"context"
	"time"
)

// OrderMirror is a best-effort copy of Ledger sell orders. Entries expire
// after the mirror's staleness bound; a miss or expired entry returns
// ErrNotFound and the caller must read the Ledger. Entries are always
// replaced whole, never patched.
type OrderMirror interface {
	ReplaceAll(ctx context.Context, orders []SellOrder) error
	Put(ctx context.Context, order SellOrder) error
	Get(ctx context.Context, id uint64) (SellOrder, error)
	List(ctx context.Context) ([]SellOrder, error)
	Invalidate(ctx context.Context, id uint64) error
}

// AuctionMirror is the auction counterpart of OrderMirror, keyed by kind.
type AuctionMirror interface {
	ReplaceAll(ctx context.Context, kind TokenKind, auctions []Auction) error
	Put(ctx context.Context, auction Auction) error
	Get(ctx context.Context, kind TokenKind, id uint64) (Auction, error)
	List(ctx context.Context, kind TokenKind) ([]Auction, error)
	Invalidate(ctx context.Context, kind TokenKind, id uint64) error
}

// TelemetryCache holds recent battery readings.
type TelemetryCache interface {
	Set(ctx context.Context, status BatteryStatus, ttl time.Duration) error
	Get(ctx context.Context, deviceID string) (BatteryStatus, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
