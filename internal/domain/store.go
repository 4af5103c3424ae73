package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// UserStore is the Directory: one record per wallet address.
type UserStore interface {
	// Create fails with ErrDuplicateIdentity or ErrDuplicateWallet.
	Create(ctx context.Context, user User) error
	GetByWallet(ctx context.Context, wallet string) (User, error)
	GetByIdentity(ctx context.Context, identity string) (User, error)
	UpdateLocation(ctx context.Context, wallet string, lat, lon float64, token string) (User, error)
}

// TradeStore persists executed trades and settled auctions.
type TradeStore interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]TradeRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]TradeRecord, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
