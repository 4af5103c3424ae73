// Package memory provides in-process stores for local mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// UserStore is an in-memory domain.UserStore.
type UserStore struct {
	mu         sync.RWMutex
	now        func() time.Time
	byWallet   map[string]domain.User
	byIdentity map[string]string
}

// NewUserStore creates an empty UserStore. now may be nil.
func NewUserStore(now func() time.Time) *UserStore {
	if now == nil {
		now = time.Now
	}
	return &UserStore{
		now:        now,
		byWallet:   make(map[string]domain.User),
		byIdentity: make(map[string]string),
	}
}

func (s *UserStore) Create(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Identity != "" {
		if _, ok := s.byIdentity[u.Identity]; ok {
			return domain.ErrDuplicateIdentity
		}
	}
	if _, ok := s.byWallet[u.WalletAddress]; ok {
		return domain.ErrDuplicateWallet
	}
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	s.byWallet[u.WalletAddress] = u
	if u.Identity != "" {
		s.byIdentity[u.Identity] = u.WalletAddress
	}
	return nil
}

func (s *UserStore) GetByWallet(_ context.Context, wallet string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byWallet[wallet]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *UserStore) GetByIdentity(_ context.Context, identity string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wallet, ok := s.byIdentity[identity]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return s.byWallet[wallet], nil
}

func (s *UserStore) UpdateLocation(_ context.Context, wallet string, lat, lon float64, token string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byWallet[wallet]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	u.Latitude, u.Longitude, u.LocationToken = lat, lon, token
	u.UpdatedAt = s.now().UTC()
	s.byWallet[wallet] = u
	return u, nil
}

// TradeStore is an in-memory domain.TradeStore.
type TradeStore struct {
	mu      sync.RWMutex
	records []domain.TradeRecord
	ids     map[string]struct{}
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{ids: make(map[string]struct{})}
}

func (s *TradeStore) Insert(_ context.Context, r domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[r.ID]; ok {
		return nil
	}
	s.ids[r.ID] = struct{}{}
	s.records = append(s.records, r)
	return nil
}

func (s *TradeStore) ListByWallet(_ context.Context, wallet string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	var out []domain.TradeRecord
	for _, r := range s.records {
		if r.Seller != wallet && r.Buyer != wallet {
			continue
		}
		if opts.Since != nil && r.ExecutedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && r.ExecutedAt.After(*opts.Until) {
			continue
		}
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return page(out, opts), nil
}

func (s *TradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TradeRecord
	for _, r := range s.records {
		if r.ExecutedAt.Before(before) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

// AuditStore is an in-memory domain.AuditStore.
type AuditStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	entries []domain.AuditEntry
}

// NewAuditStore creates an empty AuditStore. now may be nil.
func NewAuditStore(now func() time.Time) *AuditStore {
	if now == nil {
		now = time.Now
	}
	return &AuditStore{now: now}
}

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.now().UTC(),
	})
	return nil
}

// List returns entries newest first; Until is exclusive.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	var out []domain.AuditEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !e.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()
	return page(out, opts), nil
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var (
	_ domain.UserStore  = (*UserStore)(nil)
	_ domain.TradeStore = (*TradeStore)(nil)
	_ domain.AuditStore = (*AuditStore)(nil)
)
