// Package memory holds in-process implementations of the cache interfaces
// for local mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

type entry[T any] struct {
	value   T
	expires time.Time
}

// table is a TTL map with a snapshot deadline. A snapshot older than ttl is a
// miss even if individual entries were refreshed by Put.
type table[K comparable, T any] struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	items    map[K]entry[T]
	snapshot time.Time
	clone    func(T) T
}

func newTable[K comparable, T any](ttl time.Duration, now func() time.Time, clone func(T) T) *table[K, T] {
	if now == nil {
		now = time.Now
	}
	return &table[K, T]{ttl: ttl, now: now, items: make(map[K]entry[T]), clone: clone}
}

func (t *table[K, T]) replace(items map[K]T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.items = make(map[K]entry[T], len(items))
	for k, v := range items {
		t.items[k] = entry[T]{value: t.clone(v), expires: now.Add(t.ttl)}
	}
	t.snapshot = now.Add(t.ttl)
}

func (t *table[K, T]) put(k K, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items[k] = entry[T]{value: t.clone(v), expires: t.now().Add(t.ttl)}
}

func (t *table[K, T]) get(k K) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.items[k]
	if !ok || !t.now().Before(e.expires) {
		var zero T
		return zero, false
	}
	return t.clone(e.value), true
}

func (t *table[K, T]) list() ([]T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	now := t.now()
	if !now.Before(t.snapshot) {
		return nil, false
	}
	out := make([]T, 0, len(t.items))
	for _, e := range t.items {
		if now.Before(e.expires) {
			out = append(out, t.clone(e.value))
		}
	}
	return out, true
}

func (t *table[K, T]) remove(k K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.items, k)
}

// OrderMirror implements domain.OrderMirror in memory.
type OrderMirror struct {
	t *table[uint64, domain.SellOrder]
}

// NewOrderMirror creates an OrderMirror with staleness bound ttl. now may be
// nil to use the wall clock.
func NewOrderMirror(ttl time.Duration, now func() time.Time) *OrderMirror {
	return &OrderMirror{t: newTable[uint64](ttl, now, domain.SellOrder.Clone)}
}

func (m *OrderMirror) ReplaceAll(_ context.Context, orders []domain.SellOrder) error {
	items := make(map[uint64]domain.SellOrder, len(orders))
	for _, o := range orders {
		items[o.ID] = o
	}
	m.t.replace(items)
	return nil
}

func (m *OrderMirror) Put(_ context.Context, o domain.SellOrder) error {
	m.t.put(o.ID, o)
	return nil
}

func (m *OrderMirror) Get(_ context.Context, id uint64) (domain.SellOrder, error) {
	o, ok := m.t.get(id)
	if !ok {
		return domain.SellOrder{}, domain.ErrNotFound
	}
	return o, nil
}

func (m *OrderMirror) List(_ context.Context) ([]domain.SellOrder, error) {
	out, ok := m.t.list()
	if !ok {
		return nil, domain.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *OrderMirror) Invalidate(_ context.Context, id uint64) error {
	m.t.remove(id)
	return nil
}

type auctionKey struct {
	kind domain.TokenKind
	id   uint64
}

// AuctionMirror implements domain.AuctionMirror in memory, one table per
// token kind.
type AuctionMirror struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tables map[domain.TokenKind]*table[auctionKey, domain.Auction]
}

// NewAuctionMirror creates an AuctionMirror with staleness bound ttl.
func NewAuctionMirror(ttl time.Duration, now func() time.Time) *AuctionMirror {
	return &AuctionMirror{ttl: ttl, now: now, tables: make(map[domain.TokenKind]*table[auctionKey, domain.Auction])}
}

func (m *AuctionMirror) table(kind domain.TokenKind) *table[auctionKey, domain.Auction] {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[kind]
	if !ok {
		t = newTable[auctionKey](m.ttl, m.now, domain.Auction.Clone)
		m.tables[kind] = t
	}
	return t
}

func (m *AuctionMirror) ReplaceAll(_ context.Context, kind domain.TokenKind, auctions []domain.Auction) error {
	items := make(map[auctionKey]domain.Auction, len(auctions))
	for _, a := range auctions {
		a.Kind = kind
		items[auctionKey{kind, a.ID}] = a
	}
	m.table(kind).replace(items)
	return nil
}

func (m *AuctionMirror) Put(_ context.Context, a domain.Auction) error {
	m.table(a.Kind).put(auctionKey{a.Kind, a.ID}, a)
	return nil
}

func (m *AuctionMirror) Get(_ context.Context, kind domain.TokenKind, id uint64) (domain.Auction, error) {
	a, ok := m.table(kind).get(auctionKey{kind, id})
	if !ok {
		return domain.Auction{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *AuctionMirror) List(_ context.Context, kind domain.TokenKind) ([]domain.Auction, error) {
	out, ok := m.table(kind).list()
	if !ok {
		return nil, domain.ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *AuctionMirror) Invalidate(_ context.Context, kind domain.TokenKind, id uint64) error {
	m.table(kind).remove(auctionKey{kind, id})
	return nil
}

// TelemetryCache implements domain.TelemetryCache in memory.
type TelemetryCache struct {
	mu    sync.RWMutex
	now   func() time.Time
	items map[string]entry[domain.BatteryStatus]
}

// NewTelemetryCache creates an empty TelemetryCache.
func NewTelemetryCache(now func() time.Time) *TelemetryCache {
	if now == nil {
		now = time.Now
	}
	return &TelemetryCache{now: now, items: make(map[string]entry[domain.BatteryStatus])}
}

func (c *TelemetryCache) Set(_ context.Context, status domain.BatteryStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[status.DeviceID] = entry[domain.BatteryStatus]{value: status, expires: c.now().Add(ttl)}
	return nil
}

func (c *TelemetryCache) Get(_ context.Context, deviceID string) (domain.BatteryStatus, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[deviceID]
	if !ok || !c.now().Before(e.expires) {
		return domain.BatteryStatus{}, domain.ErrNotFound
	}
	return e.value, nil
}

var (
	_ domain.OrderMirror    = (*OrderMirror)(nil)
	_ domain.AuctionMirror  = (*AuctionMirror)(nil)
	_ domain.TelemetryCache = (*TelemetryCache)(nil)
)
