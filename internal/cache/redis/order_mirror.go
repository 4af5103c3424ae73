package redis

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

//go:embed scripts/mirror_put.lua
var mirrorPutLua string

// mirrorPut writes one entry and indexes it only if the index is live.
var mirrorPut = redis.NewScript(mirrorPutLua)

// OrderMirror implements domain.OrderMirror. The TTL on every key is the
// staleness bound: once it lapses the mirror reports a miss and the caller
// goes back to the Ledger.
//
// Key schema:
//
//	order:{id}  - hash with field "data" containing JSON
//	orders      - set of order ids written by the last ReplaceAll
type OrderMirror struct {
	c   *Client
	ttl time.Duration
}

// NewOrderMirror creates an OrderMirror whose entries live for ttl.
func NewOrderMirror(c *Client, ttl time.Duration) *OrderMirror {
	return &OrderMirror{c: c, ttl: ttl}
}

func (m *OrderMirror) entryKey(id uint64) string {
	return m.c.key("order", strconv.FormatUint(id, 10))
}

func (m *OrderMirror) indexKey() string { return m.c.key("orders") }

// ReplaceAll swaps the whole mirror for orders in one transaction.
func (m *OrderMirror) ReplaceAll(ctx context.Context, orders []domain.SellOrder) error {
	pipe := m.c.rdb.TxPipeline()
	pipe.Del(ctx, m.indexKey())
	members := make([]any, 0, len(orders))
	for _, o := range orders {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("redis: marshal order %d: %w", o.ID, err)
		}
		key := m.entryKey(o.ID)
		pipe.HSet(ctx, key, "data", data)
		pipe.Expire(ctx, key, m.ttl)
		members = append(members, o.ID)
	}
	// An empty list is still a valid snapshot; keep a sentinel member so the
	// index key exists until the TTL lapses.
	members = append(members, "_")
	pipe.SAdd(ctx, m.indexKey(), members...)
	pipe.Expire(ctx, m.indexKey(), m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: replace orders: %w", err)
	}
	return nil
}

// Put stores one order. The id joins the index only while the index from
// the last ReplaceAll is live; an expired index is never recreated.
func (m *OrderMirror) Put(ctx context.Context, o domain.SellOrder) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("redis: marshal order %d: %w", o.ID, err)
	}
	keys := []string{m.entryKey(o.ID), m.indexKey()}
	if err := mirrorPut.Run(ctx, m.c.rdb, keys, data, m.ttl.Milliseconds(), o.ID).Err(); err != nil {
		return fmt.Errorf("redis: put order %d: %w", o.ID, err)
	}
	return nil
}

// Get returns a mirrored order or domain.ErrNotFound.
func (m *OrderMirror) Get(ctx context.Context, id uint64) (domain.SellOrder, error) {
	data, err := m.c.rdb.HGet(ctx, m.entryKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.SellOrder{}, domain.ErrNotFound
		}
		return domain.SellOrder{}, fmt.Errorf("redis: get order %d: %w", id, err)
	}
	var o domain.SellOrder
	if err := json.Unmarshal(data, &o); err != nil {
		return domain.SellOrder{}, fmt.Errorf("redis: unmarshal order %d: %w", id, err)
	}
	return o, nil
}

// List returns every mirrored order sorted by id. A missing index is a miss.
func (m *OrderMirror) List(ctx context.Context) ([]domain.SellOrder, error) {
	ids, err := m.c.rdb.SMembers(ctx, m.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list orders: %w", err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}

	out := make([]domain.SellOrder, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		o, err := m.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			// An entry outlived by the index means the snapshot is stale.
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Invalidate drops one order from the mirror.
func (m *OrderMirror) Invalidate(ctx context.Context, id uint64) error {
	pipe := m.c.rdb.TxPipeline()
	pipe.Del(ctx, m.entryKey(id))
	pipe.SRem(ctx, m.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate order %d: %w", id, err)
	}
	return nil
}

var _ domain.OrderMirror = (*OrderMirror)(nil)
