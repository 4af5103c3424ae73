package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/geomarket/internal/domain"
)

// AuctionMirror implements domain.AuctionMirror with the same layout as
// OrderMirror, namespaced by token kind.
//
// Key schema:
//
//	auction:{kind}:{id} - hash with field "data" containing JSON
//	auctions:{kind}     - set of auction ids
type AuctionMirror struct {
	c   *Client
	ttl time.Duration
}

// NewAuctionMirror creates an AuctionMirror whose entries live for ttl.
func NewAuctionMirror(c *Client, ttl time.Duration) *AuctionMirror {
	return &AuctionMirror{c: c, ttl: ttl}
}

func (m *AuctionMirror) entryKey(kind domain.TokenKind, id uint64) string {
	return m.c.key("auction", string(kind), strconv.FormatUint(id, 10))
}

func (m *AuctionMirror) indexKey(kind domain.TokenKind) string {
	return m.c.key("auctions", string(kind))
}

// ReplaceAll swaps every mirrored auction of kind.
func (m *AuctionMirror) ReplaceAll(ctx context.Context, kind domain.TokenKind, auctions []domain.Auction) error {
	idx := m.indexKey(kind)
	pipe := m.c.rdb.TxPipeline()
	pipe.Del(ctx, idx)
	members := []any{"_"}
	for _, a := range auctions {
		a.Kind = kind
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("redis: marshal auction %s/%d: %w", kind, a.ID, err)
		}
		key := m.entryKey(kind, a.ID)
		pipe.HSet(ctx, key, "data", data)
		pipe.Expire(ctx, key, m.ttl)
		members = append(members, a.ID)
	}
	pipe.SAdd(ctx, idx, members...)
	pipe.Expire(ctx, idx, m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: replace auctions %s: %w", kind, err)
	}
	return nil
}

// Put stores one auction. Like OrderMirror.Put it never recreates an
// expired index.
func (m *AuctionMirror) Put(ctx context.Context, a domain.Auction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal auction %s/%d: %w", a.Kind, a.ID, err)
	}
	keys := []string{m.entryKey(a.Kind, a.ID), m.indexKey(a.Kind)}
	if err := mirrorPut.Run(ctx, m.c.rdb, keys, data, m.ttl.Milliseconds(), a.ID).Err(); err != nil {
		return fmt.Errorf("redis: put auction %s/%d: %w", a.Kind, a.ID, err)
	}
	return nil
}

// Get returns a mirrored auction or domain.ErrNotFound.
func (m *AuctionMirror) Get(ctx context.Context, kind domain.TokenKind, id uint64) (domain.Auction, error) {
	data, err := m.c.rdb.HGet(ctx, m.entryKey(kind, id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("redis: get auction %s/%d: %w", kind, id, err)
	}
	var a domain.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Auction{}, fmt.Errorf("redis: unmarshal auction %s/%d: %w", kind, id, err)
	}
	return a, nil
}

// List returns every mirrored auction of kind sorted by id.
func (m *AuctionMirror) List(ctx context.Context, kind domain.TokenKind) ([]domain.Auction, error) {
	ids, err := m.c.rdb.SMembers(ctx, m.indexKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list auctions %s: %w", kind, err)
	}
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}

	out := make([]domain.Auction, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		a, err := m.Get(ctx, kind, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Invalidate drops one auction from the mirror.
func (m *AuctionMirror) Invalidate(ctx context.Context, kind domain.TokenKind, id uint64) error {
	pipe := m.c.rdb.TxPipeline()
	pipe.Del(ctx, m.entryKey(kind, id))
	pipe.SRem(ctx, m.indexKey(kind), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate auction %s/%d: %w", kind, id, err)
	}
	return nil
}

var _ domain.AuctionMirror = (*AuctionMirror)(nil)
