package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for position lookups. Writes go to the primary store and refresh
// or invalidate the cache; reads check Redis first then fall back to the
// primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) SavePosition(ctx context.Context, p *model.Position) error {
	if err := s.primary.SavePosition(ctx, p); err != nil {
		return err
	}
	s.cachePosition(ctx, p)
	return nil
}

func (s *CachedStore) UpdatePositionStatus(ctx context.Context, id uint64, status model.PositionStatus, closedAt int64) error {
	if err := s.primary.UpdatePositionStatus(ctx, id, status, closedAt); err != nil {
		return err
	}
	// Invalidate; next read re-populates.
	s.rdb.Del(ctx, positionKey(id))
	return nil
}

func (s *CachedStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	return s.primary.InsertSettlement(ctx, st)
}

func (s *CachedStore) SaveReceipt(ctx context.Context, r *model.LiquidityReceipt) error {
	return s.primary.SaveReceipt(ctx, r)
}

func (s *CachedStore) DeleteReceipt(ctx context.Context, id uint64) error {
	return s.primary.DeleteReceipt(ctx, id)
}

// --- Read-through ---

func (s *CachedStore) GetPosition(ctx context.Context, id uint64) (*model.Position, error) {
	data, err := s.rdb.Get(ctx, positionKey(id)).Bytes()
	if err == nil {
		var p model.Position
		if json.Unmarshal(data, &p) == nil {
			return &p, nil
		}
	}

	// Cache miss: read from primary.
	p, err := s.primary.GetPosition(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cachePosition(ctx, p)
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListPositions(ctx context.Context, status model.PositionStatus) ([]model.Position, error) {
	return s.primary.ListPositions(ctx, status)
}

func (s *CachedStore) ListSettlements(ctx context.Context, owner string) ([]model.Settlement, error) {
	return s.primary.ListSettlements(ctx, owner)
}

func (s *CachedStore) ListReceipts(ctx context.Context, owner string) ([]model.LiquidityReceipt, error) {
	return s.primary.ListReceipts(ctx, owner)
}

// --- Cache helpers ---

func (s *CachedStore) cachePosition(ctx context.Context, p *model.Position) {
	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, positionKey(p.ID), data, s.ttl)
	}
}

func positionKey(id uint64) string { return fmt.Sprintf("settle:position:%d", id) }
