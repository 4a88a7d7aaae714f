package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	positions   map[uint64]*model.Position
	settlements []model.Settlement
	receipts    map[uint64]*model.LiquidityReceipt
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[uint64]*model.Position),
		receipts:  make(map[uint64]*model.LiquidityReceipt),
	}
}

func (s *MemoryStore) SavePosition(_ context.Context, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	s.positions[pos.ID] = pos.Clone()
	return nil
}

func (s *MemoryStore) UpdatePositionStatus(_ context.Context, id uint64, status model.PositionStatus, closedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.positions[id]
	if !ok {
		return fmt.Errorf("%w: position %d", ErrNotFound, id)
	}
	p.Status = status
	p.ClosedTimestamp = closedAt
	return nil
}

func (s *MemoryStore) GetPosition(_ context.Context, id uint64) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.positions[id]
	if !ok {
		return nil, fmt.Errorf("%w: position %d", ErrNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPositions(_ context.Context, status model.PositionStatus) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	positions := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if status == "" || p.Status == status {
			positions = append(positions, *p.Clone())
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].ID < positions[j].ID })
	return positions, nil
}

func (s *MemoryStore) InsertSettlement(_ context.Context, st *model.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.settlements {
		if existing.PositionID == st.PositionID {
			return fmt.Errorf("position %d already settled", st.PositionID)
		}
	}
	s.settlements = append(s.settlements, *st)
	return nil
}

func (s *MemoryStore) ListSettlements(_ context.Context, owner string) ([]model.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Settlement
	for _, st := range s.settlements {
		if owner == "" || st.Owner == owner {
			result = append(result, st)
		}
	}
	return result, nil
}

func (s *MemoryStore) SaveReceipt(_ context.Context, r *model.LiquidityReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *r
	s.receipts[r.ID] = &copy
	return nil
}

func (s *MemoryStore) DeleteReceipt(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.receipts[id]; !ok {
		return fmt.Errorf("%w: receipt %d", ErrNotFound, id)
	}
	delete(s.receipts, id)
	return nil
}

func (s *MemoryStore) ListReceipts(_ context.Context, owner string) ([]model.LiquidityReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.LiquidityReceipt
	for _, r := range s.receipts {
		if owner == "" || r.Owner == owner {
			result = append(result, *r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
