// Package store defines the persistence mirror for the settlement engine.
// The engine keeps authoritative state in memory; the API layer writes
// every accepted transition here so positions, settlements and liquidity
// receipts can be queried and indexed off the hot path.
//
// Implementations include PostgreSQL (durable mirror), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/settlement-engine/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface.
type Store interface {
	// --- Positions ---

	// SavePosition inserts or replaces a position.
	SavePosition(ctx context.Context, pos *model.Position) error

	// UpdatePositionStatus records a terminal transition.
	UpdatePositionStatus(ctx context.Context, id uint64, status model.PositionStatus, closedAt int64) error

	// GetPosition retrieves a position by ID.
	GetPosition(ctx context.Context, id uint64) (*model.Position, error)

	// ListPositions returns positions with the given status ordered by ID.
	// An empty status returns all of them.
	ListPositions(ctx context.Context, status model.PositionStatus) ([]model.Position, error)

	// --- Immutable settlement log ---

	// InsertSettlement appends a close or liquidation record.
	InsertSettlement(ctx context.Context, s *model.Settlement) error

	// ListSettlements returns settlements for owner in time order. An
	// empty owner returns all of them.
	ListSettlements(ctx context.Context, owner string) ([]model.Settlement, error)

	// --- Liquidity receipts ---

	// SaveReceipt records a pending liquidity receipt.
	SaveReceipt(ctx context.Context, r *model.LiquidityReceipt) error

	// DeleteReceipt removes a claimed or withdrawn receipt.
	DeleteReceipt(ctx context.Context, id uint64) error

	// ListReceipts returns pending receipts for owner ordered by ID.
	ListReceipts(ctx context.Context, owner string) ([]model.LiquidityReceipt, error)
}
