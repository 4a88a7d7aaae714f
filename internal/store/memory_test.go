package store

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
var _ Store = (*CachedStore)(nil)

func testPosition(id uint64) *model.Position {
	return &model.Position{
		ID:          id,
		Owner:       "trader",
		Qty:         decimal.NewFromInt(10_000),
		Leverage:    decimal.RequireFromString("5.00"),
		TakerMargin: decimal.NewFromInt(1_000_000),
		MakerMargin: decimal.NewFromInt(50_000_000),
		Bins: model.Distribution{
			{Tier: 1, Amount: decimal.NewFromInt(10_000_000)},
			{Tier: 10, Amount: decimal.NewFromInt(40_000_000)},
		},
		EntryOracleVersion: 1,
		Status:             model.StatusOpen,
	}
}

func TestMemoryStore_Positions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := testPosition(1)
	if err := s.SavePosition(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePosition(ctx, testPosition(2)); err != nil {
		t.Fatal(err)
	}

	// mutating the caller's copy must not leak into the store
	p.Bins[0].Amount = decimal.Zero

	got, err := s.GetPosition(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Bins[0].Amount.Equal(decimal.NewFromInt(10_000_000)) {
		t.Errorf("stored position aliased caller memory: %v", got.Bins)
	}

	if err := s.UpdatePositionStatus(ctx, 2, model.StatusLiquidated, 42); err != nil {
		t.Fatal(err)
	}
	open, _ := s.ListPositions(ctx, model.StatusOpen)
	if len(open) != 1 || open[0].ID != 1 {
		t.Errorf("unexpected open positions %v", open)
	}
	all, _ := s.ListPositions(ctx, "")
	if len(all) != 2 || all[1].ClosedTimestamp != 42 {
		t.Errorf("unexpected positions %v", all)
	}

	if _, err := s.GetPosition(ctx, 9); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdatePositionStatus(ctx, 9, model.StatusClosed, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Settlements(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i, owner := range []string{"alice", "bob", "alice"} {
		st := &model.Settlement{ID: owner, PositionID: uint64(i + 1), Owner: owner, Kind: model.SettlementClose}
		if err := s.InsertSettlement(ctx, st); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.InsertSettlement(ctx, &model.Settlement{PositionID: 1}); err == nil {
		t.Error("expected duplicate settlement to be rejected")
	}

	alice, _ := s.ListSettlements(ctx, "alice")
	if len(alice) != 2 || alice[0].PositionID != 1 || alice[1].PositionID != 3 {
		t.Errorf("unexpected settlements %v", alice)
	}
	all, _ := s.ListSettlements(ctx, "")
	if len(all) != 3 {
		t.Errorf("expected 3 settlements, got %d", len(all))
	}
}

func TestMemoryStore_Receipts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []uint64{3, 1, 2} {
		r := &model.LiquidityReceipt{ID: id, Owner: "maker", Tier: 1, Amount: decimal.NewFromInt(100), Kind: model.ReceiptAdd}
		if err := s.SaveReceipt(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.DeleteReceipt(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteReceipt(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	got, _ := s.ListReceipts(ctx, "maker")
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 3 {
		t.Errorf("unexpected receipts %v", got)
	}
	if other, _ := s.ListReceipts(ctx, "someone"); len(other) != 0 {
		t.Errorf("expected no receipts, got %v", other)
	}
}
