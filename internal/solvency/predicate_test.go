package solvency

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/interest"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/oracle"
	"github.com/atmx/settlement-engine/internal/valuation"
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

func TestIsExhausted(t *testing.T) {
	tests := []struct {
		name            string
		taker, pnl, fee int64
		want            bool
	}{
		{"healthy", 100, 0, 0, false},
		{"loss below margin", 100, -99, 0, false},
		{"loss equals margin", 100, -100, 0, true},
		{"interest tips over", 100, -90, 10, true},
		{"profit covers interest", 100, 50, 120, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExhausted(d(tt.taker), d(tt.pnl), d(tt.fee)); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

// newFixture returns a predicate over a feed whose entry price is 1000
// and a long position with 5x leverage on 10 units of margin.
func newFixture(t *testing.T, qty int64) (*Predicate, *oracle.Table, *model.Position) {
	t.Helper()
	tbl := oracle.NewTable()
	tbl.Append(d(1000), 0)
	tbl.Append(d(1000), 1)
	pos := &model.Position{
		ID:                 1,
		Qty:                d(qty),
		Leverage:           d(5),
		TakerMargin:        d(10),
		MakerMargin:        d(50),
		EntryOracleVersion: 1,
	}
	return NewPredicate(valuation.New(tbl, interest.NewSchedule(0), 0)), tbl, pos
}

func TestPredicate_MonotonicAsPriceMovesAgainstLong(t *testing.T) {
	p, tbl, pos := newFixture(t, 10)

	flipped := false
	for px := int64(1000); px >= 700; px -= 10 {
		tbl.Append(d(px), 2)
		liq, err := p.IsLiquidatable(pos, 2)
		if err != nil {
			t.Fatal(err)
		}
		if flipped && !liq {
			t.Fatalf("predicate flipped back to solvent at price %d", px)
		}
		if liq {
			flipped = true
		}
	}
	if !flipped {
		t.Error("expected the position to become liquidatable")
	}
}

func TestPredicate_MonotonicAsPriceMovesAgainstShort(t *testing.T) {
	p, tbl, pos := newFixture(t, -10)

	var firstLiq int64
	for px := int64(1000); px <= 1300; px += 10 {
		tbl.Append(d(px), 2)
		liq, _ := p.IsLiquidatable(pos, 2)
		if liq && firstLiq == 0 {
			firstLiq = px
		}
		if firstLiq != 0 && !liq {
			t.Fatalf("predicate flipped back to solvent at price %d", px)
		}
	}
	// lq = -50; equity = 10 - 50*(px-1000)/1000 <= 0 once px >= 1200.
	if firstLiq != 1200 {
		t.Errorf("expected liquidation threshold at 1200, got %d", firstLiq)
	}
}

func TestPredicate_ReevaluatesEveryCall(t *testing.T) {
	p, tbl, pos := newFixture(t, 10)
	tbl.Append(d(1000), 2)

	r1, _ := p.Evaluate(pos, 2)
	tbl.Append(d(700), 3)
	r2, _ := p.Evaluate(pos, 3)

	if r1.Liquidatable || !r2.Liquidatable {
		t.Errorf("expected verdict to follow the newest price: before=%v after=%v", r1.Liquidatable, r2.Liquidatable)
	}
}
