package allocator

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/bins"
	"github.com/atmx/settlement-engine/internal/model"
)

func d(i int64) decimal.Decimal {
	return decimal.NewFromInt(i)
}

type versionStub struct{}

func (versionStub) CurrentVersion() uint64 { return 1 }

func newAllocator(t *testing.T) (*Allocator, *bins.Ledger) {
	t.Helper()
	l := bins.NewLedger(versionStub{})
	for tier, amt := range map[int]int64{1: 10_000_000, 10: 50_000_000, -1: 10_000_000, -10: 50_000_000} {
		if err := l.Deposit(tier, d(amt)); err != nil {
			t.Fatal(err)
		}
	}
	a, err := New(l, d(5_000))
	if err != nil {
		t.Fatal(err)
	}
	return a, l
}

func TestNew_RejectsNonPositiveFactor(t *testing.T) {
	if _, err := New(nil, decimal.Zero); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestPlan_AutoSelection(t *testing.T) {
	a, l := newAllocator(t)

	dist, err := a.Plan(d(10_000), nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !dist.Sum().Equal(d(50_000_000)) {
		t.Errorf("expected maker margin 50000000, got %s", dist.Sum())
	}
	if dist[0].Tier != 1 || !dist[0].Amount.Equal(d(10_000_000)) || dist[1].Tier != 10 || !dist[1].Amount.Equal(d(40_000_000)) {
		t.Errorf("unexpected distribution %+v", dist)
	}
	if b, _ := l.Bin(1); !b.ReservedLiquidity.IsZero() {
		t.Error("plan must not reserve")
	}

	if err := a.Commit(dist); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if b, _ := l.Bin(10); !b.ReservedLiquidity.Equal(d(40_000_000)) {
		t.Errorf("expected tier 10 reserved 40000000, got %s", b.ReservedLiquidity)
	}
}

func TestPlan_ShortUsesShortBins(t *testing.T) {
	a, _ := newAllocator(t)
	dist, err := a.Plan(d(-10_000), nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range dist {
		if m.Tier > 0 {
			t.Errorf("short plan used long tier %d", m.Tier)
		}
	}
}

func TestPlan_ZeroQuantity(t *testing.T) {
	a, _ := newAllocator(t)
	if _, err := a.Plan(decimal.Zero, nil); !errors.Is(err, model.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestPlan_ExplicitBins(t *testing.T) {
	a, _ := newAllocator(t)

	tests := []struct {
		name string
		qty  int64
		bins model.Distribution
		want error
	}{
		{
			name: "valid batch skips lowest tier",
			qty:  2_000,
			bins: model.Distribution{{Tier: 10, Amount: d(10_000_000)}},
		},
		{
			name: "sum mismatch",
			qty:  2_000,
			bins: model.Distribution{{Tier: 10, Amount: d(9_999_999)}},
			want: model.ErrDistributionMismatch,
		},
		{
			name: "wrong side",
			qty:  2_000,
			bins: model.Distribution{{Tier: -10, Amount: d(10_000_000)}},
			want: model.ErrDistributionMismatch,
		},
		{
			name: "bin too small",
			qty:  3_000,
			bins: model.Distribution{{Tier: 1, Amount: d(15_000_000)}},
			want: model.ErrInsufficientLiquidity,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, err := a.Plan(d(tt.qty), tt.bins)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if len(dist) != len(tt.bins) || dist[0].Tier != tt.bins[0].Tier {
					t.Errorf("explicit bins must be kept verbatim, got %+v", dist)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
