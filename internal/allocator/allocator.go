// Package allocator implements the Margin Allocator: it turns a trade's
// quantity into a target maker margin and a bin distribution, either by
// auto-selecting bins in canonical order or by validating an explicit
// batch of (tier, amount) pairs.
package allocator

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// BinLedger is the subset of the bin ledger the allocator drives.
type BinLedger interface {
	Preview(side model.Side, amount decimal.Decimal) (model.Distribution, error)
	CheckExact(dist model.Distribution) error
	ReserveExact(dist model.Distribution) error
	Release(dist model.Distribution) error
}

// Allocator computes and reserves maker margin. It is stateless apart from
// its market-level margin factor.
type Allocator struct {
	ledger BinLedger
	perQty decimal.Decimal
}

// New creates an allocator. perQty is the maker margin required per unit
// of quantity, fixed at market configuration.
func New(ledger BinLedger, perQty decimal.Decimal) (*Allocator, error) {
	if !perQty.IsPositive() {
		return nil, fmt.Errorf("%w: maker margin per qty must be positive", model.ErrValidation)
	}
	return &Allocator{ledger: ledger, perQty: perQty}, nil
}

// TargetMargin returns |qty| * perQty.
func (a *Allocator) TargetMargin(qty decimal.Decimal) decimal.Decimal {
	return qty.Abs().Mul(a.perQty)
}

// Plan returns the distribution for qty without reserving it. When
// explicit is non-empty it must sum to the target margin, stay on the
// position's side, and fit into the bins as given.
func (a *Allocator) Plan(qty decimal.Decimal, explicit model.Distribution) (model.Distribution, error) {
	side := model.SideOf(qty)
	if side == 0 {
		return nil, model.ErrInvalidQuantity
	}
	target := a.TargetMargin(qty)

	if len(explicit) == 0 {
		return a.ledger.Preview(side, target)
	}

	for _, m := range explicit {
		if model.SideOfTier(m.Tier) != side {
			return nil, fmt.Errorf("%w: tier %d is not on the %s side", model.ErrDistributionMismatch, m.Tier, side)
		}
	}
	if sum := explicit.Sum(); !sum.Equal(target) {
		return nil, fmt.Errorf("%w: bins sum to %s, maker margin is %s", model.ErrDistributionMismatch, sum, target)
	}
	if err := a.ledger.CheckExact(explicit); err != nil {
		return nil, err
	}
	return explicit.Clone(), nil
}

// Commit reserves a planned distribution verbatim.
func (a *Allocator) Commit(dist model.Distribution) error {
	return a.ledger.ReserveExact(dist)
}

// Release hands a position's reservation back to the ledger.
func (a *Allocator) Release(dist model.Distribution) error {
	return a.ledger.Release(dist)
}
