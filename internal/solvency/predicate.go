// Package solvency implements the predicate a liquidator consults before
// liquidating a position: the trader's collateral is exhausted once
// takerMargin + pnl - interestFee <= 0.
//
// The predicate is re-evaluated on every call. Price and accrued interest
// both move with time, so nothing is cached.
package solvency

import (
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/valuation"
)

// Marker values a position at the freshest available price.
type Marker interface {
	Mark(pos *model.Position, at int64) (valuation.Result, error)
}

// Report is the outcome of one solvency evaluation.
type Report struct {
	PositionID   uint64           `json:"position_id"`
	Equity       decimal.Decimal  `json:"equity"` // takerMargin + pnl - interestFee
	Liquidatable bool             `json:"liquidatable"`
	Valuation    valuation.Result `json:"valuation"`
}

// Equity returns the trader's remaining collateral.
func Equity(takerMargin, pnl, interestFee decimal.Decimal) decimal.Decimal {
	return takerMargin.Add(pnl).Sub(interestFee)
}

// IsExhausted reports whether collateral has been fully consumed.
func IsExhausted(takerMargin, pnl, interestFee decimal.Decimal) bool {
	return !Equity(takerMargin, pnl, interestFee).IsPositive()
}

// Predicate evaluates positions against a Marker.
type Predicate struct {
	marker Marker
}

// NewPredicate creates a predicate over marker.
func NewPredicate(marker Marker) *Predicate {
	return &Predicate{marker: marker}
}

// Evaluate values pos at time at and reports whether it may be liquidated.
func (p *Predicate) Evaluate(pos *model.Position, at int64) (Report, error) {
	res, err := p.marker.Mark(pos, at)
	if err != nil {
		return Report{}, err
	}
	equity := Equity(pos.TakerMargin, res.PnL, res.InterestFee)
	return Report{
		PositionID:   pos.ID,
		Equity:       equity,
		Liquidatable: !equity.IsPositive(),
		Valuation:    res,
	}, nil
}

// IsLiquidatable is Evaluate reduced to its verdict.
func (p *Predicate) IsLiquidatable(pos *model.Position, at int64) (bool, error) {
	r, err := p.Evaluate(pos, at)
	if err != nil {
		return false, err
	}
	return r.Liquidatable, nil
}
