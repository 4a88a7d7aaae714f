// Package model defines the core domain types shared across the settlement
// engine. All monetary values use shopspring/decimal, never float64.
//
// Amounts are expressed in settlement-token base units, prices in oracle
// fixed-point units, and timestamps in unix seconds.
package model

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of a position or of a bin set.
type Side int8

const (
	Long  Side = 1
	Short Side = -1
)

// SideOf derives the side from the sign of a signed quantity.
// Zero quantities have no side and return 0.
func SideOf(qty decimal.Decimal) Side {
	switch qty.Sign() {
	case 1:
		return Long
	case -1:
		return Short
	}
	return 0
}

// SideOfTier returns the bin set a signed fee tier belongs to.
func SideOfTier(tier int) Side {
	if tier > 0 {
		return Long
	}
	if tier < 0 {
		return Short
	}
	return 0
}

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	}
	return "none"
}

// Sign returns +1 for long and -1 for short as a decimal.
func (s Side) Sign() decimal.Decimal {
	return decimal.NewFromInt(int64(s))
}

// FeeRateBin is one maker-liquidity pool keyed by a signed fee tier.
// Invariant: 0 <= ReservedLiquidity <= TotalLiquidity.
type FeeRateBin struct {
	Tier              int             `json:"tier" db:"tier"`
	TotalLiquidity    decimal.Decimal `json:"total_liquidity" db:"total_liquidity"`
	ReservedLiquidity decimal.Decimal `json:"reserved_liquidity" db:"reserved_liquidity"`
	PendingAdd        decimal.Decimal `json:"pending_add" db:"pending_add"`       // requested, not yet claimed
	PendingRemove     decimal.Decimal `json:"pending_remove" db:"pending_remove"` // withheld from reservation
}

// Available is the liquidity a reservation may still consume.
func (b FeeRateBin) Available() decimal.Decimal {
	free := b.TotalLiquidity.Sub(b.ReservedLiquidity).Sub(b.PendingRemove)
	if free.IsNegative() {
		return decimal.Zero
	}
	return free
}

// BinMargin is the amount of maker margin taken from one bin.
type BinMargin struct {
	Tier   int             `json:"tier"`
	Amount decimal.Decimal `json:"amount"`
}

// Distribution is an ordered partition of maker margin across bins.
type Distribution []BinMargin

// Sum returns the total margin of the distribution.
func (d Distribution) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, m := range d {
		total = total.Add(m.Amount)
	}
	return total
}

// Clone returns a deep copy so callers cannot alias engine state.
func (d Distribution) Clone() Distribution {
	if d == nil {
		return nil
	}
	out := make(Distribution, len(d))
	copy(out, d)
	return out
}

// RateRecord is one entry of the interest rate schedule. Immutable once
// appended; effective over [BeginTimestamp, next.BeginTimestamp).
type RateRecord struct {
	AnnualRateBps  int64 `json:"annual_rate_bps" db:"annual_rate_bps"`
	BeginTimestamp int64 `json:"begin_timestamp" db:"begin_timestamp"`
}

// OracleSnapshot is one published price. A zero price marks an
// invalidated snapshot that must never serve as an entry or exit price.
type OracleSnapshot struct {
	Version   uint64          `json:"version" db:"version"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Timestamp int64           `json:"timestamp" db:"timestamp"`
}

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusOpen       PositionStatus = "open"
	StatusClosed     PositionStatus = "closed"
	StatusLiquidated PositionStatus = "liquidated"
)

// Position is a trader's leveraged exposure backed by maker margin.
type Position struct {
	ID                 uint64          `json:"id" db:"id"`
	Owner              string          `json:"owner" db:"owner"`
	Qty                decimal.Decimal `json:"qty" db:"qty"` // signed: +long, -short
	Leverage           decimal.Decimal `json:"leverage" db:"leverage"`
	TakerMargin        decimal.Decimal `json:"taker_margin" db:"taker_margin"`
	MakerMargin        decimal.Decimal `json:"maker_margin" db:"maker_margin"`
	TradingFee         decimal.Decimal `json:"trading_fee" db:"trading_fee"`
	MaxAllowedFee      decimal.Decimal `json:"max_allowed_fee" db:"max_allowed_fee"`
	Bins               Distribution    `json:"bins"`
	EntryOracleVersion uint64          `json:"entry_oracle_version" db:"entry_oracle_version"`
	OpenTimestamp      int64           `json:"open_timestamp" db:"open_timestamp"`
	Status             PositionStatus  `json:"status" db:"status"`
	ClosedTimestamp    int64           `json:"closed_timestamp,omitempty" db:"closed_timestamp"`
}

// Side returns the direction derived from Qty.
func (p *Position) Side() Side {
	return SideOf(p.Qty)
}

// Clone returns a copy that shares no mutable state with p.
func (p *Position) Clone() *Position {
	c := *p
	c.Bins = p.Bins.Clone()
	return &c
}

// ReceiptKind distinguishes pending additions from pending removals.
type ReceiptKind string

const (
	ReceiptAdd    ReceiptKind = "add"
	ReceiptRemove ReceiptKind = "remove"
)

// LiquidityReceipt is a liquidity request that settles only after the
// oracle has advanced past RequestedOracleVersion.
type LiquidityReceipt struct {
	ID                     uint64          `json:"id" db:"id"`
	Owner                  string          `json:"owner" db:"owner"`
	Tier                   int             `json:"tier" db:"tier"`
	Amount                 decimal.Decimal `json:"amount" db:"amount"`
	Kind                   ReceiptKind     `json:"kind" db:"kind"`
	RequestedOracleVersion uint64          `json:"requested_oracle_version" db:"requested_oracle_version"`
	Timestamp              int64           `json:"timestamp" db:"timestamp"`
}

// SettlementKind records how a position left the open set.
type SettlementKind string

const (
	SettlementClose       SettlementKind = "close"
	SettlementLiquidation SettlementKind = "liquidation"
)

// Settlement is the immutable result of closing or liquidating a position.
// Net = PnL - InterestFee - KeeperFee is what the external transfer
// component must move to (or from) the trader.
type Settlement struct {
	ID           string          `json:"id" db:"id"`
	PositionID   uint64          `json:"position_id" db:"position_id"`
	Owner        string          `json:"owner" db:"owner"`
	Kind         SettlementKind  `json:"kind" db:"kind"`
	EntryVersion uint64          `json:"entry_version" db:"entry_version"`
	ExitVersion  uint64          `json:"exit_version" db:"exit_version"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price" db:"exit_price"`
	LeveragedQty decimal.Decimal `json:"leveraged_qty" db:"leveraged_qty"`
	PnL          decimal.Decimal `json:"pnl" db:"pnl"`
	InterestFee  decimal.Decimal `json:"interest_fee" db:"interest_fee"`
	KeeperFee    decimal.Decimal `json:"keeper_fee" db:"keeper_fee"`
	Net          decimal.Decimal `json:"net" db:"net"`
	Timestamp    int64           `json:"timestamp" db:"timestamp"`
}
