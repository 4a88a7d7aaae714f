// Package valuation computes the amounts a position settles for: leveraged
// quantity, realized PnL against versioned oracle prices, accrued interest
// on maker margin, and the trading fee charged by the bins it uses.
//
// Every division truncates toward zero at the configured precision, so a
// long and a short with identical inputs receive exactly opposite PnL.
package valuation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/fixed"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/oracle"
)

// PriceFeed is the read side of the oracle version table.
type PriceFeed interface {
	At(version uint64) (model.OracleSnapshot, error)
	Latest() (model.OracleSnapshot, bool)
	CurrentVersion() uint64
}

// Accruer is the read side of the interest rate schedule.
type Accruer interface {
	Accrued(principal decimal.Decimal, from, to int64) decimal.Decimal
}

// LeveragedQty returns |qty| * leverage signed by the position side.
func LeveragedQty(qty, leverage decimal.Decimal) decimal.Decimal {
	lq := qty.Abs().Mul(leverage)
	if qty.IsNegative() {
		return lq.Neg()
	}
	return lq
}

// PnL returns leveragedQty * (exit - entry) / entry, truncated.
func PnL(leveragedQty, entryPrice, exitPrice decimal.Decimal, places int32) (decimal.Decimal, error) {
	if !oracle.IsValidPrice(entryPrice) {
		return decimal.Zero, fmt.Errorf("%w: entry price %s", model.ErrInvalidOraclePrice, entryPrice)
	}
	return fixed.MulDiv(leveragedQty, exitPrice.Sub(entryPrice), entryPrice, places)
}

// TradingFee returns the sum over bins of amount * |tier| / 10000, each
// term truncated.
func TradingFee(dist model.Distribution, places int32) decimal.Decimal {
	total := decimal.Zero
	for _, m := range dist {
		tier := m.Tier
		if tier < 0 {
			tier = -tier
		}
		fee, _ := fixed.MulDiv(m.Amount, decimal.NewFromInt(int64(tier)), fixed.BpsDenominator, places)
		total = total.Add(fee)
	}
	return total
}

// Result is a position valuation at one instant.
type Result struct {
	EntryVersion uint64          `json:"entry_version"`
	ExitVersion  uint64          `json:"exit_version"`
	EntryPrice   decimal.Decimal `json:"entry_price"`
	ExitPrice    decimal.Decimal `json:"exit_price"`
	LeveragedQty decimal.Decimal `json:"leveraged_qty"`
	PnL          decimal.Decimal `json:"pnl"`
	InterestFee  decimal.Decimal `json:"interest_fee"`
	// Priced is false when the entry snapshot is not yet published and
	// PnL is therefore zero.
	Priced bool `json:"priced"`
}

// Valuer prices positions against an oracle feed and a rate schedule.
type Valuer struct {
	feed   PriceFeed
	rates  Accruer
	places int32
}

// New creates a Valuer truncating at places decimal places.
func New(feed PriceFeed, rates Accruer, places int32) *Valuer {
	return &Valuer{feed: feed, rates: rates, places: places}
}

// entrySnapshot resolves the first valid snapshot after the position's
// entry version. Settlement never uses the tick the order was placed on,
// and an invalidated tick defers the entry price to the next valid one.
func (v *Valuer) entrySnapshot(pos *model.Position) (model.OracleSnapshot, error) {
	first := pos.EntryOracleVersion + 1
	head := v.feed.CurrentVersion()
	for ver := first; ver <= head; ver++ {
		snap, err := v.feed.At(ver)
		if err != nil {
			return snap, err
		}
		if oracle.IsValidPrice(snap.Price) {
			return snap, nil
		}
	}
	if head < first {
		return model.OracleSnapshot{}, fmt.Errorf("%w: position %d needs version %d", model.ErrEntryPriceUnavailable, pos.ID, first)
	}
	return model.OracleSnapshot{}, fmt.Errorf("%w: position %d has no valid price in versions %d..%d", model.ErrEntryPriceUnavailable, pos.ID, first, head)
}

// Settle values pos for close or liquidation at time at. The entry price
// must be published and both prices valid.
func (v *Valuer) Settle(pos *model.Position, at int64) (Result, error) {
	entry, err := v.entrySnapshot(pos)
	if err != nil {
		return Result{}, err
	}
	exit, ok := v.feed.Latest()
	if !ok || !oracle.IsValidPrice(exit.Price) {
		return Result{}, fmt.Errorf("%w: latest version %d is invalidated", model.ErrInvalidOraclePrice, exit.Version)
	}
	return v.value(pos, entry, exit, at)
}

// Mark values pos against the freshest valid price for solvency checks.
// A missing entry price yields zero PnL instead of an error; a trailing
// invalidated snapshot falls back to the latest valid one.
func (v *Valuer) Mark(pos *model.Position, at int64) (Result, error) {
	interest := v.rates.Accrued(pos.MakerMargin, pos.OpenTimestamp, at)
	unpriced := Result{
		EntryVersion: pos.EntryOracleVersion + 1,
		LeveragedQty: LeveragedQty(pos.Qty, pos.Leverage),
		PnL:          decimal.Zero,
		InterestFee:  interest,
	}

	entry, err := v.entrySnapshot(pos)
	if errors.Is(err, model.ErrEntryPriceUnavailable) {
		return unpriced, nil
	}
	if err != nil {
		return Result{}, err
	}

	for ver := v.feed.CurrentVersion(); ver >= entry.Version; ver-- {
		exit, err := v.feed.At(ver)
		if err != nil {
			return Result{}, err
		}
		if oracle.IsValidPrice(exit.Price) {
			return v.value(pos, entry, exit, at)
		}
	}
	return unpriced, nil
}

func (v *Valuer) value(pos *model.Position, entry, exit model.OracleSnapshot, at int64) (Result, error) {
	lq := LeveragedQty(pos.Qty, pos.Leverage)
	pnl, err := PnL(lq, entry.Price, exit.Price, v.places)
	if err != nil {
		return Result{}, err
	}
	return Result{
		EntryVersion: entry.Version,
		ExitVersion:  exit.Version,
		EntryPrice:   entry.Price,
		ExitPrice:    exit.Price,
		LeveragedQty: lq,
		PnL:          pnl,
		InterestFee:  v.rates.Accrued(pos.MakerMargin, pos.OpenTimestamp, at),
		Priced:       true,
	}, nil
}
