// Package bins implements the Liquidity Bin Ledger: per fee-tier maker
// liquidity, the reservations positions hold against it, and the pending
// liquidity receipts awaiting an oracle version boundary.
//
// Allocation always consumes the lowest |tier| bin first on the required
// side. The order is canonical and must not be optimized.
package bins

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// VersionSource reports the oracle head version. Receipts mature once it
// moves past their requested version.
type VersionSource interface {
	CurrentVersion() uint64
}

// Ledger exclusively owns FeeRateBin state. It is not safe for concurrent
// mutation; the settlement environment runs one mutation at a time.
type Ledger struct {
	bins          map[int]*model.FeeRateBin
	receipts      map[uint64]*model.LiquidityReceipt
	nextReceiptID uint64
	oracle        VersionSource
}

// NewLedger creates an empty ledger.
func NewLedger(oracle VersionSource) *Ledger {
	return &Ledger{
		bins:          make(map[int]*model.FeeRateBin),
		receipts:      make(map[uint64]*model.LiquidityReceipt),
		nextReceiptID: 1,
		oracle:        oracle,
	}
}

// bin returns the bin for tier, creating it lazily.
func (l *Ledger) bin(tier int) *model.FeeRateBin {
	b, ok := l.bins[tier]
	if !ok {
		b = &model.FeeRateBin{Tier: tier}
		l.bins[tier] = b
	}
	return b
}

func validatePair(tier int, amount decimal.Decimal) error {
	if !ValidTier(tier) {
		return fmt.Errorf("%w: %d", model.ErrInvalidFeeTier, tier)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s at tier %d", model.ErrInvalidAmount, amount, tier)
	}
	return nil
}

// Deposit adds active liquidity to a bin.
func (l *Ledger) Deposit(tier int, amount decimal.Decimal) error {
	if err := validatePair(tier, amount); err != nil {
		return err
	}
	b := l.bin(tier)
	b.TotalLiquidity = b.TotalLiquidity.Add(amount)
	return nil
}

// DepositBatch validates every pair before depositing any of them.
func (l *Ledger) DepositBatch(pairs []model.BinMargin) error {
	for _, p := range pairs {
		if err := validatePair(p.Tier, p.Amount); err != nil {
			return err
		}
	}
	for _, p := range pairs {
		b := l.bin(p.Tier)
		b.TotalLiquidity = b.TotalLiquidity.Add(p.Amount)
	}
	return nil
}

// Withdraw removes active liquidity. It fails with ErrBinOverdrawn when the
// bin would no longer cover its reservations and pending removals.
func (l *Ledger) Withdraw(tier int, amount decimal.Decimal) error {
	if err := validatePair(tier, amount); err != nil {
		return err
	}
	b, ok := l.bins[tier]
	if !ok || b.Available().LessThan(amount) {
		return fmt.Errorf("%w: tier %d cannot release %s", model.ErrBinOverdrawn, tier, amount)
	}
	b.TotalLiquidity = b.TotalLiquidity.Sub(amount)
	return nil
}

// tiersFor returns the existing tiers of one side in allocation order.
func (l *Ledger) tiersFor(side model.Side) []int {
	tiers := make([]int, 0, len(l.bins))
	for tier := range l.bins {
		if model.SideOfTier(tier) == side {
			tiers = append(tiers, tier)
		}
	}
	sortByPriority(tiers)
	return tiers
}

// Available returns the total unreserved liquidity on one side.
func (l *Ledger) Available(side model.Side) decimal.Decimal {
	total := decimal.Zero
	for _, tier := range l.tiersFor(side) {
		total = total.Add(l.bins[tier].Available())
	}
	return total
}

// Preview computes the distribution Reserve would produce without
// mutating anything.
func (l *Ledger) Preview(side model.Side, amount decimal.Decimal) (model.Distribution, error) {
	if side != model.Long && side != model.Short {
		return nil, fmt.Errorf("%w: side is required", model.ErrValidation)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: reserve %s", model.ErrInvalidAmount, amount)
	}
	if avail := l.Available(side); avail.LessThan(amount) {
		return nil, fmt.Errorf("%w: %s side has %s, need %s", model.ErrInsufficientLiquidity, side, avail, amount)
	}

	var dist model.Distribution
	remaining := amount
	for _, tier := range l.tiersFor(side) {
		if !remaining.IsPositive() {
			break
		}
		free := l.bins[tier].Available()
		if !free.IsPositive() {
			continue
		}
		take := free
		if remaining.LessThan(take) {
			take = remaining
		}
		dist = append(dist, model.BinMargin{Tier: tier, Amount: take})
		remaining = remaining.Sub(take)
	}
	return dist, nil
}

// Reserve partitions amount across the side's bins, lowest |tier| first.
func (l *Ledger) Reserve(side model.Side, amount decimal.Decimal) (model.Distribution, error) {
	dist, err := l.Preview(side, amount)
	if err != nil {
		return nil, err
	}
	l.apply(dist, decimal.Decimal.Add)
	return dist, nil
}

// CheckExact verifies that dist could be reserved verbatim.
func (l *Ledger) CheckExact(dist model.Distribution) error {
	if len(dist) == 0 {
		return fmt.Errorf("%w: empty distribution", model.ErrDistributionMismatch)
	}
	need := make(map[int]decimal.Decimal, len(dist))
	for _, m := range dist {
		if err := validatePair(m.Tier, m.Amount); err != nil {
			return err
		}
		need[m.Tier] = need[m.Tier].Add(m.Amount)
	}
	for tier, amount := range need {
		b, ok := l.bins[tier]
		if !ok || b.Available().LessThan(amount) {
			return fmt.Errorf("%w: tier %d cannot supply %s", model.ErrInsufficientLiquidity, tier, amount)
		}
	}
	return nil
}

// ReserveExact reserves exactly the given pairs. Nothing is reserved
// unless every pair fits.
func (l *Ledger) ReserveExact(dist model.Distribution) error {
	if err := l.CheckExact(dist); err != nil {
		return err
	}
	l.apply(dist, decimal.Decimal.Add)
	return nil
}

// Release returns previously reserved amounts verbatim.
func (l *Ledger) Release(dist model.Distribution) error {
	held := make(map[int]decimal.Decimal, len(dist))
	for _, m := range dist {
		held[m.Tier] = held[m.Tier].Add(m.Amount)
	}
	for tier, amount := range held {
		b, ok := l.bins[tier]
		if !ok || b.ReservedLiquidity.LessThan(amount) {
			return fmt.Errorf("%w: tier %d has no reservation of %s", model.ErrConsistency, tier, amount)
		}
	}
	l.apply(dist, decimal.Decimal.Sub)
	return nil
}

func (l *Ledger) apply(dist model.Distribution, op func(decimal.Decimal, decimal.Decimal) decimal.Decimal) {
	for _, m := range dist {
		b := l.bins[m.Tier]
		b.ReservedLiquidity = op(b.ReservedLiquidity, m.Amount)
	}
}

// Bin returns a copy of one bin.
func (l *Ledger) Bin(tier int) (model.FeeRateBin, bool) {
	b, ok := l.bins[tier]
	if !ok {
		return model.FeeRateBin{}, false
	}
	return *b, true
}

// Bins returns copies of the side's bins in allocation order.
func (l *Ledger) Bins(side model.Side) []model.FeeRateBin {
	tiers := l.tiersFor(side)
	out := make([]model.FeeRateBin, 0, len(tiers))
	for _, tier := range tiers {
		out = append(out, *l.bins[tier])
	}
	return out
}
