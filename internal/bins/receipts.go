package bins

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/model"
)

// RequestAdd parks amount as pending liquidity on tier. The liquidity only
// becomes reservable when the receipt is claimed, which requires the
// oracle to have advanced past the version current at request time.
func (l *Ledger) RequestAdd(owner string, tier int, amount decimal.Decimal, ts int64) (model.LiquidityReceipt, error) {
	if err := validatePair(tier, amount); err != nil {
		return model.LiquidityReceipt{}, err
	}
	b := l.bin(tier)
	b.PendingAdd = b.PendingAdd.Add(amount)
	return l.issue(owner, tier, amount, model.ReceiptAdd, ts), nil
}

// RequestAddBatch issues one add receipt per pair, or none on error.
func (l *Ledger) RequestAddBatch(owner string, pairs []model.BinMargin, ts int64) ([]model.LiquidityReceipt, error) {
	for _, p := range pairs {
		if err := validatePair(p.Tier, p.Amount); err != nil {
			return nil, err
		}
	}
	out := make([]model.LiquidityReceipt, 0, len(pairs))
	for _, p := range pairs {
		r, _ := l.RequestAdd(owner, p.Tier, p.Amount, ts)
		out = append(out, r)
	}
	return out, nil
}

// RequestRemove withholds amount from future reservations on tier until
// the receipt is withdrawn.
func (l *Ledger) RequestRemove(owner string, tier int, amount decimal.Decimal, ts int64) (model.LiquidityReceipt, error) {
	if err := validatePair(tier, amount); err != nil {
		return model.LiquidityReceipt{}, err
	}
	b, ok := l.bins[tier]
	if !ok || b.Available().LessThan(amount) {
		return model.LiquidityReceipt{}, fmt.Errorf("%w: tier %d cannot release %s", model.ErrBinOverdrawn, tier, amount)
	}
	b.PendingRemove = b.PendingRemove.Add(amount)
	return l.issue(owner, tier, amount, model.ReceiptRemove, ts), nil
}

func (l *Ledger) issue(owner string, tier int, amount decimal.Decimal, kind model.ReceiptKind, ts int64) model.LiquidityReceipt {
	r := &model.LiquidityReceipt{
		ID:                     l.nextReceiptID,
		Owner:                  owner,
		Tier:                   tier,
		Amount:                 amount,
		Kind:                   kind,
		RequestedOracleVersion: l.oracle.CurrentVersion(),
		Timestamp:              ts,
	}
	l.nextReceiptID++
	l.receipts[r.ID] = r
	return *r
}

// matured looks up a receipt of the given kind and checks that the oracle
// has moved past its requested version.
func (l *Ledger) matured(id uint64, kind model.ReceiptKind) (*model.LiquidityReceipt, error) {
	r, ok := l.receipts[id]
	if !ok || r.Kind != kind {
		return nil, fmt.Errorf("%w: %s receipt %d", model.ErrUnknownReceipt, kind, id)
	}
	if l.oracle.CurrentVersion() <= r.RequestedOracleVersion {
		return nil, fmt.Errorf("%w: receipt %d at version %d", model.ErrReceiptNotMatured, id, r.RequestedOracleVersion)
	}
	return r, nil
}

// Claim activates the liquidity of a matured add receipt and destroys it.
func (l *Ledger) Claim(id uint64) (model.LiquidityReceipt, error) {
	r, err := l.matured(id, model.ReceiptAdd)
	if err != nil {
		return model.LiquidityReceipt{}, err
	}
	l.settleAdd(r)
	return *r, nil
}

// ClaimBatch claims every receipt, or none if any is unknown or immature.
func (l *Ledger) ClaimBatch(ids []uint64) ([]model.LiquidityReceipt, error) {
	seen := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: receipt %d listed twice", model.ErrValidation, id)
		}
		seen[id] = true
		if _, err := l.matured(id, model.ReceiptAdd); err != nil {
			return nil, err
		}
	}
	out := make([]model.LiquidityReceipt, 0, len(ids))
	for _, id := range ids {
		r := l.receipts[id]
		l.settleAdd(r)
		out = append(out, *r)
	}
	return out, nil
}

func (l *Ledger) settleAdd(r *model.LiquidityReceipt) {
	b := l.bins[r.Tier]
	b.PendingAdd = b.PendingAdd.Sub(r.Amount)
	b.TotalLiquidity = b.TotalLiquidity.Add(r.Amount)
	delete(l.receipts, r.ID)
}

// WithdrawReceipt removes the liquidity of a matured remove receipt from
// its bin and destroys the receipt.
func (l *Ledger) WithdrawReceipt(id uint64) (model.LiquidityReceipt, error) {
	r, err := l.matured(id, model.ReceiptRemove)
	if err != nil {
		return model.LiquidityReceipt{}, err
	}
	b := l.bins[r.Tier]
	if b.TotalLiquidity.Sub(r.Amount).LessThan(b.ReservedLiquidity) {
		return model.LiquidityReceipt{}, fmt.Errorf("%w: tier %d", model.ErrBinOverdrawn, r.Tier)
	}
	b.PendingRemove = b.PendingRemove.Sub(r.Amount)
	b.TotalLiquidity = b.TotalLiquidity.Sub(r.Amount)
	delete(l.receipts, r.ID)
	return *r, nil
}

// Receipt returns one outstanding receipt.
func (l *Ledger) Receipt(id uint64) (model.LiquidityReceipt, bool) {
	r, ok := l.receipts[id]
	if !ok {
		return model.LiquidityReceipt{}, false
	}
	return *r, true
}

// Receipts returns the owner's outstanding receipts ordered by ID. An empty
// owner returns every receipt.
func (l *Ledger) Receipts(owner string) []model.LiquidityReceipt {
	var out []model.LiquidityReceipt
	for _, r := range l.receipts {
		if owner == "" || r.Owner == owner {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
