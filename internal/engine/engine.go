// Package engine implements the Position Accounting Engine. A position
// moves Open -> Closed or Open -> Liquidated and never leaves a terminal
// state. Every operation validates completely before its first write, so
// a returned error means engine state is unchanged.
//
// The engine is not safe for concurrent use. Callers serialize mutating
// operations (see internal/api) and may run read-only queries in
// parallel with each other.
package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/fixed"
	"github.com/atmx/settlement-engine/internal/market"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/solvency"
	"github.com/atmx/settlement-engine/internal/valuation"
)

// DefaultMaxFeeBps caps the trading fee at 1% of maker margin when an
// open request leaves MaxAllowedFee unset.
const DefaultMaxFeeBps = 100

// OracleHead is the part of the oracle table open needs.
type OracleHead interface {
	CurrentVersion() uint64
	Latest() (model.OracleSnapshot, bool)
}

// MarginAllocator plans and reserves maker margin.
type MarginAllocator interface {
	TargetMargin(qty decimal.Decimal) decimal.Decimal
	Plan(qty decimal.Decimal, explicit model.Distribution) (model.Distribution, error)
	Commit(dist model.Distribution) error
	Release(dist model.Distribution) error
}

// Settler values positions for close and liquidation.
type Settler interface {
	Settle(pos *model.Position, at int64) (valuation.Result, error)
}

// SolvencyChecker is the solvency predicate.
type SolvencyChecker interface {
	Evaluate(pos *model.Position, at int64) (solvency.Report, error)
}

// InterestPreviewer computes accrual without side effects.
type InterestPreviewer interface {
	Accrued(principal decimal.Decimal, from, to int64) decimal.Decimal
}

// OpenRequest carries the inputs of Engine.Open.
type OpenRequest struct {
	Owner           string          `json:"owner"`
	SettlementToken string          `json:"settlement_token"`
	Qty             decimal.Decimal `json:"qty"` // signed: +long, -short
	Leverage        decimal.Decimal `json:"leverage"`
	TakerMargin     decimal.Decimal `json:"taker_margin"`

	// MakerMarginLimit bounds the computed maker margin. Zero means none.
	MakerMarginLimit decimal.Decimal `json:"maker_margin_limit"`

	// MaxAllowedFee bounds the trading fee. Zero means DefaultMaxFeeBps
	// of the maker margin.
	MaxAllowedFee decimal.Decimal `json:"max_allowed_fee"`

	Bins model.Distribution `json:"bins,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the unix-seconds clock used for open and close
// timestamps.
func WithClock(now func() int64) Option {
	return func(e *Engine) { e.now = now }
}

// Engine owns the position set for one market.
type Engine struct {
	cfg       *market.Config
	oracle    OracleHead
	allocator MarginAllocator
	settler   Settler
	solvency  SolvencyChecker
	rates     InterestPreviewer

	positions map[uint64]*model.Position
	nextID    uint64
	now       func() int64
}

// New creates an engine over already-resolved collaborators.
func New(
	cfg *market.Config,
	head OracleHead,
	alloc MarginAllocator,
	settler Settler,
	checker SolvencyChecker,
	rates InterestPreviewer,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		oracle:    head,
		allocator: alloc,
		settler:   settler,
		solvency:  checker,
		rates:     rates,
		positions: make(map[uint64]*model.Position),
		nextID:    1,
		now:       func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine clock reading.
func (e *Engine) Now() int64 {
	return e.now()
}

func (e *Engine) validateOpen(req OpenRequest) error {
	if req.SettlementToken != e.cfg.SettlementToken {
		return fmt.Errorf("%w: got %q, market settles in %q", model.ErrInvalidSettlementToken, req.SettlementToken, e.cfg.SettlementToken)
	}
	if req.Qty.IsZero() {
		return model.ErrInvalidQuantity
	}
	if !req.Leverage.IsPositive() {
		return fmt.Errorf("%w: %s", model.ErrInvalidLeverage, req.Leverage)
	}
	if e.cfg.MaxLeverage.IsPositive() && req.Leverage.GreaterThan(e.cfg.MaxLeverage) {
		return fmt.Errorf("%w: %s above max %s", model.ErrInvalidLeverage, req.Leverage, e.cfg.MaxLeverage)
	}
	if !req.TakerMargin.IsPositive() || req.TakerMargin.LessThan(e.cfg.MinTakerMargin) {
		return fmt.Errorf("%w: %s < %s", model.ErrMarginBelowMinimum, req.TakerMargin, e.cfg.MinTakerMargin)
	}
	if req.MakerMarginLimit.IsNegative() || req.MaxAllowedFee.IsNegative() {
		return fmt.Errorf("%w: limits must not be negative", model.ErrInvalidAmount)
	}

	// A zero-price head is an invalidation guard; the entry price is read
	// one version later, so only an empty or negative head blocks open.
	head, ok := e.oracle.Latest()
	if !ok || e.oracle.CurrentVersion() == 0 {
		return fmt.Errorf("%w: no oracle snapshot published", model.ErrInvalidOraclePrice)
	}
	if head.Price.IsNegative() {
		return fmt.Errorf("%w: head version %d price %s", model.ErrInvalidOraclePrice, head.Version, head.Price)
	}
	return nil
}

// Open validates req, reserves maker margin across fee-rate bins and
// records a new open position at the current oracle head.
func (e *Engine) Open(req OpenRequest) (*model.Position, error) {
	if err := e.validateOpen(req); err != nil {
		return nil, err
	}

	makerMargin := e.allocator.TargetMargin(req.Qty)
	if req.MakerMarginLimit.IsPositive() && makerMargin.GreaterThan(req.MakerMarginLimit) {
		return nil, fmt.Errorf("%w: %s > %s", model.ErrMakerMarginExceedsLimit, makerMargin, req.MakerMarginLimit)
	}

	dist, err := e.allocator.Plan(req.Qty, req.Bins)
	if err != nil {
		return nil, err
	}

	places := e.cfg.Precision
	fee := valuation.TradingFee(dist, places)
	maxFee := req.MaxAllowedFee
	if maxFee.IsZero() {
		maxFee, _ = fixed.MulDiv(makerMargin, decimal.NewFromInt(DefaultMaxFeeBps), fixed.BpsDenominator, places)
	}
	if fee.GreaterThan(maxFee) {
		return nil, fmt.Errorf("%w: fee %s > %s", model.ErrTradingFeeExceedsLimit, fee, maxFee)
	}

	if err := e.allocator.Commit(dist); err != nil {
		return nil, err
	}

	pos := &model.Position{
		ID:                 e.nextID,
		Owner:              req.Owner,
		Qty:                req.Qty,
		Leverage:           req.Leverage,
		TakerMargin:        req.TakerMargin,
		MakerMargin:        makerMargin,
		TradingFee:         fee,
		MaxAllowedFee:      maxFee,
		Bins:               dist,
		EntryOracleVersion: e.oracle.CurrentVersion(),
		OpenTimestamp:      e.now(),
		Status:             model.StatusOpen,
	}
	e.positions[pos.ID] = pos
	e.nextID++
	return pos.Clone(), nil
}

func (e *Engine) openPosition(id uint64) (*model.Position, error) {
	pos, ok := e.positions[id]
	if !ok || pos.Status != model.StatusOpen {
		return nil, fmt.Errorf("%w: %d", model.ErrUnknownPosition, id)
	}
	return pos, nil
}

// Close settles the caller's own position at the latest oracle price.
// The configured keeper fee must not exceed keeperFeeLimit.
func (e *Engine) Close(id uint64, caller string, keeperFeeLimit decimal.Decimal) (*model.Settlement, error) {
	pos, err := e.openPosition(id)
	if err != nil {
		return nil, err
	}
	if caller != pos.Owner {
		return nil, fmt.Errorf("%w: position %d", model.ErrNotPositionOwner, id)
	}

	at := e.now()
	res, err := e.settler.Settle(pos, at)
	if err != nil {
		return nil, err
	}
	if e.cfg.KeeperFee.GreaterThan(keeperFeeLimit) {
		return nil, fmt.Errorf("%w: %s > %s", model.ErrKeeperFeeExceedsLimit, e.cfg.KeeperFee, keeperFeeLimit)
	}
	return e.finish(pos, res, model.SettlementClose, at)
}

// Liquidate settles an insolvent position. The configured keeper fee is
// taken without a caller-supplied limit.
func (e *Engine) Liquidate(id uint64) (*model.Settlement, error) {
	pos, err := e.openPosition(id)
	if err != nil {
		return nil, err
	}

	at := e.now()
	report, err := e.solvency.Evaluate(pos, at)
	if err != nil {
		return nil, err
	}
	if !report.Liquidatable {
		return nil, fmt.Errorf("%w: position %d equity %s", model.ErrPositionSolvent, id, report.Equity)
	}
	res, err := e.settler.Settle(pos, at)
	if err != nil {
		return nil, err
	}
	return e.finish(pos, res, model.SettlementLiquidation, at)
}

func (e *Engine) finish(pos *model.Position, res valuation.Result, kind model.SettlementKind, at int64) (*model.Settlement, error) {
	if err := e.allocator.Release(pos.Bins); err != nil {
		return nil, err
	}

	keeper := e.cfg.KeeperFee
	if kind == model.SettlementClose {
		pos.Status = model.StatusClosed
	} else {
		pos.Status = model.StatusLiquidated
	}
	pos.ClosedTimestamp = at

	return &model.Settlement{
		ID:           uuid.NewString(),
		PositionID:   pos.ID,
		Owner:        pos.Owner,
		Kind:         kind,
		EntryVersion: res.EntryVersion,
		ExitVersion:  res.ExitVersion,
		EntryPrice:   res.EntryPrice,
		ExitPrice:    res.ExitPrice,
		LeveragedQty: res.LeveragedQty,
		PnL:          res.PnL,
		InterestFee:  res.InterestFee,
		KeeperFee:    keeper,
		Net:          res.PnL.Sub(res.InterestFee).Sub(keeper),
		Timestamp:    at,
	}, nil
}

// Evaluate runs the solvency predicate on an open position now.
func (e *Engine) Evaluate(id uint64) (solvency.Report, error) {
	pos, err := e.openPosition(id)
	if err != nil {
		return solvency.Report{}, err
	}
	return e.solvency.Evaluate(pos, e.now())
}

// IsLiquidatable reports whether an open position may be liquidated now.
func (e *Engine) IsLiquidatable(id uint64) (bool, error) {
	r, err := e.Evaluate(id)
	if err != nil {
		return false, err
	}
	return r.Liquidatable, nil
}

// PreviewInterest returns the interest an open position has accrued by
// at. A zero at means now.
func (e *Engine) PreviewInterest(id uint64, at int64) (decimal.Decimal, error) {
	pos, err := e.openPosition(id)
	if err != nil {
		return decimal.Zero, err
	}
	if at == 0 {
		at = e.now()
	}
	return e.rates.Accrued(pos.MakerMargin, pos.OpenTimestamp, at), nil
}

// Position returns a copy of a position in any state.
func (e *Engine) Position(id uint64) (*model.Position, bool) {
	pos, ok := e.positions[id]
	if !ok {
		return nil, false
	}
	return pos.Clone(), true
}

// Positions returns copies of every position with the given status,
// ordered by ID. An empty status matches all.
func (e *Engine) Positions(status model.PositionStatus) []*model.Position {
	out := make([]*model.Position, 0, len(e.positions))
	for _, pos := range e.positions {
		if status == "" || pos.Status == status {
			out = append(out, pos.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OpenCount returns the number of open positions.
func (e *Engine) OpenCount() int {
	n := 0
	for _, pos := range e.positions {
		if pos.Status == model.StatusOpen {
			n++
		}
	}
	return n
}
