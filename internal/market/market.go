// Package market handles perpetual market ticker parsing and the
// market-level configuration every position is validated against.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// tickerRegex matches: {BASE}-{QUOTE}-PERP
// Example: ETH-USDC-PERP
var tickerRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})-([A-Z0-9]{2,10})-PERP$`)

var (
	ErrInvalidTicker = errors.New("market: invalid ticker format")
	ErrInvalidConfig = errors.New("market: invalid configuration")
)

// Ticker is a parsed market symbol. Quote is the settlement token.
type Ticker struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// ParseTicker parses and validates a market ticker string.
func ParseTicker(symbol string) (*Ticker, error) {
	m := tickerRegex.FindStringSubmatch(strings.TrimSpace(symbol))
	if m == nil {
		return nil, fmt.Errorf("%w: %s (expected {BASE}-{QUOTE}-PERP)", ErrInvalidTicker, symbol)
	}
	if m[1] == m[2] {
		return nil, fmt.Errorf("%w: base and quote are both %s", ErrInvalidTicker, m[1])
	}
	return &Ticker{Symbol: m[0], Base: m[1], Quote: m[2]}, nil
}

// Config is the market configuration agreed at deployment.
type Config struct {
	Ticker *Ticker `json:"ticker"`

	// SettlementToken is the only margin asset positions may use.
	SettlementToken string `json:"settlement_token"`

	// MinTakerMargin is the floor on trader collateral per position.
	MinTakerMargin decimal.Decimal `json:"min_taker_margin"`

	// MakerMarginPerQty is the price-independent factor turning |qty|
	// into the maker margin a position reserves.
	MakerMarginPerQty decimal.Decimal `json:"maker_margin_per_qty"`

	// MaxLeverage caps the leverage multiplier; zero disables the cap.
	MaxLeverage decimal.Decimal `json:"max_leverage"`

	// KeeperFee is charged on every close and liquidation. Liquidations
	// take it unconditionally; closes compare it to the caller's limit.
	KeeperFee decimal.Decimal `json:"keeper_fee"`

	// Precision is the number of decimal places amounts keep; every
	// division truncates there.
	Precision int32 `json:"precision"`
}

// NewConfig builds a config for ticker with the quote asset as the
// settlement token.
func NewConfig(symbol string) (*Config, error) {
	t, err := ParseTicker(symbol)
	if err != nil {
		return nil, err
	}
	return &Config{
		Ticker:            t,
		SettlementToken:   t.Quote,
		MinTakerMargin:    decimal.Zero,
		MakerMarginPerQty: decimal.NewFromInt(1),
		KeeperFee:         decimal.Zero,
	}, nil
}

// Validate checks the config for internal consistency.
func (c *Config) Validate() error {
	var errs []error
	if c.SettlementToken == "" {
		errs = append(errs, fmt.Errorf("%w: settlement token is required", ErrInvalidConfig))
	}
	if c.Ticker != nil && c.SettlementToken != c.Ticker.Quote {
		errs = append(errs, fmt.Errorf("%w: settlement token %s differs from quote %s", ErrInvalidConfig, c.SettlementToken, c.Ticker.Quote))
	}
	if c.MinTakerMargin.IsNegative() {
		errs = append(errs, fmt.Errorf("%w: min taker margin is negative", ErrInvalidConfig))
	}
	if !c.MakerMarginPerQty.IsPositive() {
		errs = append(errs, fmt.Errorf("%w: maker margin per qty must be positive", ErrInvalidConfig))
	}
	if c.MaxLeverage.IsNegative() {
		errs = append(errs, fmt.Errorf("%w: max leverage is negative", ErrInvalidConfig))
	}
	if c.KeeperFee.IsNegative() {
		errs = append(errs, fmt.Errorf("%w: keeper fee is negative", ErrInvalidConfig))
	}
	if c.Precision < 0 || c.Precision > 36 {
		errs = append(errs, fmt.Errorf("%w: precision %d out of range", ErrInvalidConfig, c.Precision))
	}
	return errors.Join(errs...)
}
