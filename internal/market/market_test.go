package market

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseTicker_Valid(t *testing.T) {
	tk, err := ParseTicker("ETH-USDC-PERP")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tk.Base != "ETH" || tk.Quote != "USDC" || tk.Symbol != "ETH-USDC-PERP" {
		t.Errorf("unexpected ticker %+v", tk)
	}
}

func TestParseTicker_Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"ETH-USDC",
		"eth-usdc-PERP",
		"ETH-USDC-SPOT",
		"ETH-ETH-PERP",
		"E-USDC-PERP",
	} {
		if _, err := ParseTicker(s); !errors.Is(err, ErrInvalidTicker) {
			t.Errorf("%q: expected ErrInvalidTicker, got %v", s, err)
		}
	}
}

func TestNewConfig_DefaultsSettlementTokenToQuote(t *testing.T) {
	cfg, err := NewConfig("BTC-USDT-PERP")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SettlementToken != "USDT" {
		t.Errorf("expected USDT, got %s", cfg.SettlementToken)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg, _ := NewConfig("ETH-USDC-PERP")
	cfg.SettlementToken = "DAI"
	cfg.MakerMarginPerQty = decimal.Zero
	cfg.KeeperFee = decimal.NewFromInt(-1)

	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
