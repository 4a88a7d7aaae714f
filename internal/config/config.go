// Package config loads service configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/market"
)

// Config is the root configuration for the settlement service.
type Config struct {
	Port        string        // PORT, default "8080"
	DatabaseURL string        // DATABASE_URL; empty selects the memory store
	RedisURL    string        // REDIS_URL; only used with a database
	CacheTTL    time.Duration // CACHE_TTL, default 30s

	MarketTicker      string          // MARKET_TICKER, default ETH-USDC-PERP
	SettlementToken   string          // SETTLEMENT_TOKEN, default USDC
	MinTakerMargin    decimal.Decimal // MIN_TAKER_MARGIN, default 0
	MakerMarginPerQty decimal.Decimal // MAKER_MARGIN_PER_QTY, default 1
	MaxLeverage       decimal.Decimal // MAX_LEVERAGE, default 0 (no cap)
	KeeperFee         decimal.Decimal // KEEPER_FEE, default 0
	AmountPrecision   int             // AMOUNT_PRECISION, default 0
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dec := func(key, def string) decimal.Decimal {
		v, err := getDecimal(key, def)
		collect(err)
		return v
	}
	ttl, err := getDuration("CACHE_TTL", 30*time.Second)
	collect(err)
	precision, err := getInt("AMOUNT_PRECISION", 0)
	collect(err)

	c := &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		CacheTTL:          ttl,
		MarketTicker:      getEnv("MARKET_TICKER", "ETH-USDC-PERP"),
		SettlementToken:   getEnv("SETTLEMENT_TOKEN", "USDC"),
		MinTakerMargin:    dec("MIN_TAKER_MARGIN", "0"),
		MakerMarginPerQty: dec("MAKER_MARGIN_PER_QTY", "1"),
		MaxLeverage:       dec("MAX_LEVERAGE", "0"),
		KeeperFee:         dec("KEEPER_FEE", "0"),
		AmountPrecision:   precision,
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that all values are present and consistent.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must be set"))
	}
	if c.RedisURL != "" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("REDIS_URL requires DATABASE_URL"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive, got %s", c.CacheTTL))
	}
	if _, err := c.Market(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Market builds the validated market configuration.
func (c *Config) Market() (*market.Config, error) {
	m, err := market.NewConfig(c.MarketTicker)
	if err != nil {
		return nil, err
	}
	m.SettlementToken = c.SettlementToken
	m.MinTakerMargin = c.MinTakerMargin
	m.MakerMarginPerQty = c.MakerMarginPerQty
	m.MaxLeverage = c.MaxLeverage
	m.KeeperFee = c.KeeperFee
	m.Precision = int32(c.AmountPrecision)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getDecimal(key, defaultVal string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(getEnv(key, defaultVal))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
