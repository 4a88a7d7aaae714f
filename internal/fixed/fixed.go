// Package fixed provides truncating fixed-point arithmetic on top of
// shopspring/decimal. Every division in the settlement path goes through
// Quo so that two independent implementations produce identical amounts:
// results are truncated toward zero at a fixed number of decimal places,
// never rounded.
package fixed

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned when a divisor is zero.
var ErrDivisionByZero = errors.New("fixed: division by zero")

// BpsDenominator converts basis points to a fraction.
var BpsDenominator = decimal.NewFromInt(10_000)

// Quo returns a / b truncated toward zero at places decimal places.
func Quo(a, b decimal.Decimal, places int32) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.QuoRem(b, places)
	return q, nil
}

// MulDiv returns a * b / c truncated toward zero at places decimal places.
// The product is exact, so only the final division truncates.
func MulDiv(a, b, c decimal.Decimal, places int32) (decimal.Decimal, error) {
	return Quo(a.Mul(b), c, places)
}
