package fixed

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestQuo_TruncatesTowardZero(t *testing.T) {
	tests := []struct {
		a, b   string
		places int32
		want   string
	}{
		{"7", "2", 0, "3"},
		{"-7", "2", 0, "-3"},
		{"7", "-2", 0, "-3"},
		{"-7", "-2", 0, "3"},
		{"1", "3", 4, "0.3333"},
		{"-1", "3", 4, "-0.3333"},
		{"2", "3", 2, "0.66"},
		{"10", "5", 0, "2"},
	}
	for _, tt := range tests {
		got, err := Quo(d(tt.a), d(tt.b), tt.places)
		if err != nil {
			t.Fatalf("Quo(%s, %s): %v", tt.a, tt.b, err)
		}
		if !got.Equal(d(tt.want)) {
			t.Errorf("Quo(%s, %s, %d) = %s, want %s", tt.a, tt.b, tt.places, got, tt.want)
		}
	}
}

func TestQuo_DivisionByZero(t *testing.T) {
	if _, err := Quo(d("1"), decimal.Zero, 0); err != ErrDivisionByZero {
		t.Errorf("expected ErrDivisionByZero, got %v", err)
	}
}

func TestMulDiv_SymmetricUnderNegation(t *testing.T) {
	pos, _ := MulDiv(d("50000"), d("100"), d("1100"), 0)
	neg, _ := MulDiv(d("-50000"), d("100"), d("1100"), 0)
	if !pos.Neg().Equal(neg) {
		t.Errorf("expected %s == -%s", neg, pos)
	}
}
