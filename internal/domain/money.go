package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var hundred = decimal.NewFromInt(100)

// NormalizeCurrency upper-cases the code and checks it against ISO 4217.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", fmt.Errorf("%w: currency is required", ErrValidation)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: unsupported currency %q", ErrValidation, code)
	}
	return unit.String(), nil
}

// PercentOf returns percent% of amount in minor units, rounded half away from zero.
// 10% of 5099 is 510.
func PercentOf(amount int64, percent decimal.Decimal) int64 {
	if amount == 0 || percent.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Round(0).IntPart()
}

func multiplyAmount(unit int64, qty int) (int64, error) {
	if qty == 0 || unit == 0 {
		return 0, nil
	}
	if unit > math.MaxInt64/int64(qty) {
		return 0, fmt.Errorf("%w: line total overflows", ErrValidation)
	}
	return unit * int64(qty), nil
}

func addAmounts(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
