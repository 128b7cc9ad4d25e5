// Package money содержит денежную арифметику с фиксированной точностью.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidDiscount возвращается, если процент скидки вне диапазона [0, 100].
	ErrInvalidDiscount = errors.New("invalid discount percent")
	// ErrInvalidAmount возвращается для отрицательных, бесконечных или нечисловых сумм.
	ErrInvalidAmount = errors.New("invalid amount")
)

var hundred = decimal.NewFromInt(100)

// Round2 округляет сумму до двух знаков, половина округляется от нуля.
func Round2(x decimal.Decimal) decimal.Decimal {
	return x.Round(2)
}

// ValidatePercent проверяет, что процент лежит в диапазоне [0, 100].
func ValidatePercent(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s", ErrInvalidDiscount, percent.String())
	}
	return nil
}

// ClampPercent приводит процент к диапазону [0, 100].
func ClampPercent(percent decimal.Decimal) decimal.Decimal {
	if percent.IsNegative() {
		return decimal.Zero
	}
	if percent.GreaterThan(hundred) {
		return hundred
	}
	return percent
}

// ApplyDiscount возвращает amount * (1 - percent/100).
func ApplyDiscount(amount, percent decimal.Decimal) (decimal.Decimal, error) {
	if err := ValidatePercent(percent); err != nil {
		return decimal.Zero, err
	}
	// Деление на 100 сдвигом, чтобы результат оставался точным.
	return amount.Mul(hundred.Sub(percent)).Shift(-2), nil
}

// IsFinitePositive сообщает, что значение конечно и не отрицательно.
func IsFinitePositive(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0) && x >= 0
}

// FromFloat переводит значение из внешнего ввода в decimal.
func FromFloat(x float64) (decimal.Decimal, error) {
	if !IsFinitePositive(x) {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalidAmount, x)
	}
	return decimal.NewFromFloat(x), nil
}

// Parse разбирает сумму из поля формы. Допускается запятая как разделитель дробной части.
func Parse(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	if v == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v = strings.ReplaceAll(v, ",", ".")

	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return d, nil
}
