package domain

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents). Arithmetic on Money is exact; only
// percentage application rounds, always half-up to the cent.
type Money int64

const moneyScale = 2

var (
	// ErrInvalidMoney is returned when a value cannot be represented in cents.
	ErrInvalidMoney = errors.New("money: invalid amount")

	maxMoney = decimal.NewFromInt(math.MaxInt64).Shift(-moneyScale)
	minMoney = decimal.NewFromInt(math.MinInt64).Shift(-moneyScale)
)

// MoneyFromDecimal converts a major-unit decimal such as 12.34 into cents. Values with
// more than two fractional digits are rejected rather than silently rounded.
func MoneyFromDecimal(value decimal.Decimal) (Money, error) {
	if !value.Equal(value.Truncate(moneyScale)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidMoney, value.String(), moneyScale)
	}
	if value.GreaterThan(maxMoney) || value.LessThan(minMoney) {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidMoney, value.String())
	}
	return Money(value.Shift(moneyScale).IntPart()), nil
}

// ParseMoney parses a decimal string in major units.
func ParseMoney(value string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidMoney, value)
	}
	return MoneyFromDecimal(d)
}

// MustParseMoney is ParseMoney for constants and fixtures.
func MustParseMoney(value string) Money {
	m, err := ParseMoney(value)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -moneyScale)
}

// String renders the amount with exactly two decimal places.
func (m Money) String() string {
	return m.Decimal().StringFixed(moneyScale)
}

// Percent returns pct percent of m, rounded half-up to the nearest cent.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money(m.Decimal().Mul(pct).Shift(-2).Round(moneyScale).Shift(moneyScale).IntPart())
}

// MarshalJSON renders the amount as a bare JSON number with two decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts either a JSON number or a quoted decimal string.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidMoney, raw)
		}
		raw = unquoted
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
