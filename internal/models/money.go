package models

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units. All supported currencies use
// two decimal places.
type Cents int64

// MaxChargeCents is the largest single charge the payment provider accepts
// (999,999.99 in major units).
const MaxChargeCents Cents = 99_999_999

var (
	minCents = decimal.NewFromInt(math.MinInt64)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// CentsFromDecimal converts a major-unit amount such as 99.99 to Cents.
// Amounts with more than two decimal places are rejected rather than rounded.
func CentsFromDecimal(d decimal.Decimal) (Cents, error) {
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s is not representable in cents", d.String())
	}
	if minor.GreaterThan(maxCents) || minor.LessThan(minCents) {
		return 0, fmt.Errorf("amount %s is out of range", d.String())
	}
	return Cents(minor.IntPart()), nil
}

// Decimal returns the major-unit value.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// MarshalJSON renders the amount as a JSON number in major units.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(c.Decimal().StringFixed(2)), nil
}

// UnmarshalJSON accepts a JSON number (or numeric string) in major units.
func (c *Cents) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("invalid amount: %w", err)
	}
	v, err := CentsFromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}
