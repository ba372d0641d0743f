package decimal

import (
	"github.com/shopspring/decimal"
)

// Decimal is the fixed-point type every amount and rate uses
type Decimal = decimal.Decimal

// Zero is decimal zero
var Zero = decimal.Zero

var hundred = decimal.NewFromInt(100)

// FromInt creates decimal from int
func FromInt(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// FromString parses decimal from string
func FromString(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// MustFromString parses decimal from string, panics on error
func MustFromString(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Ptr returns a pointer to a copy of d.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// PtrString parses s into a pointer, panics on error. Meant for fixtures and static tables.
func PtrString(s string) *decimal.Decimal {
	return Ptr(MustFromString(s))
}

// Round rounds half-up to n places.
// decimal.Round rounds half away from zero, which is half-up for the non-negative
// amounts the tax rules produce.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	return d.Round(places)
}

// Round2 rounds half-up to 2 places (currency)
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// MultiplyRate computes round2(base * ratePercent / 100)
func MultiplyRate(base, ratePercent decimal.Decimal) decimal.Decimal {
	return Round2(base.Mul(ratePercent).Div(hundred))
}

// MultiplyRatePtr is MultiplyRate over optional operands; nil in, nil out.
func MultiplyRatePtr(base, ratePercent *decimal.Decimal) *decimal.Decimal {
	if base == nil || ratePercent == nil {
		return nil
	}
	return Ptr(MultiplyRate(*base, *ratePercent))
}

// GrossUp computes base * (1 + percent/100) without rounding
func GrossUp(base, percent decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Add(percent.Div(hundred)))
}

// Sum sums a slice of decimals
func Sum(values []decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}

// SumPtr sums optional values, skipping nil
func SumPtr(values ...*decimal.Decimal) decimal.Decimal {
	result := Zero
	for _, v := range values {
		if v != nil {
			result = result.Add(*v)
		}
	}
	return result
}

// OrZero dereferences d, returning zero for nil
func OrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return Zero
	}
	return *d
}

// IsPositive returns true if decimal is greater than zero
func IsPositive(d decimal.Decimal) bool {
	return d.GreaterThan(Zero)
}

// IsNonNegative returns true if decimal is >= zero
func IsNonNegative(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(Zero)
}

// Format renders d with exactly places decimal digits, rounding half-up.
// The authority schema rejects values with the wrong precision.
func Format(d decimal.Decimal, places int32) string {
	return d.Round(places).StringFixed(places)
}

// Format2 renders a currency amount
func Format2(d decimal.Decimal) string {
	return Format(d, 2)
}
