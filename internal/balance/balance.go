// Package balance implements an exact decimal amount tagged with a unit,
// mirroring the original system's Decimal-backed Balance type.
//
// Arithmetic between differently-unitted balances is a programming error and
// is reported through a typed error rather than a panic, per the "result sum
// type" design note: callers get back one of ErrUnitMismatch, ErrParse, or a
// nil error, never an exception-style abort.
package balance

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// wei is the normalization divisor applied when a unit string is prefixed
// with "wei ": on-chain integer wei amounts are expressed in the underlying
// token's own decimals (18), matching the original's Balance construction
// rule.
var weiDivisor = decimal.New(1, 18)

// Balance is an unsigned decimal amount tagged with a unit (e.g. "wxHOPR",
// "xDai"). Arithmetic is only defined between same-unit balances.
type Balance struct {
	amount decimal.Decimal
	unit   string
}

// Zero returns the additive identity for the given unit.
func Zero(unit string) Balance {
	return Balance{amount: decimal.Zero, unit: unit}
}

// New constructs a Balance directly from a decimal amount and a unit,
// without wei-normalization. Use Parse when reading an "N wei UNIT" or
// "N UNIT" string as received from an external API.
func New(amount decimal.Decimal, unit string) Balance {
	return Balance{amount: amount, unit: unit}
}

// Parse reads a Balance from its string form: "<amount> <unit>", where unit
// may itself begin with "wei " (e.g. "1500000000000000000 wei wxHOPR"), in
// which case the amount is divided by 10^18 and the "wei " prefix is
// dropped, so that the stored form is always in the token's display unit.
func Parse(s string) (Balance, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) < 2 {
		return Balance{}, fmt.Errorf("%w: %q", ErrParse, s)
	}
	amountStr := fields[0]
	unit := strings.Join(fields[1:], " ")

	amt, err := decimal.NewFromString(amountStr)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: %q: %v", ErrParse, s, err)
	}

	if strings.HasPrefix(unit, "wei ") {
		unit = strings.TrimPrefix(unit, "wei ")
		amt = amt.Div(weiDivisor)
	}

	return Balance{amount: amt, unit: unit}, nil
}

// Amount returns the decimal amount in the Balance's own unit.
func (b Balance) Amount() decimal.Decimal { return b.amount }

// Unit returns the Balance's unit tag.
func (b Balance) Unit() string { return b.unit }

// AsString renders the Balance in its round-trippable "<amount> <unit>"
// form.
func (b Balance) AsString() string {
	return fmt.Sprintf("%s %s", b.amount.String(), b.unit)
}

func (b Balance) String() string { return b.AsString() }

// IsZero reports whether the amount is zero, regardless of unit.
func (b Balance) IsZero() bool { return b.amount.IsZero() }

// Cmp compares two same-unit balances; the second return value is
// ErrUnitMismatch if the units differ.
func (b Balance) Cmp(other Balance) (int, error) {
	if b.unit != other.unit {
		return 0, fmt.Errorf("%w: %q vs %q", ErrUnitMismatch, b.unit, other.unit)
	}
	return b.amount.Cmp(other.amount), nil
}

// Add returns b+other. Units must match.
func (b Balance) Add(other Balance) (Balance, error) {
	if b.unit != other.unit {
		return Balance{}, fmt.Errorf("%w: %q vs %q", ErrUnitMismatch, b.unit, other.unit)
	}
	return Balance{amount: b.amount.Add(other.amount), unit: b.unit}, nil
}

// Sub returns b-other. Units must match.
func (b Balance) Sub(other Balance) (Balance, error) {
	if b.unit != other.unit {
		return Balance{}, fmt.Errorf("%w: %q vs %q", ErrUnitMismatch, b.unit, other.unit)
	}
	return Balance{amount: b.amount.Sub(other.amount), unit: b.unit}, nil
}

// MulFloat scales the balance by a plain multiplier (e.g. a proportion or an
// APR percentage), preserving the unit.
func (b Balance) MulFloat(f float64) Balance {
	return Balance{amount: b.amount.Mul(decimal.NewFromFloat(f)), unit: b.unit}
}

// DivFloat divides the balance by a plain divisor, preserving the unit.
func (b Balance) DivFloat(f float64) (Balance, error) {
	if f == 0 {
		return Balance{}, fmt.Errorf("%w: division by zero", ErrParse)
	}
	return Balance{amount: b.amount.Div(decimal.NewFromFloat(f)), unit: b.unit}, nil
}

// Float64 returns the amount as a float64, for feeding into the economic
// model's floating-point formulas.
func (b Balance) Float64() float64 {
	f, _ := b.amount.Float64()
	return f
}
