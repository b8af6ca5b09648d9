// Package money implements minor-unit integer arithmetic for monetary
// amounts. No floating point value ever touches a stored balance; the only
// place decimal.Decimal appears is at the boundary where an external
// decimal string is parsed into minor units, or a minor-unit amount is
// formatted back out for a statement or report.
package money

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

var currencyCodeRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Currency is an ISO 4217 currency code.
type Currency struct {
	code string
}

// NewCurrency creates a Currency after validating the code is exactly 3 uppercase letters.
func NewCurrency(code string) (Currency, error) {
	if !currencyCodeRe.MatchString(code) {
		return Currency{}, fmt.Errorf("invalid currency code %q: must be exactly 3 uppercase letters", code)
	}
	return Currency{code: code}, nil
}

// MustCurrency creates a Currency and panics on error. Intended for package-level variable
// initialization only.
func MustCurrency(code string) Currency {
	c, err := NewCurrency(code)
	if err != nil {
		panic(err)
	}
	return c
}

// Code returns the ISO 4217 currency code.
func (c Currency) Code() string { return c.code }

// String returns the currency code.
func (c Currency) String() string { return c.code }

// Common currencies. The engine's posting pipeline supports USD only
// (spec §4.5 validator rule 4); EUR/GBP are kept for statement parsing of
// multi-currency nostro feeds in the reconciliation subsystem.
var (
	USD = MustCurrency("USD")
	EUR = MustCurrency("EUR")
	GBP = MustCurrency("GBP")
)

// Minor is an integer count of a currency's smallest unit (e.g. USD cents).
// Minor is the only representation of a monetary amount that may be stored;
// it is never derived from a float64.
type Minor int64

// RoundingMode selects how a fractional minor-unit value is rounded to an
// integer.
type RoundingMode int

const (
	RoundHalfAwayFromZero RoundingMode = iota
	RoundHalfEven
)

// ErrNegative is returned where an operation requires a non-negative amount.
var ErrNegative = fmt.Errorf("money: amount must not be negative")

// ParseDecimalMinor parses a decimal string amount (e.g. "1234.56") into
// minor units (123456) using the given rounding mode. This is the approved
// entry point for turning external decimal input (gateway payloads, bank
// statement fields) into a stored balance.
func ParseDecimalMinor(s string, mode RoundingMode) (Minor, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse decimal %q: %w", s, err)
	}
	return RoundMinor(d.Mul(decimal.NewFromInt(100)), mode), nil
}

// RoundMinor rounds a decimal value (already scaled to minor units) to the
// nearest integer using mode.
func RoundMinor(d decimal.Decimal, mode RoundingMode) Minor {
	switch mode {
	case RoundHalfEven:
		return Minor(d.RoundBank(0).IntPart())
	default:
		return Minor(roundHalfAwayFromZero(d))
	}
}

func roundHalfAwayFromZero(d decimal.Decimal) int64 {
	half := decimal.NewFromFloat(0.5)
	if d.IsNegative() {
		return d.Sub(half).Ceil().IntPart()
	}
	return d.Add(half).Floor().IntPart()
}

// DecimalString formats minor units back out as a fixed-point decimal
// string with two fractional digits, e.g. Minor(123456).DecimalString() ==
// "1234.56". For presentation/statement output only.
func (m Minor) DecimalString() string {
	return decimal.New(int64(m), 0).Div(decimal.NewFromInt(100)).StringFixed(2)
}

// Abs returns the absolute value of m.
func (m Minor) Abs() Minor {
	if m < 0 {
		return -m
	}
	return m
}

// Add returns m + other.
func (m Minor) Add(other Minor) Minor { return m + other }

// Sub returns m - other.
func (m Minor) Sub(other Minor) Minor { return m - other }

// Min returns the smaller of a and b.
func Min(a, b Minor) Minor {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Minor) Minor {
	if a > b {
		return a
	}
	return b
}

// MulDivRound computes round(value * numerator / denominator) using the
// given rounding mode. Used by per-diem, simple-interest, and fee-percent
// calculations where the ratio cannot be precomputed as a fixed decimal.
func MulDivRound(value Minor, numerator, denominator int64, mode RoundingMode) Minor {
	if denominator == 0 {
		return 0
	}
	d := decimal.New(int64(value), 0).
		Mul(decimal.New(numerator, 0)).
		Div(decimal.New(denominator, 0))
	return RoundMinor(d, mode)
}
