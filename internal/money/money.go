// Package money represents ledger amounts as integer minor units.
//
// Providers report amounts as decimal strings ("1500.00") or floats; both
// are parsed here at the boundary. All ledger math happens on int64 cents
// so reconciliation never accumulates float error.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Amount is a monetary value in minor units (cents for the currencies in
// the catalog). Negative amounts are valid as intermediate values but the
// ledger entities reject them.
type Amount int64

var ErrMalformed = errors.New("malformed amount")

// Parse converts a decimal string like "1500", "99.6" or "1500.00" into
// minor units. More than two fractional digits is rejected rather than
// silently rounded.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformed
	}

	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrMalformed
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("%w: %q has more than two decimal places", ErrMalformed, s)
	}
	for len(frac) < 2 {
		frac += "0"
	}

	var units int64
	for _, c := range whole + frac {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q", ErrMalformed, s)
		}
		d := int64(c - '0')
		if units > (math.MaxInt64-d)/10 {
			return 0, fmt.Errorf("%w: %q overflows", ErrMalformed, s)
		}
		units = units*10 + d
	}
	if neg {
		units = -units
	}
	return Amount(units), nil
}

// FromFloat converts a float amount (as provider JSON decodes numbers) to
// minor units, rounding to the nearest cent.
func FromFloat(f float64) Amount {
	return Amount(math.Round(f * 100))
}

// Float returns the amount as a float in major units, for provider request
// bodies that want decimal numbers.
func (a Amount) Float() float64 { return float64(a) / 100 }

// String formats the amount with two decimal places ("1500.00").
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// WithinTolerance reports whether got is an acceptable settlement for want
// given a tolerance in basis points of want. Zero tolerance requires an
// exact match. Overpayment is always accepted.
func WithinTolerance(want, got Amount, toleranceBps int) bool {
	if got >= want {
		return true
	}
	if toleranceBps <= 0 {
		return got == want
	}
	// floor(want * bps / 10000) is the largest shortfall we accept
	slack := int64(want) * int64(toleranceBps) / 10000
	return int64(want)-int64(got) <= slack
}
