// Package stats implements the war-statistics arithmetic: team
// differentials and the fractional war_count/average_score aggregates
// that must reconcile exactly with the underlying war rows. It is pure and
// has no dependency on pkg/models or pkg/store so it stays trivially unit
// testable and reusable from the lastxwars recompute-without-persisting
// path in the review API.
package stats

import (
	"fmt"
	"strconv"
)

// Decimal2 is a fixed-point decimal with exactly two fractional digits,
// stored as hundredths in an int64. No arbitrary-precision decimal library
// is warranted since war_count never needs more than two fractional
// digits of precision, so a small fixed-point type covers the "to within
// 0.01" accuracy requirement without adding a dependency nothing else
// uses.
type Decimal2 int64

// NewDecimal2FromFraction returns round(100*num/den) as a Decimal2, used to
// credit a player with races_played/race_count of a war.
func NewDecimal2FromFraction(num, den int) Decimal2 {
	if den == 0 {
		return 0
	}
	// Round to nearest hundredth rather than truncating.
	scaled := num * 200
	half := den
	q := (scaled + half) / (2 * den)
	return Decimal2(q)
}

func (d Decimal2) Add(o Decimal2) Decimal2 { return d + o }
func (d Decimal2) Sub(o Decimal2) Decimal2 { return d - o }

// Float64 returns the decimal's value as a float64 (hundredths / 100).
func (d Decimal2) Float64() float64 {
	return float64(d) / 100
}

// String renders the value with exactly two fractional digits, e.g. "4.00".
func (d Decimal2) String() string {
	neg := d < 0
	v := int64(d)
	if neg {
		v = -v
	}
	whole := v / 100
	frac := v % 100
	s := fmt.Sprintf("%d.%02d", whole, frac)
	if neg {
		s = "-" + s
	}
	return s
}

// MarshalJSON renders the decimal as a JSON number with two fractional
// digits, matching the review API's documented response shape.
func (d Decimal2) MarshalJSON() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts either a JSON number or string form.
func (d *Decimal2) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse decimal2 %q: %w", s, err)
	}
	*d = Decimal2(f*100 + 0.5)
	return nil
}
