// Package stroops converts between human-scale decimal amounts and the
// network's fixed-point integer representation. One display unit equals
// 10^7 stroops; conversions floor toward zero and never round up.
package stroops

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

const (
	// DecimalPlaces is the number of fractional digits in the fixed-point
	// representation used by the network.
	DecimalPlaces = 7

	// PerUnit is the number of stroops in one display unit.
	PerUnit = 10_000_000
)

var (
	// ErrNegativeAmount is returned when a negative amount is supplied.
	// Transfers of negative quantities are not representable.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrInvalidAmount is returned for unparseable input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmountRange is returned when a value does not fit in int64 stroops.
	ErrAmountRange = errors.New("amount out of range")

	perUnitBig = big.NewInt(PerUnit)
)

// ToStroops parses a decimal string ("2.5", "0.0000001") into stroops.
// Fractional digits beyond the seventh are discarded (floor toward zero).
// Negative amounts are rejected.
func ToStroops(s string) (int64, error) {
	v, err := ToStroopsBig(s)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("%w: %s", ErrAmountRange, s)
	}
	return v.Int64(), nil
}

// ToStroopsFloat converts a float display amount into stroops. The float is
// first rendered to its shortest decimal form so that representable values
// like 2.5 convert exactly instead of drifting through binary rounding.
func ToStroopsFloat(f float64) (int64, error) {
	if f < 0 {
		return 0, ErrNegativeAmount
	}
	return ToStroops(strconv.FormatFloat(f, 'f', -1, 64))
}

// ToStroopsBig parses a decimal string into stroops without an int64 range
// limit, for i128-scale balances.
func ToStroopsBig(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, ErrNegativeAmount
	}
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	// Floor toward zero: keep at most DecimalPlaces fractional digits.
	if len(frac) > DecimalPlaces {
		frac = frac[:DecimalPlaces]
	}
	frac += strings.Repeat("0", DecimalPlaces-len(frac))

	wholeInt, ok := new(big.Int).SetString(whole, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	fracInt, ok := new(big.Int).SetString(frac, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	v := new(big.Int).Mul(wholeInt, perUnitBig)
	return v.Add(v, fracInt), nil
}

// FromStroops formats stroops as a decimal display string with trailing
// zeros trimmed ("25000000" -> "2.5").
func FromStroops(n int64) string {
	return FromStroopsBig(big.NewInt(n))
}

// FromStroopsBig formats big stroop values as a decimal display string.
func FromStroopsBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	neg := v.Sign() < 0
	abs := new(big.Int).Abs(v)

	whole, frac := new(big.Int).QuoRem(abs, perUnitBig, new(big.Int))
	out := whole.String()
	if frac.Sign() != 0 {
		digits := fmt.Sprintf("%0*d", DecimalPlaces, frac)
		digits = strings.TrimRight(digits, "0")
		out += "." + digits
	}
	if neg {
		out = "-" + out
	}
	return out
}

// FromStroopsFloat converts stroops to a float display amount. Only for
// rendering; large balances lose precision in float64.
func FromStroopsFloat(n int64) float64 {
	return float64(n) / PerUnit
}
