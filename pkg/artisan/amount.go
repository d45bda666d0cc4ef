package artisan

import (
	"fmt"
	"math/big"
	"strings"
)

// Decimals is the number of decimal places between the ledger base unit and
// the display unit.
const Decimals = 18

var unit = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)

// FormatAmount converts a base-unit amount to its display decimal form. The
// result always carries at least one fractional digit ("1.0", "0.25").
func FormatAmount(base *big.Int) string {
	if base == nil {
		return "0.0"
	}
	neg := base.Sign() < 0
	abs := new(big.Int).Abs(base)
	whole, frac := new(big.Int).QuoRem(abs, unit, new(big.Int))

	fracStr := frac.String()
	fracStr = strings.TrimRight(strings.Repeat("0", Decimals-len(fracStr))+fracStr, "0")
	if fracStr == "" {
		fracStr = "0"
	}
	out := whole.String() + "." + fracStr
	if neg {
		out = "-" + out
	}
	return out
}

// ParseAmount converts a display decimal string to base units. It rejects
// negative values and more than Decimals fractional digits.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidArgument)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: negative amount %q", ErrInvalidArgument, s)
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidArgument, s, Decimals)
	}
	digits := whole + frac + strings.Repeat("0", Decimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidArgument, s)
		}
	}
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed amount %q", ErrInvalidArgument, s)
	}
	return v, nil
}
