package types

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatUnits renders a raw fixed-point amount as a decimal string using the
// given number of decimals, trimming trailing zeros ("1.5", not "1.500000").
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	if decimals == 0 {
		return raw.String()
	}

	negative := raw.Sign() < 0
	abs := new(big.Int).Abs(raw)

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	whole := new(big.Int)
	frac := new(big.Int)
	whole.QuoRem(abs, divisor, frac)

	out := whole.String()
	if frac.Sign() > 0 {
		fracStr := fmt.Sprintf("%0*s", decimals, frac.String())
		fracStr = strings.TrimRight(fracStr, "0")
		if fracStr != "" {
			out += "." + fracStr
		}
	}
	if negative {
		out = "-" + out
	}
	return out
}

// ParseUnits converts a decimal string into a raw fixed-point amount. Digits
// beyond the asset's precision are truncated.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("empty amount")
	}

	negative := strings.HasPrefix(value, "-")
	value = strings.TrimPrefix(value, "-")

	parts := strings.SplitN(value, ".", 2)
	wholePart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if wholePart == "" {
		wholePart = "0"
	}
	if len(fracPart) > int(decimals) {
		fracPart = fracPart[:decimals]
	}
	fracPart += strings.Repeat("0", int(decimals)-len(fracPart))

	combined := wholePart + fracPart
	raw, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if negative {
		raw.Neg(raw)
	}
	return raw, nil
}

// ToFloat converts a raw fixed-point amount to a float64 using the given
// decimals. Precision loss is acceptable for display and fiat math only.
func ToFloat(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	f := new(big.Float).SetInt(raw)
	divisor := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(f, divisor).Float64()
	return out
}
