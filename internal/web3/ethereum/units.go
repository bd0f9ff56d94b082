package ethereum

import (
	"fmt"
	"math/big"
	"strings"
)

// NativeDecimals is the number of decimals of the chain's native currency.
const NativeDecimals = 18

func splitDecimal(amount string) (string, string, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return "", "", fmt.Errorf("amount is required")
	}
	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" && frac == "" {
		return "", "", fmt.Errorf("amount %q is not a decimal number", amount)
	}
	for _, part := range []string{whole, frac} {
		for _, r := range part {
			if r < '0' || r > '9' {
				return "", "", fmt.Errorf("amount %q is not a decimal number", amount)
			}
		}
	}
	if strings.Count(amount, ".") > 1 {
		return "", "", fmt.Errorf("amount %q is not a decimal number", amount)
	}
	return whole, frac, nil
}

// checkPositive reports whether amount is a well formed decimal above zero.
func checkPositive(amount string) error {
	whole, frac, err := splitDecimal(amount)
	if err != nil {
		return err
	}
	if strings.Trim(whole+frac, "0") == "" {
		return fmt.Errorf("amount must be greater than 0")
	}
	return nil
}

// ParseUnits converts a human readable decimal into base units.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	whole, frac, err := splitDecimal(amount)
	if err != nil {
		return nil, err
	}
	if len(frac) > int(decimals) {
		trimmed := strings.TrimRight(frac, "0")
		if len(trimmed) > int(decimals) {
			return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
		}
		frac = trimmed
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal number", amount)
	}
	return value, nil
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	negative := value.Sign() < 0
	digits := new(big.Int).Abs(value).String()
	if decimals > 0 {
		if len(digits) <= int(decimals) {
			digits = strings.Repeat("0", int(decimals)-len(digits)+1) + digits
		}
		point := len(digits) - int(decimals)
		frac := strings.TrimRight(digits[point:], "0")
		digits = digits[:point]
		if frac != "" {
			digits += "." + frac
		}
	}
	if negative {
		return "-" + digits
	}
	return digits
}
