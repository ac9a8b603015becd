// Package amount converts between human decimal strings and integer base units.
package amount

import (
	"fmt"
	"math/big"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// MaxDecimals is the largest precision a human amount can be expressed in.
const MaxDecimals = sdkmath.LegacyPrecision

// Common precisions.
const (
	EtherDecimals = 18
	USDCDecimals  = 6
)

// ParseUnits converts a human amount such as "0.002" into base units at the
// given precision. Inputs that do not land on a whole base unit are rejected.
func ParseUnits(human string, decimals int) (*big.Int, error) {
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("unsupported precision %d", decimals)
	}
	human = strings.TrimSpace(strings.ReplaceAll(human, "_", ""))
	if human == "" {
		return nil, fmt.Errorf("empty amount")
	}

	dec, err := sdkmath.LegacyNewDecFromStr(human)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", human, err)
	}
	if dec.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", human)
	}

	scaled := dec.MulInt(sdkmath.NewIntWithDecimal(1, decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimals", human, decimals)
	}
	return scaled.TruncateInt().BigInt(), nil
}

// ParseEther converts an ETH denominated string to wei.
func ParseEther(human string) (*big.Int, error) {
	return ParseUnits(human, EtherDecimals)
}

// MustTokens returns whole*10^decimals. It is used for constants.
func MustTokens(whole int64, decimals int) *big.Int {
	return sdkmath.NewIntWithDecimal(whole, decimals).BigInt()
}

// FormatUnits renders base units as a human decimal with trailing zeros trimmed.
func FormatUnits(base *big.Int, decimals int) string {
	if base == nil {
		return "0"
	}
	if decimals <= 0 || decimals > MaxDecimals {
		return base.String()
	}
	s := sdkmath.LegacyNewDecFromBigIntWithPrec(base, int64(decimals)).String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s
}

// FormatEther renders wei as ETH.
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, EtherDecimals)
}
