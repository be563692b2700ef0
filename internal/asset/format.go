package asset

import (
	"math/big"
	"strings"
)

// FormatAmount renders base units with the token's decimals, trimming
// trailing zeros: 1500000000 with 9 decimals is "1.5".
func FormatAmount(value uint64, decimals uint8) string {
	v := new(big.Int).SetUint64(value)
	if decimals == 0 {
		return v.String()
	}
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	text := new(big.Rat).SetFrac(v, denom).FloatString(int(decimals))
	text = strings.TrimRight(text, "0")
	return strings.TrimSuffix(text, ".")
}

// ParseAmount converts a decimal string into base units. It rejects more
// fractional digits than decimals allows and values above uint64.
func ParseAmount(text string, decimals uint8) (uint64, bool) {
	text = strings.TrimSpace(text)
	if text == "" || strings.HasPrefix(text, "-") || strings.HasPrefix(text, "+") {
		return 0, false
	}
	whole, frac, _ := strings.Cut(text, ".")
	if len(frac) > int(decimals) {
		return 0, false
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok || !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}
