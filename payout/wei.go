package payout

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// TokenDecimals is the fixed-point precision of every token this system pays
// out with. The treasury tokens are all standard 18-decimal ERC-20s.
const TokenDecimals = 18

var weiPerToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)

// ToWei converts a token amount into its full-precision fixed-point
// representation. The conversion goes through the amount's shortest decimal
// string so no precision beyond the float's own is invented or dropped;
// truncation is only ever acceptable for preflight comparisons, never for a
// transferred value.
func ToWei(amount float64) (*big.Int, error) {
	if amount < 0 {
		return nil, fmt.Errorf("payout: negative amount %v", amount)
	}
	text := strconv.FormatFloat(amount, 'f', -1, 64)
	intPart, fracPart, _ := strings.Cut(text, ".")
	if len(fracPart) > TokenDecimals {
		fracPart = fracPart[:TokenDecimals]
	}
	fracPart += strings.Repeat("0", TokenDecimals-len(fracPart))
	wei, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok {
		return nil, fmt.Errorf("payout: unparseable amount %q", text)
	}
	return wei, nil
}

// WholeTokens truncates a fixed-point balance to whole-token units. Payout
// amounts in this domain are whole numbers, so the fractional remainder never
// decides a preflight.
func WholeTokens(wei *big.Int) *big.Int {
	if wei == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Quo(wei, weiPerToken)
}
