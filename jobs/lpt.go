package jobs

import (
	"math"
	"strconv"
	"strings"
)

// Predictions at or below this are treated as zero.
const lptFloor = 1e-13

// DefaultLPT is used when no prediction is above the floor.
const DefaultLPT = "1"

// LowestPresenceThreshold picks the smallest prediction strictly above the
// floor. The token is returned verbatim unless it carries more than three
// decimals, in which case one unit of its last decimal is subtracted so that
// the point itself stays above the threshold, and the value is formatted
// with six significant digits.
func LowestPresenceThreshold(values string) string {
	best := ""
	bestValue := math.Inf(1)
	for _, token := range strings.Fields(values) {
		v, err := strconv.ParseFloat(token, 64)
		if err != nil || v <= lptFloor {
			continue
		}
		if v < bestValue {
			best, bestValue = token, v
		}
	}
	if best == "" {
		return DefaultLPT
	}

	decimals := countDecimals(best)
	if decimals <= 3 {
		return best
	}
	adjusted := bestValue - math.Pow(10, -float64(decimals))
	return strconv.FormatFloat(adjusted, 'g', 6, 64)
}

// countDecimals counts the digits after the decimal point, ignoring any exponent.
func countDecimals(token string) int {
	dot := strings.IndexByte(token, '.')
	if dot < 0 {
		return 0
	}
	frac := token[dot+1:]
	if e := strings.IndexAny(frac, "eE"); e >= 0 {
		frac = frac[:e]
	}
	return len(frac)
}
