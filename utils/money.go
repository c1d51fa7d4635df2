// utils/money.go
package utils

import "math"

// Round2 rounds a monetary amount to 2 decimals, half away from zero.
// Every payout site uses this — one rounding policy everywhere.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
