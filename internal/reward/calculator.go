// Package reward computes time-proportional staking rewards at a fixed
// annual rate.
//
// The computation is exact: amount*rate*elapsed is formed in 256-bit
// integers and divided once by 100*SecondsPerYear with half-up rounding.
// The result differs from the real-valued formula by at most half a unit
// and is identical on every platform.
package reward

import (
	"errors"

	"github.com/holiman/uint256"
)

// SecondsPerYear is a 365-day year. Leap years are deliberately ignored.
const SecondsPerYear = 365 * 24 * 60 * 60

// MaxRatePercent is the highest accepted annual rate.
const MaxRatePercent = 100

// ErrOverflow is returned when the reward does not fit in a uint64.
var ErrOverflow = errors.New("arithmetic overflow")

var (
	denominator     = uint256.NewInt(100 * SecondsPerYear)
	halfDenominator = uint256.NewInt(100 * SecondsPerYear / 2)
)

// Calculate returns the reward accrued by amount between lastUpdate and now
// (unix seconds) at ratePercent per year. A clock regression (now before
// lastUpdate) accrues nothing.
func Calculate(amount uint64, lastUpdate, now int64, ratePercent uint8) (uint64, error) {
	elapsed := Elapsed(lastUpdate, now)
	if elapsed == 0 || amount == 0 || ratePercent == 0 {
		return 0, nil
	}

	num := new(uint256.Int).Mul(uint256.NewInt(amount), uint256.NewInt(uint64(ratePercent)))
	num.Mul(num, uint256.NewInt(elapsed))
	num.Add(num, halfDenominator)
	num.Div(num, denominator)

	if !num.IsUint64() {
		return 0, ErrOverflow
	}
	return num.Uint64(), nil
}

// Elapsed returns the whole seconds between lastUpdate and now, or zero when
// the clock went backwards.
func Elapsed(lastUpdate, now int64) uint64 {
	if now <= lastUpdate {
		return 0
	}
	// Two's complement subtraction is exact because now > lastUpdate.
	return uint64(now) - uint64(lastUpdate)
}
