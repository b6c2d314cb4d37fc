// Package fixedpoint implements the checked/saturating scaled-integer
// arithmetic shared by the off-chain monitor and the on-chain settlement
// engine. All monetary quantities are unsigned 64-bit integers scaled by
// Scale; basis points use BPS as their denominator.
package fixedpoint

import (
	"errors"
	"math"
	"math/big"
)

// Scale is the fixed-point denominator applied to prices, sizes, collateral
// and entry prices.
const Scale = 1_000_000

// BPS is the basis-point denominator used for margin ratios and fees.
const BPS = 10_000

// ErrMathOverflow is returned whenever a checked operation would exceed the
// width of its declared result type.
var ErrMathOverflow = errors.New("fixedpoint: math overflow")

var maxUint64Big = new(big.Int).SetUint64(math.MaxUint64)

// clampMulDiv computes a*b/c using big.Int and verifies the result fits in
// a uint64, returning ErrMathOverflow otherwise. c must be positive.
func clampMulDiv(a, b uint64, c int64) (uint64, error) {
	product := new(big.Int).Mul(new(big.Int).SetUint64(a), new(big.Int).SetUint64(b))
	product.Quo(product, big.NewInt(c))
	if product.Cmp(maxUint64Big) > 0 {
		return 0, ErrMathOverflow
	}
	return product.Uint64(), nil
}

// PositionValue returns size*price/Scale as a big.Int so callers can detect
// notional values that exceed 64 bits (a legitimate outcome once size and
// price are both near their declared maxima). Overflow is impossible here
// because the product of two uint64 values always fits in a big.Int; the
// check belongs to callers that must narrow the result to a fixed width.
func PositionValue(size, price uint64) *big.Int {
	product := new(big.Int).Mul(new(big.Int).SetUint64(size), new(big.Int).SetUint64(price))
	return product.Quo(product, big.NewInt(Scale))
}

// RealizedPnL returns the signed PnL of closing `size` units of a position
// entered at `entry` and marked at `mark`. The result is returned as a
// big.Int to preserve sign and magnitude before any narrowing the caller
// chooses to perform; overflow against int64 is the caller's concern via
// NarrowInt64.
func RealizedPnL(size, entry, mark uint64, isLong bool) *big.Int {
	var diff *big.Int
	if isLong {
		diff = new(big.Int).Sub(new(big.Int).SetUint64(mark), new(big.Int).SetUint64(entry))
	} else {
		diff = new(big.Int).Sub(new(big.Int).SetUint64(entry), new(big.Int).SetUint64(mark))
	}
	pnl := diff.Mul(diff, new(big.Int).SetUint64(size))
	return pnl.Quo(pnl, big.NewInt(Scale))
}

// NarrowInt64 checks that v fits in an int64, returning ErrMathOverflow
// otherwise.
func NarrowInt64(v *big.Int) (int64, error) {
	if !v.IsInt64() {
		return 0, ErrMathOverflow
	}
	return v.Int64(), nil
}

// NarrowUint64 checks that v fits in a uint64 and is non-negative, returning
// ErrMathOverflow otherwise.
func NarrowUint64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || v.Cmp(maxUint64Big) > 0 {
		return 0, ErrMathOverflow
	}
	return v.Uint64(), nil
}

// ApplyPnL adds a signed PnL to a non-negative collateral balance and clamps
// the result at zero, matching the spec's "equity cannot go negative"
// semantics: apply_pnl(collateral, pnl) = max(0, collateral + pnl).
func ApplyPnL(collateral uint64, pnl *big.Int) (uint64, error) {
	sum := new(big.Int).Add(new(big.Int).SetUint64(collateral), pnl)
	if sum.Sign() <= 0 {
		return 0, nil
	}
	return NarrowUint64(sum)
}

// MarginRatioBps computes the margin ratio in basis points together with the
// notional position value. When the position has zero notional value the
// position is treated as infinitely safe (MaxUint64, 0) per the spec.
func MarginRatioBps(size, entry, collateral uint64, isLong bool, mark uint64) (ratioBps uint64, positionValue *big.Int, err error) {
	positionValue = PositionValue(size, mark)
	if positionValue.Sign() == 0 {
		return math.MaxUint64, positionValue, nil
	}
	pnl := RealizedPnL(size, entry, mark, isLong)
	equity := new(big.Int).Add(new(big.Int).SetUint64(collateral), pnl)
	if equity.Sign() <= 0 {
		return 0, positionValue, nil
	}
	numerator := new(big.Int).Mul(equity, big.NewInt(BPS))
	ratio := numerator.Quo(numerator, positionValue)
	ratioU64, err := NarrowUint64(ratio)
	if err != nil {
		return 0, positionValue, err
	}
	return ratioU64, positionValue, nil
}

// MaintenanceBps returns the maintenance margin threshold, in basis points,
// for the supplied leverage tier. Leverage outside the documented bands (or
// zero, an unspecified input upstream) falls back to the most conservative
// 250bps bucket.
func MaintenanceBps(leverage uint16) uint64 {
	switch {
	case leverage >= 1 && leverage <= 20:
		return 250
	case leverage >= 21 && leverage <= 50:
		return 100
	case leverage >= 51 && leverage <= 100:
		return 50
	case leverage >= 101 && leverage <= 500:
		return 25
	case leverage >= 501 && leverage <= 1000:
		return 10
	default:
		return 250
	}
}

// SaturatingSubUint64 returns a-b clamped at zero instead of wrapping or
// erroring, matching the spec's saturating_sub semantics for reward
// deductions and insurance-fund draws.
func SaturatingSubUint64(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// BpsOf computes value*bps/BPS with checked overflow, used for reward and
// fee calculations.
func BpsOf(value uint64, bps uint64) (uint64, error) {
	return clampMulDiv(value, bps, BPS)
}

// PositionValueChecked narrows PositionValue's big.Int result to a uint64,
// surfacing ErrMathOverflow for notional values beyond 64 bits.
func PositionValueChecked(size, price uint64) (uint64, error) {
	return NarrowUint64(PositionValue(size, price))
}
