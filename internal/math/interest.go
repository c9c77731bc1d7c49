// internal/math/interest.go
package math

import "math/big"

// CompoundIndex advances a cumulative e18 index by a per-second e24
// rate over elapsed seconds:
//
//	index' = index * (E24 + rate*elapsed) / E24
//
// The rounding mode lets the caller bias in the protocol's favor
// (deposit index down, debt index up).
func CompoundIndex(index, ratePerSec *big.Int, elapsed int64, mode RoundingMode) *big.Int {
	if elapsed <= 0 || IsZero(ratePerSec) {
		return Clone(index)
	}

	growth := getInt()
	growth.Mul(ratePerSec, big.NewInt(elapsed))
	growth.Add(growth, E24)

	out := MulDiv(index, growth, E24, mode)
	putInt(growth)
	return out
}

// ByIndexRatio rescales amount by newIndex/oldIndex. Used to carry a
// balance from the index at its last update to the current index.
func ByIndexRatio(amount, oldIndex, newIndex *big.Int, mode RoundingMode) *big.Int {
	if IsZero(amount) || oldIndex.Cmp(newIndex) == 0 {
		return Clone(amount)
	}
	return MulDiv(amount, newIndex, oldIndex, mode)
}

// SimpleInterest computes principal * rate * elapsed / E24 rounded up.
// Stable debt accrues simple interest at the position's locked rate.
func SimpleInterest(principal, ratePerSec *big.Int, elapsed int64) *big.Int {
	if elapsed <= 0 || IsZero(principal) || IsZero(ratePerSec) {
		return new(big.Int)
	}
	factor := getInt()
	factor.Mul(ratePerSec, big.NewInt(elapsed))
	out := MulDiv(principal, factor, E24, RoundUp)
	putInt(factor)
	return out
}

// BlendStableRate computes the principal-weighted average of an existing
// stable position and a new tranche, rounded up and biased by one unit:
//
//	(oldDebt*oldRate + addAmount*addRate) / (oldDebt + addAmount) + 1
//
// The +1 keeps repeated small borrows from eroding the locked rate.
func BlendStableRate(oldDebt, oldRate, addAmount, addRate *big.Int) *big.Int {
	total := getInt()
	total.Add(oldDebt, addAmount)
	if total.Sign() == 0 {
		putInt(total)
		return new(big.Int)
	}

	weighted := getInt()
	weighted.Mul(oldDebt, oldRate)
	tranche := getInt()
	tranche.Mul(addAmount, addRate)
	weighted.Add(weighted, tranche)

	out := new(big.Int).Quo(weighted, total)
	out.Add(out, One)

	putInt(total)
	putInt(weighted)
	putInt(tranche)
	return out
}

// WeightedStableRate is the unbiased counterpart of BlendStableRate,
// used for the reserve-wide average: plain floor division, no +1. The
// bias protects a single user's locked rate; applying it to the
// aggregate would overstate pool-wide stable interest.
func WeightedStableRate(oldDebt, oldRate, addAmount, addRate *big.Int) *big.Int {
	total := getInt()
	total.Add(oldDebt, addAmount)
	if total.Sign() == 0 {
		putInt(total)
		return new(big.Int)
	}

	weighted := getInt()
	weighted.Mul(oldDebt, oldRate)
	tranche := getInt()
	tranche.Mul(addAmount, addRate)
	weighted.Add(weighted, tranche)

	out := new(big.Int).Quo(weighted, total)

	putInt(total)
	putInt(weighted)
	putInt(tranche)
	return out
}

// UnblendStableRate removes a tranche from the aggregate average:
//
//	(sum*avg - amount*rate) / (sum - amount)
//
// Returns zero when the removal empties the pool, and clamps at zero
// if rounding drift between the aggregate and the removed tranche's
// locked rate would drive the average negative.
func UnblendStableRate(sum, avg, amount, rate *big.Int) *big.Int {
	remaining := getInt()
	remaining.Sub(sum, amount)
	if remaining.Sign() <= 0 {
		putInt(remaining)
		return new(big.Int)
	}

	weighted := getInt()
	weighted.Mul(sum, avg)
	tranche := getInt()
	tranche.Mul(amount, rate)
	weighted.Sub(weighted, tranche)

	out := new(big.Int)
	if weighted.Sign() > 0 {
		out.Quo(weighted, remaining)
	}

	putInt(remaining)
	putInt(weighted)
	putInt(tranche)
	return out
}

// InterpolateRate linearly interpolates an e24 rate between two curve
// points given an e6 utilization in [u0, u1].
func InterpolateRate(u, u0, u1 int64, r0, r1 *big.Int) *big.Int {
	if u1 <= u0 || u <= u0 {
		return Clone(r0)
	}
	if u >= u1 {
		return Clone(r1)
	}
	span := getInt()
	span.Sub(r1, r0)
	out := MulDiv(span, big.NewInt(u-u0), big.NewInt(u1-u0), RoundDown)
	out.Add(out, r0)
	putInt(span)
	return out
}
