// internal/state/rates.go
package state

import (
	"math/big"

	fp "LendLedger/internal/math"
)

// BorrowRateAt evaluates the reserve's rate curve at an e6
// utilization: zero below the first breakpoint, linear between
// neighbors, capped at the last point.
func BorrowRateAt(model *InterestRateModel, utilization int64) *big.Int {
	if model == nil || utilization <= 0 {
		return new(big.Int)
	}
	if utilization < UtilizationBreakpoints[0] {
		// Ramp from zero up to the first curve point.
		return fp.InterpolateRate(utilization, 0, UtilizationBreakpoints[0], fp.Zero, model.RatePoints[0])
	}
	for i := 1; i < len(UtilizationBreakpoints); i++ {
		if utilization <= UtilizationBreakpoints[i] {
			return fp.InterpolateRate(
				utilization,
				UtilizationBreakpoints[i-1], UtilizationBreakpoints[i],
				model.RatePoints[i-1], model.RatePoints[i],
			)
		}
	}
	return fp.Clone(model.RatePoints[6])
}

// RecalculateRates rederives the reserve's current rates from its
// totals. Called after every mutation and before index advancement.
//
// The deposit rate is the borrow-side interest flow scaled down to
// the supply base and by the suppliers' income share:
//
//	variable flow: variableRate * utilization
//	stable flow:   avgStableRate * sumStableDebt / totalSupplied
func RecalculateRates(r *ReserveData) {
	utilization := r.Utilization()
	r.CurrentVariableBorrowRate = BorrowRateAt(r.Parameters.RateModel, utilization)
	r.CurrentStableBorrowRate = stableRateFor(r, utilization)

	if fp.IsZero(r.TotalSupplied) {
		r.CurrentDepositRate = new(big.Int)
		return
	}

	variableFlow := fp.MulDiv(r.CurrentVariableBorrowRate, big.NewInt(utilization), fp.E6, fp.RoundDown)
	stableFlow := fp.MulDiv(r.AverageStableRate, r.SumStableDebt, r.TotalSupplied, fp.RoundDown)

	gross := new(big.Int).Add(variableFlow, stableFlow)
	r.CurrentDepositRate = fp.MulDiv(gross, big.NewInt(r.Parameters.IncomeForSuppliersShare), fp.E6, fp.RoundDown)
}

// stableRateFor is the rate locked by a stable borrow opened now: the
// curve rate carrying a fixed premium over the variable rate, so the
// pool is compensated for granting rate certainty.
func stableRateFor(r *ReserveData, utilization int64) *big.Int {
	base := BorrowRateAt(r.Parameters.RateModel, utilization)
	premium := fp.MulDiv(base, big.NewInt(stableRatePremiumE6), fp.E6, fp.RoundUp)
	return base.Add(base, premium)
}

// stableRatePremiumE6 is the e6 markup of the stable rate over the
// variable rate at the same utilization.
const stableRatePremiumE6 = 250_000
