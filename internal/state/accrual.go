// internal/state/accrual.go
package state

import (
	"math/big"

	fp "LendLedger/internal/math"
)

// AccrueReserve advances the reserve's cumulative indexes to now and
// capitalizes the accrued interest into the totals. A call with
// now <= LastUpdateTimestamp is a no-op; the indexes never move
// backward.
//
// Rounding is protocol-favorable throughout: the deposit side rounds
// down, the debt side rounds up, and the margin between the two flows
// lands in ProtocolIncome.
func AccrueReserve(r *ReserveData, now int64) {
	elapsed := now - r.LastUpdateTimestamp
	if elapsed <= 0 {
		return
	}

	oldDepositIndex := r.CumulativeDepositIndex
	oldDebtIndex := r.CumulativeDebtIndex

	r.CumulativeDepositIndex = fp.CompoundIndex(oldDepositIndex, r.CurrentDepositRate, elapsed, fp.RoundDown)
	r.CumulativeDebtIndex = fp.CompoundIndex(oldDebtIndex, r.CurrentVariableBorrowRate, elapsed, fp.RoundUp)

	oldSupplied := r.TotalSupplied
	oldVariable := r.TotalVariableBorrowed
	oldStable := r.SumStableDebt

	r.TotalSupplied = fp.ByIndexRatio(oldSupplied, oldDepositIndex, r.CumulativeDepositIndex, fp.RoundDown)
	r.TotalVariableBorrowed = fp.ByIndexRatio(oldVariable, oldDebtIndex, r.CumulativeDebtIndex, fp.RoundUp)

	stableInterest := fp.SimpleInterest(oldStable, r.AverageStableRate, elapsed)
	r.SumStableDebt = new(big.Int).Add(oldStable, stableInterest)

	// Income = what borrowers now owe minus what suppliers were
	// credited. The rounding biases guarantee this is non-negative,
	// but clamp anyway so a degenerate rate setup cannot drain it.
	debtGrowth := new(big.Int).Sub(r.TotalVariableBorrowed, oldVariable)
	debtGrowth.Add(debtGrowth, stableInterest)
	supplyGrowth := new(big.Int).Sub(r.TotalSupplied, oldSupplied)
	r.ProtocolIncome.Add(r.ProtocolIncome, fp.SaturatingSub(debtGrowth, supplyGrowth))

	r.LastUpdateTimestamp = now
}

// InterestDeltas are the balance changes a reconciliation produced,
// reported so callers can notify the balance-representation tokens.
type InterestDeltas struct {
	Supplied         *big.Int
	VariableBorrowed *big.Int
	StableBorrowed   *big.Int
}

// ReconcileUser folds the interest accrued since the position's index
// snapshot into its balances and refreshes the snapshot. The reserve
// must already be accrued to the target time; reconciliation reads
// the post-accrual indexes.
//
// Stable debt grows by simple interest at the position's own locked
// rate over the position's own elapsed time, independent of the
// shared indexes.
func ReconcileUser(u *UserReserveData, r *ReserveData) InterestDeltas {
	deltas := InterestDeltas{
		Supplied:         new(big.Int),
		VariableBorrowed: new(big.Int),
		StableBorrowed:   new(big.Int),
	}

	if !fp.IsZero(u.Supplied) {
		grown := fp.ByIndexRatio(u.Supplied, u.DepositIndexSnapshot, r.CumulativeDepositIndex, fp.RoundDown)
		deltas.Supplied.Sub(grown, u.Supplied)
		u.Supplied = grown
	}
	if !fp.IsZero(u.VariableBorrowed) {
		grown := fp.ByIndexRatio(u.VariableBorrowed, u.DebtIndexSnapshot, r.CumulativeDebtIndex, fp.RoundUp)
		deltas.VariableBorrowed.Sub(grown, u.VariableBorrowed)
		u.VariableBorrowed = grown
	}
	if !fp.IsZero(u.StableBorrowed) {
		elapsed := r.LastUpdateTimestamp - u.UpdateTimestamp
		interest := fp.SimpleInterest(u.StableBorrowed, u.StableBorrowRate, elapsed)
		deltas.StableBorrowed.Set(interest)
		u.StableBorrowed = new(big.Int).Add(u.StableBorrowed, interest)
	}

	u.DepositIndexSnapshot = fp.Clone(r.CumulativeDepositIndex)
	u.DebtIndexSnapshot = fp.Clone(r.CumulativeDebtIndex)
	u.UpdateTimestamp = r.LastUpdateTimestamp
	return deltas
}

// HasAccrued reports whether any delta is nonzero.
func (d InterestDeltas) HasAccrued() bool {
	return d.Supplied.Sign() != 0 || d.VariableBorrowed.Sign() != 0 || d.StableBorrowed.Sign() != 0
}
