// internal/state/user.go
package state

import (
	"math/big"

	fp "LendLedger/internal/math"
)

// UserReserveData is one user's position in one reserve, as of its
// last reconciliation against the reserve's indexes.
type UserReserveData struct {
	Supplied         *big.Int
	VariableBorrowed *big.Int
	StableBorrowed   *big.Int

	// Personal locked stable rate (e24), blended on top-up.
	StableBorrowRate *big.Int

	// Reserve index snapshot at last reconciliation (e18).
	DepositIndexSnapshot *big.Int
	DebtIndexSnapshot    *big.Int

	// Unix seconds of the last reconciliation; stable interest
	// accrues over this position's own elapsed time.
	UpdateTimestamp int64
}

// NewUserReserveData creates an empty position snapshotting the
// reserve's current indexes.
func NewUserReserveData(r *ReserveData) *UserReserveData {
	return &UserReserveData{
		Supplied:             new(big.Int),
		VariableBorrowed:     new(big.Int),
		StableBorrowed:       new(big.Int),
		StableBorrowRate:     new(big.Int),
		DepositIndexSnapshot: fp.Clone(r.CumulativeDepositIndex),
		DebtIndexSnapshot:    fp.Clone(r.CumulativeDebtIndex),
		UpdateTimestamp:      r.LastUpdateTimestamp,
	}
}

// TotalDebt returns variable plus stable debt as a fresh value.
func (u *UserReserveData) TotalDebt() *big.Int {
	return new(big.Int).Add(u.VariableBorrowed, u.StableBorrowed)
}

// IsEmpty reports whether every balance is zero.
func (u *UserReserveData) IsEmpty() bool {
	return fp.IsZero(u.Supplied) && fp.IsZero(u.VariableBorrowed) && fp.IsZero(u.StableBorrowed)
}

func (u *UserReserveData) Clone() *UserReserveData {
	return &UserReserveData{
		Supplied:             fp.Clone(u.Supplied),
		VariableBorrowed:     fp.Clone(u.VariableBorrowed),
		StableBorrowed:       fp.Clone(u.StableBorrowed),
		StableBorrowRate:     fp.Clone(u.StableBorrowRate),
		DepositIndexSnapshot: fp.Clone(u.DepositIndexSnapshot),
		DebtIndexSnapshot:    fp.Clone(u.DebtIndexSnapshot),
		UpdateTimestamp:      u.UpdateTimestamp,
	}
}

// UserConfig is one user's reserve membership and market-rule choice.
//
// Deposits, BorrowsVariable and BorrowsStable track nonzero balances:
// bit i is set iff the matching balance in reserve i is nonzero, and
// every mutation that crosses zero flips the bit in the same call.
// Collaterals is the user-chosen subset of Deposits counted by the
// collateralization engine; a bit here is cleared automatically when
// the supplied balance returns to zero.
type UserConfig struct {
	Deposits        ReserveSet
	Collaterals     ReserveSet
	BorrowsVariable ReserveSet
	BorrowsStable   ReserveSet

	MarketRuleID uint32
}

func NewUserConfig() *UserConfig {
	return &UserConfig{MarketRuleID: DefaultMarketRuleID}
}

func (c *UserConfig) Clone() *UserConfig {
	out := *c
	return &out
}

// HasAnyDebt reports whether the user borrows from any reserve.
func (c *UserConfig) HasAnyDebt() bool {
	return !c.BorrowsVariable.IsEmpty() || !c.BorrowsStable.IsEmpty()
}
