// internal/state/reserve.go
package state

import (
	"math/big"

	"github.com/google/uuid"

	fp "LendLedger/internal/math"
)

// InterestRateModel is a seven-point piecewise-linear borrow-rate
// curve over utilization. Rates are e24 per second; breakpoints are
// e6 utilization fractions.
type InterestRateModel struct {
	RatePoints [7]*big.Int
}

// UtilizationBreakpoints are the e6 utilization values the curve's
// rate points sit at. Below the first breakpoint the borrow rate is
// zero; above the last it is capped at the final point.
var UtilizationBreakpoints = [7]int64{500_000, 600_000, 700_000, 800_000, 900_000, 950_000, 1_000_000}

func (m *InterestRateModel) Clone() *InterestRateModel {
	if m == nil {
		return nil
	}
	out := &InterestRateModel{}
	for i, p := range m.RatePoints {
		out.RatePoints[i] = fp.Clone(p)
	}
	return out
}

// ReserveRestrictions caps and floors for one reserve. Nil ceilings
// mean unbounded; nil floors mean zero.
type ReserveRestrictions struct {
	MaximalTotalSupply *big.Int
	MaximalTotalDebt   *big.Int
	MinimalCollateral  *big.Int
	MinimalDebt        *big.Int
}

func (r ReserveRestrictions) Clone() ReserveRestrictions {
	out := ReserveRestrictions{}
	if r.MaximalTotalSupply != nil {
		out.MaximalTotalSupply = fp.Clone(r.MaximalTotalSupply)
	}
	if r.MaximalTotalDebt != nil {
		out.MaximalTotalDebt = fp.Clone(r.MaximalTotalDebt)
	}
	if r.MinimalCollateral != nil {
		out.MinimalCollateral = fp.Clone(r.MinimalCollateral)
	}
	if r.MinimalDebt != nil {
		out.MinimalDebt = fp.Clone(r.MinimalDebt)
	}
	return out
}

// ReserveParameters are the admin-tunable economics of a reserve.
type ReserveParameters struct {
	RateModel               *InterestRateModel
	IncomeForSuppliersShare int64 // e6
	FlashLoanFee            int64 // e6
	StableBorrowEnabled     bool
}

// ReserveData is the aggregate ledger for one listed asset.
type ReserveData struct {
	ID       uint8
	Asset    string
	Decimals uint8

	// Principal-equivalent totals in current-index units.
	TotalSupplied         *big.Int
	TotalVariableBorrowed *big.Int

	// Stable pool aggregate: total stable principal and its
	// supply-weighted average locked rate (e24).
	SumStableDebt     *big.Int
	AverageStableRate *big.Int

	// Monotone e18 multipliers; accrual advances these.
	CumulativeDepositIndex *big.Int
	CumulativeDebtIndex    *big.Int

	// Rates recomputed from utilization after every mutation (e24).
	CurrentDepositRate        *big.Int
	CurrentVariableBorrowRate *big.Int
	CurrentStableBorrowRate   *big.Int

	Parameters   ReserveParameters
	Restrictions ReserveRestrictions

	Active bool
	Frozen bool

	// Interest margin retained by the protocol, withdrawable by the
	// treasury role.
	ProtocolIncome *big.Int

	// Balance-representation collaborators notified of deltas.
	SupplyToken       uuid.UUID
	VariableDebtToken uuid.UUID
	StableDebtToken   uuid.UUID

	// Unix seconds of the last index advancement.
	LastUpdateTimestamp int64
}

// NewReserveData initializes a freshly registered reserve with unit
// indexes and zero totals.
func NewReserveData(id uint8, asset string, decimals uint8, params ReserveParameters, now int64) *ReserveData {
	return &ReserveData{
		ID:                        id,
		Asset:                     asset,
		Decimals:                  decimals,
		TotalSupplied:             new(big.Int),
		TotalVariableBorrowed:     new(big.Int),
		SumStableDebt:             new(big.Int),
		AverageStableRate:         new(big.Int),
		CumulativeDepositIndex:    fp.Clone(fp.E18),
		CumulativeDebtIndex:       fp.Clone(fp.E18),
		CurrentDepositRate:        new(big.Int),
		CurrentVariableBorrowRate: new(big.Int),
		CurrentStableBorrowRate:   new(big.Int),
		Parameters: ReserveParameters{
			RateModel:               params.RateModel.Clone(),
			IncomeForSuppliersShare: params.IncomeForSuppliersShare,
			FlashLoanFee:            params.FlashLoanFee,
			StableBorrowEnabled:     params.StableBorrowEnabled,
		},
		Active:              true,
		ProtocolIncome:      new(big.Int),
		LastUpdateTimestamp: now,
	}
}

// TotalDebt returns variable plus stable debt as a fresh value.
func (r *ReserveData) TotalDebt() *big.Int {
	return new(big.Int).Add(r.TotalVariableBorrowed, r.SumStableDebt)
}

// Utilization returns total debt over total supply as an e6 fraction.
// An empty reserve has zero utilization.
func (r *ReserveData) Utilization() int64 {
	if fp.IsZero(r.TotalSupplied) {
		return 0
	}
	u := fp.MulDiv(r.TotalDebt(), fp.E6, r.TotalSupplied, fp.RoundDown)
	if !u.IsInt64() {
		return UtilizationBreakpoints[6] * 2
	}
	return u.Int64()
}

func (r *ReserveData) Clone() *ReserveData {
	out := *r
	out.TotalSupplied = fp.Clone(r.TotalSupplied)
	out.TotalVariableBorrowed = fp.Clone(r.TotalVariableBorrowed)
	out.SumStableDebt = fp.Clone(r.SumStableDebt)
	out.AverageStableRate = fp.Clone(r.AverageStableRate)
	out.CumulativeDepositIndex = fp.Clone(r.CumulativeDepositIndex)
	out.CumulativeDebtIndex = fp.Clone(r.CumulativeDebtIndex)
	out.CurrentDepositRate = fp.Clone(r.CurrentDepositRate)
	out.CurrentVariableBorrowRate = fp.Clone(r.CurrentVariableBorrowRate)
	out.CurrentStableBorrowRate = fp.Clone(r.CurrentStableBorrowRate)
	out.Parameters.RateModel = r.Parameters.RateModel.Clone()
	out.Restrictions = r.Restrictions.Clone()
	out.ProtocolIncome = fp.Clone(r.ProtocolIncome)
	return &out
}
