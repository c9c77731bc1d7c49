// internal/state/collateral.go
package state

import (
	"errors"
	"math/big"

	fp "LendLedger/internal/math"
)

// ErrPriceMissing is returned when the oracle has no price for an
// asset the user holds. A missing price is never treated as zero:
// zero collateral would be safe, zero debt would not.
var ErrPriceMissing = errors.New("price missing for held asset")

// PriceSource yields e8 prices per whole asset unit.
type PriceSource interface {
	PriceOf(asset string) (*big.Int, bool)
}

// CollateralSummary is the outcome of a solvency evaluation. Values
// are in e8 price units.
type CollateralSummary struct {
	CollateralValue *big.Int
	DebtValue       *big.Int
}

// IsHealthy reports whether weighted collateral covers weighted debt.
func (c CollateralSummary) IsHealthy() bool {
	return c.CollateralValue.Cmp(c.DebtValue) >= 0
}

// FreeCollateral returns the signed margin: positive surplus when
// healthy, negative deficit otherwise.
func (c CollateralSummary) FreeCollateral() *big.Int {
	return new(big.Int).Sub(c.CollateralValue, c.DebtValue)
}

// EvaluateCollateral aggregates a user's weighted collateral and debt
// values under a market rule.
//
// Collateral counts only reserves the user flagged as collateral,
// weighted by the rule's collateral coefficient; a reserve the rule
// gives no coefficient contributes zero. Debt counts every borrow
// membership, weighted by the borrow coefficient (1:1 when absent,
// above 1e6 the rule inflates the debt's risk weight).
func EvaluateCollateral(
	cfg *UserConfig,
	rule MarketRule,
	reserveByID func(id uint8) (*ReserveData, bool),
	positionByID func(id uint8) (*UserReserveData, bool),
	prices PriceSource,
) (CollateralSummary, error) {
	summary := CollateralSummary{
		CollateralValue: new(big.Int),
		DebtValue:       new(big.Int),
	}

	var evalErr error
	cfg.Collaterals.Each(func(id uint8) bool {
		reserve, ok := reserveByID(id)
		if !ok {
			return true
		}
		position, ok := positionByID(id)
		if !ok || fp.IsZero(position.Supplied) {
			return true
		}
		assetRule := rule.AssetRuleFor(id)
		if assetRule == nil || assetRule.CollateralCoefficient == nil {
			return true
		}
		value, err := assetValue(position.Supplied, reserve, prices, fp.RoundDown)
		if err != nil {
			evalErr = err
			return false
		}
		weighted := fp.MulDiv(value, big.NewInt(*assetRule.CollateralCoefficient), fp.E6, fp.RoundDown)
		summary.CollateralValue.Add(summary.CollateralValue, weighted)
		return true
	})
	if evalErr != nil {
		return CollateralSummary{}, evalErr
	}

	debtOf := func(id uint8, amount *big.Int) bool {
		if fp.IsZero(amount) {
			return true
		}
		reserve, ok := reserveByID(id)
		if !ok {
			return true
		}
		value, err := assetValue(amount, reserve, prices, fp.RoundUp)
		if err != nil {
			evalErr = err
			return false
		}
		weight := int64(1_000_000)
		if assetRule := rule.AssetRuleFor(id); assetRule != nil && assetRule.BorrowCoefficient != nil {
			weight = *assetRule.BorrowCoefficient
		}
		weighted := fp.MulDiv(value, big.NewInt(weight), fp.E6, fp.RoundUp)
		summary.DebtValue.Add(summary.DebtValue, weighted)
		return true
	}

	cfg.BorrowsVariable.Each(func(id uint8) bool {
		position, ok := positionByID(id)
		if !ok {
			return true
		}
		return debtOf(id, position.VariableBorrowed)
	})
	if evalErr != nil {
		return CollateralSummary{}, evalErr
	}

	cfg.BorrowsStable.Each(func(id uint8) bool {
		position, ok := positionByID(id)
		if !ok {
			return true
		}
		return debtOf(id, position.StableBorrowed)
	})
	if evalErr != nil {
		return CollateralSummary{}, evalErr
	}

	return summary, nil
}

// assetValue converts an asset amount to e8 price units.
func assetValue(amount *big.Int, r *ReserveData, prices PriceSource, mode fp.RoundingMode) (*big.Int, error) {
	price, ok := prices.PriceOf(r.Asset)
	if !ok {
		return nil, ErrPriceMissing
	}
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(r.Decimals)), nil)
	return fp.MulDiv(amount, price, unit, mode), nil
}
