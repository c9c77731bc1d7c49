// internal/state/market_rules.go
package state

import "fmt"

// DefaultMarketRuleID is the rule every new user starts on.
const DefaultMarketRuleID uint32 = 0

// AssetRule holds one asset's risk weights within a market rule.
// All values are e6. A nil CollateralCoefficient means the asset
// cannot back debt under the rule; a nil BorrowCoefficient means the
// asset's debt is weighted 1:1.
type AssetRule struct {
	CollateralCoefficient *int64
	BorrowCoefficient     *int64
	Penalty               *int64
}

func (a *AssetRule) Clone() *AssetRule {
	if a == nil {
		return nil
	}
	out := &AssetRule{}
	if a.CollateralCoefficient != nil {
		v := *a.CollateralCoefficient
		out.CollateralCoefficient = &v
	}
	if a.BorrowCoefficient != nil {
		v := *a.BorrowCoefficient
		out.BorrowCoefficient = &v
	}
	if a.Penalty != nil {
		v := *a.Penalty
		out.Penalty = &v
	}
	return out
}

// MarketRule is an asset-rule list indexed by reserve id. A nil
// entry (or an id beyond the list) leaves the asset outside the rule.
type MarketRule []*AssetRule

func (m MarketRule) Clone() MarketRule {
	out := make(MarketRule, len(m))
	for i, a := range m {
		out[i] = a.Clone()
	}
	return out
}

// AssetRuleFor returns the rule entry for a reserve id, or nil when
// the rule does not cover it.
func (m MarketRule) AssetRuleFor(id uint8) *AssetRule {
	if int(id) >= len(m) {
		return nil
	}
	return m[int(id)]
}

// ValidateMarketRule checks structural consistency against the number
// of registered assets. Coefficients must be positive where present;
// a borrow coefficient below 1e6 would deflate debt and is rejected.
func ValidateMarketRule(rule MarketRule, registeredAssets int) error {
	if len(rule) > registeredAssets {
		return fmt.Errorf("rule covers %d assets, only %d registered", len(rule), registeredAssets)
	}
	for id, a := range rule {
		if a == nil {
			continue
		}
		if a.CollateralCoefficient != nil && *a.CollateralCoefficient <= 0 {
			return fmt.Errorf("asset %d: collateral coefficient must be > 0, got %d", id, *a.CollateralCoefficient)
		}
		if a.CollateralCoefficient != nil && *a.CollateralCoefficient > 1_000_000 {
			return fmt.Errorf("asset %d: collateral coefficient must be <= 1e6, got %d", id, *a.CollateralCoefficient)
		}
		if a.BorrowCoefficient != nil && *a.BorrowCoefficient < 1_000_000 {
			return fmt.Errorf("asset %d: borrow coefficient must be >= 1e6, got %d", id, *a.BorrowCoefficient)
		}
		if a.Penalty != nil && *a.Penalty < 0 {
			return fmt.Errorf("asset %d: penalty must be >= 0, got %d", id, *a.Penalty)
		}
	}
	return nil
}
