// internal/core/admin.go
package core

import (
	"context"
	"math/big"

	"github.com/google/uuid"

	"LendLedger/internal/event"
	fp "LendLedger/internal/math"
	"LendLedger/internal/state"
)

// AssetRegistration describes a new reserve. DefaultRule, when set,
// becomes the asset's entry in market rule 0.
type AssetRegistration struct {
	Asset        string
	Decimals     uint8
	Parameters   state.ReserveParameters
	Restrictions state.ReserveRestrictions
	DefaultRule  *state.AssetRule

	SupplyToken       uuid.UUID
	VariableDebtToken uuid.UUID
	StableDebtToken   uuid.UUID
}

func (p *Pool) requireRole(role Role, caller uuid.UUID) error {
	if p.access.HasRole(role, caller) || p.access.HasRole(RoleGlobalAdmin, caller) {
		return nil
	}
	return ErrAccessDenied
}

// RegisterAsset lists a new reserve and returns its id, the asset's
// slot in every membership set.
func (p *Pool) RegisterAsset(ctx context.Context, caller uuid.UUID, reg AssetRegistration) (uint8, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleAssetListingAdmin, caller); err != nil {
		return 0, err
	}
	if p.store.HasAsset(reg.Asset) {
		return 0, ErrAlreadyRegistered
	}
	id, ok := p.store.NextReserveID()
	if !ok {
		return 0, ErrMaxReservesReached
	}

	rule, _ := p.store.Rule(state.DefaultMarketRuleID)
	for len(rule) < int(id) {
		rule = append(rule, nil)
	}
	rule = append(rule, reg.DefaultRule.Clone())
	if err := state.ValidateMarketRule(rule, int(id)+1); err != nil {
		return 0, withCause(ErrInvalidRule, err)
	}

	reserve := state.NewReserveData(id, reg.Asset, reg.Decimals, reg.Parameters, p.now())
	reserve.Restrictions = reg.Restrictions.Clone()
	reserve.SupplyToken = reg.SupplyToken
	reserve.VariableDebtToken = reg.VariableDebtToken
	reserve.StableDebtToken = reg.StableDebtToken

	p.store.PutReserve(reserve)
	p.store.PutRule(state.DefaultMarketRuleID, rule)

	p.emit(&event.OperationRecord{
		Type:       event.OpAssetRegistered,
		Asset:      reg.Asset,
		Caller:     caller,
		OnBehalfOf: caller,
	})
	p.log.Info().Str("asset", reg.Asset).Uint8("reserve_id", id).Msg("asset registered")
	return id, nil
}

// SetReserveIsActive halts or resumes every operation on the reserve.
func (p *Pool) SetReserveIsActive(ctx context.Context, caller uuid.UUID, asset string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleEmergencyAdmin, caller); err != nil {
		return err
	}
	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}
	reserve.Active = active
	cp.pushReserve(reserve)

	p.emit(&event.OperationRecord{
		Type:       event.OpReserveActiveSet,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: caller,
	})
	return nil
}

// SetReserveIsFrozen blocks deposit and borrow while leaving redeem
// and repay open.
func (p *Pool) SetReserveIsFrozen(ctx context.Context, caller uuid.UUID, asset string, frozen bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleEmergencyAdmin, caller); err != nil {
		return err
	}
	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}
	reserve.Frozen = frozen
	cp.pushReserve(reserve)

	p.emit(&event.OperationRecord{
		Type:       event.OpReserveFrozenSet,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: caller,
	})
	return nil
}

func (p *Pool) SetReserveRestrictions(ctx context.Context, caller uuid.UUID, asset string, restrictions state.ReserveRestrictions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleParametersAdmin, caller); err != nil {
		return err
	}
	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}
	reserve.Restrictions = restrictions.Clone()
	cp.pushReserve(reserve)

	p.emit(&event.OperationRecord{
		Type:       event.OpReserveRestrictionsSet,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: caller,
	})
	return nil
}

// SetReserveParameters swaps the reserve's economics. Interest up to
// now accrues under the old curve first.
func (p *Pool) SetReserveParameters(ctx context.Context, caller uuid.UUID, asset string, params state.ReserveParameters) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleParametersAdmin, caller); err != nil {
		return err
	}
	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}

	state.AccrueReserve(reserve, p.now())
	reserve.Parameters = state.ReserveParameters{
		RateModel:               params.RateModel.Clone(),
		IncomeForSuppliersShare: params.IncomeForSuppliersShare,
		FlashLoanFee:            params.FlashLoanFee,
		StableBorrowEnabled:     params.StableBorrowEnabled,
	}
	state.RecalculateRates(reserve)
	cp.pushReserve(reserve)

	p.emit(&event.OperationRecord{
		Type:       event.OpReserveParametersSet,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: caller,
	})
	return nil
}

// AddMarketRule registers a new coefficient set and returns its id.
func (p *Pool) AddMarketRule(ctx context.Context, caller uuid.UUID, rule state.MarketRule) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleParametersAdmin, caller); err != nil {
		return 0, err
	}
	if err := state.ValidateMarketRule(rule, p.store.ReserveCount()); err != nil {
		return 0, withCause(ErrInvalidRule, err)
	}
	id := p.store.AddRule(rule)

	p.emit(&event.OperationRecord{
		Type:       event.OpMarketRuleAdded,
		Caller:     caller,
		OnBehalfOf: caller,
		RuleID:     id,
	})
	return id, nil
}

// ModifyAssetRule edits one asset's coefficients inside an existing
// rule. Removing a coefficient live positions depend on is allowed:
// an immediately effective risk change, not a validation error.
func (p *Pool) ModifyAssetRule(ctx context.Context, caller uuid.UUID, ruleID uint32, assetID uint8, entry *state.AssetRule) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleParametersAdmin, caller); err != nil {
		return err
	}
	rule, ok := p.store.Rule(ruleID)
	if !ok {
		return ErrRuleNotFound
	}
	if int(assetID) >= p.store.ReserveCount() {
		return ErrAssetRuleNotFound
	}
	for len(rule) <= int(assetID) {
		rule = append(rule, nil)
	}
	rule[assetID] = entry.Clone()
	if err := state.ValidateMarketRule(rule, p.store.ReserveCount()); err != nil {
		return withCause(ErrInvalidRule, err)
	}
	p.store.PutRule(ruleID, rule)

	p.emit(&event.OperationRecord{
		Type:       event.OpAssetRuleModified,
		Caller:     caller,
		OnBehalfOf: caller,
		RuleID:     ruleID,
	})
	return nil
}

// AssetAmount pairs an asset with an amount in its own units.
type AssetAmount struct {
	Asset  string   `json:"asset"`
	Amount *big.Int `json:"amount"`
}

// ViewProtocolIncome reports the accumulated protocol margin per
// asset. A nil asset list means all registered reserves.
func (p *Pool) ViewProtocolIncome(assets []string) ([]AssetAmount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if assets == nil {
		assets = p.store.Assets()
	}
	out := make([]AssetAmount, 0, len(assets))
	for _, asset := range assets {
		reserve, ok := p.store.ReserveByAsset(asset)
		if !ok {
			return nil, ErrAssetNotRegistered
		}
		out = append(out, AssetAmount{Asset: asset, Amount: fp.Clone(reserve.ProtocolIncome)})
	}
	return out, nil
}

// TakeProtocolIncome pays the accumulated margin out to the treasury
// address. Reserves are settled one at a time; a failing transfer
// rolls the failing reserve back and aborts.
func (p *Pool) TakeProtocolIncome(ctx context.Context, caller uuid.UUID, assets []string, to uuid.UUID) ([]AssetAmount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.requireRole(RoleTreasury, caller); err != nil {
		return nil, err
	}
	if assets == nil {
		assets = p.store.Assets()
	}

	taken := make([]AssetAmount, 0, len(assets))
	for _, asset := range assets {
		cp := p.begin()
		reserve, err := cp.pullReserve(asset)
		if err != nil {
			return taken, err
		}

		state.AccrueReserve(reserve, p.now())
		amount := fp.Clone(reserve.ProtocolIncome)
		if amount.Sign() == 0 {
			cp.pushReserve(reserve)
			continue
		}
		reserve.ProtocolIncome = new(big.Int)
		cp.pushReserve(reserve)

		if err := p.transfer.Transfer(ctx, asset, to, amount); err != nil {
			cp.rollback()
			return taken, externalErr("income transfer", err)
		}

		taken = append(taken, AssetAmount{Asset: asset, Amount: amount})
		p.emit(&event.OperationRecord{
			Type:       event.OpIncomeTaken,
			Asset:      asset,
			Caller:     caller,
			OnBehalfOf: to,
			Amount:     fp.Clone(amount),
		})
	}
	return taken, nil
}

// Views. Each returns owned copies of the stored records.

func (p *Pool) ViewRegisteredAssets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Assets()
}

func (p *Pool) ViewReserveData(asset string) (*state.ReserveData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	reserve, ok := p.store.ReserveByAsset(asset)
	if !ok {
		return nil, ErrAssetNotRegistered
	}
	return reserve, nil
}

func (p *Pool) ViewUserReserveData(asset string, user uuid.UUID) (*state.UserReserveData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.store.ReserveIDByAsset(asset)
	if !ok {
		return nil, ErrAssetNotRegistered
	}
	position, ok := p.store.Position(id, user)
	if !ok {
		return nil, ErrPositionNotFound
	}
	return position, nil
}

func (p *Pool) ViewUserConfig(user uuid.UUID) *state.UserConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg, _ := p.store.Config(user)
	return cfg
}

// ViewFreeCollateral evaluates the user's solvency margin at current
// stored balances.
func (p *Pool) ViewFreeCollateral(user uuid.UUID) (state.CollateralSummary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evaluateLocked(user)
}

// ViewPrices reports the oracle's current prices for the given
// assets; nil means all registered.
func (p *Pool) ViewPrices(assets []string) ([]AssetAmount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if assets == nil {
		assets = p.store.Assets()
	}
	out := make([]AssetAmount, 0, len(assets))
	for _, asset := range assets {
		price, ok := p.oracle.PriceOf(asset)
		if !ok {
			return nil, ErrPriceMissing
		}
		out = append(out, AssetAmount{Asset: asset, Amount: fp.Clone(price)})
	}
	return out, nil
}
