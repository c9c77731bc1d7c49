// internal/core/pool.go
package core

import (
	"context"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	fp "LendLedger/internal/math"
	"LendLedger/internal/state"
)

// DebtMode selects which debt a borrow or repay touches. The wire
// encoding is a single byte: 0 variable, 1 stable; anything else is
// rejected as unspecified.
type DebtMode uint8

const (
	DebtVariable    DebtMode = 0
	DebtStable      DebtMode = 1
	DebtUnspecified DebtMode = 0xFF
)

func (m DebtMode) valid() bool {
	return m == DebtVariable || m == DebtStable
}

func (m DebtMode) String() string {
	switch m {
	case DebtVariable:
		return "variable"
	case DebtStable:
		return "stable"
	default:
		return "unspecified"
	}
}

// PoolConfig wires the engine's owned state and collaborators.
type PoolConfig struct {
	Store    *state.Store
	Clock    Clock
	Oracle   PriceOracle
	Transfer AssetTransfer
	Notifier BalanceNotifier
	Access   AccessControl
	Logger   zerolog.Logger

	// Sequence of the last committed operation; records continue
	// from the next value.
	StartSequence int64

	// PersistChan receives every committed record; the send blocks,
	// durability gates throughput. PublishChan is best-effort: a full
	// buffer drops the record. Either may be nil.
	PersistChan chan<- *event.OperationRecord
	PublishChan chan<- *event.OperationRecord
}

// Pool is the lending-market accounting engine. All entry points
// serialize on one mutex: each call is atomic from pull through push,
// and a failed call leaves the store untouched.
type Pool struct {
	mu       sync.Mutex
	store    *state.Store
	clock    Clock
	oracle   PriceOracle
	transfer AssetTransfer
	notifier BalanceNotifier
	access   AccessControl
	log      zerolog.Logger

	sequence    int64
	persistChan chan<- *event.OperationRecord
	publishChan chan<- *event.OperationRecord
}

func NewPool(cfg PoolConfig) *Pool {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Pool{
		store:       cfg.Store,
		clock:       cfg.Clock,
		oracle:      cfg.Oracle,
		transfer:    cfg.Transfer,
		notifier:    notifier,
		access:      cfg.Access,
		log:         cfg.Logger,
		sequence:    cfg.StartSequence,
		persistChan: cfg.PersistChan,
		publishChan: cfg.PublishChan,
	}
}

// Sequence returns the sequence of the last committed operation.
func (p *Pool) Sequence() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sequence
}

// SnapshotState captures a deep copy of the ledger under the pool
// lock, together with the sequence it reflects.
func (p *Pool) SnapshotState() (*state.Snapshot, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Snapshot(), p.sequence
}

func (p *Pool) now() int64 {
	return p.clock.Now().Unix()
}

// Deposit supplies amount of asset to onBehalfOf's position, pulling
// the underlying from the caller. The external pull runs last so a
// failed precondition never moves assets.
func (p *Pool) Deposit(ctx context.Context, caller, onBehalfOf uuid.UUID, asset string, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fp.IsZero(amount) || amount.Sign() < 0 {
		return ErrAmountRequired
	}

	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}
	if !reserve.Active {
		return ErrReserveInactive
	}
	if reserve.Frozen {
		return ErrReserveFrozen
	}

	position := cp.pullPosition(reserve, onBehalfOf)
	cfg := cp.pullConfig(onBehalfOf)

	state.AccrueReserve(reserve, p.now())
	deltas := state.ReconcileUser(position, reserve)

	position.Supplied.Add(position.Supplied, amount)
	reserve.TotalSupplied.Add(reserve.TotalSupplied, amount)
	if max := reserve.Restrictions.MaximalTotalSupply; max != nil && reserve.TotalSupplied.Cmp(max) > 0 {
		return ErrMaxSupplyReached
	}

	syncMembership(cfg, reserve.ID, position)
	state.RecalculateRates(reserve)
	cp.push(reserve, position, cfg)

	if err := p.transfer.TransferFrom(ctx, asset, caller, PoolIdentity, amount); err != nil {
		cp.rollback()
		return externalErr("deposit transfer", err)
	}

	p.notifyInterest(reserve, onBehalfOf, deltas)
	p.notifyDelta(reserve.SupplyToken, TokenSupply, onBehalfOf, amount)
	p.emit(&event.OperationRecord{
		Type:       event.OpDeposit,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: onBehalfOf,
		Amount:     fp.Clone(amount),
	})
	return nil
}

// Redeem withdraws supplied balance. A nil amount redeems the whole
// reconciled balance. Returns the amount actually withdrawn.
func (p *Pool) Redeem(ctx context.Context, caller, onBehalfOf uuid.UUID, asset string, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return nil, err
	}
	if !reserve.Active {
		return nil, ErrReserveInactive
	}

	position := cp.pullPosition(reserve, onBehalfOf)
	cfg := cp.pullConfig(onBehalfOf)
	wasCollateral := cfg.Collaterals.Has(reserve.ID)

	state.AccrueReserve(reserve, p.now())
	deltas := state.ReconcileUser(position, reserve)

	if amount == nil {
		amount = fp.Clone(position.Supplied)
	}
	if amount.Sign() <= 0 {
		return nil, ErrAmountRequired
	}
	remaining, err := fp.CheckedSub(position.Supplied, amount)
	if err != nil {
		return nil, underflowErr(err, ErrAmountExceedsDeposit)
	}
	position.Supplied = remaining
	reserve.TotalSupplied = fp.SaturatingSub(reserve.TotalSupplied, amount)

	if wasCollateral && remaining.Sign() > 0 {
		if min := reserve.Restrictions.MinimalCollateral; min != nil && remaining.Cmp(min) < 0 {
			return nil, ErrMinimalCollateral
		}
	}

	syncMembership(cfg, reserve.ID, position)
	state.RecalculateRates(reserve)
	cp.push(reserve, position, cfg)

	if wasCollateral && cfg.HasAnyDebt() {
		if err := p.requireHealthy(onBehalfOf); err != nil {
			cp.rollback()
			return nil, err
		}
	}

	if err := p.transfer.Transfer(ctx, asset, caller, amount); err != nil {
		cp.rollback()
		return nil, externalErr("redeem transfer", err)
	}

	p.notifyInterest(reserve, onBehalfOf, deltas)
	p.notifyDelta(reserve.SupplyToken, TokenSupply, onBehalfOf, new(big.Int).Neg(amount))
	p.emit(&event.OperationRecord{
		Type:       event.OpRedeem,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: onBehalfOf,
		Amount:     fp.Clone(amount),
	})
	return fp.Clone(amount), nil
}

// Borrow opens or tops up debt and pays the underlying out to the
// caller. The resulting position must pass the solvency check before
// anything leaves the pool.
func (p *Pool) Borrow(ctx context.Context, caller, onBehalfOf uuid.UUID, asset string, amount *big.Int, mode DebtMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !mode.valid() {
		return ErrUnspecifiedAction
	}
	if fp.IsZero(amount) || amount.Sign() < 0 {
		return ErrAmountRequired
	}

	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}
	if !reserve.Active {
		return ErrReserveInactive
	}
	if reserve.Frozen {
		return ErrReserveFrozen
	}
	if mode == DebtStable && !reserve.Parameters.StableBorrowEnabled {
		return ErrBorrowDisabled
	}

	position := cp.pullPosition(reserve, onBehalfOf)
	cfg := cp.pullConfig(onBehalfOf)

	state.AccrueReserve(reserve, p.now())
	deltas := state.ReconcileUser(position, reserve)

	var debtToken uuid.UUID
	switch mode {
	case DebtVariable:
		position.VariableBorrowed.Add(position.VariableBorrowed, amount)
		reserve.TotalVariableBorrowed.Add(reserve.TotalVariableBorrowed, amount)
		debtToken = reserve.VariableDebtToken
	case DebtStable:
		oldPrincipal := fp.Clone(position.StableBorrowed)
		oldSum := fp.Clone(reserve.SumStableDebt)
		oldAverage := fp.Clone(reserve.AverageStableRate)

		reserve.SumStableDebt.Add(reserve.SumStableDebt, amount)
		state.RecalculateRates(reserve)
		fresh := reserve.CurrentStableBorrowRate

		position.StableBorrowRate = fp.BlendStableRate(oldPrincipal, position.StableBorrowRate, amount, fresh)
		reserve.AverageStableRate = fp.WeightedStableRate(oldSum, oldAverage, amount, fresh)
		position.StableBorrowed.Add(position.StableBorrowed, amount)
		debtToken = reserve.StableDebtToken
	}

	if min := reserve.Restrictions.MinimalDebt; min != nil && position.TotalDebt().Cmp(min) < 0 {
		return ErrMinimalDebt
	}
	if max := reserve.Restrictions.MaximalTotalDebt; max != nil && reserve.TotalDebt().Cmp(max) > 0 {
		return ErrMaxDebtReached
	}

	syncMembership(cfg, reserve.ID, position)
	state.RecalculateRates(reserve)
	cp.push(reserve, position, cfg)

	if err := p.requireHealthy(onBehalfOf); err != nil {
		cp.rollback()
		return err
	}

	if err := p.transfer.Transfer(ctx, asset, caller, amount); err != nil {
		cp.rollback()
		return externalErr("borrow transfer", err)
	}

	p.notifyInterest(reserve, onBehalfOf, deltas)
	kind := TokenVariableDebt
	if mode == DebtStable {
		kind = TokenStableDebt
	}
	p.notifyDelta(debtToken, kind, onBehalfOf, amount)
	p.emit(&event.OperationRecord{
		Type:       event.OpBorrow,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: onBehalfOf,
		Amount:     fp.Clone(amount),
		Mode:       mode.String(),
	})
	return nil
}

// Repay pays debt down, pulling the underlying from the caller. A nil
// amount repays the full reconciled balance of the selected mode.
// Returns the amount actually repaid.
func (p *Pool) Repay(ctx context.Context, caller, onBehalfOf uuid.UUID, asset string, amount *big.Int, mode DebtMode) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !mode.valid() {
		return nil, ErrUnspecifiedAction
	}

	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return nil, err
	}
	if !reserve.Active {
		return nil, ErrReserveInactive
	}

	position := cp.pullPosition(reserve, onBehalfOf)
	cfg := cp.pullConfig(onBehalfOf)

	state.AccrueReserve(reserve, p.now())
	deltas := state.ReconcileUser(position, reserve)

	var outstanding *big.Int
	switch mode {
	case DebtVariable:
		outstanding = position.VariableBorrowed
	case DebtStable:
		outstanding = position.StableBorrowed
	}
	if amount == nil {
		amount = fp.Clone(outstanding)
	}
	if amount.Sign() <= 0 {
		return nil, ErrAmountRequired
	}
	remaining, err := fp.CheckedSub(outstanding, amount)
	if err != nil {
		return nil, underflowErr(err, ErrAmountExceedsDebt)
	}

	var debtToken uuid.UUID
	switch mode {
	case DebtVariable:
		position.VariableBorrowed = remaining
		reserve.TotalVariableBorrowed = fp.SaturatingSub(reserve.TotalVariableBorrowed, amount)
		debtToken = reserve.VariableDebtToken
	case DebtStable:
		// The aggregate rate unwinds the repaid tranche at the user's
		// locked rate before the sum shrinks.
		reserve.AverageStableRate = fp.UnblendStableRate(
			reserve.SumStableDebt, reserve.AverageStableRate, amount, position.StableBorrowRate)
		position.StableBorrowed = remaining
		reserve.SumStableDebt = fp.SaturatingSub(reserve.SumStableDebt, amount)
		if remaining.Sign() == 0 {
			position.StableBorrowRate = new(big.Int)
		}
		debtToken = reserve.StableDebtToken
	}

	if min := reserve.Restrictions.MinimalDebt; min != nil &&
		remaining.Sign() > 0 && position.TotalDebt().Cmp(min) < 0 {
		return nil, ErrMinimalDebt
	}

	syncMembership(cfg, reserve.ID, position)
	state.RecalculateRates(reserve)
	cp.push(reserve, position, cfg)

	if err := p.transfer.TransferFrom(ctx, asset, caller, PoolIdentity, amount); err != nil {
		cp.rollback()
		return nil, externalErr("repay transfer", err)
	}

	p.notifyInterest(reserve, onBehalfOf, deltas)
	kind := TokenVariableDebt
	if mode == DebtStable {
		kind = TokenStableDebt
	}
	p.notifyDelta(debtToken, kind, onBehalfOf, new(big.Int).Neg(amount))
	p.emit(&event.OperationRecord{
		Type:       event.OpRepay,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: onBehalfOf,
		Amount:     fp.Clone(amount),
		Mode:       mode.String(),
	})
	return fp.Clone(amount), nil
}

// SetAsCollateral flips an asset in or out of the caller's collateral
// set. Disabling is checked against the new configuration: collateral
// value must still cover debt with the bit already cleared.
func (p *Pool) SetAsCollateral(ctx context.Context, caller uuid.UUID, asset string, enable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}
	if !reserve.Active {
		return ErrReserveInactive
	}

	position := cp.pullPosition(reserve, caller)
	cfg := cp.pullConfig(caller)

	state.AccrueReserve(reserve, p.now())
	deltas := state.ReconcileUser(position, reserve)

	recordType := event.OpCollateralDisabled
	if enable {
		rule, ok := p.store.Rule(cfg.MarketRuleID)
		if !ok {
			return ErrRuleNotFound
		}
		assetRule := rule.AssetRuleFor(reserve.ID)
		if assetRule == nil || assetRule.CollateralCoefficient == nil {
			return ErrCollateralDisabled
		}
		min := reserve.Restrictions.MinimalCollateral
		if position.Supplied.Sign() == 0 || (min != nil && position.Supplied.Cmp(min) < 0) {
			return ErrMinimalCollateral
		}
		cfg.Collaterals.Set(reserve.ID)
		recordType = event.OpCollateralEnabled
	} else {
		cfg.Collaterals.Clear(reserve.ID)
	}

	state.RecalculateRates(reserve)
	cp.push(reserve, position, cfg)

	if !enable && cfg.HasAnyDebt() {
		if err := p.requireHealthy(caller); err != nil {
			cp.rollback()
			return err
		}
	}

	p.notifyInterest(reserve, caller, deltas)
	p.emit(&event.OperationRecord{
		Type:       recordType,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: caller,
	})
	return nil
}

// TransferDebt moves variable debt between users. Only the reserve's
// registered variable-debt token may call it; the destination must
// stay solvent and both sides must respect the minimal-debt floor.
func (p *Pool) TransferDebt(ctx context.Context, caller uuid.UUID, asset string, from, to uuid.UUID, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fp.IsZero(amount) || amount.Sign() < 0 {
		return ErrAmountRequired
	}

	cp := p.begin()
	reserve, err := cp.pullReserve(asset)
	if err != nil {
		return err
	}
	if caller != reserve.VariableDebtToken {
		return ErrCallerNotDebtToken
	}
	if !reserve.Active {
		return ErrReserveInactive
	}

	fromPos := cp.pullPosition(reserve, from)
	fromCfg := cp.pullConfig(from)
	toPos := cp.pullPosition(reserve, to)
	toCfg := cp.pullConfig(to)

	state.AccrueReserve(reserve, p.now())
	fromDeltas := state.ReconcileUser(fromPos, reserve)
	toDeltas := state.ReconcileUser(toPos, reserve)

	remaining, err := fp.CheckedSub(fromPos.VariableBorrowed, amount)
	if err != nil {
		return underflowErr(err, ErrAmountExceedsDebt)
	}
	fromPos.VariableBorrowed = remaining
	toPos.VariableBorrowed.Add(toPos.VariableBorrowed, amount)

	if min := reserve.Restrictions.MinimalDebt; min != nil {
		if remaining.Sign() > 0 && fromPos.TotalDebt().Cmp(min) < 0 {
			return ErrMinimalDebt
		}
		if toPos.TotalDebt().Cmp(min) < 0 {
			return ErrMinimalDebt
		}
	}

	syncMembership(fromCfg, reserve.ID, fromPos)
	syncMembership(toCfg, reserve.ID, toPos)
	state.RecalculateRates(reserve)
	cp.pushReserve(reserve)
	cp.pushPosition(reserve.ID, from, fromPos)
	cp.pushConfig(from, fromCfg)
	cp.pushPosition(reserve.ID, to, toPos)
	cp.pushConfig(to, toCfg)

	if err := p.requireHealthy(to); err != nil {
		cp.rollback()
		return err
	}

	p.notifyInterest(reserve, from, fromDeltas)
	p.notifyInterest(reserve, to, toDeltas)
	p.notifyDelta(reserve.VariableDebtToken, TokenVariableDebt, from, new(big.Int).Neg(amount))
	p.notifyDelta(reserve.VariableDebtToken, TokenVariableDebt, to, amount)
	p.emit(&event.OperationRecord{
		Type:       event.OpDebtTransfer,
		Asset:      asset,
		Caller:     caller,
		OnBehalfOf: from,
		Target:     to,
		Amount:     fp.Clone(amount),
		Mode:       DebtVariable.String(),
	})
	return nil
}

// ChooseMarketRule switches the caller to another rule. The switch
// re-runs the solvency check under the new coefficients: a rule that
// would undercollateralize the user is rejected.
func (p *Pool) ChooseMarketRule(ctx context.Context, caller uuid.UUID, ruleID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.store.Rule(ruleID); !ok {
		return ErrRuleNotFound
	}

	cp := p.begin()
	cfg := cp.pullConfig(caller)
	cfg.MarketRuleID = ruleID
	cp.pushConfig(caller, cfg)

	if cfg.HasAnyDebt() {
		if err := p.requireHealthy(caller); err != nil {
			cp.rollback()
			return err
		}
	}

	p.emit(&event.OperationRecord{
		Type:       event.OpMarketRuleChosen,
		Caller:     caller,
		OnBehalfOf: caller,
		RuleID:     ruleID,
	})
	return nil
}

// requireHealthy evaluates the user's collateralization against the
// committed store state.
func (p *Pool) requireHealthy(user uuid.UUID) error {
	summary, err := p.evaluateLocked(user)
	if err != nil {
		return err
	}
	if !summary.IsHealthy() {
		return ErrInsufficientFreeCollateral
	}
	return nil
}

func (p *Pool) evaluateLocked(user uuid.UUID) (state.CollateralSummary, error) {
	cfg, _ := p.store.Config(user)
	rule, ok := p.store.Rule(cfg.MarketRuleID)
	if !ok {
		return state.CollateralSummary{}, ErrRuleNotFound
	}
	summary, err := state.EvaluateCollateral(
		cfg, rule,
		func(id uint8) (*state.ReserveData, bool) { return p.store.Reserve(id) },
		func(id uint8) (*state.UserReserveData, bool) { return p.store.Position(id, user) },
		p.oracle,
	)
	if err == state.ErrPriceMissing {
		return state.CollateralSummary{}, ErrPriceMissing
	}
	if err != nil {
		return state.CollateralSummary{}, withCause(ErrPriceMissing, err)
	}
	return summary, nil
}

// syncMembership realigns the membership bits with the position's
// balances. The collateral flag is user-chosen but cannot outlive the
// deposit backing it.
func syncMembership(cfg *state.UserConfig, id uint8, u *state.UserReserveData) {
	setBit := func(set *state.ReserveSet, nonzero bool) {
		if nonzero {
			set.Set(id)
		} else {
			set.Clear(id)
		}
	}
	setBit(&cfg.Deposits, u.Supplied.Sign() != 0)
	setBit(&cfg.BorrowsVariable, u.VariableBorrowed.Sign() != 0)
	setBit(&cfg.BorrowsStable, u.StableBorrowed.Sign() != 0)
	if u.Supplied.Sign() == 0 {
		cfg.Collaterals.Clear(id)
	}
}

func (p *Pool) notifyInterest(r *state.ReserveData, user uuid.UUID, d state.InterestDeltas) {
	if d.Supplied.Sign() != 0 {
		p.notifier.NotifyBalanceDelta(r.SupplyToken, TokenSupply, user, fp.Clone(d.Supplied))
	}
	if d.VariableBorrowed.Sign() != 0 {
		p.notifier.NotifyBalanceDelta(r.VariableDebtToken, TokenVariableDebt, user, fp.Clone(d.VariableBorrowed))
	}
	if d.StableBorrowed.Sign() != 0 {
		p.notifier.NotifyBalanceDelta(r.StableDebtToken, TokenStableDebt, user, fp.Clone(d.StableBorrowed))
	}
}

func (p *Pool) notifyDelta(token uuid.UUID, kind TokenKind, user uuid.UUID, delta *big.Int) {
	p.notifier.NotifyBalanceDelta(token, kind, user, delta)
}

// emit assigns the next sequence and fans the record out: blocking to
// the persistence side, best-effort to the publisher.
func (p *Pool) emit(rec *event.OperationRecord) {
	p.sequence++
	rec.Sequence = p.sequence
	rec.Timestamp = p.clock.Now().UTC()

	if p.persistChan != nil {
		p.persistChan <- rec
	}
	if p.publishChan != nil {
		select {
		case p.publishChan <- rec:
		default:
			p.log.Warn().
				Int64("sequence", rec.Sequence).
				Str("type", rec.TypeName()).
				Msg("publish channel full, dropping record")
		}
	}

	p.log.Debug().
		Int64("sequence", rec.Sequence).
		Str("type", rec.TypeName()).
		Str("asset", rec.Asset).
		Msg("operation committed")
}
