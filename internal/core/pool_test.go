package core

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"LendLedger/internal/event"
	fp "LendLedger/internal/math"
	"LendLedger/internal/state"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type stubOracle map[string]*big.Int

func (o stubOracle) PriceOf(asset string) (*big.Int, bool) {
	p, ok := o[asset]
	return p, ok
}

type transferCall struct {
	asset    string
	from, to uuid.UUID
	amount   *big.Int
	pull     bool
}

type stubTransfer struct {
	calls []transferCall
	fail  bool
}

func (s *stubTransfer) Transfer(_ context.Context, asset string, to uuid.UUID, amount *big.Int) error {
	if s.fail {
		return errors.New("transfer backend down")
	}
	s.calls = append(s.calls, transferCall{asset: asset, to: to, amount: fp.Clone(amount)})
	return nil
}

func (s *stubTransfer) TransferFrom(_ context.Context, asset string, from, to uuid.UUID, amount *big.Int) error {
	if s.fail {
		return errors.New("transfer backend down")
	}
	s.calls = append(s.calls, transferCall{asset: asset, from: from, to: to, amount: fp.Clone(amount), pull: true})
	return nil
}

type notification struct {
	kind  TokenKind
	user  uuid.UUID
	delta *big.Int
}

type stubNotifier struct {
	notes []notification
}

func (s *stubNotifier) NotifyBalanceDelta(_ uuid.UUID, kind TokenKind, user uuid.UUID, delta *big.Int) {
	s.notes = append(s.notes, notification{kind: kind, user: user, delta: fp.Clone(delta)})
}

type fixture struct {
	pool     *Pool
	store    *state.Store
	clock    *manualClock
	oracle   stubOracle
	transfer *stubTransfer
	notifier *stubNotifier
	persist  chan *event.OperationRecord

	admin     uuid.UUID
	user      uuid.UUID
	debtToken uuid.UUID
}

func e(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func mul(a *big.Int, b int64) *big.Int {
	return new(big.Int).Mul(a, big.NewInt(b))
}

// dot converts whole DOT (12 decimals) to asset units.
func dot(n int64) *big.Int {
	return mul(e(12), n)
}

func testModel() *state.InterestRateModel {
	m := &state.InterestRateModel{}
	for i := range m.RatePoints {
		m.RatePoints[i] = mul(e(15), int64(i+1))
	}
	m.RatePoints[6] = mul(e(15), 10)
	return m
}

func coeff(v int64) *int64 { return &v }

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:     state.NewStore(),
		clock:     &manualClock{now: time.Unix(1_000_000, 0)},
		oracle:    stubOracle{"DOT": e(8)},
		transfer:  &stubTransfer{},
		notifier:  &stubNotifier{},
		persist:   make(chan *event.OperationRecord, 64),
		admin:     uuid.New(),
		user:      uuid.New(),
		debtToken: uuid.New(),
	}
	f.pool = NewPool(PoolConfig{
		Store:       f.store,
		Clock:       f.clock,
		Oracle:      f.oracle,
		Transfer:    f.transfer,
		Notifier:    f.notifier,
		Access:      RoleTable{RoleGlobalAdmin: {f.admin}},
		Logger:      zerolog.Nop(),
		PersistChan: f.persist,
	})
	return f
}

// registerDOT lists DOT: 12 decimals, collateral coefficient 0.5,
// minimal debt 1 unit, stable borrowing enabled.
func (f *fixture) registerDOT(t *testing.T) {
	t.Helper()
	_, err := f.pool.RegisterAsset(context.Background(), f.admin, AssetRegistration{
		Asset:    "DOT",
		Decimals: 12,
		Parameters: state.ReserveParameters{
			RateModel:               testModel(),
			IncomeForSuppliersShare: 900_000,
			StableBorrowEnabled:     true,
		},
		Restrictions: state.ReserveRestrictions{
			MinimalDebt: big.NewInt(1),
		},
		DefaultRule:       &state.AssetRule{CollateralCoefficient: coeff(500_000)},
		VariableDebtToken: f.debtToken,
	})
	if err != nil {
		t.Fatalf("register DOT: %v", err)
	}
}

func (f *fixture) depositDOT(t *testing.T, amount *big.Int) {
	t.Helper()
	if err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) enableCollateral(t *testing.T) {
	t.Helper()
	if err := f.pool.SetAsCollateral(context.Background(), f.user, "DOT", true); err != nil {
		t.Fatalf("enable collateral: %v", err)
	}
}

// checkMembership asserts bit/balance agreement for the user across
// every reserve: a membership bit is set exactly when the matching
// balance is nonzero, and a collateral flag implies a deposit.
func (f *fixture) checkMembership(t *testing.T, user uuid.UUID) {
	t.Helper()
	cfg, _ := f.store.Config(user)
	for id := 0; id < f.store.ReserveCount(); id++ {
		rid := uint8(id)
		position, ok := f.store.Position(rid, user)
		if !ok {
			position = &state.UserReserveData{
				Supplied: new(big.Int), VariableBorrowed: new(big.Int), StableBorrowed: new(big.Int),
			}
		}
		if cfg.Deposits.Has(rid) != (position.Supplied.Sign() != 0) {
			t.Fatalf("reserve %d: deposit bit %v, balance %v", rid, cfg.Deposits.Has(rid), position.Supplied)
		}
		if cfg.BorrowsVariable.Has(rid) != (position.VariableBorrowed.Sign() != 0) {
			t.Fatalf("reserve %d: variable bit %v, balance %v", rid, cfg.BorrowsVariable.Has(rid), position.VariableBorrowed)
		}
		if cfg.BorrowsStable.Has(rid) != (position.StableBorrowed.Sign() != 0) {
			t.Fatalf("reserve %d: stable bit %v, balance %v", rid, cfg.BorrowsStable.Has(rid), position.StableBorrowed)
		}
		if cfg.Collaterals.Has(rid) && position.Supplied.Sign() == 0 {
			t.Fatalf("reserve %d: collateral flag without deposit", rid)
		}
	}
}

func snapshotOf(f *fixture) *state.Snapshot {
	return f.store.Snapshot()
}

func requireUnchanged(t *testing.T, before, after *state.Snapshot) {
	t.Helper()
	if !reflect.DeepEqual(before, after) {
		t.Fatal("state changed by a failed operation")
	}
}

func TestDepositEnableBorrowScenario(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)

	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)

	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(400), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	reserve, _ := f.store.ReserveByAsset("DOT")
	if reserve.TotalVariableBorrowed.Cmp(dot(400)) != 0 {
		t.Fatalf("total variable borrowed = %v, want %v", reserve.TotalVariableBorrowed, dot(400))
	}
	cfg, _ := f.store.Config(f.user)
	if !cfg.BorrowsVariable.Has(0) {
		t.Fatal("variable borrow bit not set")
	}
	f.checkMembership(t, f.user)

	// 1000 * 0.5 = 500 weighted collateral against 400 debt.
	summary, err := f.pool.ViewFreeCollateral(f.user)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !summary.IsHealthy() {
		t.Fatalf("expected healthy, free collateral %v", summary.FreeCollateral())
	}
	if want := mul(e(8), 100); summary.FreeCollateral().Cmp(want) != 0 {
		t.Fatalf("free collateral = %v, want %v", summary.FreeCollateral(), want)
	}

	// The borrowed 400 left the pool to the caller.
	last := f.transfer.calls[len(f.transfer.calls)-1]
	if last.pull || last.amount.Cmp(dot(400)) != 0 {
		t.Fatalf("unexpected final transfer %+v", last)
	}
}

func TestRedeemAllWhileSoleCollateralFails(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(400), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	before := snapshotOf(f)
	transfersBefore := len(f.transfer.calls)

	_, err := f.pool.Redeem(context.Background(), f.user, f.user, "DOT", nil)
	if !errors.Is(err, ErrInsufficientFreeCollateral) {
		t.Fatalf("expected InsufficientUserFreeCollateral, got %v", err)
	}

	requireUnchanged(t, before, snapshotOf(f))
	if len(f.transfer.calls) != transfersBefore {
		t.Fatal("failed redeem still moved assets")
	}
}

func TestRepayDefaultsToFullStableDebt(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(250), DebtStable); err != nil {
		t.Fatalf("stable borrow: %v", err)
	}

	repaid, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", nil, DebtStable)
	if err != nil {
		t.Fatalf("repay: %v", err)
	}
	if repaid.Cmp(dot(250)) != 0 {
		t.Fatalf("repaid %v, want %v", repaid, dot(250))
	}

	position, _ := f.store.Position(0, f.user)
	if position.StableBorrowed.Sign() != 0 {
		t.Fatalf("stable debt = %v after full repay", position.StableBorrowed)
	}
	if position.StableBorrowRate.Sign() != 0 {
		t.Fatal("personal rate should reset at zero debt")
	}
	cfg, _ := f.store.Config(f.user)
	if cfg.BorrowsStable.Has(0) {
		t.Fatal("stable borrow bit not cleared")
	}
	f.checkMembership(t, f.user)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t)

	if err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", dot(1)); !errors.Is(err, ErrAssetNotRegistered) {
		t.Fatalf("unregistered asset: %v", err)
	}

	f.registerDOT(t)
	if err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", nil); !errors.Is(err, ErrAmountRequired) {
		t.Fatalf("nil amount: %v", err)
	}
	if err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", big.NewInt(0)); !errors.Is(err, ErrAmountRequired) {
		t.Fatalf("zero amount: %v", err)
	}
}

func TestBorrowModeValidation(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)

	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(10), DebtUnspecified); !errors.Is(err, ErrUnspecifiedAction) {
		t.Fatalf("unspecified mode: %v", err)
	}
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(10), DebtMode(7)); !errors.Is(err, ErrUnspecifiedAction) {
		t.Fatalf("junk mode: %v", err)
	}
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", nil, DebtUnspecified); !errors.Is(err, ErrUnspecifiedAction) {
		t.Fatalf("repay unspecified mode: %v", err)
	}
}

func TestStableBorrowDisabled(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)

	reserve, _ := f.store.ReserveByAsset("DOT")
	params := reserve.Parameters
	params.StableBorrowEnabled = false
	if err := f.pool.SetReserveParameters(context.Background(), f.admin, "DOT", params); err != nil {
		t.Fatalf("set parameters: %v", err)
	}

	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(10), DebtStable); !errors.Is(err, ErrBorrowDisabled) {
		t.Fatalf("expected RuleBorrowDisable, got %v", err)
	}
}

func TestFrozenBlocksOpeningOnly(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(100), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	if err := f.pool.SetReserveIsFrozen(context.Background(), f.admin, "DOT", true); err != nil {
		t.Fatalf("freeze: %v", err)
	}

	if err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", dot(1)); !errors.Is(err, ErrReserveFrozen) {
		t.Fatalf("frozen deposit: %v", err)
	}
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(1), DebtVariable); !errors.Is(err, ErrReserveFrozen) {
		t.Fatalf("frozen borrow: %v", err)
	}
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", dot(50), DebtVariable); err != nil {
		t.Fatalf("frozen repay should pass: %v", err)
	}
	if _, err := f.pool.Redeem(context.Background(), f.user, f.user, "DOT", dot(100)); err != nil {
		t.Fatalf("frozen redeem should pass: %v", err)
	}
}

func TestInactiveBlocksEverything(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(100))

	if err := f.pool.SetReserveIsActive(context.Background(), f.admin, "DOT", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	if err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", dot(1)); !errors.Is(err, ErrReserveInactive) {
		t.Fatalf("inactive deposit: %v", err)
	}
	if _, err := f.pool.Redeem(context.Background(), f.user, f.user, "DOT", nil); !errors.Is(err, ErrReserveInactive) {
		t.Fatalf("inactive redeem: %v", err)
	}
}

func TestSupplyCeiling(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	if err := f.pool.SetReserveRestrictions(context.Background(), f.admin, "DOT", state.ReserveRestrictions{
		MaximalTotalSupply: dot(500),
		MinimalDebt:        big.NewInt(1),
	}); err != nil {
		t.Fatalf("restrictions: %v", err)
	}

	f.depositDOT(t, dot(400))
	before := snapshotOf(f)

	if err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", dot(200)); !errors.Is(err, ErrMaxSupplyReached) {
		t.Fatalf("expected MaxSupplyReached, got %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))
}

func TestDebtCeilingAndMinimalDebt(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	if err := f.pool.SetReserveRestrictions(context.Background(), f.admin, "DOT", state.ReserveRestrictions{
		MaximalTotalDebt: dot(300),
		MinimalDebt:      dot(10),
	}); err != nil {
		t.Fatalf("restrictions: %v", err)
	}
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)

	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(5), DebtVariable); !errors.Is(err, ErrMinimalDebt) {
		t.Fatalf("below minimal debt: %v", err)
	}
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(400), DebtVariable); !errors.Is(err, ErrMaxDebtReached) {
		t.Fatalf("above debt ceiling: %v", err)
	}
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(100), DebtVariable); err != nil {
		t.Fatalf("valid borrow: %v", err)
	}
}

func TestRepayOverpayRejected(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(100), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	before := snapshotOf(f)
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", dot(150), DebtVariable); !errors.Is(err, ErrAmountExceedsDebt) {
		t.Fatalf("expected AmountExceedsUserDebt, got %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))
}

func TestRedeemExceedingDepositRejected(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(100))

	if _, err := f.pool.Redeem(context.Background(), f.user, f.user, "DOT", dot(150)); !errors.Is(err, ErrAmountExceedsDeposit) {
		t.Fatalf("expected AmountExceedsUserDeposit, got %v", err)
	}
}

func TestRedeemAllClearsBits(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(100))
	f.enableCollateral(t)

	redeemed, err := f.pool.Redeem(context.Background(), f.user, f.user, "DOT", nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redeemed.Cmp(dot(100)) != 0 {
		t.Fatalf("redeemed %v, want %v", redeemed, dot(100))
	}

	cfg, _ := f.store.Config(f.user)
	if cfg.Deposits.Has(0) || cfg.Collaterals.Has(0) {
		t.Fatal("bits not cleared after full redeem")
	}
	f.checkMembership(t, f.user)
}

func TestStableRateBlendOnTopUp(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)

	// First tranche: 300 at 30% utilization. Curve ramp gives a base
	// of 6e14, plus the 25% stable premium: 7.5e14 (+1 blend bias).
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(300), DebtStable); err != nil {
		t.Fatalf("first stable borrow: %v", err)
	}
	position, _ := f.store.Position(0, f.user)
	wantFirst := new(big.Int).Add(mul(e(13), 75), fp.One)
	if position.StableBorrowRate.Cmp(wantFirst) != 0 {
		t.Fatalf("first rate = %v, want %v", position.StableBorrowRate, wantFirst)
	}

	// Second tranche: 100 at 40% utilization. Base 8e14, premium
	// 2e14, fresh rate 1e15. Weighted blend of 7.5e14+1 and 1e15 at
	// 3:1 plus the unit bias.
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(100), DebtStable); err != nil {
		t.Fatalf("second stable borrow: %v", err)
	}
	position, _ = f.store.Position(0, f.user)

	if position.StableBorrowed.Cmp(dot(400)) != 0 {
		t.Fatalf("stable principal = %v, want %v", position.StableBorrowed, dot(400))
	}
	want, _ := new(big.Int).SetString("812500000000001", 10)
	if position.StableBorrowRate.Cmp(want) != 0 {
		t.Fatalf("blended rate = %v, want %v", position.StableBorrowRate, want)
	}

	reserve, _ := f.store.ReserveByAsset("DOT")
	if reserve.SumStableDebt.Cmp(dot(400)) != 0 {
		t.Fatalf("sum stable debt = %v, want %v", reserve.SumStableDebt, dot(400))
	}

	// The reserve-wide average carries no unit bias: plain weighted
	// mean of the fresh rates, (300*7.5e14 + 100*1e15) / 400.
	wantAvg, _ := new(big.Int).SetString("812500000000000", 10)
	if reserve.AverageStableRate.Cmp(wantAvg) != 0 {
		t.Fatalf("average stable rate = %v, want %v", reserve.AverageStableRate, wantAvg)
	}
}

func TestStableRepayUnwindsAverageRate(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)

	for _, amount := range []*big.Int{dot(300), dot(100)} {
		if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", amount, DebtStable); err != nil {
			t.Fatalf("stable borrow %v: %v", amount, err)
		}
	}

	// Partial repay unwinds the tranche at the user's locked rate:
	// (400*avg - 100*(avg+1)) / 300 with avg = 8.125e14 floors to
	// avg - 1.
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", dot(100), DebtStable); err != nil {
		t.Fatalf("partial repay: %v", err)
	}
	reserve, _ := f.store.ReserveByAsset("DOT")
	if reserve.SumStableDebt.Cmp(dot(300)) != 0 {
		t.Fatalf("sum stable debt = %v, want %v", reserve.SumStableDebt, dot(300))
	}
	wantAvg, _ := new(big.Int).SetString("812499999999999", 10)
	if reserve.AverageStableRate.Cmp(wantAvg) != 0 {
		t.Fatalf("average after partial repay = %v, want %v", reserve.AverageStableRate, wantAvg)
	}

	// Emptying the stable pool zeroes the average with it.
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", nil, DebtStable); err != nil {
		t.Fatalf("full repay: %v", err)
	}
	reserve, _ = f.store.ReserveByAsset("DOT")
	if reserve.SumStableDebt.Sign() != 0 {
		t.Fatalf("sum stable debt after full repay = %v", reserve.SumStableDebt)
	}
	if reserve.AverageStableRate.Sign() != 0 {
		t.Fatalf("average stable rate after full repay = %v", reserve.AverageStableRate)
	}
}

func TestRepayLeavingDustRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.pool.RegisterAsset(context.Background(), f.admin, AssetRegistration{
		Asset:    "DOT",
		Decimals: 12,
		Parameters: state.ReserveParameters{
			RateModel:               testModel(),
			IncomeForSuppliersShare: 900_000,
			StableBorrowEnabled:     true,
		},
		Restrictions: state.ReserveRestrictions{
			MinimalDebt: dot(10),
		},
		DefaultRule: &state.AssetRule{CollateralCoefficient: coeff(500_000)},
	})
	if err != nil {
		t.Fatalf("register DOT: %v", err)
	}
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)

	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(50), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Repaying down to one base unit would leave dust under the floor.
	before := snapshotOf(f)
	almostAll := new(big.Int).Sub(dot(50), big.NewInt(1))
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", almostAll, DebtVariable); !errors.Is(err, ErrMinimalDebt) {
		t.Fatalf("dust repay: %v, want ErrMinimalDebt", err)
	}
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", dot(45), DebtVariable); !errors.Is(err, ErrMinimalDebt) {
		t.Fatalf("sub-floor repay: %v, want ErrMinimalDebt", err)
	}
	requireUnchanged(t, before, snapshotOf(f))

	// Landing exactly on the floor is allowed, as is clearing the debt.
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", dot(40), DebtVariable); err != nil {
		t.Fatalf("repay to floor: %v", err)
	}
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", nil, DebtVariable); err != nil {
		t.Fatalf("full repay: %v", err)
	}
	f.checkMembership(t, f.user)

	// The floor binds stable repayments the same way.
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(50), DebtStable); err != nil {
		t.Fatalf("stable borrow: %v", err)
	}
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", dot(45), DebtStable); !errors.Is(err, ErrMinimalDebt) {
		t.Fatalf("stable dust repay: %v, want ErrMinimalDebt", err)
	}
}

func TestBorrowInsolventRejectedAndRolledBack(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(100))
	f.enableCollateral(t)

	before := snapshotOf(f)
	// 0.5 * 100 = 50 weighted collateral cannot cover 60 debt.
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(60), DebtVariable); !errors.Is(err, ErrInsufficientFreeCollateral) {
		t.Fatalf("expected InsufficientUserFreeCollateral, got %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))
}

func TestBorrowWithMissingPriceFails(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	delete(f.oracle, "DOT")

	before := snapshotOf(f)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(100), DebtVariable); !errors.Is(err, ErrPriceMissing) {
		t.Fatalf("expected PriceMissing, got %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))
}

func TestDepositTransferFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)

	before := snapshotOf(f)
	f.transfer.fail = true
	err := f.pool.Deposit(context.Background(), f.user, f.user, "DOT", dot(10))
	if err == nil || KindOf(err) != KindExternal {
		t.Fatalf("expected external error, got %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))
}

func TestAccrualAppliesOverTime(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(500), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	f.clock.Advance(30 * 24 * time.Hour)

	// Any touch reconciles; repay 1 unit to force it.
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", big.NewInt(1), DebtVariable); err != nil {
		t.Fatalf("repay: %v", err)
	}

	reserve, _ := f.store.ReserveByAsset("DOT")
	if reserve.CumulativeDebtIndex.Cmp(fp.E18) <= 0 {
		t.Fatal("debt index did not grow")
	}
	if reserve.CumulativeDepositIndex.Cmp(fp.E18) <= 0 {
		t.Fatal("deposit index did not grow")
	}

	position, _ := f.store.Position(0, f.user)
	if position.VariableBorrowed.Cmp(dot(500)) <= 0 {
		t.Fatal("debt did not accrue interest")
	}
	if position.Supplied.Cmp(dot(1_000)) <= 0 {
		t.Fatal("supply did not accrue interest")
	}
	if reserve.ProtocolIncome.Sign() <= 0 {
		t.Fatal("protocol income did not accumulate")
	}
	f.checkMembership(t, f.user)
}

func TestSetAsCollateralRules(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)

	// No deposit yet.
	if err := f.pool.SetAsCollateral(context.Background(), f.user, "DOT", true); !errors.Is(err, ErrMinimalCollateral) {
		t.Fatalf("empty position enable: %v", err)
	}

	f.depositDOT(t, dot(100))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(40), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	before := snapshotOf(f)
	if err := f.pool.SetAsCollateral(context.Background(), f.user, "DOT", false); !errors.Is(err, ErrInsufficientFreeCollateral) {
		t.Fatalf("disabling sole collateral: %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))

	// After clearing the debt, disabling is free.
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", nil, DebtVariable); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.pool.SetAsCollateral(context.Background(), f.user, "DOT", false); err != nil {
		t.Fatalf("disable after repay: %v", err)
	}
}

func TestSetAsCollateralRequiresCoefficient(t *testing.T) {
	f := newFixture(t)
	// Register without a collateral coefficient in the default rule.
	_, err := f.pool.RegisterAsset(context.Background(), f.admin, AssetRegistration{
		Asset:    "USDC",
		Decimals: 6,
		Parameters: state.ReserveParameters{
			RateModel:               testModel(),
			IncomeForSuppliersShare: 900_000,
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.oracle["USDC"] = e(8)

	if err := f.pool.Deposit(context.Background(), f.user, f.user, "USDC", mul(e(6), 100)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.pool.SetAsCollateral(context.Background(), f.user, "USDC", true); !errors.Is(err, ErrCollateralDisabled) {
		t.Fatalf("expected RuleCollateralDisable, got %v", err)
	}
}

func TestMinimalCollateralOnRedeem(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	if err := f.pool.SetReserveRestrictions(context.Background(), f.admin, "DOT", state.ReserveRestrictions{
		MinimalCollateral: dot(50),
		MinimalDebt:       big.NewInt(1),
	}); err != nil {
		t.Fatalf("restrictions: %v", err)
	}
	f.depositDOT(t, dot(100))
	f.enableCollateral(t)

	// Leaving 30 under the 50 floor while flagged fails.
	if _, err := f.pool.Redeem(context.Background(), f.user, f.user, "DOT", dot(70)); !errors.Is(err, ErrMinimalCollateral) {
		t.Fatalf("expected MinimalCollateral, got %v", err)
	}
	// Redeeming everything is fine: the flag clears with the balance.
	if _, err := f.pool.Redeem(context.Background(), f.user, f.user, "DOT", nil); err != nil {
		t.Fatalf("full redeem: %v", err)
	}
}

func TestTransferDebtBetweenUsers(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	other := uuid.New()

	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(200), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	// Destination needs its own collateral to absorb the debt.
	if err := f.pool.Deposit(context.Background(), other, other, "DOT", dot(1_000)); err != nil {
		t.Fatalf("deposit other: %v", err)
	}
	if err := f.pool.SetAsCollateral(context.Background(), other, "DOT", true); err != nil {
		t.Fatalf("collateral other: %v", err)
	}

	// Only the registered debt token may move debt.
	if err := f.pool.TransferDebt(context.Background(), f.user, "DOT", f.user, other, dot(50)); !errors.Is(err, ErrCallerNotDebtToken) {
		t.Fatalf("wrong caller: %v", err)
	}

	if err := f.pool.TransferDebt(context.Background(), f.debtToken, "DOT", f.user, other, dot(50)); err != nil {
		t.Fatalf("transfer debt: %v", err)
	}

	fromPos, _ := f.store.Position(0, f.user)
	toPos, _ := f.store.Position(0, other)
	if fromPos.VariableBorrowed.Cmp(dot(150)) != 0 || toPos.VariableBorrowed.Cmp(dot(50)) != 0 {
		t.Fatalf("debt split %v / %v", fromPos.VariableBorrowed, toPos.VariableBorrowed)
	}
	f.checkMembership(t, f.user)
	f.checkMembership(t, other)
}

func TestTransferDebtInsolventDestinationRejected(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	other := uuid.New()

	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(200), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	before := snapshotOf(f)
	// The destination has no collateral at all.
	if err := f.pool.TransferDebt(context.Background(), f.debtToken, "DOT", f.user, other, dot(50)); !errors.Is(err, ErrInsufficientFreeCollateral) {
		t.Fatalf("expected InsufficientUserFreeCollateral, got %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))
}

func TestChooseMarketRule(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)

	if err := f.pool.ChooseMarketRule(context.Background(), f.user, 9); !errors.Is(err, ErrRuleNotFound) {
		t.Fatalf("unknown rule: %v", err)
	}

	// A stricter rule without a collateral coefficient for DOT.
	strictID, err := f.pool.AddMarketRule(context.Background(), f.admin, state.MarketRule{
		{BorrowCoefficient: coeff(1_500_000)},
	})
	if err != nil {
		t.Fatalf("add rule: %v", err)
	}

	f.depositDOT(t, dot(1_000))
	f.enableCollateral(t)
	if err := f.pool.Borrow(context.Background(), f.user, f.user, "DOT", dot(200), DebtVariable); err != nil {
		t.Fatalf("borrow: %v", err)
	}

	before := snapshotOf(f)
	if err := f.pool.ChooseMarketRule(context.Background(), f.user, strictID); !errors.Is(err, ErrInsufficientFreeCollateral) {
		t.Fatalf("expected InsufficientUserFreeCollateral, got %v", err)
	}
	requireUnchanged(t, before, snapshotOf(f))

	// Debt-free users may switch freely.
	if _, err := f.pool.Repay(context.Background(), f.user, f.user, "DOT", nil, DebtVariable); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if err := f.pool.ChooseMarketRule(context.Background(), f.user, strictID); err != nil {
		t.Fatalf("switch after repay: %v", err)
	}
	cfg, _ := f.store.Config(f.user)
	if cfg.MarketRuleID != strictID {
		t.Fatalf("rule id = %d, want %d", cfg.MarketRuleID, strictID)
	}
}

func TestOperationRecordsSequence(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(10))

	var seqs []int64
	var types []event.OperationType
	for len(f.persist) > 0 {
		rec := <-f.persist
		seqs = append(seqs, rec.Sequence)
		types = append(types, rec.Type)
	}

	if len(seqs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(seqs))
	}
	for i, s := range seqs {
		if s != int64(i+1) {
			t.Fatalf("sequence gap: %v", seqs)
		}
	}
	if types[0] != event.OpAssetRegistered || types[1] != event.OpDeposit {
		t.Fatalf("record types: %v", types)
	}
	if got := f.pool.Sequence(); got != 2 {
		t.Fatalf("Sequence() = %d, want 2", got)
	}
}

func TestNotifierReceivesDeltas(t *testing.T) {
	f := newFixture(t)
	f.registerDOT(t)
	f.depositDOT(t, dot(10))

	if len(f.notifier.notes) == 0 {
		t.Fatal("no balance notifications")
	}
	last := f.notifier.notes[len(f.notifier.notes)-1]
	if last.kind != TokenSupply || last.user != f.user || last.delta.Cmp(dot(10)) != 0 {
		t.Fatalf("unexpected notification %+v", last)
	}
}

func TestErrorClassification(t *testing.T) {
	if KindOf(ErrAmountExceedsDebt) != KindAmount {
		t.Fatal("wrong kind for amount error")
	}
	if !Retryable(ErrInsufficientFreeCollateral) {
		t.Fatal("solvency errors are retryable with a smaller amount")
	}
	if Retryable(ErrAssetNotRegistered) {
		t.Fatal("not-found errors are permanent")
	}
	wrapped := fmt.Errorf("handler: %w", ErrReserveFrozen)
	if !errors.Is(wrapped, ErrReserveFrozen) {
		t.Fatal("sentinel lost through wrapping")
	}
	if ReasonOf(wrapped) != "Frozen" {
		t.Fatalf("ReasonOf = %s", ReasonOf(wrapped))
	}
}
