// internal/core/collaborators.go
package core

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the ledger's notion of now. It must never move
// backward; index advancement clamps negative elapsed time to zero
// anyway, but a backward clock would freeze accrual.
type Clock interface {
	Now() time.Time
}

// WallClock is the production clock.
type WallClock struct{}

func (WallClock) Now() time.Time { return time.Now() }

// PriceOracle yields e8 prices per whole asset unit. A missing price
// is reported as found=false and is a hard error for any evaluation
// touching the asset, never treated as zero.
type PriceOracle interface {
	PriceOf(asset string) (*big.Int, bool)
}

// AssetTransfer moves the underlying asset in and out of the pool.
// A transfer failure aborts the whole operation.
type AssetTransfer interface {
	Transfer(ctx context.Context, asset string, to uuid.UUID, amount *big.Int) error
	TransferFrom(ctx context.Context, asset string, from, to uuid.UUID, amount *big.Int) error
}

// TokenKind names which balance representation a delta belongs to.
type TokenKind string

const (
	TokenSupply       TokenKind = "supply"
	TokenVariableDebt TokenKind = "variable_debt"
	TokenStableDebt   TokenKind = "stable_debt"
)

// BalanceNotifier keeps external balance representations (the
// supply/debt wrapper tokens) in sync. It is called only after the
// operation has committed, asset transfer included; failed operations
// never notify.
type BalanceNotifier interface {
	NotifyBalanceDelta(token uuid.UUID, kind TokenKind, user uuid.UUID, delta *big.Int)
}

// NopNotifier is the explicit opt-out of balance notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyBalanceDelta(uuid.UUID, TokenKind, uuid.UUID, *big.Int) {}

// Role names understood by the administrative surface.
type Role string

const (
	RoleAssetListingAdmin Role = "ASSET_LISTING_ADMIN"
	RoleParametersAdmin   Role = "PARAMETERS_ADMIN"
	RoleEmergencyAdmin    Role = "EMERGENCY_ADMIN"
	RoleGlobalAdmin       Role = "GLOBAL_ADMIN"
	RoleTreasury          Role = "TREASURY"
)

// AccessControl gates administrative mutators. The global admin role
// implies every other role.
type AccessControl interface {
	HasRole(role Role, caller uuid.UUID) bool
}

// RoleTable is a static AccessControl backed by per-role member
// lists, enough for deployments without an external authority.
type RoleTable map[Role][]uuid.UUID

func (t RoleTable) HasRole(role Role, caller uuid.UUID) bool {
	for _, id := range t[role] {
		if id == caller {
			return true
		}
	}
	return false
}

// PoolIdentity is the address assets are pulled into and paid out of.
// The zero UUID works for transfer backends that key the pool
// implicitly.
var PoolIdentity = uuid.Nil
