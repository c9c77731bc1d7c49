// internal/event/record.go
package event

import (
	"math/big"
	"time"

	"github.com/google/uuid"
)

// OperationType discriminates operation-log records.
type OperationType int32

const (
	OpUnknown OperationType = iota
	OpDeposit
	OpRedeem
	OpBorrow
	OpRepay
	OpCollateralEnabled
	OpCollateralDisabled
	OpDebtTransfer
	OpMarketRuleChosen
	OpAssetRegistered
	OpReserveActiveSet
	OpReserveFrozenSet
	OpReserveRestrictionsSet
	OpReserveParametersSet
	OpMarketRuleAdded
	OpAssetRuleModified
	OpIncomeTaken
)

func (t OperationType) String() string {
	switch t {
	case OpDeposit:
		return "Deposit"
	case OpRedeem:
		return "Redeem"
	case OpBorrow:
		return "Borrow"
	case OpRepay:
		return "Repay"
	case OpCollateralEnabled:
		return "CollateralEnabled"
	case OpCollateralDisabled:
		return "CollateralDisabled"
	case OpDebtTransfer:
		return "DebtTransfer"
	case OpMarketRuleChosen:
		return "MarketRuleChosen"
	case OpAssetRegistered:
		return "AssetRegistered"
	case OpReserveActiveSet:
		return "ReserveActiveSet"
	case OpReserveFrozenSet:
		return "ReserveFrozenSet"
	case OpReserveRestrictionsSet:
		return "ReserveRestrictionsSet"
	case OpReserveParametersSet:
		return "ReserveParametersSet"
	case OpMarketRuleAdded:
		return "MarketRuleAdded"
	case OpAssetRuleModified:
		return "AssetRuleModified"
	case OpIncomeTaken:
		return "IncomeTaken"
	default:
		return "Unknown"
	}
}

// OperationRecord is one committed operation in the append-only log.
// Records are emitted only after the ledger mutation and any external
// transfer succeeded; a failed operation leaves no record.
type OperationRecord struct {
	// Global monotonic sequence assigned by the pool engine.
	Sequence int64 `json:"sequence"`

	Type OperationType `json:"type"`

	// Asset symbol; empty for rule-level operations.
	Asset string `json:"asset,omitempty"`

	Caller     uuid.UUID `json:"caller"`
	OnBehalfOf uuid.UUID `json:"on_behalf_of"`

	// Counterparty of a debt transfer, zero otherwise.
	Target uuid.UUID `json:"target,omitempty"`

	// Amount actually applied (post-defaulting); nil when the
	// operation carries no amount.
	Amount *big.Int `json:"amount,omitempty"`

	// "variable" or "stable" for borrow/repay, empty otherwise.
	Mode string `json:"mode,omitempty"`

	RuleID uint32 `json:"rule_id,omitempty"`

	// Ledger time the operation was applied at.
	Timestamp time.Time `json:"timestamp"`
}

func (r *OperationRecord) TypeName() string {
	return r.Type.String()
}
