package query

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Amounts travel as decimal strings: they are NUMERIC(78,0) in
// Postgres and big integers in the core, so int64 would truncate.

// ReserveResponse is one reserve's projected state.
type ReserveResponse struct {
	ReserveID             int16           `json:"reserve_id"`
	Asset                 string          `json:"asset"`
	Decimals              int16           `json:"decimals"`
	TotalSupplied         string          `json:"total_supplied"`
	TotalVariableBorrowed string          `json:"total_variable_borrowed"`
	SumStableDebt         string          `json:"sum_stable_debt"`
	AverageStableRate     string          `json:"average_stable_rate"`
	DepositIndex          string          `json:"deposit_index"`
	DebtIndex             string          `json:"debt_index"`
	DepositRate           string          `json:"deposit_rate"`
	VariableBorrowRate    string          `json:"variable_borrow_rate"`
	StableBorrowRate      string          `json:"stable_borrow_rate"`
	Active                bool            `json:"active"`
	Frozen                bool            `json:"frozen"`
	ProtocolIncome        string          `json:"protocol_income"`
	Parameters            json.RawMessage `json:"parameters"`
	Restrictions          json.RawMessage `json:"restrictions"`
	UpdatedAt             int64           `json:"updated_at"`
	AsOfSequence          int64           `json:"as_of_sequence"`
}

// UserReserveResponse is one user position in one reserve.
type UserReserveResponse struct {
	UserID           uuid.UUID `json:"user_id"`
	ReserveID        int16     `json:"reserve_id"`
	Supplied         string    `json:"supplied"`
	VariableBorrowed string    `json:"variable_borrowed"`
	StableBorrowed   string    `json:"stable_borrowed"`
	StableRate       string    `json:"stable_rate"`
	UpdatedAt        int64     `json:"updated_at"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// UserConfigResponse is a user's membership sets and chosen rule.
type UserConfigResponse struct {
	UserID       uuid.UUID       `json:"user_id"`
	MarketRuleID int64           `json:"market_rule_id"`
	Config       json.RawMessage `json:"config"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// MarketRuleResponse is one coefficient set.
type MarketRuleResponse struct {
	RuleID       int64           `json:"rule_id"`
	Rule         json.RawMessage `json:"rule"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

// OperationResponse is one entry in the operation log.
type OperationResponse struct {
	Sequence   int64     `json:"sequence"`
	Operation  string    `json:"operation"`
	Asset      string    `json:"asset,omitempty"`
	Caller     uuid.UUID `json:"caller"`
	OnBehalfOf uuid.UUID `json:"on_behalf_of"`
	Target     uuid.UUID `json:"target"`
	Amount     *string   `json:"amount,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	RuleID     int64     `json:"rule_id"`
	CreatedAt  int64     `json:"created_at"`
}

// IntegrityReport is the result of an operation-log integrity check.
type IntegrityReport struct {
	IsHealthy    bool    `json:"is_healthy"`
	SequenceGaps []int64 `json:"sequence_gaps,omitempty"`
	SnapshotLag  int64   `json:"snapshot_lag"`
}
