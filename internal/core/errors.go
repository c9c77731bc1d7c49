// internal/core/errors.go
package core

import (
	"errors"
	"fmt"

	fp "LendLedger/internal/math"
)

// ErrorKind buckets every failure an entry point can return, so
// callers can tell retryable user errors from permanent ones.
type ErrorKind string

const (
	KindNotFound   ErrorKind = "not_found"
	KindState      ErrorKind = "state"
	KindAmount     ErrorKind = "amount"
	KindSolvency   ErrorKind = "solvency"
	KindMode       ErrorKind = "mode"
	KindOracle     ErrorKind = "oracle"
	KindArithmetic ErrorKind = "arithmetic"
	KindAccess     ErrorKind = "access"
	KindExternal   ErrorKind = "external"
	KindInternal   ErrorKind = "internal"
)

var (
	ErrAssetNotRegistered         = &Error{Kind: KindNotFound, Reason: "AssetNotRegistered"}
	ErrRuleNotFound               = &Error{Kind: KindNotFound, Reason: "MarketRuleNotFound"}
	ErrAssetRuleNotFound          = &Error{Kind: KindNotFound, Reason: "AssetRuleNotFound"}
	ErrPositionNotFound           = &Error{Kind: KindNotFound, Reason: "PositionNotFound"}
	ErrAlreadyRegistered          = &Error{Kind: KindState, Reason: "AlreadyRegistered"}
	ErrMaxReservesReached         = &Error{Kind: KindState, Reason: "MaxReservesReached"}
	ErrReserveInactive            = &Error{Kind: KindState, Reason: "Inactive"}
	ErrReserveFrozen              = &Error{Kind: KindState, Reason: "Frozen"}
	ErrInvalidRule                = &Error{Kind: KindState, Reason: "InvalidRule"}
	ErrAmountRequired             = &Error{Kind: KindAmount, Reason: "AmountRequired"}
	ErrAmountExceedsDebt          = &Error{Kind: KindAmount, Reason: "AmountExceedsUserDebt"}
	ErrAmountExceedsDeposit       = &Error{Kind: KindAmount, Reason: "AmountExceedsUserDeposit"}
	ErrMinimalDebt                = &Error{Kind: KindAmount, Reason: "MinimalDebt"}
	ErrMinimalCollateral          = &Error{Kind: KindAmount, Reason: "MinimalCollateral"}
	ErrMaxSupplyReached           = &Error{Kind: KindAmount, Reason: "MaxSupplyReached"}
	ErrMaxDebtReached             = &Error{Kind: KindAmount, Reason: "MaxDebtReached"}
	ErrInsufficientFreeCollateral = &Error{Kind: KindSolvency, Reason: "InsufficientUserFreeCollateral"}
	ErrCollateralDisabled         = &Error{Kind: KindSolvency, Reason: "RuleCollateralDisable"}
	ErrBorrowDisabled             = &Error{Kind: KindSolvency, Reason: "RuleBorrowDisable"}
	ErrUnspecifiedAction          = &Error{Kind: KindMode, Reason: "UnspecifiedAction"}
	ErrPriceMissing               = &Error{Kind: KindOracle, Reason: "PriceMissing"}
	ErrMathUnderflow              = &Error{Kind: KindArithmetic, Reason: "Underflow"}
	ErrAccessDenied               = &Error{Kind: KindAccess, Reason: "MissingRole"}
	ErrCallerNotDebtToken         = &Error{Kind: KindAccess, Reason: "CallerNotDebtToken"}
)

// Error is the discriminated failure every entry point returns.
type Error struct {
	Kind   ErrorKind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.cause)
	}
	return e.Reason
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on kind and reason so the sentinel values above work
// with errors.Is even when a cause is attached.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Reason == t.Reason
}

// withCause attaches context to a sentinel without losing identity.
func withCause(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Reason: sentinel.Reason, cause: cause}
}

// externalErr wraps a collaborator failure.
func externalErr(op string, cause error) *Error {
	return &Error{Kind: KindExternal, Reason: op, cause: cause}
}

// underflowErr maps a checked-subtraction failure onto the caller's
// "amount exceeds balance" sentinel; any other arithmetic failure
// keeps its own kind.
func underflowErr(err error, sentinel *Error) *Error {
	if errors.Is(err, fp.ErrUnderflow) {
		return sentinel
	}
	return withCause(ErrMathUnderflow, err)
}

// KindOf extracts the kind of an error returned by this package;
// unknown errors map to KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf extracts the stable reason label, used by metrics and the
// HTTP layer. Unknown errors report "Internal".
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "Internal"
}

// Retryable reports whether the caller could plausibly succeed by
// adjusting the request (smaller amount, different mode) rather than
// the system state.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindAmount, KindSolvency, KindOracle, KindExternal:
		return true
	}
	return false
}
