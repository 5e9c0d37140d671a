package apperrors

import "errors"

// Kind sentinels. Every specific error below matches exactly one of these
// through errors.Is, so callers can branch on the category alone.
var (
	ErrValidation = errors.New("validation error")
	ErrState      = errors.New("state error")
	ErrSolvency   = errors.New("solvency error")
	ErrVenueData  = errors.New("venue data error")
)

// Error is a specific failure tagged with its kind
type Error struct {
	kind error
	msg  string
}

func newError(kind error, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Is matches the kind sentinel; identity with the specific sentinel is
// handled by errors.Is itself.
func (e *Error) Is(target error) bool { return target == e.kind }

// Kind returns the kind sentinel this error belongs to
func (e *Error) Kind() error { return e.kind }

// Validation errors
var (
	ErrOverflow        = newError(ErrValidation, "decimal overflow")
	ErrScale           = newError(ErrValidation, "decimal scale out of range")
	ErrDivisionByZero  = newError(ErrValidation, "division by zero")
	ErrNegativeValue   = newError(ErrValidation, "negative value")
	ErrInvalidEncoding = newError(ErrValidation, "invalid encoding")
	ErrInvalidAmount   = newError(ErrValidation, "amount must be positive")
	ErrSlotOutOfRange  = newError(ErrValidation, "utp slot out of range")
	ErrUnknownVenue    = newError(ErrValidation, "unknown venue kind")
	ErrVenueMismatch   = newError(ErrValidation, "slot config does not match venue")
	ErrInvalidConfig   = newError(ErrValidation, "invalid group configuration")
	ErrClockSkew       = newError(ErrValidation, "timestamp before last update")
	ErrSelfLiquidation = newError(ErrValidation, "liquidator and liquidatee are the same account")
	ErrInvalidAddress  = newError(ErrValidation, "invalid address")
)

// State errors
var (
	ErrAlreadyActive           = newError(ErrState, "utp slot already active")
	ErrNotActive               = newError(ErrState, "utp slot not active")
	ErrGroupPaused             = newError(ErrState, "margin group paused")
	ErrUnauthorized            = newError(ErrState, "signer is not the group admin")
	ErrLiquidatorHasActiveUtps = newError(ErrState, "liquidator has active utps")
	ErrStaleIntent             = newError(ErrState, "intent expected version is stale")
	ErrAccountNotFound         = newError(ErrState, "account not found")
)

// Solvency errors
var (
	ErrDepositLimitExceeded   = newError(ErrSolvency, "account deposit limit exceeded")
	ErrInsufficientMargin     = newError(ErrSolvency, "insufficient margin")
	ErrInsufficientLiquidity  = newError(ErrSolvency, "insufficient bank liquidity")
	ErrInsufficientFunds      = newError(ErrSolvency, "insufficient liquidator funds")
	ErrRebalanceBoundExceeded = newError(ErrSolvency, "amount exceeds rebalance bound")
	ErrOpenExposure           = newError(ErrSolvency, "utp has open exposure")
	ErrAccountNotLiquidatable = newError(ErrSolvency, "account cannot be liquidated")
	ErrAccountNotBankrupt     = newError(ErrSolvency, "account is not bankrupt")
	ErrNoLiquidatableVenue    = newError(ErrSolvency, "no liquidatable venue within liquidator balance")
)

// Venue data errors
var (
	ErrInvalidVenueData = newError(ErrVenueData, "invalid venue data")
	ErrIndeterminate    = newError(ErrVenueData, "account health indeterminate")
)

// KindOf returns a short label for the error's kind, for logs and metric labels
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrSolvency):
		return "solvency"
	case errors.Is(err, ErrVenueData):
		return "venue_data"
	default:
		return "internal"
	}
}
