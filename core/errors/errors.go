package errors

import stderrors "errors"

// Kind classifies market failures for callers that map them onto transport
// status codes.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindEconomic
	KindCapacity
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindEconomic:
		return "economic"
	case KindCapacity:
		return "capacity"
	case KindState:
		return "state"
	default:
		return "internal"
	}
}

// Error is a classified sentinel. Packages wrap it with fmt.Errorf("...: %w")
// and callers recover it with errors.Is or KindOf.
type Error struct {
	kind Kind
	msg  string
}

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string { return e.msg }

// Kind returns the failure class.
func (e *Error) Kind() Kind { return e.kind }

// KindOf returns the class of the first classified error in err's chain.
// Unclassified errors are internal.
func KindOf(err error) Kind {
	var classified *Error
	if stderrors.As(err, &classified) {
		return classified.kind
	}
	return KindInternal
}

// Validation failures.
var (
	ErrIllegalRequest         = newError(KindValidation, "illegal request")
	ErrNotOwner               = newError(KindValidation, "caller is not the owner")
	ErrNotTenant              = newError(KindValidation, "caller is not the tenant")
	ErrUnauthorized           = newError(KindValidation, "caller not authorized")
	ErrInvalidAmount          = newError(KindValidation, "amount must be positive")
	ErrResourceNotFound       = newError(KindValidation, "resource not found")
	ErrOrderNotFound          = newError(KindValidation, "order not found")
	ErrAgreementNotFound      = newError(KindValidation, "agreement not found")
	ErrStakingAccountNotFound = newError(KindValidation, "staking account not found")
	ErrRewardTaskNotFound     = newError(KindValidation, "reward task not found")
	ErrNoStakingAccount       = newError(KindValidation, "caller has no staking account")
	ErrUnknownVariant         = newError(KindValidation, "unknown reward variant")
	ErrUnknownModule          = newError(KindValidation, "unknown module")
)

// Economic failures.
var (
	ErrInsufficientActive  = newError(KindEconomic, "insufficient active stake")
	ErrInsufficientLocked  = newError(KindEconomic, "insufficient locked stake")
	ErrInsufficientStake   = newError(KindEconomic, "insufficient stake")
	ErrInsufficientBalance = newError(KindEconomic, "insufficient balance")
	ErrExistentialDeposit  = newError(KindEconomic, "balance below existential minimum")
	ErrNothingToWithdraw   = newError(KindEconomic, "nothing to withdraw")
)

// Capacity failures.
var (
	ErrCapacityExceeded = newError(KindCapacity, "capacity exceeded")
)

// State failures.
var (
	ErrResourceHasBeenRented = newError(KindState, "resource has been rented")
	ErrResourceBusy          = newError(KindState, "resource is busy")
	ErrResourceNotLocked     = newError(KindState, "resource is not locked")
	ErrExceedsResourceExpiry = newError(KindState, "rental exceeds resource expiry")
	ErrOrderNotPending       = newError(KindState, "order is not pending")
	ErrAlreadyPunished       = newError(KindState, "agreement is not in use")
	ErrAgreementNotPunished  = newError(KindState, "agreement is not punished")
	ErrModulePaused          = newError(KindState, "module paused")
)
