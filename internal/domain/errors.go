package domain

import "errors"

// Error categories. Every error returned by the services unwraps to exactly
// one of these, so transports can classify failures with errors.Is.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrExternalService      = errors.New("external service error")
	ErrInvalidLocationToken = errors.New("invalid location token")
	ErrRateLimited          = errors.New("rate limited")
	ErrLockHeld             = errors.New("lock already held")
)

// Specific failures, each tied to its category.
var (
	ErrInvalidAmount   = kindError(ErrValidation, "invalid amount")
	ErrInvalidPrice    = kindError(ErrValidation, "invalid price")
	ErrInvalidDuration = kindError(ErrValidation, "invalid duration")
	ErrInvalidAddress  = kindError(ErrValidation, "invalid wallet address")
	ErrMissingLocation = kindError(ErrValidation, "location token unknown")
	ErrBidTooLow       = kindError(ErrValidation, "bid too low")

	ErrOrderNotFound   = kindError(ErrNotFound, "order not found")
	ErrAuctionNotFound = kindError(ErrNotFound, "auction not found")
	ErrUserNotFound    = kindError(ErrNotFound, "user not found")

	ErrNotOwner       = kindError(ErrForbidden, "caller does not own the order")
	ErrNotSeller      = kindError(ErrForbidden, "caller is not the auction seller")
	ErrUnknownAccount = kindError(ErrForbidden, "no signing key for account")
	ErrNotLedgerOwner = kindError(ErrForbidden, "caller is not the ledger owner")

	ErrEscrowFailed      = kindError(ErrConflict, "escrow failed")
	ErrOrderInactive     = kindError(ErrConflict, "order inactive")
	ErrAuctionFinalized  = kindError(ErrConflict, "auction finalized")
	ErrAuctionEnded      = kindError(ErrConflict, "auction ended")
	ErrTooEarly          = kindError(ErrConflict, "auction has not ended")
	ErrAlreadyFinalized  = kindError(ErrConflict, "auction already finalized")
	ErrModeClosed        = kindError(ErrConflict, "operation not admitted in current market mode")
	ErrWindowClosed      = kindError(ErrConflict, "auction window closed")
	ErrDuplicateIdentity = kindError(ErrConflict, "identity already registered")
	ErrDuplicateWallet   = kindError(ErrConflict, "wallet address already registered")
	ErrInsufficientFunds = kindError(ErrConflict, "insufficient funds")
	ErrLedgerRejected    = kindError(ErrConflict, "ledger rejected the transaction")

	ErrInvalidCredentials = kindError(ErrUnauthorized, "invalid credentials")

	ErrCapacityCheckUnavailable = kindError(ErrExternalService, "capacity check unavailable")
)

type categorized struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &categorized{kind: kind, msg: msg}
}

func (e *categorized) Error() string { return e.msg }

func (e *categorized) Unwrap() error { return e.kind }
