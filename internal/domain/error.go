package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound          = errors.New("entity not found")
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrInvalidTierConfig = errors.New("invalid tier configuration")
	ErrInvoiceFinalized  = errors.New("invoice is finalized")
	ErrPaymentInFlight   = errors.New("payment attempt already in flight")
	ErrLockNotAcquired   = errors.New("could not acquire lock")

	// Infra-side errors surfaced through repositories
	ErrInvalidExecContext = errors.New("invalid executor context")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
)
