package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Checkout / reconciliation errors
	ErrInvalidSwitch         = errors.New("switch preconditions not met")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrGatewayDeclined       = errors.New("payment declined by gateway")
	ErrConflictingTransition = errors.New("evidence conflicts with current purchase state")
	ErrStaleEvidence         = errors.New("evidence already applied")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrCheckoutLocked        = errors.New("another checkout is in progress for this feature")
	ErrInvalidTransition     = errors.New("invalid purchase status transition")
)
