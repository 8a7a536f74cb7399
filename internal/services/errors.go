package services

import "errors"

// Error taxonomy shared by the escrow service and its handlers. Handlers map
// these to HTTP statuses; callers detect them with errors.Is.
var (
	// ErrValidation marks malformed or out-of-range input. The operation is
	// blocked before any side effect.
	ErrValidation = errors.New("validation failed")

	// ErrStateConflict marks a transition attempted from an unexpected
	// current status, including replays of already-applied transitions.
	ErrStateConflict = errors.New("state conflict")

	// ErrNotFound marks a missing conversation, transaction, or product.
	ErrNotFound = errors.New("not found")

	// ErrExternalService marks a payment-processor or notification failure.
	// Recoverable: the transaction never advances on failure and the caller
	// may retry or fall back to manual setup.
	ErrExternalService = errors.New("external service failure")

	// ErrForbidden marks an actor who is not authorized for the operation
	// (wrong party, or not a party at all).
	ErrForbidden = errors.New("forbidden")
)
