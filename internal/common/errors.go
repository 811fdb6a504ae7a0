// Package common defines shared constants and sentinel errors used across
// the lease engine, its adapters and the operator client. Callers should use
// errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Lease state machine precondition violated (resource not in the expected state).
	ErrConflict = errors.New("conflict")

	// ErrRotationFailure is returned when the identity provider did not confirm
	// a credential change.
	ErrRotationFailure = errors.New("rotation failure")

	// ErrTimeout wraps ErrRotationFailure so that a timed-out rotation is
	// handled exactly like any other failed rotation.
	ErrTimeout = fmt.Errorf("rotation timeout: %w", ErrRotationFailure)

	// ErrMissingCapability is returned when the provider could not issue the
	// auxiliary API credential needed for the change call.
	ErrMissingCapability = fmt.Errorf("missing api capability: %w", ErrRotationFailure)

	// Ledger idempotency hit; callers treat it as already applied.
	ErrDuplicateReference = errors.New("duplicate external reference")

	// Master key absent or of the wrong length.
	ErrCryptoUnavailable = errors.New("crypto unavailable")

	// Validation errors.
	ErrValidation    = errors.New("validation error")
	ErrLeaseTooLong  = errors.New("requested lease exceeds resource maximum")
	ErrUnknownPlan   = errors.New("unknown subscription plan")
	ErrBadCurrency   = errors.New("unsupported currency")
	ErrAmountTooLow  = errors.New("amount below minimum")
	ErrMalformedSeed = errors.New("malformed shared seed")

	// Balance-specific errors.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// Service-level errors.
	ErrorUnauthorized = errors.New("unauthorized")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
