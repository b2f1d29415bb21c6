/*
errors.go - Centralized error types for the rewards engine

PURPOSE:
  All error kinds in one place so collaborators (HTTP layer, purchase hook,
  admin tooling) can tell "already done" from "not allowed" from
  "transient, retry".

ERROR CATEGORIES:
  1. Rejections   - AlreadyClaimed, InsufficientBalance, InvalidAmount,
                    DuplicateIdempotencyKey, InvalidCommand
  2. Authorization - UnauthorizedAdjustment (fatal to the request)
  3. Contention   - ProfileLockTimeout, ConcurrentModification (retryable)

GUARANTEE:
  Every error returned from a ledger mutation means nothing was committed.

USAGE:
    if errors.Is(err, generic.ErrAlreadyClaimed) {
        // render "come back tomorrow"
    }
    var ib *generic.InsufficientBalanceError
    if errors.As(err, &ib) {
        fmt.Println(ib.Shortfall())
    }

SEE ALSO:
  - ledger.go: Produces these errors
  - api/handlers.go: Maps them to HTTP statuses
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyClaimed is returned when a user claims twice on the same
	// calendar day. Callers treat it as "already done", not as a failure.
	ErrAlreadyClaimed = errors.New("daily reward already claimed")

	// ErrInsufficientBalance is returned when a debit would drive a balance
	// below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for a zero delta, or a non-positive amount
	// where a positive one is required.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrProfileLockTimeout is returned when the per-user lock could not be
	// acquired in time. Nothing was mutated; safe to retry.
	ErrProfileLockTimeout = errors.New("profile lock timeout")

	// ErrConcurrentModification is returned when the store detects a
	// conflicting writer. Nothing was mutated; safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrUnauthorizedAdjustment is returned when the caller of an admin
	// adjustment is not an administrator.
	ErrUnauthorizedAdjustment = errors.New("unauthorized adjustment")

	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. Expected for replayed hooks.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrInvalidCommand is returned for an unknown admin action or an invalid
	// command payload (unknown tier, unknown ledger kind).
	ErrInvalidCommand = errors.New("invalid command")

	// ErrUserRequired is returned when an operation is called without a user.
	ErrUserRequired = errors.New("user id required")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Kind      Kind
	Available int64
	Requested int64 // absolute value of the debit
}

func (e *InsufficientBalanceError) Shortfall() int64 { return e.Requested - e.Available }

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: available %d, requested %d, shortfall %d",
		e.Kind, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrProfileLockTimeout)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyClaimed) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrUnauthorizedAdjustment)
}

// Reason returns a stable snake_case label for err, suitable for metrics
// labels and API error codes.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrProfileLockTimeout):
		return "lock_timeout"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrUnauthorizedAdjustment):
		return "unauthorized"
	case errors.Is(err, ErrDuplicateIdempotencyKey):
		return "duplicate"
	case errors.Is(err, ErrInvalidCommand):
		return "invalid_command"
	case errors.Is(err, ErrUserRequired):
		return "user_required"
	}
	return "internal"
}
