package swap

import (
	"errors"
	"fmt"
)

var (
	// ErrTimelockViolation is returned when a claim or refund is
	// attempted outside of its valid time window.
	ErrTimelockViolation = errors.New("action attempted outside its " +
		"timelock window")

	// ErrHashMismatch is returned when a preimage does not hash to the
	// recorded hashlock. This never occurs in a correct flow, so every
	// occurrence is logged at alert level by the caller.
	ErrHashMismatch = errors.New("preimage doesn't match hashlock")

	// ErrAlreadyCompleted is returned on a double claim or refund
	// attempt. Callers treat it as an idempotent rejection, not a
	// crash.
	ErrAlreadyCompleted = errors.New("escrow already claimed or " +
		"refunded")

	// ErrResolverUnauthorized is returned when an inactive or unknown
	// resolver attempts to reserve or act on an order.
	ErrResolverUnauthorized = errors.New("resolver not registered or " +
		"not active")

	// ErrInsufficientCollateral is returned on registration below the
	// minimum bond.
	ErrInsufficientCollateral = errors.New("collateral below minimum " +
		"bond")

	// ErrChainUnavailable is returned on transient chain backend
	// failures. It is always retried with backoff and never surfaced
	// as a swap failure on first occurrence.
	ErrChainUnavailable = errors.New("chain backend unavailable")

	// ErrAtomicityAtRisk signals that the secret is already public but
	// the counter-leg claim cannot be confirmed within the remaining
	// time budget. This is the only error that must escalate to a
	// human operator.
	ErrAtomicityAtRisk = errors.New("secret revealed but counter-leg " +
		"claim unconfirmed")

	// ErrOrderNotFound is returned when an order id is unknown to the
	// store.
	ErrOrderNotFound = errors.New("order not found")

	// ErrEscrowNotFound is returned when an escrow id is unknown to a
	// ledger.
	ErrEscrowNotFound = errors.New("escrow not found")

	// ErrOrderTaken is the definitive rejection handed to a resolver
	// that lost the reservation race for an order.
	ErrOrderTaken = errors.New("order already reserved by another " +
		"resolver")
)

// ValidationError is returned for malformed parameters. It is always
// raised before any state mutation.
type ValidationError struct {
	// Field is the offending parameter.
	Field string

	// Reason describes why the parameter was rejected.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a new ValidationError for the given field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}

// IsRetryable reports whether err is transient and safe to retry with
// backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrChainUnavailable)
}
