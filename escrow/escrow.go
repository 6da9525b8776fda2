// Package escrow defines the hash time locked escrow state machine
// that both ledgers of a swap must implement identically, along with
// the Ledger interface the coordinator drives it through.
package escrow

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/xswaplabs/xswap/swap"
)

const (
	// MinDuration is the minimum distance of an escrow timelock from
	// the current time.
	MinDuration = time.Hour

	// MaxDuration is the maximum distance of an escrow timelock from
	// the current time.
	MaxDuration = 7 * 24 * time.Hour
)

// State indicates the stored state of an escrow. Expiry is not a
// stored state but a derived view, see Escrow.Expired.
type State uint8

const (
	// StatePending means the lock transaction exists but has not
	// reached its confirmation depth yet.
	StatePending State = 0

	// StateActive means the locked value is in custody and claimable.
	StateActive State = 1

	// StateClaimed means the value was released to the recipient. The
	// revealing preimage is persisted in the escrow record.
	StateClaimed State = 2

	// StateRefunded means the value was returned to the depositor
	// after the timelock expired.
	StateRefunded State = 3
)

// String returns a human readable representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"

	case StateActive:
		return "Active"

	case StateClaimed:
		return "Claimed"

	case StateRefunded:
		return "Refunded"

	default:
		return "Unknown"
	}
}

// Escrow is the full state of a single escrow record as exposed by
// GetState.
type Escrow struct {
	// ID is the ledger assigned escrow reference.
	ID swap.EscrowID

	// Chain is the ledger this escrow lives on.
	Chain swap.Chain

	// Depositor is the party that locked the value and may refund it
	// after the timelock.
	Depositor string

	// Recipient is the only party allowed to claim the value with the
	// preimage.
	Recipient string

	// Token is the locked asset.
	Token string

	// Amount is the locked value.
	Amount swap.Amount

	// Hashlock is the digest the claim preimage must hash to.
	Hashlock lntypes.Hash

	// Timelock is the deadline after which the escrow reverts to
	// refundable.
	Timelock time.Time

	// State is the stored escrow state.
	State State

	// Preimage is set once the escrow is claimed. Persisting it here
	// is what makes the secret discoverable by the other chain.
	Preimage *lntypes.Preimage

	// CreatedAt is the lock time.
	CreatedAt time.Time

	// ClaimedAt is the claim time, zero unless claimed.
	ClaimedAt time.Time

	// RefundedAt is the refund time, zero unless refunded.
	RefundedAt time.Time
}

// Expired reports whether the escrow is past its timelock while still
// unclaimed. It is a read-only view derived from the active state, not
// a stored state of its own.
func (e *Escrow) Expired(now time.Time) bool {
	return e.State == StateActive && !now.Before(e.Timelock)
}

// LockParams are the parameters of a new escrow lock.
type LockParams struct {
	// Depositor is the funding party.
	Depositor string

	// Recipient is the claiming party.
	Recipient string

	// Token is the asset to lock.
	Token string

	// Amount is the value to lock.
	Amount swap.Amount

	// Hashlock is the claim digest.
	Hashlock lntypes.Hash

	// Timelock is the refund deadline.
	Timelock time.Time
}

// Ledger is the escrow contract surface the coordinator drives on each
// chain. Implementations transfer value into custody atomically with
// record creation and never retry internally: idempotence is the
// caller's responsibility via unique escrow ids per swap leg.
type Ledger interface {
	// Lock creates and funds a new escrow. It rejects zero amounts,
	// zero hashlocks and timelocks outside the valid window.
	Lock(ctx context.Context, params *LockParams) (swap.EscrowID, error)

	// Claim releases the value to the recipient. It succeeds iff the
	// escrow is active, the timelock has not passed, the preimage
	// hashes to the hashlock and the caller is the recipient.
	Claim(ctx context.Context, id swap.EscrowID, caller string,
		preimage lntypes.Preimage) error

	// Refund returns the value to the depositor. It succeeds iff the
	// escrow is active, the timelock has passed and the caller is the
	// depositor.
	Refund(ctx context.Context, id swap.EscrowID, caller string) error

	// GetState returns the current escrow record. It never mutates.
	GetState(ctx context.Context, id swap.EscrowID) (*Escrow, error)
}

// validateLock checks the lock parameters against the escrow rules.
func validateLock(params *LockParams, now time.Time) error {
	if params.Amount <= 0 {
		return swap.NewValidationError("amount", "must be positive")
	}

	var zeroHash lntypes.Hash
	if params.Hashlock == zeroHash {
		return swap.NewValidationError("hashlock", "must be non-zero")
	}

	if params.Recipient == "" {
		return swap.NewValidationError("recipient", "must be set")
	}

	if params.Timelock.Before(now.Add(MinDuration)) {
		return swap.NewValidationError(
			"timelock", "closer than the minimum duration",
		)
	}

	if params.Timelock.After(now.Add(MaxDuration)) {
		return swap.NewValidationError(
			"timelock", "further than the maximum duration",
		)
	}

	return nil
}
