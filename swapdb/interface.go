// Package swapdb persists orders, secrets and resolver records in a
// bolt database. The store is the single source of truth: every
// component reads and writes through it rather than holding private
// in-memory copies, and the order reservation and status transitions
// are enforced inside the store's transactions so the single-writer
// discipline holds even across process restarts.
package swapdb

import (
	"context"
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/xswaplabs/xswap/swap"
)

var (
	// ErrOrderExists is returned when creating an order whose id is
	// already present.
	ErrOrderExists = errors.New("order already exists")

	// ErrInvalidTransition is returned when a status update does not
	// form a legal edge from the persisted status.
	ErrInvalidTransition = errors.New("illegal status transition")

	// ErrResolverExists is returned when registering an address that
	// already has a resolver record.
	ErrResolverExists = errors.New("resolver already registered")

	// ErrResolverNotFound is returned when a resolver address is
	// unknown.
	ErrResolverNotFound = errors.New("resolver not found")

	// ErrSecretNotFound is returned when no secret record exists for
	// an order.
	ErrSecretNotFound = errors.New("secret not found")
)

// Leg identifies one of the two escrow legs of a swap.
type Leg uint8

const (
	// LegSource is the source chain leg.
	LegSource Leg = 0

	// LegDest is the destination chain leg.
	LegDest Leg = 1
)

// Secret is the stored secret record of an order. The encrypted
// preimage exists before any escrow is funded; the reveal fields are
// set exactly once, from an observed on-chain reveal.
type Secret struct {
	// OrderID ties the secret to its order.
	OrderID swap.OrderID

	// EncryptedPreimage is the preimage ciphertext at rest.
	EncryptedPreimage []byte

	// Hashlock is the sha256 digest of the plaintext preimage.
	Hashlock lntypes.Hash

	// RevealedAt is the observed reveal time, zero until revealed.
	RevealedAt time.Time

	// RevealedBy is the address that revealed the preimage on chain.
	RevealedBy string

	// RevealTxRef is the transaction the reveal was observed in.
	RevealTxRef swap.TxRef
}

// Revealed reports whether the reveal fields have been set.
func (s *Secret) Revealed() bool {
	return !s.RevealedAt.IsZero()
}

// Resolver is the registry record of an authorized filler.
type Resolver struct {
	// Address is the resolver's on-chain address and registry key.
	Address string

	// Collateral is the posted bond. It only decreases through an
	// explicit withdrawal after deactivation.
	Collateral swap.Amount

	// IsActive gates whether the coordinator may match orders to this
	// resolver.
	IsActive bool

	// TotalSwaps counts every recorded outcome.
	TotalSwaps uint64

	// SuccessfulSwaps counts the successful outcomes.
	SuccessfulSwaps uint64

	// ReputationRef points at an external reputation record.
	ReputationRef string

	// RegisteredAt is the registration time.
	RegisteredAt time.Time
}

// Stats are the aggregate order counters kept in the meta bucket.
type Stats struct {
	// OrdersCreated counts all orders ever created.
	OrdersCreated uint64

	// OrdersCompleted counts orders that reached the completed state.
	OrdersCompleted uint64
}

// Store is the persistence contract of the swap daemon.
type Store interface {
	// CreateOrder validates nothing and persists the order under its
	// id, failing if the id exists.
	CreateOrder(ctx context.Context, order *swap.Order) error

	// FetchOrder returns the order with the given id.
	FetchOrder(ctx context.Context, id swap.OrderID) (*swap.Order,
		error)

	// FetchPendingOrders returns all orders in a non-terminal status.
	FetchPendingOrders(ctx context.Context) ([]*swap.Order, error)

	// ReserveOrder atomically assigns the order to a resolver iff it
	// is still unreserved, freezing the matched rate. Losing a
	// reservation race yields swap.ErrOrderTaken.
	ReserveOrder(ctx context.Context, id swap.OrderID, resolver string,
		rate swap.Rate) (*swap.Order, error)

	// UpdateOrder moves the order to the given status, applying the
	// optional mutation in the same transaction. The transition is
	// checked against the persisted status, not the caller's view.
	UpdateOrder(ctx context.Context, id swap.OrderID, to swap.Status,
		update func(*swap.Order)) (*swap.Order, error)

	// SetOrderEscrow records an escrow reference for a leg without a
	// status change, so that a submitted lock survives a crash before
	// its confirmation.
	SetOrderEscrow(ctx context.Context, id swap.OrderID, leg Leg,
		escrowID swap.EscrowID) error

	// CreateSecret persists a new secret record, failing if one
	// exists for the order.
	CreateSecret(ctx context.Context, secret *Secret) error

	// FetchSecret returns the secret record of the order.
	FetchSecret(ctx context.Context, id swap.OrderID) (*Secret, error)

	// MarkSecretRevealed sets the reveal fields exactly once. Marking
	// an already revealed secret again is a no-op, so redelivered
	// reveal events are harmless.
	MarkSecretRevealed(ctx context.Context, id swap.OrderID,
		revealedBy string, txRef swap.TxRef,
		revealedAt time.Time) error

	// CreateResolver persists a new resolver record.
	CreateResolver(ctx context.Context, resolver *Resolver) error

	// FetchResolver returns the resolver record for the address.
	FetchResolver(ctx context.Context, address string) (*Resolver,
		error)

	// UpdateResolver applies the mutation to the resolver record
	// inside a single transaction.
	UpdateResolver(ctx context.Context, address string,
		update func(*Resolver) error) error

	// FetchStats returns the aggregate order counters.
	FetchStats(ctx context.Context) (*Stats, error)

	// GetCursor returns the durable monitor resume height for the
	// chain.
	GetCursor(chain swap.Chain) (uint32, error)

	// PutCursor records the monitor resume height for the chain.
	PutCursor(chain swap.Chain, height uint32) error

	// Close releases the underlying database.
	Close() error
}
