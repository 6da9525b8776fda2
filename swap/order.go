package swap

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// DefaultSafetyMargin is the minimum duration by which the
	// destination leg timelock must expire before the source leg
	// timelock. The party revealing the secret second must never have
	// less time to react than the party revealing first.
	DefaultSafetyMargin = time.Hour

	// MaxProtocolFeeBps caps the protocol fee at 5%.
	MaxProtocolFeeBps = 500

	// DefaultProtocolFeeBps is the default protocol fee of 0.3%.
	DefaultProtocolFeeBps = 30
)

// Order is the unit of work driven by the coordinator. It is created
// on intent submission, mutated exclusively through the persisted
// status transitions and becomes immutable once terminal.
type Order struct {
	// ID is the deterministic identifier of the order.
	ID OrderID

	// Maker is the address that submitted the intent.
	Maker string

	// Taker is the resolver that reserved the order. Empty until the
	// order is matched.
	Taker string

	// TokenIn is the asset the maker locks on the source chain.
	TokenIn string

	// TokenOut is the asset the maker receives on the destination
	// chain.
	TokenOut string

	// AmountIn is the amount of TokenIn locked by the maker.
	AmountIn Amount

	// StartRate is the opening (highest) auction rate.
	StartRate Rate

	// EndRate is the floor auction rate.
	EndRate Rate

	// AuctionStart is the time the dutch auction begins decaying.
	AuctionStart time.Time

	// AuctionEnd is the time the auction reaches its floor.
	AuctionEnd time.Time

	// Deadline is the hard expiry of the order, always after
	// AuctionEnd.
	Deadline time.Time

	// Hashlock is the sha256 digest the claim preimage must hash to.
	// It is immutable once set and identical on both legs.
	Hashlock lntypes.Hash

	// Preimage is set only after an on-chain reveal was observed.
	Preimage *lntypes.Preimage

	// SourceChain is the ledger the maker's funds are locked on.
	SourceChain Chain

	// DestChain is the ledger the resolver locks the counter leg on.
	DestChain Chain

	// SourceEscrow references the source leg escrow, empty until
	// created.
	SourceEscrow EscrowID

	// DestEscrow references the destination leg escrow, empty until
	// created.
	DestEscrow EscrowID

	// SourceTimelock is the refund deadline of the source leg escrow.
	SourceTimelock time.Time

	// DestTimelock is the refund deadline of the destination leg
	// escrow. It must expire at least the safety margin before
	// SourceTimelock.
	DestTimelock time.Time

	// MatchedRate is the auction rate frozen at reservation time. The
	// destination leg amount is derived from it and never
	// re-evaluated.
	MatchedRate Rate

	// Status is the current coordinator state of the order.
	Status Status

	// ProtocolFeeBps is the protocol fee in basis points.
	ProtocolFeeBps uint32

	// ResolverID references the registry entry of the taker.
	ResolverID string

	// Label is an optional client supplied tag for the order.
	Label string

	// CreatedAt is the intent submission time.
	CreatedAt time.Time
}

// NewOrderID derives the deterministic order id from the immutable
// order parameters.
func NewOrderID(maker, tokenIn, tokenOut string, amountIn Amount,
	hashlock lntypes.Hash, createdAt time.Time) OrderID {

	h := sha256.New()
	h.Write([]byte(maker))
	h.Write([]byte(tokenIn))
	h.Write([]byte(tokenOut))

	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], uint64(amountIn))
	h.Write(amt[:])

	h.Write(hashlock[:])

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt.UnixNano()))
	h.Write(ts[:])

	var id OrderID
	copy(id[:], h.Sum(nil))
	return id
}

// Validate checks the structural invariants of a new order. It is run
// at creation time, before anything is persisted, so that no invalid
// order ever enters the state machine.
func (o *Order) Validate(safetyMargin time.Duration) error {
	if o.AmountIn <= 0 {
		return NewValidationError("amountIn", "must be positive")
	}

	var zeroHash lntypes.Hash
	if o.Hashlock == zeroHash {
		return NewValidationError("hashlock", "must be non-zero")
	}

	if o.StartRate <= o.EndRate {
		return NewValidationError(
			"startRate", "must be greater than endRate",
		)
	}

	// The destination amount is largest at the opening rate. If it does
	// not fit the amount range there, some auction outcome would
	// overflow, so the order is rejected outright.
	maxOut := new(big.Int).Mul(
		big.NewInt(int64(o.AmountIn)),
		new(big.Int).SetUint64(uint64(o.StartRate)),
	)
	maxOut.Quo(maxOut, big.NewInt(RateScale))
	if !maxOut.IsInt64() {
		return NewValidationError(
			"amountIn", "destination amount overflows at the "+
				"start rate",
		)
	}

	if !o.AuctionStart.Before(o.AuctionEnd) {
		return NewValidationError(
			"auctionStart", "must be before auctionEnd",
		)
	}

	if !o.AuctionEnd.Before(o.Deadline) {
		return NewValidationError(
			"auctionEnd", "must be before deadline",
		)
	}

	if o.SourceChain == o.DestChain {
		return NewValidationError(
			"destChain", "must differ from sourceChain",
		)
	}

	if o.ProtocolFeeBps > MaxProtocolFeeBps {
		return NewValidationError(
			"protocolFee", "exceeds maximum fee",
		)
	}

	// The foundational atomic swap safety invariant: the destination
	// leg must expire strictly before the source leg, with margin.
	if o.DestTimelock.Add(safetyMargin).After(o.SourceTimelock) {
		return NewValidationError(
			"destTimelock", "must expire at least the safety "+
				"margin before the source timelock",
		)
	}

	return nil
}

// DestAmount returns the destination leg amount owed at the frozen
// matched rate. The product is taken in big.Int, a large amount at a
// large rate must not silently wrap.
func (o *Order) DestAmount() Amount {
	out := new(big.Int).Mul(
		big.NewInt(int64(o.AmountIn)),
		new(big.Int).SetUint64(uint64(o.MatchedRate)),
	)
	out.Quo(out, big.NewInt(RateScale))

	return Amount(out.Int64())
}
