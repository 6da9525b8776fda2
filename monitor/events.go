// Package monitor turns chain specific notifications into the
// canonical escrow event stream consumed by the coordinator. Delivery
// is at-least-once: consumers deduplicate on the (chain, txRef,
// logIndex) tuple.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/xswaplabs/xswap/swap"
)

// EventType is the canonical escrow event type.
type EventType uint8

const (
	// EscrowLocked signals a confirmed escrow lock.
	EscrowLocked EventType = 0

	// EscrowClaimed signals a confirmed claim. The event payload
	// carries the revealed preimage.
	EscrowClaimed EventType = 1

	// EscrowRefunded signals a confirmed refund.
	EscrowRefunded EventType = 2
)

// String returns a human readable representation of the event type.
func (e EventType) String() string {
	switch e {
	case EscrowLocked:
		return "EscrowLocked"

	case EscrowClaimed:
		return "EscrowClaimed"

	case EscrowRefunded:
		return "EscrowRefunded"

	default:
		return "Unknown"
	}
}

// Event is the canonical event envelope.
type Event struct {
	// Chain is the ledger the event was observed on.
	Chain swap.Chain

	// Type is the canonical event type.
	Type EventType

	// EscrowID references the escrow the event belongs to.
	EscrowID swap.EscrowID

	// TxRef is the transaction that caused the event.
	TxRef swap.TxRef

	// LogIndex disambiguates multiple events within one transaction.
	LogIndex uint32

	// ConfirmationHeight is the height the transaction was included
	// at.
	ConfirmationHeight uint32

	// Amount is the escrow value, set on lock events.
	Amount swap.Amount

	// Hashlock is the escrow hashlock, set on lock events.
	Hashlock lntypes.Hash

	// Timelock is the escrow refund deadline, set on lock events.
	Timelock time.Time

	// Preimage is the revealed secret, set on claim events only.
	Preimage *lntypes.Preimage

	// Caller is the address that triggered the event.
	Caller string
}

// DedupKey returns the uniqueness key consumers deduplicate on.
func (e *Event) DedupKey() string {
	return fmt.Sprintf("%s/%s/%d", e.Chain, e.TxRef, e.LogIndex)
}

// Deduper tracks seen event keys for consumer side deduplication of
// the at-least-once stream.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduper creates an empty deduper.
func NewDeduper() *Deduper {
	return &Deduper{
		seen: make(map[string]struct{}),
	}
}

// Seen marks the event as processed and reports whether it had been
// processed before.
func (d *Deduper) Seen(event *Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := event.DedupKey()
	if _, ok := d.seen[key]; ok {
		return true
	}

	d.seen[key] = struct{}{}
	return false
}

// ChainBackend supplies raw per-chain escrow notifications to a
// monitor. Implementations translate their chain's native logs into
// canonical events but perform no confirmation gating themselves.
type ChainBackend interface {
	// Chain identifies the ledger this backend observes.
	Chain() swap.Chain

	// BestHeight returns the current chain tip height.
	BestHeight(ctx context.Context) (uint32, error)

	// EventsSince returns all events included at heights strictly
	// greater than the given height, ordered by height.
	EventsSince(ctx context.Context, height uint32) ([]*Event, error)
}
