package swap

import (
	"encoding/hex"
)

// Amount is an asset amount expressed in the smallest unit of the
// token it denominates.
type Amount int64

// Rate is a fixed-point exchange rate expressed in units of the
// destination token per RateScale units of the source token.
type Rate uint64

// RateScale is the fixed-point denominator for Rate values.
const RateScale = 10000

// Chain identifies one of the ledgers a swap leg settles on.
type Chain string

// EscrowID is a chain-scoped opaque reference to an escrow record.
type EscrowID string

// TxRef is a chain-scoped transaction reference.
type TxRef string

// OrderID uniquely identifies an order. It is derived
// deterministically from the order parameters.
type OrderID [32]byte

// String returns the hex encoded representation of the order id.
func (o OrderID) String() string {
	return hex.EncodeToString(o[:])
}
