// Package auction implements the dutch auction price schedule that
// ties the two legs of a cross chain swap together economically. All
// functions are pure: they read the order and a timestamp and never
// mutate anything.
package auction

import (
	"math/big"
	"time"

	"github.com/xswaplabs/xswap/swap"
)

// Price returns the auction rate of the order at time t. The rate
// starts at StartRate, decays linearly over the auction window and
// settles at EndRate. The boundary values are exact, there is no
// off-by-epsilon drift: before or at AuctionStart the rate is
// StartRate, at or after AuctionEnd it is EndRate.
func Price(order *swap.Order, t time.Time) swap.Rate {
	if !t.After(order.AuctionStart) {
		return order.StartRate
	}

	if !t.Before(order.AuctionEnd) {
		return order.EndRate
	}

	// Interpolate in big integer space so that large rates multiplied
	// by nanosecond offsets cannot overflow.
	elapsed := big.NewInt(t.Sub(order.AuctionStart).Nanoseconds())
	window := big.NewInt(
		order.AuctionEnd.Sub(order.AuctionStart).Nanoseconds(),
	)
	spread := new(big.Int).SetUint64(
		uint64(order.StartRate - order.EndRate),
	)

	decay := new(big.Int).Mul(spread, elapsed)
	decay.Div(decay, window)

	return order.StartRate - swap.Rate(decay.Uint64())
}

// PriceWithFee returns the fee adjusted auction rate: the base rate
// plus a fixed compensation term covering the resolver's execution
// cost. It is deliberately a separate function and never folded into
// Price so that on-chain validation and off-chain estimation stay
// reconcilable.
func PriceWithFee(order *swap.Order, t time.Time,
	feeComp swap.Rate) swap.Rate {

	return Price(order, t) + feeComp
}
