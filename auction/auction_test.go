package auction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xswaplabs/xswap/swap"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testOrder() *swap.Order {
	return &swap.Order{
		AmountIn:     1000,
		StartRate:    500,
		EndRate:      400,
		AuctionStart: t0,
		AuctionEnd:   t0.Add(600 * time.Second),
	}
}

// TestPriceBoundaries asserts that the price function returns the
// exact boundary rates at the auction edges.
func TestPriceBoundaries(t *testing.T) {
	t.Parallel()

	order := testOrder()

	require.Equal(t, swap.Rate(500), Price(order, t0))
	require.Equal(t, swap.Rate(500), Price(order, t0.Add(-time.Hour)))
	require.Equal(
		t, swap.Rate(400), Price(order, t0.Add(600*time.Second)),
	)
	require.Equal(t, swap.Rate(400), Price(order, t0.Add(time.Hour)))
}

// TestPriceLinearDecay asserts the interpolated rate half way through
// the auction window: 500 - 100*0.5 = 450.
func TestPriceLinearDecay(t *testing.T) {
	t.Parallel()

	order := testOrder()

	require.Equal(
		t, swap.Rate(450), Price(order, t0.Add(300*time.Second)),
	)

	// Quarter points.
	require.Equal(
		t, swap.Rate(475), Price(order, t0.Add(150*time.Second)),
	)
	require.Equal(
		t, swap.Rate(425), Price(order, t0.Add(450*time.Second)),
	)
}

// TestPriceMonotone asserts that the price never increases over time.
func TestPriceMonotone(t *testing.T) {
	t.Parallel()

	order := testOrder()

	prev := Price(order, t0.Add(-time.Second))
	for tick := time.Duration(0); tick <= 700*time.Second; tick += time.Second {
		cur := Price(order, t0.Add(tick))
		require.LessOrEqual(t, cur, prev, "price increased at %v", tick)
		prev = cur
	}
}

// TestPriceLargeRates asserts that interpolation does not overflow for
// rates near the top of the uint64 range.
func TestPriceLargeRates(t *testing.T) {
	t.Parallel()

	order := testOrder()
	order.StartRate = 1 << 62
	order.EndRate = 1 << 61

	mid := Price(order, t0.Add(300*time.Second))
	require.Less(t, mid, order.StartRate)
	require.Greater(t, mid, order.EndRate)
}

// TestPriceWithFee asserts the fee adjusted variant adds exactly the
// compensation term.
func TestPriceWithFee(t *testing.T) {
	t.Parallel()

	order := testOrder()

	base := Price(order, t0.Add(300*time.Second))
	require.Equal(
		t, base+25, PriceWithFee(order, t0.Add(300*time.Second), 25),
	)
}
