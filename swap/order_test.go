package swap

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

var (
	testPreimage = lntypes.Preimage{1, 2, 3}
	testTime     = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
)

// validTestOrder returns an order that passes all structural checks.
func validTestOrder(t *testing.T) *Order {
	t.Helper()

	return &Order{
		ID: NewOrderID(
			"maker", "XLM", "ETH", 1000, testPreimage.Hash(),
			testTime,
		),
		Maker:    "maker",
		TokenIn:  "XLM",
		TokenOut: "ETH",
		AmountIn: 1000,

		StartRate:    500,
		EndRate:      400,
		AuctionStart: testTime,
		AuctionEnd:   testTime.Add(10 * time.Minute),
		Deadline:     testTime.Add(time.Hour),

		Hashlock:    testPreimage.Hash(),
		SourceChain: "stellar",
		DestChain:   "ethereum",

		SourceTimelock: testTime.Add(48 * time.Hour),
		DestTimelock:   testTime.Add(24 * time.Hour),

		ProtocolFeeBps: DefaultProtocolFeeBps,
		CreatedAt:      testTime,
	}
}

// TestOrderValidate asserts that every structural invariant of a new
// order is enforced before anything is persisted.
func TestOrderValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Order)
		wantErr bool
	}{
		{
			name:   "valid order",
			mutate: func(o *Order) {},
		},
		{
			name: "zero amount",
			mutate: func(o *Order) {
				o.AmountIn = 0
			},
			wantErr: true,
		},
		{
			name: "zero hashlock",
			mutate: func(o *Order) {
				o.Hashlock = lntypes.Hash{}
			},
			wantErr: true,
		},
		{
			name: "start rate not above end rate",
			mutate: func(o *Order) {
				o.StartRate = o.EndRate
			},
			wantErr: true,
		},
		{
			name: "auction start after end",
			mutate: func(o *Order) {
				o.AuctionStart = o.AuctionEnd.Add(time.Second)
			},
			wantErr: true,
		},
		{
			name: "deadline before auction end",
			mutate: func(o *Order) {
				o.Deadline = o.AuctionEnd.Add(-time.Second)
			},
			wantErr: true,
		},
		{
			name: "same chain both legs",
			mutate: func(o *Order) {
				o.DestChain = o.SourceChain
			},
			wantErr: true,
		},
		{
			name: "fee above maximum",
			mutate: func(o *Order) {
				o.ProtocolFeeBps = MaxProtocolFeeBps + 1
			},
			wantErr: true,
		},
		{
			name: "dest amount overflows at start rate",
			mutate: func(o *Order) {
				o.AmountIn = 1 << 62
				o.StartRate = 1 << 40
			},
			wantErr: true,
		},
		{
			name: "dest timelock too close to source timelock",
			mutate: func(o *Order) {
				o.DestTimelock = o.SourceTimelock.Add(
					-30 * time.Minute,
				)
			},
			wantErr: true,
		},
		{
			name: "dest timelock after source timelock",
			mutate: func(o *Order) {
				o.DestTimelock = o.SourceTimelock.Add(
					time.Hour,
				)
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			order := validTestOrder(t)
			test.mutate(order)

			err := order.Validate(DefaultSafetyMargin)
			if test.wantErr {
				require.Error(t, err)
				require.True(t, IsValidation(err))
				return
			}

			require.NoError(t, err)
		})
	}
}

// TestNewOrderID asserts that order ids are deterministic in their
// inputs and change with any of them.
func TestNewOrderID(t *testing.T) {
	t.Parallel()

	hash := testPreimage.Hash()

	id1 := NewOrderID("maker", "XLM", "ETH", 1000, hash, testTime)
	id2 := NewOrderID("maker", "XLM", "ETH", 1000, hash, testTime)
	require.Equal(t, id1, id2)

	id3 := NewOrderID("maker", "XLM", "ETH", 1001, hash, testTime)
	require.NotEqual(t, id1, id3)

	id4 := NewOrderID(
		"maker", "XLM", "ETH", 1000, hash, testTime.Add(time.Second),
	)
	require.NotEqual(t, id1, id4)
}

// TestDestAmount asserts the fixed point rate conversion of the frozen
// matched rate.
func TestDestAmount(t *testing.T) {
	t.Parallel()

	order := validTestOrder(t)
	order.MatchedRate = 4500

	// 1000 * 4500 / 10000 = 450.
	require.Equal(t, Amount(450), order.DestAmount())

	// A product beyond the uint64 range must not wrap: the conversion
	// runs in big.Int. 2^40 * 2^30 / 10000, computed exactly.
	order.AmountIn = 1 << 40
	order.MatchedRate = 1 << 30
	require.Equal(t, Amount(118059162071741130), order.DestAmount())
}

// TestCalcProtocolFee asserts basis point fee math.
func TestCalcProtocolFee(t *testing.T) {
	t.Parallel()

	require.Equal(t, Amount(3), CalcProtocolFee(1000, 30))
	require.Equal(t, Amount(50), CalcProtocolFee(1000, 500))
	require.Equal(t, Amount(0), CalcProtocolFee(10, 30))
}
