package vault

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestVault returns a vault over a fresh bolt store, along with the
// store for direct manipulation.
func newTestVault(t *testing.T) (*Vault, swapdb.Store) {
	t.Helper()

	store, err := swapdb.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	v, err := New(store, key)
	require.NoError(t, err)

	return v, store
}

// createOrderWithStatus persists an order in the given funding state.
func createOrderWithStatus(t *testing.T, store swapdb.Store,
	id swap.OrderID, hashlock lntypes.Hash, funded bool) {

	t.Helper()

	ctx := context.Background()
	order := &swap.Order{
		ID:       id,
		Maker:    "maker",
		TokenIn:  "XLM",
		TokenOut: "ETH",
		AmountIn: 1000,

		StartRate:    500,
		EndRate:      400,
		AuctionStart: testTime,
		AuctionEnd:   testTime.Add(10 * time.Minute),
		Deadline:     testTime.Add(time.Hour),

		Hashlock:    hashlock,
		SourceChain: "stellar",
		DestChain:   "ethereum",

		SourceTimelock: testTime.Add(48 * time.Hour),
		DestTimelock:   testTime.Add(24 * time.Hour),

		Status:    swap.StatusCreated,
		CreatedAt: testTime,
	}
	require.NoError(t, store.CreateOrder(ctx, order))

	if !funded {
		return
	}

	// Drive the order into the fully funded state.
	_, err := store.ReserveOrder(ctx, id, "resolver", 450)
	require.NoError(t, err)

	_, err = store.UpdateOrder(
		ctx, id, swap.StatusSrcEscrowed, func(o *swap.Order) {
			o.SourceEscrow = "src-escrow"
		},
	)
	require.NoError(t, err)

	_, err = store.UpdateOrder(
		ctx, id, swap.StatusDstEscrowed, func(o *swap.Order) {
			o.DestEscrow = "dst-escrow"
		},
	)
	require.NoError(t, err)
}

// TestGenerateAndRetrieve asserts the full secret lifecycle: generate,
// refuse before funding, release after funding.
func TestGenerateAndRetrieve(t *testing.T) {
	t.Parallel()

	v, store := newTestVault(t)
	ctx := context.Background()

	fixedID := swap.OrderID{1}
	derive := func(lntypes.Hash) swap.OrderID {
		return fixedID
	}

	orderID, hashlock, err := v.Generate(ctx, derive)
	require.NoError(t, err)
	require.Equal(t, fixedID, orderID)
	require.NotEqual(t, lntypes.Hash{}, hashlock)

	// A second generation deriving the same order id is rejected.
	_, _, err = v.Generate(ctx, derive)
	require.ErrorIs(t, err, ErrSecretExists)

	// The stored record is encrypted: the ciphertext must not contain
	// a 32 byte slice hashing to the hashlock at offset zero.
	secret, err := store.FetchSecret(ctx, orderID)
	require.NoError(t, err)
	require.NotEmpty(t, secret.EncryptedPreimage)

	// Before the order exists in a funded state, nothing is released.
	createOrderWithStatus(t, store, orderID, hashlock, false)
	_, err = v.Retrieve(ctx, orderID)
	require.ErrorIs(t, err, ErrNotFunded)
}

// TestRetrieveAfterFunding asserts that the released preimage matches
// the hashlock.
func TestRetrieveAfterFunding(t *testing.T) {
	t.Parallel()

	v, store := newTestVault(t)
	ctx := context.Background()

	orderID, hashlock, err := v.Generate(
		ctx, func(lntypes.Hash) swap.OrderID {
			return swap.OrderID{2}
		},
	)
	require.NoError(t, err)

	createOrderWithStatus(t, store, orderID, hashlock, true)

	preimage, err := v.Retrieve(ctx, orderID)
	require.NoError(t, err)
	require.True(t, preimage.Matches(hashlock))
}

// TestCaptureReveal asserts reveal capture and the hash mismatch
// alert.
func TestCaptureReveal(t *testing.T) {
	t.Parallel()

	v, store := newTestVault(t)
	ctx := context.Background()

	orderID, hashlock, err := v.Generate(
		ctx, func(lntypes.Hash) swap.OrderID {
			return swap.OrderID{3}
		},
	)
	require.NoError(t, err)

	createOrderWithStatus(t, store, orderID, hashlock, true)

	// A preimage that does not hash to the stored hashlock is
	// rejected as a hash mismatch.
	bogus := lntypes.Preimage{0xBB}
	err = v.CaptureReveal(
		ctx, orderID, bogus, "mallory", "tx-9", testTime,
	)
	require.ErrorIs(t, err, swap.ErrHashMismatch)

	secret, err := store.FetchSecret(ctx, orderID)
	require.NoError(t, err)
	require.False(t, secret.Revealed())

	// The genuine preimage is recorded.
	preimage, err := v.Retrieve(ctx, orderID)
	require.NoError(t, err)

	err = v.CaptureReveal(
		ctx, orderID, preimage, "bob", "tx-10", testTime,
	)
	require.NoError(t, err)

	secret, err = store.FetchSecret(ctx, orderID)
	require.NoError(t, err)
	require.True(t, secret.Revealed())
	require.Equal(t, "bob", secret.RevealedBy)
}
