package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
	"github.com/xswaplabs/xswap/swap"
)

var testStartTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// testPreimage returns a preimage of 32 repeated bytes.
func testPreimage(b byte) lntypes.Preimage {
	var preimage lntypes.Preimage
	for i := range preimage {
		preimage[i] = b
	}
	return preimage
}

// testHashlock returns the hash of the repeated byte preimage.
func testHashlock(b byte) lntypes.Hash {
	preimage := testPreimage(b)
	return preimage.Hash()
}

// newTestLedger returns a mem ledger with a test clock and a funded,
// active escrow locked for one hour.
func newTestLedger(t *testing.T) (*MemLedger, *clock.TestClock,
	swap.EscrowID) {

	t.Helper()

	testClock := clock.NewTestClock(testStartTime)
	ledger := NewMemLedger("simnet", testClock)

	id, err := ledger.Lock(context.Background(), &LockParams{
		Depositor: "alice",
		Recipient: "bob",
		Token:     "XLM",
		Amount:    1000,
		Hashlock:  testHashlock(0xAA),
		Timelock:  testStartTime.Add(time.Hour),
	})
	require.NoError(t, err)

	// The lock activates once its block is mined.
	ledger.Mine(1)

	return ledger, testClock, id
}

// TestLockValidation asserts that malformed lock parameters are
// rejected before any state is created.
func TestLockValidation(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testStartTime)
	ledger := NewMemLedger("simnet", testClock)
	ctx := context.Background()

	valid := func() *LockParams {
		return &LockParams{
			Depositor: "alice",
			Recipient: "bob",
			Token:     "XLM",
			Amount:    1000,
			Hashlock:  testHashlock(0xAA),
			Timelock:  testStartTime.Add(2 * time.Hour),
		}
	}

	// Control: the valid params lock fine.
	_, err := ledger.Lock(ctx, valid())
	require.NoError(t, err)

	// Zero amount.
	params := valid()
	params.Amount = 0
	_, err = ledger.Lock(ctx, params)
	require.True(t, swap.IsValidation(err))

	// Zero hashlock.
	params = valid()
	params.Hashlock = lntypes.Hash{}
	_, err = ledger.Lock(ctx, params)
	require.True(t, swap.IsValidation(err))

	// Timelock closer than the minimum duration.
	params = valid()
	params.Timelock = testStartTime.Add(30 * time.Minute)
	_, err = ledger.Lock(ctx, params)
	require.True(t, swap.IsValidation(err))

	// Timelock beyond the maximum duration.
	params = valid()
	params.Timelock = testStartTime.Add(8 * 24 * time.Hour)
	_, err = ledger.Lock(ctx, params)
	require.True(t, swap.IsValidation(err))
}

// TestClaim asserts the full claim rule: correct preimage, before the
// timelock, by the recipient, at most once.
func TestClaim(t *testing.T) {
	t.Parallel()

	ledger, _, id := newTestLedger(t)
	ctx := context.Background()

	// Wrong preimage is a hash mismatch.
	err := ledger.Claim(ctx, id, "bob", testPreimage(0xBB))
	require.ErrorIs(t, err, swap.ErrHashMismatch)

	// The right preimage from the wrong caller is rejected.
	err = ledger.Claim(ctx, id, "mallory", testPreimage(0xAA))
	require.True(t, swap.IsValidation(err))

	// The recipient claims with the right preimage.
	err = ledger.Claim(ctx, id, "bob", testPreimage(0xAA))
	require.NoError(t, err)

	// The escrow state now exposes the preimage.
	state, err := ledger.GetState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateClaimed, state.State)
	require.NotNil(t, state.Preimage)
	require.Equal(t, testPreimage(0xAA), *state.Preimage)

	// A second claim is rejected idempotently.
	err = ledger.Claim(ctx, id, "bob", testPreimage(0xAA))
	require.ErrorIs(t, err, swap.ErrAlreadyCompleted)
}

// TestClaimAfterTimelock asserts that a claim past the timelock is a
// timelock violation.
func TestClaimAfterTimelock(t *testing.T) {
	t.Parallel()

	ledger, testClock, id := newTestLedger(t)

	testClock.SetTime(testStartTime.Add(time.Hour))

	err := ledger.Claim(
		context.Background(), id, "bob", testPreimage(0xAA),
	)
	require.ErrorIs(t, err, swap.ErrTimelockViolation)
}

// TestRefund asserts the refund window: too early is a violation,
// after the timelock it succeeds exactly once, for the depositor only.
func TestRefund(t *testing.T) {
	t.Parallel()

	ledger, testClock, id := newTestLedger(t)
	ctx := context.Background()

	// Half way through the timelock, refunding is too early.
	testClock.SetTime(testStartTime.Add(30 * time.Minute))
	err := ledger.Refund(ctx, id, "alice")
	require.ErrorIs(t, err, swap.ErrTimelockViolation)

	// One second past the timelock it succeeds.
	testClock.SetTime(testStartTime.Add(time.Hour + time.Second))

	// But not for anyone but the depositor.
	err = ledger.Refund(ctx, id, "bob")
	require.True(t, swap.IsValidation(err))

	err = ledger.Refund(ctx, id, "alice")
	require.NoError(t, err)

	state, err := ledger.GetState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StateRefunded, state.State)

	// Refunding again is rejected idempotently, and so is claiming a
	// refunded escrow.
	err = ledger.Refund(ctx, id, "alice")
	require.ErrorIs(t, err, swap.ErrAlreadyCompleted)

	err = ledger.Claim(ctx, id, "bob", testPreimage(0xAA))
	require.ErrorIs(t, err, swap.ErrAlreadyCompleted)
}

// TestExpiredView asserts that expiry is a derived view over active
// escrows, not a stored state.
func TestExpiredView(t *testing.T) {
	t.Parallel()

	ledger, _, id := newTestLedger(t)

	state, err := ledger.GetState(context.Background(), id)
	require.NoError(t, err)

	require.False(t, state.Expired(testStartTime.Add(59*time.Minute)))
	require.True(t, state.Expired(testStartTime.Add(time.Hour)))
	require.Equal(t, StateActive, state.State)
}

// TestPendingEscrow asserts that an unmined lock cannot be claimed or
// refunded yet.
func TestPendingEscrow(t *testing.T) {
	t.Parallel()

	testClock := clock.NewTestClock(testStartTime)
	ledger := NewMemLedger("simnet", testClock)
	ctx := context.Background()

	id, err := ledger.Lock(ctx, &LockParams{
		Depositor: "alice",
		Recipient: "bob",
		Token:     "XLM",
		Amount:    1000,
		Hashlock:  testHashlock(0xAA),
		Timelock:  testStartTime.Add(time.Hour),
	})
	require.NoError(t, err)

	err = ledger.Claim(ctx, id, "bob", testPreimage(0xAA))
	require.True(t, swap.IsValidation(err))

	state, err := ledger.GetState(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatePending, state.State)
}
