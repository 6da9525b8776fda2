package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
	"github.com/xswaplabs/xswap/escrow"
	"github.com/xswaplabs/xswap/monitor"
	"github.com/xswaplabs/xswap/swap"
)

var testStartTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// memCursor is an in-memory cursor store for tests.
type memCursor struct {
	mu      sync.Mutex
	heights map[swap.Chain]uint32
}

func newMemCursor() *memCursor {
	return &memCursor{
		heights: make(map[swap.Chain]uint32),
	}
}

func (m *memCursor) GetCursor(chain swap.Chain) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.heights[chain], nil
}

func (m *memCursor) PutCursor(chain swap.Chain, height uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.heights[chain] = height
	return nil
}

// lockEscrow locks a fresh escrow on the ledger and returns its id.
func lockEscrow(t *testing.T, ledger *escrow.MemLedger,
	preimage lntypes.Preimage) swap.EscrowID {

	t.Helper()

	id, err := ledger.Lock(context.Background(), &escrow.LockParams{
		Depositor: "alice",
		Recipient: "bob",
		Token:     "XLM",
		Amount:    1000,
		Hashlock:  preimage.Hash(),
		Timelock:  testStartTime.Add(2 * time.Hour),
	})
	require.NoError(t, err)

	return id
}

// receiveEvent waits for the next event on the subscription.
func receiveEvent(t *testing.T, events <-chan *monitor.Event) *monitor.Event {
	t.Helper()

	select {
	case event := <-events:
		return event

	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return nil
	}
}

// TestConfirmationDepth asserts that events are only emitted once they
// reached the configured confirmation depth.
func TestConfirmationDepth(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testClock := clock.NewTestClock(testStartTime)
	ledger := escrow.NewMemLedger("simnet", testClock)

	mon := monitor.New(monitor.Config{
		Backend:   ledger,
		Cursor:    newMemCursor(),
		ConfDepth: 3,
		Ticker:    ticker.NewForce(time.Minute),
	})
	events := mon.Subscribe(ctx)

	preimage := lntypes.Preimage{1}
	escrowID := lockEscrow(t, ledger, preimage)

	// The lock tx is included at height 1 but has only one
	// confirmation, nothing may be emitted yet.
	ledger.Mine(1)
	require.NoError(t, mon.PollOnce(ctx))

	select {
	case event := <-events:
		t.Fatalf("premature event: %v", event.Type)
	case <-time.After(50 * time.Millisecond):
	}

	// Two more blocks bring it to depth 3.
	ledger.Mine(2)
	require.NoError(t, mon.PollOnce(ctx))

	event := receiveEvent(t, events)
	require.Equal(t, monitor.EscrowLocked, event.Type)
	require.Equal(t, escrowID, event.EscrowID)
	require.Equal(t, preimage.Hash(), event.Hashlock)
	require.Equal(t, swap.Amount(1000), event.Amount)
	require.Equal(t, uint32(1), event.ConfirmationHeight)
}

// TestResumeRedelivery asserts that rewinding the cursor re-delivers
// events (at-least-once) and that the deduper suppresses the repeats.
func TestResumeRedelivery(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testClock := clock.NewTestClock(testStartTime)
	ledger := escrow.NewMemLedger("simnet", testClock)

	mon := monitor.New(monitor.Config{
		Backend:   ledger,
		Cursor:    newMemCursor(),
		ConfDepth: 1,
		Ticker:    ticker.NewForce(time.Minute),
	})
	events := mon.Subscribe(ctx)

	lockEscrow(t, ledger, lntypes.Preimage{2})
	ledger.Mine(1)

	require.NoError(t, mon.PollOnce(ctx))
	first := receiveEvent(t, events)

	dedup := monitor.NewDeduper()
	require.False(t, dedup.Seen(first))

	// A second poll delivers nothing new: the cursor advanced.
	require.NoError(t, mon.PollOnce(ctx))
	select {
	case event := <-events:
		t.Fatalf("unexpected event: %v", event.Type)
	case <-time.After(50 * time.Millisecond):
	}

	// Rewind the cursor as a restart from an older durable height
	// would. The same event is delivered again and deduplicated by
	// the consumer.
	require.NoError(t, mon.ResumeFrom(0))
	require.NoError(t, mon.PollOnce(ctx))

	again := receiveEvent(t, events)
	require.Equal(t, first.DedupKey(), again.DedupKey())
	require.True(t, dedup.Seen(again))
}

// TestClaimEventCarriesPreimage asserts that claim events surface the
// revealed preimage to subscribers.
func TestClaimEventCarriesPreimage(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testClock := clock.NewTestClock(testStartTime)
	ledger := escrow.NewMemLedger("simnet", testClock)

	mon := monitor.New(monitor.Config{
		Backend:   ledger,
		Cursor:    newMemCursor(),
		ConfDepth: 1,
		Ticker:    ticker.NewForce(time.Minute),
	})
	events := mon.Subscribe(ctx)

	preimage := lntypes.Preimage{3}
	escrowID := lockEscrow(t, ledger, preimage)
	ledger.Mine(1)

	require.NoError(t, mon.PollOnce(ctx))
	lockEvent := receiveEvent(t, events)
	require.Equal(t, monitor.EscrowLocked, lockEvent.Type)

	require.NoError(t, ledger.Claim(ctx, escrowID, "bob", preimage))
	ledger.Mine(1)

	require.NoError(t, mon.PollOnce(ctx))
	claimEvent := receiveEvent(t, events)
	require.Equal(t, monitor.EscrowClaimed, claimEvent.Type)
	require.Equal(t, escrowID, claimEvent.EscrowID)
	require.NotNil(t, claimEvent.Preimage)
	require.Equal(t, preimage, *claimEvent.Preimage)
}

// TestRunLoop asserts that the ticker driven run loop polls and
// delivers, and shuts down cleanly on cancellation.
func TestRunLoop(t *testing.T) {
	t.Parallel()

	defer leaktest.Check(t)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	testClock := clock.NewTestClock(testStartTime)
	ledger := escrow.NewMemLedger("simnet", testClock)
	forceTick := ticker.NewForce(time.Minute)

	mon := monitor.New(monitor.Config{
		Backend:   ledger,
		Cursor:    newMemCursor(),
		ConfDepth: 1,
		Ticker:    forceTick,
	})
	events := mon.Subscribe(ctx)

	runErr := make(chan error, 1)
	go func() {
		runErr <- mon.Run(ctx)
	}()

	lockEscrow(t, ledger, lntypes.Preimage{4})
	ledger.Mine(1)

	forceTick.Force <- testStartTime

	event := receiveEvent(t, events)
	require.Equal(t, monitor.EscrowLocked, event.Type)

	cancel()
	select {
	case err := <-runErr:
		require.ErrorIs(t, err, context.Canceled)

	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not shut down")
	}
}
