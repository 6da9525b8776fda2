package registry

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
)

const testMinBond = swap.Amount(5000)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestRegistry returns a registry over a fresh bolt store.
func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	store, err := swapdb.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return New(Config{
		Store:   store,
		Admin:   "admin",
		MinBond: testMinBond,
		Clock:   clock.NewTestClock(testTime),
	})
}

// TestRegister asserts the minimum bond gate and double registration.
func TestRegister(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	err := registry.Register(ctx, "resolver-1", testMinBond-1, "")
	require.ErrorIs(t, err, swap.ErrInsufficientCollateral)

	err = registry.Register(ctx, "resolver-1", testMinBond, "rep-1")
	require.NoError(t, err)
	require.NoError(t, registry.IsAuthorized(ctx, "resolver-1"))

	err = registry.Register(ctx, "resolver-1", testMinBond, "rep-1")
	require.ErrorIs(t, err, swapdb.ErrResolverExists)
}

// TestDeactivateAndWithdraw asserts admin gating, that deactivation
// keeps collateral posted, and that withdrawal pays out exactly once.
func TestDeactivateAndWithdraw(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(
		t, registry.Register(ctx, "resolver-1", testMinBond, ""),
	)

	// Withdrawing while active is rejected.
	_, err := registry.WithdrawCollateral(ctx, "resolver-1")
	require.True(t, swap.IsValidation(err))

	// Only the admin may deactivate.
	err = registry.Deactivate(ctx, "mallory", "resolver-1", "test")
	require.ErrorIs(t, err, swap.ErrResolverUnauthorized)

	err = registry.Deactivate(ctx, "admin", "resolver-1", "test")
	require.NoError(t, err)

	// Deactivated resolvers are no longer authorized.
	err = registry.IsAuthorized(ctx, "resolver-1")
	require.ErrorIs(t, err, swap.ErrResolverUnauthorized)

	// The collateral pays out once and only once.
	amount, err := registry.WithdrawCollateral(ctx, "resolver-1")
	require.NoError(t, err)
	require.Equal(t, testMinBond, amount)

	_, err = registry.WithdrawCollateral(ctx, "resolver-1")
	require.ErrorIs(t, err, ErrNothingToWithdraw)
}

// TestRecordOutcome asserts the swap counters.
func TestRecordOutcome(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(
		t, registry.Register(ctx, "resolver-1", testMinBond, ""),
	)

	require.NoError(t, registry.RecordOutcome(ctx, "resolver-1", true))
	require.NoError(t, registry.RecordOutcome(ctx, "resolver-1", false))

	store := registry.cfg.Store
	resolver, err := store.FetchResolver(ctx, "resolver-1")
	require.NoError(t, err)
	require.Equal(t, uint64(2), resolver.TotalSwaps)
	require.Equal(t, uint64(1), resolver.SuccessfulSwaps)
}

// TestUnknownResolver asserts that unknown addresses are unauthorized.
func TestUnknownResolver(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t)

	err := registry.IsAuthorized(context.Background(), "ghost")
	require.ErrorIs(t, err, swap.ErrResolverUnauthorized)
}
