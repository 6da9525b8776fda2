// Package registry tracks the resolvers authorized to fill orders:
// their posted collateral, activity flag and swap track record. The
// coordinator consults it before any order is matched.
package registry

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
)

// ErrNothingToWithdraw is returned when withdrawing from a resolver
// whose collateral was already paid out.
var ErrNothingToWithdraw = errors.New("no collateral to withdraw")

// Store is the slice of the database the registry works through.
type Store interface {
	// CreateResolver persists a new resolver record.
	CreateResolver(ctx context.Context, resolver *swapdb.Resolver) error

	// FetchResolver returns the resolver record for the address.
	FetchResolver(ctx context.Context, address string) (
		*swapdb.Resolver, error)

	// UpdateResolver applies the mutation inside a single
	// transaction.
	UpdateResolver(ctx context.Context, address string,
		update func(*swapdb.Resolver) error) error
}

// Config holds the registry parameters.
type Config struct {
	// Store persists the resolver records.
	Store Store

	// Admin is the only address allowed to deactivate resolvers.
	Admin string

	// MinBond is the minimum collateral a resolver must post.
	MinBond swap.Amount

	// Clock supplies registration timestamps.
	Clock clock.Clock
}

// Registry gates which resolvers the coordinator may act for.
type Registry struct {
	cfg Config
}

// New creates a registry.
func New(cfg Config) *Registry {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Registry{
		cfg: cfg,
	}
}

// Register adds a new active resolver. The posted collateral must meet
// the minimum bond.
func (r *Registry) Register(ctx context.Context, address string,
	collateral swap.Amount, reputationRef string) error {

	if address == "" {
		return swap.NewValidationError("address", "must be set")
	}

	if collateral < r.cfg.MinBond {
		return swap.ErrInsufficientCollateral
	}

	err := r.cfg.Store.CreateResolver(ctx, &swapdb.Resolver{
		Address:       address,
		Collateral:    collateral,
		IsActive:      true,
		ReputationRef: reputationRef,
		RegisteredAt:  r.cfg.Clock.Now(),
	})
	if err != nil {
		return err
	}

	log.Infof("Registered resolver %v with collateral %d",
		address, collateral)

	return nil
}

// Deactivate marks the resolver inactive. Collateral stays posted
// until explicitly withdrawn.
func (r *Registry) Deactivate(ctx context.Context, caller, address,
	reason string) error {

	if caller != r.cfg.Admin {
		return swap.ErrResolverUnauthorized
	}

	err := r.cfg.Store.UpdateResolver(
		ctx, address, func(resolver *swapdb.Resolver) error {
			resolver.IsActive = false
			return nil
		},
	)
	if err != nil {
		return err
	}

	log.Warnf("Deactivated resolver %v: %s", address, reason)

	return nil
}

// WithdrawCollateral pays out the posted collateral exactly once, and
// only after the resolver was deactivated.
func (r *Registry) WithdrawCollateral(ctx context.Context,
	address string) (swap.Amount, error) {

	var withdrawn swap.Amount
	err := r.cfg.Store.UpdateResolver(
		ctx, address, func(resolver *swapdb.Resolver) error {
			if resolver.IsActive {
				return swap.NewValidationError(
					"resolver", "must be deactivated "+
						"before withdrawal",
				)
			}

			if resolver.Collateral == 0 {
				return ErrNothingToWithdraw
			}

			withdrawn = resolver.Collateral
			resolver.Collateral = 0
			return nil
		},
	)
	if err != nil {
		return 0, err
	}

	log.Infof("Withdrew collateral %d for resolver %v",
		withdrawn, address)

	return withdrawn, nil
}

// RecordOutcome updates the resolver's swap counters after an order
// reached a terminal state.
func (r *Registry) RecordOutcome(ctx context.Context, address string,
	success bool) error {

	return r.cfg.Store.UpdateResolver(
		ctx, address, func(resolver *swapdb.Resolver) error {
			resolver.TotalSwaps++
			if success {
				resolver.SuccessfulSwaps++
			}

			return nil
		},
	)
}

// IsAuthorized returns nil iff the address belongs to an active
// resolver.
func (r *Registry) IsAuthorized(ctx context.Context, address string) error {
	resolver, err := r.cfg.Store.FetchResolver(ctx, address)
	if err != nil {
		if errors.Is(err, swapdb.ErrResolverNotFound) {
			return swap.ErrResolverUnauthorized
		}

		return err
	}

	if !resolver.IsActive {
		return swap.ErrResolverUnauthorized
	}

	return nil
}
