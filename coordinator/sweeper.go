package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/xswaplabs/xswap/escrow"
	"github.com/xswaplabs/xswap/labels"
	"github.com/xswaplabs/xswap/swap"
)

// sweepPass walks all non-terminal swaps and routes the stalled ones
// into the expiry and refund paths. It is the safety net under the
// workers: a swap whose worker died, whose counterparty disappeared or
// whose chain stalled is eventually resolved here. The pass is
// idempotent, running it twice in a row is harmless.
func (c *Coordinator) sweepPass(ctx context.Context) {
	pending, err := c.cfg.Store.FetchPendingOrders(ctx)
	if err != nil {
		log.Errorf("Sweep pass aborted: %v", err)
		return
	}

	now := c.cfg.Clock.Now()

	for _, order := range pending {
		if err := c.sweepOrder(ctx, order, now); err != nil {
			log.Errorf("Sweeping %v failed: %v",
				swap.ShortID(order.ID), err)
		}
	}
}

// sweepOrder applies the timeout rules to a single swap.
func (c *Coordinator) sweepOrder(ctx context.Context, order *swap.Order,
	now time.Time) error {

	switch order.Status {
	// Unfunded orders simply expire at their deadline. Nothing is on
	// chain yet, so there is nothing to unwind.
	case swap.StatusCreated, swap.StatusMatched:
		if order.SourceEscrow == "" && now.After(order.Deadline) {
			log.Infof("Expiring unfunded order %v",
				swap.ShortID(order.ID))

			_, err := c.cfg.Store.UpdateOrder(
				ctx, order.ID, swap.StatusExpired, nil,
			)
			if err != nil {
				return err
			}

			return c.recordOutcome(ctx, order, false)
		}

		// A matched order with a submitted but unconfirmed source
		// escrow falls through to the funded handling below once the
		// lock confirms, or is refunded after its timelock.
		if order.SourceEscrow != "" {
			return c.sweepFunded(ctx, order, now)
		}

		return nil

	// Funded but uncompleted swaps wait for their timelocks and are
	// then unwound leg by leg.
	case swap.StatusSrcEscrowed, swap.StatusDstEscrowed:
		return c.sweepFunded(ctx, order, now)

	// Once a preimage is public the second leg claim is mandatory and
	// owned by the worker's retry loop. The sweeper never refunds an
	// escrow whose secret is already out.
	case swap.StatusSrcClaimed, swap.StatusDstClaimed:
		return nil
	}

	return nil
}

// sweepFunded refunds the funded legs of a stalled swap once their
// timelocks pass. The destination leg expires first per the timelock
// ordering, so a swap stalling after both locks unwinds destination
// first, then source, and only reaches its terminal refund status when
// no funded leg remains in custody.
func (c *Coordinator) sweepFunded(ctx context.Context, order *swap.Order,
	now time.Time) error {

	var (
		srcOpen bool
		dstOpen bool
	)

	if order.SourceEscrow != "" {
		open, err := c.refundLeg(
			ctx, order.SourceChain, order.SourceEscrow,
			order.Maker, order.SourceTimelock, now, order,
		)
		if err != nil {
			return err
		}
		srcOpen = open
	}

	if order.DestEscrow != "" {
		open, err := c.refundLeg(
			ctx, order.DestChain, order.DestEscrow, order.Taker,
			order.DestTimelock, now, order,
		)
		if err != nil {
			return err
		}
		dstOpen = open
	}

	if srcOpen || dstOpen {
		return nil
	}

	// All funded legs are back with their depositors, settle the
	// terminal status. The source leg refund names the terminal state
	// whenever the maker's funds were involved.
	to := swap.StatusDstRefunded
	if order.SourceEscrow != "" {
		to = swap.StatusSrcRefunded
	}

	log.Infof("Order %v fully unwound, settling as %v",
		swap.ShortID(order.ID), to)

	_, err := c.cfg.Store.UpdateOrder(
		ctx, order.ID, to, func(o *swap.Order) {
			if o.Label == "" {
				o.Label = labels.SweeperRefundLabel()
			}
		},
	)
	if err != nil {
		return err
	}

	c.unindexOrderEscrows(order)

	return c.recordOutcome(ctx, order, false)
}

// refundLeg refunds a single escrow if its timelock has passed. It
// reports whether the leg still holds value in custody.
func (c *Coordinator) refundLeg(ctx context.Context, chain swap.Chain,
	escrowID swap.EscrowID, depositor string, timelock time.Time,
	now time.Time, order *swap.Order) (bool, error) {

	ledger, ok := c.cfg.Ledgers[chain]
	if !ok {
		return false, swap.ErrChainUnavailable
	}

	state, err := ledger.GetState(ctx, escrowID)
	if err != nil {
		return false, err
	}

	switch state.State {
	// Claimed and refunded escrows hold nothing.
	case escrow.StateClaimed, escrow.StateRefunded:
		return false, nil

	// A pending lock either confirms later or never, in which case it
	// becomes refundable once active and expired. Keep waiting.
	case escrow.StatePending:
		return true, nil
	}

	if now.Before(timelock) {
		return true, nil
	}

	log.Infof("Refunding escrow %v on %v for order %v", escrowID, chain,
		swap.ShortID(order.ID))

	err = ledger.Refund(ctx, escrowID, depositor)
	switch {
	case err == nil:
		// The refund is submitted, the leg is closed out on the
		// next pass once the refund confirms.
		return true, nil

	case errors.Is(err, swap.ErrAlreadyCompleted):
		return false, nil

	default:
		return true, err
	}
}
