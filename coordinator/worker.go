package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/xswaplabs/xswap/escrow"
	"github.com/xswaplabs/xswap/monitor"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
)

// driveSwap advances a single swap until it reaches a terminal status
// or until the coordinator shuts down. The persisted status is the only
// loop variable: every iteration re-reads the order and runs the
// handler of its current status, so a worker restarted after a crash
// resumes mid-swap without any special casing.
func (c *Coordinator) driveSwap(ctx context.Context, order *swap.Order,
	eventQueue *queue.ConcurrentQueue) error {

	swapLog := &swap.PrefixLog{Logger: log, OrderID: order.ID}

	for {
		order, err := c.cfg.Store.FetchOrder(ctx, order.ID)
		if err != nil {
			return err
		}

		if order.Status.IsTerminal() {
			swapLog.Infof("Swap finished in state %v", order.Status)
			c.unindexOrderEscrows(order)
			return nil
		}

		swapLog.Infof("Driving state %v", order.Status)

		switch order.Status {
		case swap.StatusMatched:
			err = c.lockSourceLeg(ctx, order, eventQueue, swapLog)

		case swap.StatusSrcEscrowed:
			err = c.lockDestLeg(ctx, order, eventQueue, swapLog)

		case swap.StatusDstEscrowed:
			err = c.claimFirstLeg(ctx, order, eventQueue, swapLog)

		case swap.StatusSrcClaimed, swap.StatusDstClaimed:
			err = c.claimSecondLeg(ctx, order, eventQueue, swapLog)

		default:
			return fmt.Errorf("no handler for state %v",
				order.Status)
		}

		if err != nil {
			return err
		}
	}
}

// lockSourceLeg creates the maker's escrow on the source chain and
// waits for its confirmation.
func (c *Coordinator) lockSourceLeg(ctx context.Context, order *swap.Order,
	eventQueue *queue.ConcurrentQueue, swapLog *swap.PrefixLog) error {

	ledger, ok := c.cfg.Ledgers[order.SourceChain]
	if !ok {
		return fmt.Errorf("no ledger for chain %v", order.SourceChain)
	}

	escrowID := order.SourceEscrow

	// Skip resubmission when a previous run already created the lock.
	if escrowID == "" {
		var err error
		escrowID, err = c.submitLock(ctx, ledger, &escrow.LockParams{
			Depositor: order.Maker,
			Recipient: order.Taker,
			Token:     order.TokenIn,
			Amount:    order.AmountIn,
			Hashlock:  order.Hashlock,
			Timelock:  order.SourceTimelock,
		}, order.SourceTimelock, swapLog)
		if err != nil {
			return err
		}

		err = c.cfg.Store.SetOrderEscrow(
			ctx, order.ID, swapdb.LegSource, escrowID,
		)
		if err != nil {
			return err
		}
	}

	c.registerEscrow(order.SourceChain, escrowID, order.ID)

	swapLog.Infof("Source escrow %v submitted, awaiting confirmation",
		escrowID)

	_, err := c.awaitEvent(
		ctx, eventQueue, order.SourceTimelock,
		func(event *monitor.Event) bool {
			return event.Type == monitor.EscrowLocked &&
				event.EscrowID == escrowID
		},
	)
	if err != nil {
		return err
	}

	_, err = c.cfg.Store.UpdateOrder(
		ctx, order.ID, swap.StatusSrcEscrowed, nil,
	)
	return err
}

// lockDestLeg creates the resolver's escrow on the destination chain
// at the frozen matched rate and waits for its confirmation.
func (c *Coordinator) lockDestLeg(ctx context.Context, order *swap.Order,
	eventQueue *queue.ConcurrentQueue, swapLog *swap.PrefixLog) error {

	ledger, ok := c.cfg.Ledgers[order.DestChain]
	if !ok {
		return fmt.Errorf("no ledger for chain %v", order.DestChain)
	}

	escrowID := order.DestEscrow
	if escrowID == "" {
		var err error
		escrowID, err = c.submitLock(ctx, ledger, &escrow.LockParams{
			Depositor: order.Taker,
			Recipient: order.Maker,
			Token:     order.TokenOut,
			Amount:    order.DestAmount(),
			Hashlock:  order.Hashlock,
			Timelock:  order.DestTimelock,
		}, order.DestTimelock, swapLog)
		if err != nil {
			return err
		}

		err = c.cfg.Store.SetOrderEscrow(
			ctx, order.ID, swapdb.LegDest, escrowID,
		)
		if err != nil {
			return err
		}
	}

	c.registerEscrow(order.DestChain, escrowID, order.ID)

	swapLog.Infof("Destination escrow %v submitted, awaiting "+
		"confirmation", escrowID)

	_, err := c.awaitEvent(
		ctx, eventQueue, order.DestTimelock,
		func(event *monitor.Event) bool {
			return event.Type == monitor.EscrowLocked &&
				event.EscrowID == escrowID
		},
	)
	if err != nil {
		return err
	}

	_, err = c.cfg.Store.UpdateOrder(
		ctx, order.ID, swap.StatusDstEscrowed, nil,
	)
	return err
}

// claimFirstLeg releases the secret now that both legs are funded and
// claims the destination escrow for the maker, publishing the preimage
// on chain. The observed claim event, not the submission, is what moves
// the state forward: a competing claim observed first is just as valid.
func (c *Coordinator) claimFirstLeg(ctx context.Context, order *swap.Order,
	eventQueue *queue.ConcurrentQueue, swapLog *swap.PrefixLog) error {

	// The vault refuses this call unless both escrows are confirmed.
	preimage, err := c.cfg.Vault.Retrieve(ctx, order.ID)
	if err != nil {
		return err
	}

	ledger, ok := c.cfg.Ledgers[order.DestChain]
	if !ok {
		return fmt.Errorf("no ledger for chain %v", order.DestChain)
	}

	swapLog.Infof("Both legs funded, claiming destination escrow %v",
		order.DestEscrow)

	err = c.submitClaim(
		ctx, ledger, order.DestEscrow, order.Maker, preimage,
		order.DestTimelock, swapLog,
	)
	if err != nil {
		return err
	}

	// Either leg may confirm its claim first, the state machine admits
	// both orders.
	event, err := c.awaitEvent(
		ctx, eventQueue, order.DestTimelock,
		func(event *monitor.Event) bool {
			return event.Type == monitor.EscrowClaimed
		},
	)
	if err != nil {
		return err
	}

	return c.recordClaim(ctx, order, event, swapLog)
}

// claimSecondLeg claims the remaining escrow with the preimage that is
// now public. The claim is mandatory: it is retried without limit
// until it lands, because giving up would strand the counterparty's
// leg. When the remaining time shrinks below the at-risk buffer an
// operator alert fires; when the timelock passes the swap has lost
// atomicity and is marked failed.
func (c *Coordinator) claimSecondLeg(ctx context.Context, order *swap.Order,
	eventQueue *queue.ConcurrentQueue, swapLog *swap.PrefixLog) error {

	if order.Preimage == nil {
		return errors.New("claimed state without a recorded preimage")
	}
	preimage := *order.Preimage

	// Identify the leg still open.
	var (
		chain    swap.Chain
		escrowID swap.EscrowID
		caller   string
		timelock time.Time
	)
	switch order.Status {
	case swap.StatusDstClaimed:
		chain = order.SourceChain
		escrowID = order.SourceEscrow
		caller = order.Taker
		timelock = order.SourceTimelock

	case swap.StatusSrcClaimed:
		chain = order.DestChain
		escrowID = order.DestEscrow
		caller = order.Maker
		timelock = order.DestTimelock
	}

	ledger, ok := c.cfg.Ledgers[chain]
	if !ok {
		return fmt.Errorf("no ledger for chain %v", chain)
	}

	swapLog.Infof("Claiming second leg escrow %v on %v", escrowID, chain)

	err := c.mandatoryClaim(
		ctx, ledger, order.ID, escrowID, caller, preimage, timelock,
		swapLog,
	)
	if errors.Is(err, swap.ErrAtomicityAtRisk) {
		swapLog.Criticalf("ALERT: second leg escrow %v on %v passed "+
			"its timelock unclaimed, atomicity lost", escrowID,
			chain)

		_, updateErr := c.cfg.Store.UpdateOrder(
			ctx, order.ID, swap.StatusFailed, nil,
		)
		if updateErr != nil {
			return updateErr
		}

		return c.recordOutcome(ctx, order, false)
	}
	if err != nil {
		return err
	}

	event, err := c.awaitEvent(
		ctx, eventQueue, timelock,
		func(event *monitor.Event) bool {
			return event.Type == monitor.EscrowClaimed &&
				event.EscrowID == escrowID
		},
	)
	if err != nil {
		return err
	}

	if err := c.recordClaim(ctx, order, event, swapLog); err != nil {
		return err
	}

	return c.recordOutcome(ctx, order, true)
}

// recordClaim routes an observed claim event through the vault's
// reveal capture and advances the order to the matching claimed state,
// or to completed when it was the second leg.
func (c *Coordinator) recordClaim(ctx context.Context, order *swap.Order,
	event *monitor.Event, swapLog *swap.PrefixLog) error {

	if event.Preimage == nil {
		return fmt.Errorf("claim event %v without preimage",
			event.DedupKey())
	}
	preimage := *event.Preimage

	// A claim with a foreign preimage is an on-chain impossibility and
	// aborts the swap loudly inside the vault.
	err := c.cfg.Vault.CaptureReveal(
		ctx, order.ID, preimage, event.Caller, event.TxRef,
		c.cfg.Clock.Now(),
	)
	if err != nil {
		return err
	}

	var to swap.Status
	switch {
	case order.Status == swap.StatusSrcClaimed,
		order.Status == swap.StatusDstClaimed:

		to = swap.StatusCompleted

	case event.Chain == order.SourceChain:
		to = swap.StatusSrcClaimed

	default:
		to = swap.StatusDstClaimed
	}

	swapLog.Infof("Observed claim of escrow %v on %v by %v",
		event.EscrowID, event.Chain, event.Caller)

	if to == swap.StatusCompleted {
		fee := swap.CalcProtocolFee(
			order.DestAmount(), order.ProtocolFeeBps,
		)
		swapLog.Infof("Swap settled, protocol fee %d (%d bps)",
			fee, order.ProtocolFeeBps)
	}

	_, err = c.cfg.Store.UpdateOrder(
		ctx, order.ID, to, func(o *swap.Order) {
			o.Preimage = &preimage
		},
	)
	return err
}

// recordOutcome reports the swap result to the resolver registry.
func (c *Coordinator) recordOutcome(ctx context.Context, order *swap.Order,
	success bool) error {

	if order.Taker == "" {
		return nil
	}

	return c.cfg.Registry.RecordOutcome(ctx, order.Taker, success)
}

// submitLock submits an escrow lock, retrying transient chain errors
// with capped exponential backoff until the deadline.
func (c *Coordinator) submitLock(ctx context.Context, ledger escrow.Ledger,
	params *escrow.LockParams, deadline time.Time,
	swapLog *swap.PrefixLog) (swap.EscrowID, error) {

	var escrowID swap.EscrowID
	err := c.retry(ctx, deadline, swapLog, func() error {
		var err error
		escrowID, err = ledger.Lock(ctx, params)
		return err
	})
	return escrowID, err
}

// submitClaim submits an escrow claim, retrying transient chain errors.
// A claim that finds the escrow already completed succeeded from the
// swap's point of view: someone else published the preimage first.
func (c *Coordinator) submitClaim(ctx context.Context, ledger escrow.Ledger,
	id swap.EscrowID, caller string, preimage lntypes.Preimage,
	deadline time.Time, swapLog *swap.PrefixLog) error {

	err := c.retry(ctx, deadline, swapLog, func() error {
		return ledger.Claim(ctx, id, caller, preimage)
	})
	if errors.Is(err, swap.ErrAlreadyCompleted) {
		return nil
	}
	return err
}

// mandatoryClaim drives the second leg claim, which must not be given
// up on. Unlike retry it retries every error, not only transient ones,
// fires the at-risk alert once when the remaining time shrinks below
// the buffer and returns swap.ErrAtomicityAtRisk once the timelock has
// passed.
func (c *Coordinator) mandatoryClaim(ctx context.Context,
	ledger escrow.Ledger, orderID swap.OrderID, id swap.EscrowID,
	caller string, preimage lntypes.Preimage, timelock time.Time,
	swapLog *swap.PrefixLog) error {

	var (
		delay   = c.cfg.RetryBaseDelay
		alerted bool
	)

	for {
		now := c.cfg.Clock.Now()
		if !now.Before(timelock) {
			return swap.ErrAtomicityAtRisk
		}

		remaining := timelock.Sub(now)
		if !alerted && remaining <= c.cfg.AtRiskBuffer {
			alerted = true

			swapLog.Criticalf("ALERT: second leg claim of escrow "+
				"%v unconfirmed with %v remaining", id,
				remaining)

			if c.cfg.AtRiskAlert != nil {
				c.cfg.AtRiskAlert(orderID, remaining)
			}
		}

		err := ledger.Claim(ctx, id, caller, preimage)
		switch {
		case err == nil:
			return nil

		case errors.Is(err, swap.ErrAlreadyCompleted):
			// The counterparty or a prior submission landed it.
			return nil

		case errors.Is(err, context.Canceled),
			errors.Is(err, context.DeadlineExceeded):

			return err
		}

		swapLog.Warnf("Second leg claim of %v failed, retrying in "+
			"%v: %v", id, delay, err)

		select {
		case <-c.cfg.Clock.TickAfter(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
	}
}

// retry runs the submission, retrying transient chain errors with
// capped exponential backoff. Non-transient errors abort immediately
// and the deadline bounds the total attempt time.
func (c *Coordinator) retry(ctx context.Context, deadline time.Time,
	swapLog *swap.PrefixLog, submit func() error) error {

	delay := c.cfg.RetryBaseDelay

	for {
		err := submit()
		if err == nil {
			return nil
		}

		if !swap.IsRetryable(err) {
			return err
		}

		if !c.cfg.Clock.Now().Add(delay).Before(deadline) {
			return err
		}

		swapLog.Warnf("Chain submission failed, retrying in %v: %v",
			delay, err)

		select {
		case <-c.cfg.Clock.TickAfter(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > c.cfg.RetryMaxDelay {
			delay = c.cfg.RetryMaxDelay
		}
	}
}

// awaitEvent blocks until an event matching the filter arrives on the
// swap's queue, the deadline passes or the context is canceled. Events
// not matching the filter are dropped: each handler awaits exactly the
// confirmation that unblocks its state.
func (c *Coordinator) awaitEvent(ctx context.Context,
	eventQueue *queue.ConcurrentQueue, deadline time.Time,
	match func(*monitor.Event) bool) (*monitor.Event, error) {

	timeout := deadline.Sub(c.cfg.Clock.Now())
	if timeout <= 0 {
		return nil, swap.ErrTimelockViolation
	}

	expiry := c.cfg.Clock.TickAfter(timeout)

	for {
		select {
		case item, ok := <-eventQueue.ChanOut():
			if !ok {
				return nil, errors.New("event queue closed")
			}

			event := item.(*monitor.Event)
			if match(event) {
				return event, nil
			}

		case <-expiry:
			return nil, swap.ErrTimelockViolation

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
