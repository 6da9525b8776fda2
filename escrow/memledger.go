package escrow

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/xswaplabs/xswap/monitor"
	"github.com/xswaplabs/xswap/swap"
)

// MemLedger is a deterministic in-process escrow ledger. It is the
// simnet chain implementation and the reference for what a real chain
// adapter must do: escrow records, a block height, and canonical
// events included at heights. Time flows through the injected clock
// and blocks are mined explicitly, so tests advance both virtually.
type MemLedger struct {
	chain swap.Chain
	clock clock.Clock

	mu      sync.Mutex
	height  uint32
	escrows map[swap.EscrowID]*Escrow

	// pendingAt maps an escrow to the height its lock tx is included
	// at. The escrow activates when that block is mined.
	pendingAt map[swap.EscrowID]uint32

	events []*monitor.Event
	txSeq  uint64

	// SubmitErr is consulted before every state mutating operation.
	// Tests use it to inject transient chain failures.
	SubmitErr func(op string, id swap.EscrowID) error
}

// A compile-time check that MemLedger satisfies both the ledger and
// the chain backend contracts.
var (
	_ Ledger               = (*MemLedger)(nil)
	_ monitor.ChainBackend = (*MemLedger)(nil)
)

// NewMemLedger creates an empty in-process ledger for the given chain.
func NewMemLedger(chain swap.Chain, c clock.Clock) *MemLedger {
	return &MemLedger{
		chain:     chain,
		clock:     c,
		escrows:   make(map[swap.EscrowID]*Escrow),
		pendingAt: make(map[swap.EscrowID]uint32),
	}
}

// Chain identifies the ledger.
//
// NOTE: Part of the monitor.ChainBackend interface.
func (m *MemLedger) Chain() swap.Chain {
	return m.chain
}

// BestHeight returns the current tip height.
//
// NOTE: Part of the monitor.ChainBackend interface.
func (m *MemLedger) BestHeight(_ context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.height, nil
}

// EventsSince returns all events included strictly above the given
// height, in inclusion order.
//
// NOTE: Part of the monitor.ChainBackend interface.
func (m *MemLedger) EventsSince(_ context.Context, height uint32) (
	[]*monitor.Event, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	var events []*monitor.Event
	for _, event := range m.events {
		if event.ConfirmationHeight > height {
			events = append(events, event)
		}
	}

	return events, nil
}

// Mine extends the chain by the given number of blocks, activating any
// escrow whose lock transaction is now included.
func (m *MemLedger) Mine(blocks uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.height += blocks

	for id, includedAt := range m.pendingAt {
		if includedAt > m.height {
			continue
		}

		m.escrows[id].State = StateActive
		delete(m.pendingAt, id)
	}
}

// nextTxRef assigns a deterministic transaction reference.
func (m *MemLedger) nextTxRef() swap.TxRef {
	m.txSeq++
	return swap.TxRef(fmt.Sprintf("%s-tx-%06d", m.chain, m.txSeq))
}

// newEscrowID derives a unique escrow id from the lock parameters and
// the ledger sequence.
func (m *MemLedger) newEscrowID(params *LockParams) swap.EscrowID {
	h := sha256.New()
	h.Write([]byte(m.chain))
	h.Write([]byte(params.Depositor))
	h.Write([]byte(params.Recipient))
	h.Write(params.Hashlock[:])

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], m.txSeq)
	h.Write(seq[:])

	return swap.EscrowID(hex.EncodeToString(h.Sum(nil)[:16]))
}

// Lock creates and funds a new escrow. The record is created in the
// pending state and activates when the next block is mined.
//
// NOTE: Part of the Ledger interface.
func (m *MemLedger) Lock(_ context.Context, params *LockParams) (
	swap.EscrowID, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		if err := m.SubmitErr("lock", ""); err != nil {
			return "", err
		}
	}

	now := m.clock.Now()
	if err := validateLock(params, now); err != nil {
		return "", err
	}

	txRef := m.nextTxRef()
	id := m.newEscrowID(params)
	includedAt := m.height + 1

	m.escrows[id] = &Escrow{
		ID:        id,
		Chain:     m.chain,
		Depositor: params.Depositor,
		Recipient: params.Recipient,
		Token:     params.Token,
		Amount:    params.Amount,
		Hashlock:  params.Hashlock,
		Timelock:  params.Timelock,
		State:     StatePending,
		CreatedAt: now,
	}
	m.pendingAt[id] = includedAt

	m.events = append(m.events, &monitor.Event{
		Chain:              m.chain,
		Type:               monitor.EscrowLocked,
		EscrowID:           id,
		TxRef:              txRef,
		ConfirmationHeight: includedAt,
		Amount:             params.Amount,
		Hashlock:           params.Hashlock,
		Timelock:           params.Timelock,
		Caller:             params.Depositor,
	})

	return id, nil
}

// Claim releases the escrow value to the recipient and persists the
// revealing preimage in the escrow record.
//
// NOTE: Part of the Ledger interface.
func (m *MemLedger) Claim(_ context.Context, id swap.EscrowID,
	caller string, preimage lntypes.Preimage) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		if err := m.SubmitErr("claim", id); err != nil {
			return err
		}
	}

	escrow, ok := m.escrows[id]
	if !ok {
		return swap.ErrEscrowNotFound
	}

	switch escrow.State {
	case StateClaimed, StateRefunded:
		return swap.ErrAlreadyCompleted

	case StatePending:
		return swap.NewValidationError("escrow", "not active yet")
	}

	now := m.clock.Now()
	if !now.Before(escrow.Timelock) {
		return swap.ErrTimelockViolation
	}

	if caller != escrow.Recipient {
		return swap.NewValidationError(
			"caller", "only the recipient may claim",
		)
	}

	if !preimage.Matches(escrow.Hashlock) {
		return swap.ErrHashMismatch
	}

	escrow.State = StateClaimed
	escrow.Preimage = &preimage
	escrow.ClaimedAt = now

	m.events = append(m.events, &monitor.Event{
		Chain:              m.chain,
		Type:               monitor.EscrowClaimed,
		EscrowID:           id,
		TxRef:              m.nextTxRef(),
		ConfirmationHeight: m.height + 1,
		Preimage:           &preimage,
		Caller:             caller,
	})

	return nil
}

// Refund returns the escrow value to the depositor once the timelock
// has passed.
//
// NOTE: Part of the Ledger interface.
func (m *MemLedger) Refund(_ context.Context, id swap.EscrowID,
	caller string) error {

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SubmitErr != nil {
		if err := m.SubmitErr("refund", id); err != nil {
			return err
		}
	}

	escrow, ok := m.escrows[id]
	if !ok {
		return swap.ErrEscrowNotFound
	}

	switch escrow.State {
	case StateClaimed, StateRefunded:
		return swap.ErrAlreadyCompleted

	case StatePending:
		return swap.NewValidationError("escrow", "not active yet")
	}

	now := m.clock.Now()
	if now.Before(escrow.Timelock) {
		return swap.ErrTimelockViolation
	}

	if caller != escrow.Depositor {
		return swap.NewValidationError(
			"caller", "only the depositor may refund",
		)
	}

	escrow.State = StateRefunded
	escrow.RefundedAt = now

	m.events = append(m.events, &monitor.Event{
		Chain:              m.chain,
		Type:               monitor.EscrowRefunded,
		EscrowID:           id,
		TxRef:              m.nextTxRef(),
		ConfirmationHeight: m.height + 1,
		Caller:             caller,
	})

	return nil
}

// GetState returns a copy of the escrow record.
//
// NOTE: Part of the Ledger interface.
func (m *MemLedger) GetState(_ context.Context, id swap.EscrowID) (
	*Escrow, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	escrow, ok := m.escrows[id]
	if !ok {
		return nil, swap.ErrEscrowNotFound
	}

	state := *escrow
	return &state, nil
}
