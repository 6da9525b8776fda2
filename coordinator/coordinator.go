// Package coordinator drives swaps from intent to completion or safe
// rollback. It consumes the canonical event streams of both chain
// monitors, creates matching escrows on both ledgers, relays the
// revealed secret from one leg to the other and routes every stalled
// swap into the refund path. Each in-flight swap is driven by its own
// worker goroutine; all cross-worker coordination happens through the
// persisted order's conditional status updates, never through shared
// memory.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/xswaplabs/xswap/auction"
	"github.com/xswaplabs/xswap/escrow"
	"github.com/xswaplabs/xswap/labels"
	"github.com/xswaplabs/xswap/monitor"
	"github.com/xswaplabs/xswap/registry"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
	"github.com/xswaplabs/xswap/vault"
)

const (
	// DefaultAtRiskBuffer is the remaining-time threshold below which
	// an unconfirmed second leg claim escalates to an operator alert.
	DefaultAtRiskBuffer = time.Minute

	// DefaultMaxSwapWorkers bounds the number of concurrently driven
	// swaps. The bound should match the RPC throughput of the slower
	// chain backend.
	DefaultMaxSwapWorkers = 16

	// defaultRetryBaseDelay is the initial backoff after a failed
	// chain submission.
	defaultRetryBaseDelay = time.Second

	// defaultRetryMaxDelay caps the submission backoff.
	defaultRetryMaxDelay = time.Minute

	// defaultSweepInterval is how often the timeout sweeper scans open
	// orders when no ticker is provided.
	defaultSweepInterval = time.Minute
)

// Config holds the services and parameters of the coordinator.
type Config struct {
	// Store is the single source of truth for orders, secrets and
	// resolvers.
	Store swapdb.Store

	// Registry gates which resolvers may reserve orders.
	Registry *registry.Registry

	// Vault mediates all preimage access.
	Vault *vault.Vault

	// Ledgers maps each chain to its escrow contract surface.
	Ledgers map[swap.Chain]escrow.Ledger

	// Monitors maps each chain to its event monitor.
	Monitors map[swap.Chain]*monitor.Monitor

	// Clock supplies all coordination timing. Tests inject a test
	// clock to advance virtual time.
	Clock clock.Clock

	// SweepTicker drives the periodic timeout pass over all
	// non-terminal swaps.
	SweepTicker ticker.Ticker

	// SafetyMargin is the minimum distance between the destination
	// and source leg timelocks.
	SafetyMargin time.Duration

	// AtRiskBuffer is the remaining-time threshold for the atomicity
	// alert.
	AtRiskBuffer time.Duration

	// MaxSwapWorkers bounds concurrent swap workers.
	MaxSwapWorkers int

	// RetryBaseDelay is the initial chain submission backoff. Tests
	// may set it to a negligible value.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the chain submission backoff.
	RetryMaxDelay time.Duration

	// AtRiskAlert, if set, is invoked exactly once per swap when the
	// atomicity alert fires, in addition to the critical log.
	AtRiskAlert func(orderID swap.OrderID, remaining time.Duration)
}

// escrowKey identifies an escrow across chains.
type escrowKey struct {
	chain    swap.Chain
	escrowID swap.EscrowID
}

// swapWorker is the event inbox of a single driven swap. The deduper is
// scoped to the worker, so its keys are released together with the
// queue when the swap reaches a terminal state.
type swapWorker struct {
	queue *queue.ConcurrentQueue
	dedup *monitor.Deduper
}

// Coordinator is the orchestration engine.
type Coordinator struct {
	cfg Config

	// runCtx is the lifetime of Run, used to anchor workers spawned
	// from API calls.
	runCtx context.Context

	mu sync.Mutex

	// escrowIndex routes events to the order their escrow belongs to.
	escrowIndex map[escrowKey]swap.OrderID

	// workers holds the inbox of every driven swap.
	workers map[swap.OrderID]*swapWorker

	// workerSlots bounds the number of concurrent workers.
	workerSlots chan struct{}

	// started is closed once Run is live and accepting work.
	started     chan struct{}
	startedOnce sync.Once

	wg sync.WaitGroup
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil || cfg.Registry == nil || cfg.Vault == nil {
		return nil, errors.New("store, registry and vault are " +
			"required")
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.SafetyMargin == 0 {
		cfg.SafetyMargin = swap.DefaultSafetyMargin
	}
	if cfg.AtRiskBuffer == 0 {
		cfg.AtRiskBuffer = DefaultAtRiskBuffer
	}
	if cfg.MaxSwapWorkers == 0 {
		cfg.MaxSwapWorkers = DefaultMaxSwapWorkers
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = defaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay == 0 {
		cfg.RetryMaxDelay = defaultRetryMaxDelay
	}
	if cfg.SweepTicker == nil {
		cfg.SweepTicker = ticker.New(defaultSweepInterval)
	}

	return &Coordinator{
		cfg:         cfg,
		escrowIndex: make(map[escrowKey]swap.OrderID),
		workers:     make(map[swap.OrderID]*swapWorker),
		workerSlots: make(chan struct{}, cfg.MaxSwapWorkers),
		started:     make(chan struct{}),
	}, nil
}

// Started returns a channel that is closed once Run is live and
// accepting work.
func (c *Coordinator) Started() <-chan struct{} {
	return c.started
}

// Run starts the coordinator and blocks until the context is canceled.
// It resumes every non-terminal persisted swap, then dispatches
// monitor events and periodically sweeps for timed out swaps.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	c.startedOnce.Do(func() {
		close(c.started)
	})

	// Recover all in-flight swaps before processing new events, so
	// that a restart continues exactly where the previous process
	// stopped.
	pending, err := c.cfg.Store.FetchPendingOrders(ctx)
	if err != nil {
		return err
	}

	log.Infof("Starting coordinator, resuming %d in-flight swaps",
		len(pending))

	for _, order := range pending {
		c.indexOrderEscrows(order)

		// Orders that are still unreserved have no worker: they are
		// either matched later or expired by the sweeper.
		if order.Status == swap.StatusCreated {
			continue
		}

		c.spawnWorker(ctx, order)
	}

	// Fan in the canonical event streams of all chains.
	for chain, mon := range c.cfg.Monitors {
		events := mon.Subscribe(ctx)

		c.wg.Add(1)
		go func(chain swap.Chain, events <-chan *monitor.Event) {
			defer c.wg.Done()

			for {
				select {
				case event, ok := <-events:
					if !ok {
						return
					}

					c.dispatch(event)

				case <-ctx.Done():
					return
				}
			}
		}(chain, events)
	}

	// Run the timeout sweeper until shutdown.
	c.cfg.SweepTicker.Resume()
	defer c.cfg.SweepTicker.Stop()

	for {
		select {
		case <-c.cfg.SweepTicker.Ticks():
			c.sweepPass(ctx)

		case <-ctx.Done():
			c.wg.Wait()
			return ctx.Err()
		}
	}
}

// OrderParams are the intent parameters of a new order.
type OrderParams struct {
	// Maker is the intent submitter.
	Maker string

	// TokenIn is the asset locked on the source chain.
	TokenIn string

	// TokenOut is the asset received on the destination chain.
	TokenOut string

	// AmountIn is the source amount.
	AmountIn swap.Amount

	// StartRate is the opening auction rate.
	StartRate swap.Rate

	// EndRate is the floor auction rate.
	EndRate swap.Rate

	// AuctionStart is the auction open time.
	AuctionStart time.Time

	// AuctionEnd is the auction floor time.
	AuctionEnd time.Time

	// Deadline is the hard order expiry.
	Deadline time.Time

	// SourceChain is the maker side ledger.
	SourceChain swap.Chain

	// DestChain is the resolver side ledger.
	DestChain swap.Chain

	// SourceTimelock is the source escrow refund deadline.
	SourceTimelock time.Time

	// ProtocolFeeBps overrides the default protocol fee when set.
	ProtocolFeeBps uint32

	// Label is an optional client supplied tag.
	Label string
}

// SubmitOrder creates a new order from an intent: the vault draws the
// swap secret, the order id is derived from its hashlock and the
// structural invariants are checked before anything enters the state
// machine.
func (c *Coordinator) SubmitOrder(ctx context.Context,
	params *OrderParams) (*swap.Order, error) {

	if err := labels.Validate(params.Label); err != nil {
		return nil, swap.NewValidationError("label", err.Error())
	}

	createdAt := c.cfg.Clock.Now()

	feeBps := params.ProtocolFeeBps
	if feeBps == 0 {
		feeBps = swap.DefaultProtocolFeeBps
	}

	orderID, hashlock, err := c.cfg.Vault.Generate(
		ctx, func(hashlock lntypes.Hash) swap.OrderID {
			return swap.NewOrderID(
				params.Maker, params.TokenIn, params.TokenOut,
				params.AmountIn, hashlock, createdAt,
			)
		},
	)
	if err != nil {
		return nil, err
	}

	order := &swap.Order{
		ID:       orderID,
		Maker:    params.Maker,
		TokenIn:  params.TokenIn,
		TokenOut: params.TokenOut,
		AmountIn: params.AmountIn,

		StartRate:    params.StartRate,
		EndRate:      params.EndRate,
		AuctionStart: params.AuctionStart,
		AuctionEnd:   params.AuctionEnd,
		Deadline:     params.Deadline,

		Hashlock:    hashlock,
		SourceChain: params.SourceChain,
		DestChain:   params.DestChain,

		SourceTimelock: params.SourceTimelock,
		DestTimelock: params.SourceTimelock.Add(
			-c.cfg.SafetyMargin,
		),

		Status:         swap.StatusCreated,
		ProtocolFeeBps: feeBps,
		Label:          params.Label,
		CreatedAt:      createdAt,
	}

	if err := order.Validate(c.cfg.SafetyMargin); err != nil {
		return nil, err
	}

	if err := c.cfg.Store.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	log.Infof("Created order %v: %d %s (%s) -> %s (%s), auction "+
		"%d..%d", swap.ShortID(order.ID), order.AmountIn,
		order.TokenIn, order.SourceChain, order.TokenOut,
		order.DestChain, order.StartRate, order.EndRate)

	return order, nil
}

// MatchOrder reserves the order for the given resolver at the current
// auction price. Exactly one of any number of racing resolvers wins;
// the losers receive swap.ErrOrderTaken. The winning rate is frozen
// and never re-evaluated.
func (c *Coordinator) MatchOrder(ctx context.Context, id swap.OrderID,
	resolver string) (*swap.Order, error) {

	if err := c.cfg.Registry.IsAuthorized(ctx, resolver); err != nil {
		return nil, err
	}

	order, err := c.cfg.Store.FetchOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	now := c.cfg.Clock.Now()
	if now.After(order.Deadline) {
		return nil, swap.ErrTimelockViolation
	}

	rate := auction.Price(order, now)

	order, err = c.cfg.Store.ReserveOrder(ctx, id, resolver, rate)
	if err != nil {
		return nil, err
	}

	log.Infof("Order %v matched by %v at rate %d",
		swap.ShortID(id), resolver, rate)

	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()

	// Outside of a running coordinator (or during a restart race) the
	// matched order is picked up by the recovery pass instead.
	if runCtx != nil && runCtx.Err() == nil {
		c.spawnWorker(runCtx, order)
	}

	return order, nil
}

// dispatch routes a monitor event to the worker of the swap its escrow
// belongs to. Redelivered events are dropped per worker, satisfying the
// consumer side of the at-least-once contract. An event that finds no
// worker is not marked seen: it may race the escrow registration of a
// just submitted lock, and a redelivery must still be routable then.
func (c *Coordinator) dispatch(event *monitor.Event) {
	c.mu.Lock()
	orderID, ok := c.escrowIndex[escrowKey{
		chain:    event.Chain,
		escrowID: event.EscrowID,
	}]
	var worker *swapWorker
	if ok {
		worker = c.workers[orderID]
	}
	runCtx := c.runCtx
	c.mu.Unlock()

	if worker == nil {
		log.Debugf("No worker for %v event on chain=%v escrow=%v",
			event.Type, event.Chain, event.EscrowID)
		return
	}

	if worker.dedup.Seen(event) {
		log.Debugf("Dropping duplicate event %v", event.DedupKey())
		return
	}

	// The worker may race its own shutdown, never block on a queue
	// that is going away.
	select {
	case worker.queue.ChanIn() <- event:
	case <-runCtx.Done():
	}
}

// registerEscrow indexes an escrow for event routing.
func (c *Coordinator) registerEscrow(chain swap.Chain,
	escrowID swap.EscrowID, orderID swap.OrderID) {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.escrowIndex[escrowKey{chain: chain, escrowID: escrowID}] = orderID
}

// indexOrderEscrows registers the already persisted escrow references
// of a recovered order.
func (c *Coordinator) indexOrderEscrows(order *swap.Order) {
	if order.SourceEscrow != "" {
		c.registerEscrow(
			order.SourceChain, order.SourceEscrow, order.ID,
		)
	}
	if order.DestEscrow != "" {
		c.registerEscrow(
			order.DestChain, order.DestEscrow, order.ID,
		)
	}
}

// unindexOrderEscrows drops the routing entries of a finished order, so
// the index stays bounded by the number of open swaps.
func (c *Coordinator) unindexOrderEscrows(order *swap.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if order.SourceEscrow != "" {
		delete(c.escrowIndex, escrowKey{
			chain:    order.SourceChain,
			escrowID: order.SourceEscrow,
		})
	}
	if order.DestEscrow != "" {
		delete(c.escrowIndex, escrowKey{
			chain:    order.DestChain,
			escrowID: order.DestEscrow,
		})
	}
}

// spawnWorker starts the driving goroutine of a swap, bounded by the
// worker pool.
func (c *Coordinator) spawnWorker(ctx context.Context, order *swap.Order) {
	c.mu.Lock()
	if _, ok := c.workers[order.ID]; ok {
		// Already driven.
		c.mu.Unlock()
		return
	}

	worker := &swapWorker{
		queue: queue.NewConcurrentQueue(8),
		dedup: monitor.NewDeduper(),
	}
	worker.queue.Start()
	c.workers[order.ID] = worker
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.workers, order.ID)
			c.mu.Unlock()

			worker.queue.Stop()
		}()

		// Respect the worker pool bound.
		select {
		case c.workerSlots <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() {
			<-c.workerSlots
		}()

		if err := c.driveSwap(ctx, order, worker.queue); err != nil &&
			!errors.Is(err, context.Canceled) {

			log.Errorf("Swap %v worker exited: %v",
				swap.ShortID(order.ID), err)
		}
	}()
}
