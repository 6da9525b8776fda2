package monitor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/xswaplabs/xswap/swap"
)

// CursorStore persists the confirmation height a monitor has delivered
// up to, so that a restart resumes from where it left off instead of
// from the current tip.
type CursorStore interface {
	// GetCursor returns the last durably recorded height for the
	// chain, or zero if none was recorded yet.
	GetCursor(chain swap.Chain) (uint32, error)

	// PutCursor durably records the delivered-up-to height for the
	// chain.
	PutCursor(chain swap.Chain, height uint32) error
}

// Config holds the dependencies of a chain monitor.
type Config struct {
	// Backend supplies the raw canonical events for the chain.
	Backend ChainBackend

	// Cursor persists the resume height across restarts.
	Cursor CursorStore

	// ConfDepth is the number of confirmations an event needs before
	// it is emitted. A depth of 1 means emitted in the block it was
	// included in. This is what makes emitted events reorg safe.
	ConfDepth uint32

	// Ticker drives the poll loop. Tests inject a forced ticker to
	// advance virtual time deterministically.
	Ticker ticker.Ticker
}

// Monitor observes a single chain and emits canonical escrow events to
// its subscribers with at-least-once semantics.
type Monitor struct {
	cfg Config

	mu          sync.Mutex
	subscribers []*subscriber

	started sync.Once
}

type subscriber struct {
	ctx   context.Context
	queue *queue.ConcurrentQueue
	out   chan *Event
}

// New creates a new monitor for the backend's chain.
func New(cfg Config) *Monitor {
	if cfg.ConfDepth == 0 {
		cfg.ConfDepth = 1
	}

	return &Monitor{
		cfg: cfg,
	}
}

// Subscribe registers a new consumer of the event stream. The returned
// channel is closed when the passed context is canceled. Events are
// buffered, a slow consumer never blocks the poll loop.
func (m *Monitor) Subscribe(ctx context.Context) <-chan *Event {
	sub := &subscriber{
		ctx:   ctx,
		queue: queue.NewConcurrentQueue(16),
		out:   make(chan *Event),
	}
	sub.queue.Start()

	m.mu.Lock()
	m.subscribers = append(m.subscribers, sub)
	m.mu.Unlock()

	// Forward the untyped queue output to the typed subscriber
	// channel until the subscriber context ends.
	go func() {
		defer close(sub.out)
		defer sub.queue.Stop()
		defer m.removeSubscriber(sub)

		for {
			select {
			case item, ok := <-sub.queue.ChanOut():
				if !ok {
					return
				}

				event := item.(*Event)
				select {
				case sub.out <- event:
				case <-ctx.Done():
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return sub.out
}

// removeSubscriber drops the subscriber from the fan-out list.
func (m *Monitor) removeSubscriber(sub *subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.subscribers {
		if s == sub {
			m.subscribers = append(
				m.subscribers[:i], m.subscribers[i+1:]...,
			)
			return
		}
	}
}

// ResumeFrom overrides the durable resume height. The next poll will
// re-deliver everything above it, which is safe because delivery is
// at-least-once and consumers deduplicate.
func (m *Monitor) ResumeFrom(height uint32) error {
	return m.cfg.Cursor.PutCursor(m.cfg.Backend.Chain(), height)
}

// Run starts the poll loop and blocks until the context is canceled.
// It resumes from the last durably recorded height, never from the
// current tip, so that events during downtime are not silently
// skipped.
func (m *Monitor) Run(ctx context.Context) error {
	chain := m.cfg.Backend.Chain()

	cursor, err := m.cfg.Cursor.GetCursor(chain)
	if err != nil {
		return err
	}

	log.Infof("Monitor for chain=%v starting at height %d, "+
		"conf_depth=%d", chain, cursor, m.cfg.ConfDepth)

	m.cfg.Ticker.Resume()
	defer m.cfg.Ticker.Stop()

	for {
		select {
		case <-m.cfg.Ticker.Ticks():
			if err := m.PollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}

				// Transient backend failures are retried on
				// the next tick.
				log.Warnf("Monitor poll for chain=%v "+
					"failed: %v", chain, err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PollOnce performs a single poll pass: fetch events above the durable
// cursor, emit all that reached the configured confirmation depth and
// advance the cursor past them.
func (m *Monitor) PollOnce(ctx context.Context) error {
	chain := m.cfg.Backend.Chain()

	cursor, err := m.cfg.Cursor.GetCursor(chain)
	if err != nil {
		return err
	}

	best, err := m.cfg.Backend.BestHeight(ctx)
	if err != nil {
		return err
	}

	events, err := m.cfg.Backend.EventsSince(ctx, cursor)
	if err != nil {
		return err
	}

	delivered := cursor
	for _, event := range events {
		// Events are ordered by height. Once we hit the first event
		// that has not matured to the confirmation depth, everything
		// after it is also unripe.
		if event.ConfirmationHeight+m.cfg.ConfDepth-1 > best {
			break
		}

		m.deliver(event)

		if event.ConfirmationHeight > delivered {
			delivered = event.ConfirmationHeight
		}
	}

	if delivered == cursor {
		return nil
	}

	// The cursor is only advanced after delivery. A crash between
	// delivery and this write causes re-delivery, never a gap.
	return m.cfg.Cursor.PutCursor(chain, delivered)
}

// deliver fans the event out to all current subscribers.
func (m *Monitor) deliver(event *Event) {
	m.mu.Lock()
	subs := make([]*subscriber, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	log.Debugf("Delivering %v event chain=%v escrow=%v height=%d",
		event.Type, event.Chain, event.EscrowID,
		event.ConfirmationHeight)

	for _, sub := range subs {
		select {
		case sub.queue.ChanIn() <- event:
		case <-sub.ctx.Done():
		}
	}
}
