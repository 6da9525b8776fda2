package swapdb

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/xswaplabs/xswap/swap"
	"go.etcd.io/bbolt"
)

var (
	// dbFileName is the default file name of the swap database.
	dbFileName = "xswap.db"

	// ordersBucketKey is a bucket that contains all orders, keyed by
	// order id.
	//
	// maps: orderID -> serialized order
	ordersBucketKey = []byte("orders")

	// secretsBucketKey is a bucket that contains the secret record of
	// every order, keyed by order id.
	//
	// maps: orderID -> serialized secret
	secretsBucketKey = []byte("secrets")

	// resolversBucketKey is a bucket that contains the registry
	// records, keyed by resolver address.
	//
	// maps: address -> serialized resolver
	resolversBucketKey = []byte("resolvers")

	// cursorsBucketKey is a bucket that contains the durable monitor
	// resume heights, keyed by chain id.
	//
	// maps: chain -> big endian height
	cursorsBucketKey = []byte("cursors")

	// metaBucketKey is a bucket that contains the db version and the
	// aggregate order counters.
	metaBucketKey = []byte("metadata")

	// dbVersionKey holds the database version inside the meta bucket.
	dbVersionKey = []byte("dbp")

	// ordersCreatedKey holds the created-orders counter inside the
	// meta bucket.
	ordersCreatedKey = []byte("orders-created")

	// ordersCompletedKey holds the completed-orders counter inside
	// the meta bucket.
	ordersCompletedKey = []byte("orders-completed")

	// latestDBVersion is the current database version.
	latestDBVersion = uint64(1)
)

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// boltStore stores all swap daemon data in boltdb.
type boltStore struct {
	db *bbolt.DB
}

// A compile-time check that boltStore implements the Store interface.
var _ Store = (*boltStore)(nil)

// NewBoltStore opens, and creates if necessary, the swap database in
// the given directory.
func NewBoltStore(dbPath string) (Store, error) {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, dbFileName)
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	// Create all buckets on first start. These calls are noops when
	// the buckets already exist.
	err = db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucketKey)
		if err != nil {
			return err
		}

		if meta.Get(dbVersionKey) == nil {
			log.Infof("Initializing new database with version %v",
				latestDBVersion)

			err := meta.Put(dbVersionKey, itob(latestDBVersion))
			if err != nil {
				return err
			}
		}

		for _, key := range [][]byte{
			ordersBucketKey, secretsBucketKey,
			resolversBucketKey, cursorsBucketKey,
		} {
			if _, err := tx.CreateBucketIfNotExists(key); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return &boltStore{db: db}, nil
}

// Close releases the underlying database.
//
// NOTE: Part of the Store interface.
func (s *boltStore) Close() error {
	return s.db.Close()
}

// CreateOrder persists a new order and bumps the created counter.
//
// NOTE: Part of the Store interface.
func (s *boltStore) CreateOrder(_ context.Context,
	order *swap.Order) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		orders := tx.Bucket(ordersBucketKey)

		if orders.Get(order.ID[:]) != nil {
			return ErrOrderExists
		}

		data, err := serializeOrder(order)
		if err != nil {
			return err
		}

		if err := orders.Put(order.ID[:], data); err != nil {
			return err
		}

		return bumpCounter(tx, ordersCreatedKey)
	})
}

// FetchOrder returns the order with the given id.
//
// NOTE: Part of the Store interface.
func (s *boltStore) FetchOrder(_ context.Context, id swap.OrderID) (
	*swap.Order, error) {

	var order *swap.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(ordersBucketKey).Get(id[:])
		if data == nil {
			return swap.ErrOrderNotFound
		}

		var err error
		order, err = deserializeOrder(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// FetchPendingOrders returns all orders in a non-terminal status.
//
// NOTE: Part of the Store interface.
func (s *boltStore) FetchPendingOrders(_ context.Context) (
	[]*swap.Order, error) {

	var orders []*swap.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(ordersBucketKey).ForEach(
			func(_, data []byte) error {
				order, err := deserializeOrder(data)
				if err != nil {
					return err
				}

				if !order.Status.IsTerminal() {
					orders = append(orders, order)
				}

				return nil
			},
		)
	})
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// ReserveOrder atomically assigns the order to a resolver. The
// test-and-set on the persisted taker field is the only lock-like
// primitive in the system: two resolvers racing the same order cannot
// both win, even across restarts.
//
// NOTE: Part of the Store interface.
func (s *boltStore) ReserveOrder(_ context.Context, id swap.OrderID,
	resolver string, rate swap.Rate) (*swap.Order, error) {

	var order *swap.Order
	err := s.db.Update(func(tx *bbolt.Tx) error {
		orders := tx.Bucket(ordersBucketKey)

		data := orders.Get(id[:])
		if data == nil {
			return swap.ErrOrderNotFound
		}

		var err error
		order, err = deserializeOrder(data)
		if err != nil {
			return err
		}

		if order.Taker != "" || order.Status != swap.StatusCreated {
			return swap.ErrOrderTaken
		}

		order.Taker = resolver
		order.ResolverID = resolver
		order.MatchedRate = rate
		order.Status = swap.StatusMatched

		data, err = serializeOrder(order)
		if err != nil {
			return err
		}

		return orders.Put(id[:], data)
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// UpdateOrder moves the order to the given status after checking the
// transition against the persisted status inside the transaction.
//
// NOTE: Part of the Store interface.
func (s *boltStore) UpdateOrder(_ context.Context, id swap.OrderID,
	to swap.Status, update func(*swap.Order)) (*swap.Order, error) {

	var order *swap.Order
	err := s.db.Update(func(tx *bbolt.Tx) error {
		orders := tx.Bucket(ordersBucketKey)

		data := orders.Get(id[:])
		if data == nil {
			return swap.ErrOrderNotFound
		}

		var err error
		order, err = deserializeOrder(data)
		if err != nil {
			return err
		}

		if !swap.ValidTransition(order.Status, to) {
			if order.Status.IsTerminal() {
				return swap.ErrAlreadyCompleted
			}

			return ErrInvalidTransition
		}

		order.Status = to
		if update != nil {
			update(order)
		}

		data, err = serializeOrder(order)
		if err != nil {
			return err
		}

		if err := orders.Put(id[:], data); err != nil {
			return err
		}

		if to == swap.StatusCompleted {
			return bumpCounter(tx, ordersCompletedKey)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// SetOrderEscrow records an escrow reference for a leg without a
// status change.
//
// NOTE: Part of the Store interface.
func (s *boltStore) SetOrderEscrow(_ context.Context, id swap.OrderID,
	leg Leg, escrowID swap.EscrowID) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		orders := tx.Bucket(ordersBucketKey)

		data := orders.Get(id[:])
		if data == nil {
			return swap.ErrOrderNotFound
		}

		order, err := deserializeOrder(data)
		if err != nil {
			return err
		}

		switch leg {
		case LegSource:
			order.SourceEscrow = escrowID

		case LegDest:
			order.DestEscrow = escrowID
		}

		data, err = serializeOrder(order)
		if err != nil {
			return err
		}

		return orders.Put(id[:], data)
	})
}

// CreateSecret persists a new secret record.
//
// NOTE: Part of the Store interface.
func (s *boltStore) CreateSecret(_ context.Context, secret *Secret) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(secretsBucketKey)

		if secrets.Get(secret.OrderID[:]) != nil {
			return ErrOrderExists
		}

		data, err := serializeSecret(secret)
		if err != nil {
			return err
		}

		return secrets.Put(secret.OrderID[:], data)
	})
}

// FetchSecret returns the secret record of the order.
//
// NOTE: Part of the Store interface.
func (s *boltStore) FetchSecret(_ context.Context, id swap.OrderID) (
	*Secret, error) {

	var secret *Secret
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(secretsBucketKey).Get(id[:])
		if data == nil {
			return ErrSecretNotFound
		}

		var err error
		secret, err = deserializeSecret(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return secret, nil
}

// MarkSecretRevealed sets the reveal fields exactly once.
//
// NOTE: Part of the Store interface.
func (s *boltStore) MarkSecretRevealed(_ context.Context, id swap.OrderID,
	revealedBy string, txRef swap.TxRef, revealedAt time.Time) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		secrets := tx.Bucket(secretsBucketKey)

		data := secrets.Get(id[:])
		if data == nil {
			return ErrSecretNotFound
		}

		secret, err := deserializeSecret(data)
		if err != nil {
			return err
		}

		// The reveal is recorded once. Event redelivery makes this
		// path reachable again, so it is a silent noop.
		if secret.Revealed() {
			return nil
		}

		secret.RevealedAt = revealedAt
		secret.RevealedBy = revealedBy
		secret.RevealTxRef = txRef

		data, err = serializeSecret(secret)
		if err != nil {
			return err
		}

		return secrets.Put(id[:], data)
	})
}

// CreateResolver persists a new resolver record.
//
// NOTE: Part of the Store interface.
func (s *boltStore) CreateResolver(_ context.Context,
	resolver *Resolver) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		resolvers := tx.Bucket(resolversBucketKey)

		key := []byte(resolver.Address)
		if resolvers.Get(key) != nil {
			return ErrResolverExists
		}

		data, err := serializeResolver(resolver)
		if err != nil {
			return err
		}

		return resolvers.Put(key, data)
	})
}

// FetchResolver returns the resolver record for the address.
//
// NOTE: Part of the Store interface.
func (s *boltStore) FetchResolver(_ context.Context, address string) (
	*Resolver, error) {

	var resolver *Resolver
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(resolversBucketKey).Get([]byte(address))
		if data == nil {
			return ErrResolverNotFound
		}

		var err error
		resolver, err = deserializeResolver(data)
		return err
	})
	if err != nil {
		return nil, err
	}

	return resolver, nil
}

// UpdateResolver applies the mutation inside a single transaction,
// keeping collateral mutations under the single-writer rule.
//
// NOTE: Part of the Store interface.
func (s *boltStore) UpdateResolver(_ context.Context, address string,
	update func(*Resolver) error) error {

	return s.db.Update(func(tx *bbolt.Tx) error {
		resolvers := tx.Bucket(resolversBucketKey)

		key := []byte(address)
		data := resolvers.Get(key)
		if data == nil {
			return ErrResolverNotFound
		}

		resolver, err := deserializeResolver(data)
		if err != nil {
			return err
		}

		if err := update(resolver); err != nil {
			return err
		}

		data, err = serializeResolver(resolver)
		if err != nil {
			return err
		}

		return resolvers.Put(key, data)
	})
}

// FetchStats returns the aggregate order counters.
//
// NOTE: Part of the Store interface.
func (s *boltStore) FetchStats(_ context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucketKey)

		if v := meta.Get(ordersCreatedKey); v != nil {
			stats.OrdersCreated = btoi(v)
		}
		if v := meta.Get(ordersCompletedKey); v != nil {
			stats.OrdersCompleted = btoi(v)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return stats, nil
}

// GetCursor returns the durable monitor resume height for the chain.
//
// NOTE: Part of the Store interface.
func (s *boltStore) GetCursor(chain swap.Chain) (uint32, error) {
	var height uint32
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(cursorsBucketKey).Get([]byte(chain))
		if v != nil {
			height = uint32(btoi(v))
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return height, nil
}

// PutCursor records the monitor resume height for the chain.
//
// NOTE: Part of the Store interface.
func (s *boltStore) PutCursor(chain swap.Chain, height uint32) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(cursorsBucketKey).Put(
			[]byte(chain), itob(uint64(height)),
		)
	})
}

// bumpCounter increments a meta bucket counter.
func bumpCounter(tx *bbolt.Tx, key []byte) error {
	meta := tx.Bucket(metaBucketKey)

	var count uint64
	if v := meta.Get(key); v != nil {
		count = btoi(v)
	}

	return meta.Put(key, itob(count+1))
}
