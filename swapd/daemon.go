package swapd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/xswaplabs/xswap/coordinator"
	"github.com/xswaplabs/xswap/escrow"
	"github.com/xswaplabs/xswap/monitor"
	"github.com/xswaplabs/xswap/registry"
	"github.com/xswaplabs/xswap/swap"
	"github.com/xswaplabs/xswap/swapdb"
	"github.com/xswaplabs/xswap/vault"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/sync/errgroup"
)

// Daemon wires the store, the chain monitors, the vault, the resolver
// registry and the coordinator into one runnable unit.
type Daemon struct {
	// ErrChan reports the daemon's exit result after Stop, or an
	// unexpected runtime failure.
	ErrChan chan error

	cfg *Config

	store       swapdb.Store
	coordinator *coordinator.Coordinator
	monitors    map[swap.Chain]*monitor.Monitor

	mainCtx    context.Context
	mainCancel context.CancelFunc

	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a daemon from the parsed configuration.
func New(cfg *Config) *Daemon {
	return &Daemon{
		ErrChan: make(chan error, 1),
		cfg:     cfg,
	}
}

// Start assembles all components and launches the daemon's goroutines.
func (d *Daemon) Start() error {
	store, err := swapdb.NewBoltStore(d.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	d.store = store

	vaultKey, err := loadOrCreateVaultKey(d.cfg.VaultKeyFile)
	if err != nil {
		return err
	}

	secretVault, err := vault.New(store, vaultKey)
	if err != nil {
		return err
	}

	systemClock := clock.NewDefaultClock()

	resolverRegistry := registry.New(registry.Config{
		Store:   store,
		Admin:   d.cfg.Admin,
		MinBond: swap.Amount(d.cfg.MinResolverBond),
		Clock:   systemClock,
	})

	// The in-process ledgers stand in for chain adapters: anything
	// implementing escrow.Ledger and monitor.ChainBackend plugs in
	// here.
	ledgers := make(map[swap.Chain]escrow.Ledger)
	d.monitors = make(map[swap.Chain]*monitor.Monitor)

	var blockProducers []func(context.Context) error

	for _, chainCfg := range []*chainConfig{
		d.cfg.SourceChain, d.cfg.DestChain,
	} {
		chain := swap.Chain(chainCfg.Name)
		ledger := escrow.NewMemLedger(chain, systemClock)

		ledgers[chain] = ledger
		d.monitors[chain] = monitor.New(monitor.Config{
			Backend:   ledger,
			Cursor:    store,
			ConfDepth: chainCfg.ConfDepth,
			Ticker:    ticker.New(chainCfg.PollInterval),
		})

		// The in-process ledger only progresses when blocks are
		// produced, so drive simnet block production on a fixed
		// cadence. Without it no lock ever confirms.
		blockInterval := chainCfg.BlockInterval
		if blockInterval == 0 {
			blockInterval = defaultBlockInterval
		}
		blockTicker := ticker.New(blockInterval)

		blockProducers = append(blockProducers,
			func(ctx context.Context) error {
				blockTicker.Resume()
				defer blockTicker.Stop()

				for {
					select {
					case <-blockTicker.Ticks():
						ledger.Mine(1)

					case <-ctx.Done():
						return ctx.Err()
					}
				}
			},
		)
	}

	d.coordinator, err = coordinator.New(coordinator.Config{
		Store:          store,
		Registry:       resolverRegistry,
		Vault:          secretVault,
		Ledgers:        ledgers,
		Monitors:       d.monitors,
		Clock:          systemClock,
		SweepTicker:    ticker.New(d.cfg.SweepInterval),
		SafetyMargin:   d.cfg.SafetyMargin,
		AtRiskBuffer:   d.cfg.AtRiskBuffer,
		MaxSwapWorkers: d.cfg.MaxSwapWorkers,
	})
	if err != nil {
		return err
	}

	d.mainCtx, d.mainCancel = context.WithCancel(context.Background())

	group, groupCtx := errgroup.WithContext(d.mainCtx)

	for chain, mon := range d.monitors {
		mon := mon

		log.Infof("Starting %v chain monitor", chain)
		group.Go(func() error {
			return mon.Run(groupCtx)
		})
	}

	group.Go(func() error {
		return d.coordinator.Run(groupCtx)
	})

	for _, produceBlocks := range blockProducers {
		produceBlocks := produceBlocks

		group.Go(func() error {
			return produceBlocks(groupCtx)
		})
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		err := group.Wait()

		// A canceled context is the regular shutdown path, not a
		// failure the exit code should reflect.
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			log.Errorf("Daemon exited with error: %v", err)
		}

		if closeErr := d.store.Close(); closeErr != nil {
			log.Errorf("Closing database: %v", closeErr)
		}

		d.ErrChan <- err
	}()

	log.Infof("Swap daemon fully up and running")

	return nil
}

// Stop tears the daemon down. The final result is delivered on
// ErrChan.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		d.mainCancel()
	})
}

// loadOrCreateVaultKey reads the vault encryption key, generating a
// fresh one on first start.
func loadOrCreateVaultKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("vault key %v: expected %d "+
				"bytes, got %d", path,
				chacha20poly1305.KeySize, len(key))
		}

		return key, nil

	case os.IsNotExist(err):
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}

		if err := os.WriteFile(path, key, 0600); err != nil {
			return nil, fmt.Errorf("write vault key: %w", err)
		}

		log.Infof("Generated new vault key at %v", path)

		return key, nil

	default:
		return nil, err
	}
}
