package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/config"
	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/market"
	"github.com/zjrosen/ticketbay/internal/escrow/processor"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/service"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/infrastructure/sqlite"
	"github.com/zjrosen/ticketbay/internal/log"
	"github.com/zjrosen/ticketbay/internal/tracing"
)

// funds is the ledger surface the CLI needs on top of what the engine uses.
type funds interface {
	ledger.Ledger
	Deposit(ctx context.Context, who types.Identity, amount *uint256.Int) error
	Balance(ctx context.Context, who types.Identity) (*uint256.Int, error)
	Accounts(ctx context.Context) ([]types.Identity, error)
}

// memoryFunds adapts the in-memory ledger to funds.
type memoryFunds struct {
	*ledger.MemoryLedger
}

func (m memoryFunds) Deposit(_ context.Context, who types.Identity, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("deposit amount is required: %w", types.ErrInvalidValue)
	}
	m.MemoryLedger.Deposit(who, amount)
	return nil
}

func (m memoryFunds) Balance(_ context.Context, who types.Identity) (*uint256.Int, error) {
	return m.MemoryLedger.Balance(who), nil
}

func (m memoryFunds) Accounts(context.Context) ([]types.Identity, error) {
	return m.MemoryLedger.Accounts(), nil
}

// backend is the store and ledger selected by store.driver.
type backend struct {
	store  repository.Store
	funds  funds
	closer func() error
}

func openBackend(cfg config.Config) (*backend, error) {
	feeBps := types.BasisPoints(cfg.Market.FeeBps)

	switch cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := sqlite.NewMarketDB(cfg.Store.Path, cfg.Store.ResolvedLedgerPath())
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		store := db.Store(feeBps)
		log.Info(log.CatStore, "using sqlite backend", "store", db.Path(), "ledger", db.LedgerPath())
		return &backend{
			store: store,
			funds: db.Ledger(),
			closer: func() error {
				return errors.Join(store.Close(), db.Close())
			},
		}, nil
	default:
		store := repository.NewMemoryStore(feeBps)
		return &backend{
			store:  store,
			funds:  memoryFunds{ledger.NewMemoryLedger()},
			closer: store.Close,
		}, nil
	}
}

func (b *backend) Close() error {
	return b.closer()
}

// marketplace is a running service plus everything that must be shut down with it.
type marketplace struct {
	svc      *service.Service
	backend  *backend
	period   time.Duration
	shutdown func()
}

// newMarketplace opens the backend and wires a service over it without
// starting the command processor. Queries work on a service that is not started.
func newMarketplace(ctx context.Context, cfg config.Config, now func() time.Time, source command.CommandSource) (*marketplace, error) {
	b, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}

	provider, err := tracing.NewProvider(ctx, cfg.Tracing)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("creating tracer: %w", err)
	}
	var middleware []processor.Middleware
	if provider.Enabled() {
		middleware = append(middleware, tracing.NewMiddleware(tracing.MiddlewareConfig{Tracer: provider.Tracer()}))
	}

	period := cfg.Market.ConfirmationPeriod
	if period == 0 {
		period = market.DefaultConfirmationPeriod
	}

	svc := service.New(b.store, b.funds, service.Config{
		Marketplace:          types.Identity(cfg.Directory.Marketplace),
		ConfirmationPeriod:   period,
		OpenMinting:          cfg.Registry.OpenMinting,
		Now:                  now,
		CacheTTL:             cfg.Cache.TTL,
		CacheCleanupInterval: cfg.Cache.CleanupInterval,
		Middleware:           middleware,
		Source:               source,
	})

	m := &marketplace{
		svc:     svc,
		backend: b,
		period:  period,
	}
	m.shutdown = func() {
		svc.Close()
		if err := provider.Shutdown(context.Background()); err != nil {
			log.ErrorErr(log.CatTrace, "tracer shutdown failed", err)
		}
		if err := b.Close(); err != nil {
			log.ErrorErr(log.CatStore, "closing backend failed", err)
		}
	}
	return m, nil
}

// startMarketplace is newMarketplace plus a running processor and the
// configured directory genesis, applied only if the store has none yet.
func startMarketplace(ctx context.Context, cfg config.Config, now func() time.Time, source command.CommandSource) (*marketplace, error) {
	m, err := newMarketplace(ctx, cfg, now, source)
	if err != nil {
		return nil, err
	}
	if err := m.svc.Start(ctx); err != nil {
		m.Close()
		return nil, err
	}
	if err := ensureGenesis(ctx, m.svc, cfg.Directory); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Close stops the service and releases the backend.
func (m *marketplace) Close() {
	m.shutdown()
}

func ensureGenesis(ctx context.Context, svc *service.Service, dir config.DirectoryConfig) error {
	current, err := svc.Directory(ctx)
	if err != nil {
		return fmt.Errorf("reading directory: %w", err)
	}
	if current.Initialized() {
		return nil
	}
	if err := svc.Genesis(ctx, types.Identity(dir.Owner), types.Identity(dir.Marketplace), dir.AdminIdentities()...); err != nil {
		return fmt.Errorf("applying directory genesis: %w", err)
	}
	log.Info(log.CatCLI, "directory genesis applied", "owner", dir.Owner, "marketplace", dir.Marketplace)
	return nil
}
