package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/processor"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/pubsub"
)

const (
	root    types.Identity = "root"
	mkt     types.Identity = "market"
	carol   types.Identity = "carol"
	alice   types.Identity = "alice"
	bob     types.Identity = "bob"
	mallory types.Identity = "mallory"
)

type env struct {
	svc    *Service
	store  *repository.MemoryStore
	ledger *ledger.MemoryLedger
	mu     sync.Mutex
	now    time.Time
}

func (e *env) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *env) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newEnv(t *testing.T, mutate ...func(*Config)) *env {
	t.Helper()
	e := &env{
		store:  repository.NewMemoryStore(types.DefaultFeeBps),
		ledger: ledger.NewMemoryLedger(),
		now:    time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	cfg := Config{Marketplace: mkt, OpenMinting: true, Now: e.clock}
	for _, m := range mutate {
		m(&cfg)
	}
	e.svc = New(e.store, e.ledger, cfg)
	require.NoError(t, e.svc.Start(context.Background()))
	t.Cleanup(e.svc.Close)

	require.NoError(t, e.svc.Genesis(context.Background(), root, mkt, carol))
	e.ledger.Deposit(bob, ledger.MustParseAmount("5"))
	e.ledger.Deposit(mallory, ledger.MustParseAmount("5"))
	return e
}

// listedAsset mints, verifies and lists a ticket for alice.
func (e *env) listedAsset(t *testing.T, price string) types.AssetID {
	t.Helper()
	ctx := context.Background()
	asset, err := e.svc.Mint(ctx, alice, alice, repository.Metadata{EventName: "Cup Final", Venue: "Arena", Seat: "C3"})
	require.NoError(t, err)
	require.NoError(t, e.svc.Verify(ctx, carol, asset.ID))
	require.NoError(t, e.svc.List(ctx, alice, asset.ID, ledger.MustParseAmount(price)))
	return asset.ID
}

func TestService_ScenarioHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.listedAsset(t, "1")

	require.NoError(t, e.svc.Purchase(ctx, bob, id, ledger.MustParseAmount("1")))

	view, err := e.svc.View(ctx, id)
	require.NoError(t, err)
	require.Equal(t, bob, view.Asset.Owner)
	require.True(t, view.Asset.Locked)
	require.False(t, view.Listing.Active)
	require.True(t, view.Escrow.Open())

	require.NoError(t, e.svc.Confirm(ctx, bob, id))
	require.NoError(t, e.svc.Confirm(ctx, alice, id))

	asset, err := e.svc.Asset(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.StatusUnlocked, asset.Status)
	require.False(t, asset.Locked)

	pool, err := e.svc.FeePool(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.025", ledger.FormatAmount(pool))
	require.Equal(t, "0.975", ledger.FormatAmount(e.ledger.Balance(alice)))

	_, err = e.svc.WithdrawFees(ctx, carol)
	require.ErrorIs(t, err, types.ErrNotOwner)

	paid, err := e.svc.WithdrawFees(ctx, root)
	require.NoError(t, err)
	require.Equal(t, "0.025", ledger.FormatAmount(paid))
	require.Equal(t, "0.025", ledger.FormatAmount(e.ledger.Balance(root)))
}

func TestService_CacheEvictedByCommittedEvents(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	asset, err := e.svc.Mint(ctx, alice, alice, repository.Metadata{EventName: "Gig"})
	require.NoError(t, err)

	cached, err := e.svc.Asset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, alice, cached.Owner)

	require.NoError(t, e.svc.Transfer(ctx, alice, asset.ID, alice, bob))

	fresh, err := e.svc.Asset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, bob, fresh.Owner)

	hits := e.svc.views.cache.Stats().Hits
	_, err = e.svc.Asset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, hits+1, e.svc.views.cache.Stats().Hits)
}

func TestService_ReturnedSnapshotsAreCopies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	asset, err := e.svc.Mint(ctx, alice, alice, repository.Metadata{})
	require.NoError(t, err)

	first, err := e.svc.Asset(ctx, asset.ID)
	require.NoError(t, err)
	first.Owner = mallory

	second, err := e.svc.Asset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, alice, second.Owner)
}

func TestService_QueriesMissingRecords(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Asset(ctx, 99)
	require.ErrorIs(t, err, types.ErrAssetNotFound)

	asset, err := e.svc.Mint(ctx, alice, alice, repository.Metadata{})
	require.NoError(t, err)
	_, err = e.svc.Listing(ctx, asset.ID)
	require.ErrorIs(t, err, types.ErrNotFound)
	_, err = e.svc.Escrow(ctx, asset.ID)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestService_ReentrantLedgerCallbackIsRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.listedAsset(t, "1")

	var callbackErr error
	e.ledger.SetHook(func(hookCtx context.Context, op string, who types.Identity, amount *uint256.Int) error {
		if op != "collect" {
			return nil
		}
		// A malicious payer tries to act again while its payment is being collected.
		callbackErr = e.svc.Purchase(hookCtx, mallory, id, amount)
		return callbackErr
	})

	err := e.svc.Purchase(ctx, bob, id, ledger.MustParseAmount("1"))
	require.ErrorIs(t, err, types.ErrReentrant)
	require.ErrorIs(t, err, ledger.ErrTransferFailed)
	require.ErrorIs(t, callbackErr, types.ErrReentrantCall)

	// The outer purchase rolled back entirely.
	view, err := e.svc.View(ctx, id)
	require.NoError(t, err)
	require.Equal(t, alice, view.Asset.Owner)
	require.True(t, view.Listing.Active)
	require.Nil(t, view.Escrow)
	require.Equal(t, "5.0", ledger.FormatAmount(e.ledger.Balance(bob)))

	e.ledger.SetHook(nil)
	require.NoError(t, e.svc.Purchase(ctx, bob, id, ledger.MustParseAmount("1")))
}

func TestService_ReadFromLedgerCallbackIsRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.listedAsset(t, "1")

	var readErrs []error
	e.ledger.SetHook(func(hookCtx context.Context, op string, who types.Identity, amount *uint256.Int) error {
		if op != "collect" {
			return nil
		}
		// The store's write transaction is held while the payment is collected.
		_, err := e.svc.Asset(hookCtx, id)
		readErrs = append(readErrs, err)
		_, err = e.svc.ActiveListings(hookCtx)
		readErrs = append(readErrs, err)
		_, err = e.svc.Treasury(hookCtx)
		readErrs = append(readErrs, err)
		_, err = e.svc.History(hookCtx, 0, 0)
		readErrs = append(readErrs, err)
		return readErrs[0]
	})

	done := make(chan error, 1)
	go func() { done <- e.svc.Purchase(ctx, bob, id, ledger.MustParseAmount("1")) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("purchase blocked on a read issued from its own ledger callback")
	}
	require.ErrorIs(t, err, types.ErrReentrant)
	require.Len(t, readErrs, 4)
	for _, readErr := range readErrs {
		require.ErrorIs(t, readErr, types.ErrReentrantCall)
	}

	view, err := e.svc.View(ctx, id)
	require.NoError(t, err)
	require.Equal(t, alice, view.Asset.Owner)
	require.True(t, view.Listing.Active)
	require.Nil(t, view.Escrow)
}

func TestService_TransferOfListedAssetRequiresUnlist(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.listedAsset(t, "1")

	err := e.svc.Transfer(ctx, alice, id, alice, "dave")
	require.ErrorIs(t, err, types.ErrListedTransfer)

	listings, err := e.svc.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, alice, listings[0].Seller)

	require.NoError(t, e.svc.Unlist(ctx, alice, id))
	require.NoError(t, e.svc.Transfer(ctx, alice, id, alice, "dave"))

	// The new owner can list without tripping over the old seller's record.
	require.NoError(t, e.svc.List(ctx, "dave", id, ledger.MustParseAmount("2")))
	listing, err := e.svc.Listing(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.Identity("dave"), listing.Seller)
	require.True(t, listing.Active)
}

func TestService_ResaleKeepsSettledEscrow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.listedAsset(t, "1")

	require.NoError(t, e.svc.Purchase(ctx, bob, id, ledger.MustParseAmount("1")))
	require.NoError(t, e.svc.Confirm(ctx, bob, id))
	require.NoError(t, e.svc.Confirm(ctx, alice, id))

	first, err := e.svc.Escrow(ctx, id)
	require.NoError(t, err)
	require.True(t, first.Completed)

	require.NoError(t, e.svc.List(ctx, bob, id, ledger.MustParseAmount("2")))
	require.NoError(t, e.svc.Purchase(ctx, mallory, id, ledger.MustParseAmount("2")))

	current, err := e.svc.Escrow(ctx, id)
	require.NoError(t, err)
	require.Equal(t, bob, current.Seller)
	require.Equal(t, mallory, current.Buyer)
	require.True(t, current.Open())

	settled, err := e.svc.SettledEscrows(ctx, id)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	require.Equal(t, first, settled[0])
	require.Equal(t, alice, settled[0].Seller)
	require.Equal(t, bob, settled[0].Buyer)
	require.Equal(t, "1.0", ledger.FormatAmount(settled[0].Price))
}

func TestService_ConcurrentPurchasersOneWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.listedAsset(t, "1")

	buyers := []types.Identity{bob, mallory, "dave", "erin", "frank"}
	for _, b := range buyers[2:] {
		e.ledger.Deposit(b, ledger.MustParseAmount("5"))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = e.svc.Purchase(ctx, b, id, ledger.MustParseAmount("1"))
		}()
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		require.ErrorIs(t, err, types.ErrInvalidState)
	}
	require.Equal(t, 1, wins)
	require.Equal(t, "1.0", ledger.FormatAmount(e.ledger.Custody()))
}

func TestService_AutoReleaseUsesClock(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.ConfirmationPeriod = time.Hour })
	ctx := context.Background()
	id := e.listedAsset(t, "2")
	require.NoError(t, e.svc.Purchase(ctx, bob, id, ledger.MustParseAmount("2")))

	require.ErrorIs(t, e.svc.AutoRelease(ctx, mallory, id), types.ErrConfirmationWindow)
	e.advance(time.Hour)
	require.NoError(t, e.svc.AutoRelease(ctx, mallory, id))

	esc, err := e.svc.Escrow(ctx, id)
	require.NoError(t, err)
	require.True(t, esc.Completed)
}

func TestService_DisputeAndListings(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first := e.listedAsset(t, "1")
	second := e.listedAsset(t, "2")

	active, err := e.svc.ActiveListings(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)

	require.NoError(t, e.svc.Purchase(ctx, bob, first, ledger.MustParseAmount("1")))
	require.NoError(t, e.svc.RaiseDispute(ctx, alice, first, "buyer claims seat missing"))

	open, err := e.svc.OpenEscrows(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	require.True(t, open[0].Disputed)

	require.ErrorIs(t, e.svc.ResolveDispute(ctx, bob, first, true), types.ErrNotAdmin)
	require.NoError(t, e.svc.ResolveDispute(ctx, carol, first, true))

	require.NoError(t, e.svc.Unlist(ctx, alice, second))
	active, err = e.svc.ActiveListings(ctx)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestService_DirectoryAndFee(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.ErrorIs(t, e.svc.Genesis(ctx, root, mkt), types.ErrGenesisApplied)
	require.NoError(t, e.svc.AddAdmin(ctx, root, "erin"))
	require.ErrorIs(t, e.svc.UpdateFee(ctx, "erin", 500), types.ErrNotOwner)
	require.ErrorIs(t, e.svc.UpdateFee(ctx, root, 1001), types.ErrFeeTooHigh)
	require.NoError(t, e.svc.UpdateFee(ctx, root, 500))

	fee, err := e.svc.FeeBps(ctx)
	require.NoError(t, err)
	require.Equal(t, types.BasisPoints(500), fee)

	dir, err := e.svc.Directory(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.Identity{carol, "erin"}, dir.AdminList())

	require.NoError(t, e.svc.RemoveAdmin(ctx, root, "erin"))
	dir, err = e.svc.Directory(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.Identity{carol}, dir.AdminList())
}

func TestService_ClosedMinting(t *testing.T) {
	e := newEnv(t, func(c *Config) { c.OpenMinting = false })
	ctx := context.Background()

	_, err := e.svc.Mint(ctx, alice, alice, repository.Metadata{})
	require.ErrorIs(t, err, types.ErrMintRestricted)

	asset, err := e.svc.Mint(ctx, carol, alice, repository.Metadata{})
	require.NoError(t, err)
	require.Equal(t, alice, asset.Owner)
}

func TestService_PublishesCommittedEvents(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := e.svc.Events().SubscribeFunc(ctx, func(ev pubsub.Event[any]) bool {
		_, ok := ev.Payload.(events.Event)
		return ok
	})

	_, err := e.svc.Mint(ctx, alice, alice, repository.Metadata{EventName: "Opera"})
	require.NoError(t, err)

	select {
	case ev := <-sub:
		got := ev.Payload.(events.Event)
		require.Equal(t, events.AssetMinted, got.Type)
		require.NotZero(t, got.Seq)
	case <-time.After(time.Second):
		require.FailNow(t, "no event published")
	}

	history, err := e.svc.History(ctx, 0, 100)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	require.Equal(t, uint64(1), history[0].Seq)
}

func TestService_NotStartedAndClosed(t *testing.T) {
	svc := New(repository.NewMemoryStore(types.DefaultFeeBps), ledger.NewMemoryLedger(), Config{Marketplace: mkt})
	require.ErrorIs(t, svc.Genesis(context.Background(), root, mkt), ErrNotStarted)

	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Genesis(context.Background(), root, mkt))
	svc.Close()
	svc.Close()

	require.ErrorIs(t, svc.Verify(context.Background(), carol, 1), ErrNotStarted)
}

func TestService_HandlerContextIsRejectedBeforeQueue(t *testing.T) {
	e := newEnv(t)

	// Capture the context a handler hands to the ledger.
	var inner context.Context
	e.ledger.SetHook(func(ctx context.Context, op string, who types.Identity, amount *uint256.Int) error {
		inner = ctx
		return nil
	})
	id := e.listedAsset(t, "1")
	require.NoError(t, e.svc.Purchase(context.Background(), bob, id, ledger.MustParseAmount("1")))
	require.True(t, processor.InHandler(inner))

	before := e.svc.Processor().ProcessedCount()
	require.ErrorIs(t, e.svc.Confirm(inner, bob, id), types.ErrReentrantCall)
	require.Equal(t, before, e.svc.Processor().ProcessedCount(), "rejected without reaching the queue")
}
