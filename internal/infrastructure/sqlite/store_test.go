package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/repository/storetest"
	"github.com/zjrosen/ticketbay/internal/escrow/service"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

func newTestStore(t *testing.T) (*DB, *Store) {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, db.Store(types.DefaultFeeBps)
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		_, s := newTestStore(t)
		return s
	})
}

func TestStore_Closed(t *testing.T) {
	_, s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Update(context.Background(), func(tx repository.Tx) error { return nil })
	require.ErrorIs(t, err, repository.ErrStoreClosed)

	err = s.View(context.Background(), func(tx repository.Tx) error { return nil })
	require.ErrorIs(t, err, repository.ErrStoreClosed)

	_, err = s.Events(context.Background(), 0, 0)
	require.ErrorIs(t, err, repository.ErrStoreClosed)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.db")
	at := time.Date(2025, 7, 4, 12, 30, 0, 123456789, time.UTC)

	db, err := NewDB(path)
	require.NoError(t, err)
	s := db.Store(types.DefaultFeeBps)

	_, err = s.Update(context.Background(), func(tx repository.Tx) error {
		id, err := tx.Assets().NextID()
		require.NoError(t, err)
		require.NoError(t, tx.Assets().Save(&repository.Asset{
			ID:       id,
			Owner:    "alice",
			Approved: "bob",
			Status:   types.StatusLocked,
			Locked:   true,
			MintedAt: at,
		}))
		require.NoError(t, tx.Escrows().Save(&repository.Escrow{
			AssetID: id, Seller: "alice", Buyer: "bob", Price: uint256.NewInt(99),
			StartTime: at, Disputed: true, DisputeReason: "no show",
		}))
		tx.Record(events.Event{Type: events.DisputeRaised, AssetID: id, Actor: "bob", Reason: "no show", At: at})
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	s = db.Store(types.DefaultFeeBps)

	err = s.View(context.Background(), func(tx repository.Tx) error {
		a, err := tx.Assets().Get(1)
		require.NoError(t, err)
		require.True(t, a.Locked)
		require.Equal(t, types.Identity("bob"), a.Approved)
		require.True(t, a.MintedAt.Equal(at), "nanosecond precision survives")
		require.True(t, a.ListingTimestamp.IsZero())
		require.Nil(t, a.Metadata.OriginalPrice)

		e, err := tx.Escrows().Get(1)
		require.NoError(t, err)
		require.True(t, e.Disputed)
		require.Equal(t, "no show", e.DisputeReason)
		require.True(t, e.CompletedAt.IsZero())
		return nil
	})
	require.NoError(t, err)

	evts, err := s.Events(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, evts, 1)
	require.Equal(t, uint64(1), evts[0].Seq)
	require.Nil(t, evts[0].Amount)

	// Sequence numbers continue after reopening.
	committed, err := s.Update(context.Background(), func(tx repository.Tx) error {
		tx.Record(events.Event{Type: events.DisputeResolved, AssetID: 1, SellerWins: true, At: at})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), committed[0].Seq)
}

func TestStore_DirectoryAdminsReplaced(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Update(ctx, func(tx repository.Tx) error {
		dir := repository.NewDirectory()
		dir.OwnerID = "root"
		dir.Admins["carol"] = struct{}{}
		dir.Admins["dave"] = struct{}{}
		return tx.Directory().Save(dir)
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, func(tx repository.Tx) error {
		dir, err := tx.Directory().Get()
		require.NoError(t, err)
		delete(dir.Admins, "carol")
		return tx.Directory().Save(dir)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx repository.Tx) error {
		dir, err := tx.Directory().Get()
		require.NoError(t, err)
		require.Equal(t, []types.Identity{"dave"}, dir.AdminList())
		return nil
	})
	require.NoError(t, err)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(ctx, func(tx repository.Tx) error {
				id, err := tx.Assets().NextID()
				if err != nil {
					return err
				}
				tx.Record(events.Event{Type: events.AssetMinted, AssetID: id})
				return tx.Assets().Save(&repository.Asset{ID: id, Owner: "alice", Status: types.StatusPending, MintedAt: time.Now()})
			})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	evts, err := s.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, evts, writers)
	for i, e := range evts {
		require.Equal(t, uint64(i+1), e.Seq)
	}

	err = s.View(ctx, func(tx repository.Tx) error {
		all, err := tx.Assets().List()
		require.NoError(t, err)
		require.Len(t, all, writers)
		return nil
	})
	require.NoError(t, err)
}

func newMarketDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := NewMarketDB(filepath.Join(dir, "escrow.db"), filepath.Join(dir, "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TestMarketDB_LedgerJoinsStoreTransaction verifies fund movements made inside a
// store transaction roll back with it and commit with it.
func TestMarketDB_LedgerJoinsStoreTransaction(t *testing.T) {
	db := newMarketDB(t)
	store := db.Store(types.DefaultFeeBps)
	funds := db.Ledger()
	ctx := context.Background()
	require.NoError(t, funds.Deposit(ctx, "bob", uint256.NewInt(100)))

	boom := errors.New("store write failed")
	_, err := store.Update(ctx, func(tx repository.Tx) error {
		require.NoError(t, funds.Collect(repository.BindContext(ctx, tx), "bob", uint256.NewInt(40)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	bal, err := funds.Balance(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, uint64(100), bal.Uint64(), "collect rolled back with the store")
	custody, err := funds.Custody(ctx)
	require.NoError(t, err)
	require.True(t, custody.IsZero())

	// A failed movement is undone without aborting the store's own writes.
	_, err = store.Update(ctx, func(tx repository.Tx) error {
		bound := repository.BindContext(ctx, tx)
		require.NoError(t, funds.Collect(bound, "bob", uint256.NewInt(40)))
		err := funds.Collect(bound, "bob", uint256.NewInt(500))
		require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
		tx.Record(events.Event{Type: events.Purchased, AssetID: 1, Actor: "bob", At: time.Unix(0, 0)})
		return nil
	})
	require.NoError(t, err)

	bal, err = funds.Balance(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, uint64(60), bal.Uint64())
	custody, err = funds.Custody(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(40), custody.Uint64())

	evts, err := store.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, evts, 1)
}

// TestService_SQLiteBackends drives a full sale through the service with both
// SQLite backends.
func TestService_SQLiteBackends(t *testing.T) {
	db := newMarketDB(t)
	funds := db.Ledger()
	ctx := context.Background()
	require.NoError(t, funds.Deposit(ctx, "bob", ledger.MustParseAmount("1")))

	now := time.Date(2025, 8, 1, 10, 0, 0, 0, time.UTC)
	svc := service.New(db.Store(types.DefaultFeeBps), funds, service.Config{
		Marketplace: "market",
		OpenMinting: true,
		Now:         func() time.Time { return now },
	})
	require.NoError(t, svc.Start(ctx))
	defer svc.Close()

	require.NoError(t, svc.Genesis(ctx, "root", "market", "carol"))
	asset, err := svc.Mint(ctx, "alice", "alice", repository.Metadata{EventName: "Finals", Venue: "Arena", Seat: "C3"})
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "carol", asset.ID))
	require.NoError(t, svc.List(ctx, "alice", asset.ID, ledger.MustParseAmount("0.1")))
	require.NoError(t, svc.Purchase(ctx, "bob", asset.ID, ledger.MustParseAmount("0.1")))

	custody, err := funds.Custody(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.1", ledger.FormatAmount(custody))

	require.NoError(t, svc.Confirm(ctx, "alice", asset.ID))
	require.NoError(t, svc.Confirm(ctx, "bob", asset.ID))

	got, err := svc.Asset(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, types.Identity("bob"), got.Owner)
	require.Equal(t, types.StatusUnlocked, got.Status)

	paid, err := funds.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "0.0975", ledger.FormatAmount(paid))

	pool, err := svc.FeePool(ctx)
	require.NoError(t, err)
	require.Equal(t, "0.0025", ledger.FormatAmount(pool))

	history, err := svc.History(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, events.Count(history, events.EscrowCompleted))
}

// TestService_SQLiteRollbackOnLedgerFailure verifies no store write survives a failed collect.
func TestService_SQLiteRollbackOnLedgerFailure(t *testing.T) {
	db := newMarketDB(t)

	ctx := context.Background()
	svc := service.New(db.Store(types.DefaultFeeBps), db.Ledger(), service.Config{Marketplace: "market", OpenMinting: true})
	require.NoError(t, svc.Start(ctx))
	defer svc.Close()

	require.NoError(t, svc.Genesis(ctx, "root", "market"))
	asset, err := svc.Mint(ctx, "alice", "alice", repository.Metadata{EventName: "Finals"})
	require.NoError(t, err)
	require.NoError(t, svc.Verify(ctx, "root", asset.ID))
	require.NoError(t, svc.List(ctx, "alice", asset.ID, uint256.NewInt(500)))

	err = svc.Purchase(ctx, "bob", asset.ID, uint256.NewInt(500))
	require.ErrorIs(t, err, ledger.ErrTransferFailed)

	listing, err := svc.Listing(ctx, asset.ID)
	require.NoError(t, err)
	require.True(t, listing.Active)

	_, err = svc.Escrow(ctx, asset.ID)
	require.ErrorIs(t, err, types.ErrEscrowNotFound)

	got, err := svc.Asset(ctx, asset.ID)
	require.NoError(t, err)
	require.False(t, got.Locked)
}
