// Package storetest provides a contract test suite shared by every repository.Store backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// Factory creates a fresh, empty store whose treasury starts at 250 bps.
type Factory func(t *testing.T) repository.Store

var base = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("AssetRoundTrip", func(t *testing.T) { testAssetRoundTrip(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newStore(t)) })
	t.Run("Indices", func(t *testing.T) { testIndices(t, newStore(t)) })
	t.Run("SettledEscrowsAreArchived", func(t *testing.T) { testSettledArchive(t, newStore(t)) })
	t.Run("DirectoryAndTreasury", func(t *testing.T) { testDirectoryAndTreasury(t, newStore(t)) })
	t.Run("Outbox", func(t *testing.T) { testOutbox(t, newStore(t)) })
	t.Run("ViewIsReadOnly", func(t *testing.T) { testViewReadOnly(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
}

func mintAsset(t *testing.T, tx repository.Tx, owner types.Identity) *repository.Asset {
	t.Helper()
	id, err := tx.Assets().NextID()
	require.NoError(t, err)
	a := &repository.Asset{
		ID: id,
		Metadata: repository.Metadata{
			EventName:     "Spring Tour",
			EventDate:     base.Add(30 * 24 * time.Hour),
			Venue:         "Hall A",
			Seat:          "R1-S" + id.String(),
			OriginalPrice: uint256.NewInt(100_000_000_000_000_000),
			ProofRef:      "bafy-proof-" + id.String(),
		},
		Owner:    owner,
		Status:   types.StatusPending,
		MintedAt: base,
	}
	require.NoError(t, tx.Assets().Save(a))
	return a
}

func testAssetRoundTrip(t *testing.T, s repository.Store) {
	ctx := context.Background()
	var minted *repository.Asset

	_, err := s.Update(ctx, func(tx repository.Tx) error {
		minted = mintAsset(t, tx, "alice")
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, types.AssetID(1), minted.ID)

	err = s.View(ctx, func(tx repository.Tx) error {
		got, err := tx.Assets().Get(minted.ID)
		require.NoError(t, err)
		require.Equal(t, types.Identity("alice"), got.Owner)
		require.Equal(t, types.StatusPending, got.Status)
		require.False(t, got.Locked)
		require.Equal(t, "Hall A", got.Metadata.Venue)
		require.True(t, got.Metadata.EventDate.Equal(minted.Metadata.EventDate))
		require.Equal(t, minted.Metadata.OriginalPrice.Dec(), got.Metadata.OriginalPrice.Dec())
		require.True(t, got.MintedAt.Equal(base))
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, func(tx repository.Tx) error {
		second := mintAsset(t, tx, "bob")
		require.Equal(t, types.AssetID(2), second.ID)
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx repository.Tx) error {
		all, err := tx.Assets().List()
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, types.AssetID(1), all[0].ID)
		require.Equal(t, types.AssetID(2), all[1].ID)
		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, s repository.Store) {
	ctx := context.Background()
	boom := errors.New("boom")

	_, err := s.Update(ctx, func(tx repository.Tx) error {
		mintAsset(t, tx, "alice")
		tx.Record(events.Event{Type: events.AssetMinted, AssetID: 1, At: base})
		tr, err := tx.Treasury().Get()
		require.NoError(t, err)
		tr.FeePool = uint256.NewInt(5)
		require.NoError(t, tx.Treasury().Save(tr))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx repository.Tx) error {
		_, err := tx.Assets().Get(1)
		require.ErrorIs(t, err, types.ErrAssetNotFound)
		tr, err := tx.Treasury().Get()
		require.NoError(t, err)
		require.True(t, tr.FeePool.IsZero())
		return nil
	})
	require.NoError(t, err)

	evts, err := s.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, evts)

	// The id reserved by the failed transaction is reused.
	_, err = s.Update(ctx, func(tx repository.Tx) error {
		a := mintAsset(t, tx, "alice")
		require.Equal(t, types.AssetID(1), a.ID)
		return nil
	})
	require.NoError(t, err)
}

func testReadYourWrites(t *testing.T, s repository.Store) {
	ctx := context.Background()

	_, err := s.Update(ctx, func(tx repository.Tx) error {
		a := mintAsset(t, tx, "alice")
		a.Status = types.StatusVerified
		require.NoError(t, tx.Assets().Save(a))

		got, err := tx.Assets().Get(a.ID)
		require.NoError(t, err)
		require.Equal(t, types.StatusVerified, got.Status)

		// Mutating a returned copy does not write through.
		got.Owner = "mallory"
		again, err := tx.Assets().Get(a.ID)
		require.NoError(t, err)
		require.Equal(t, types.Identity("alice"), again.Owner)
		return nil
	})
	require.NoError(t, err)
}

func testIndices(t *testing.T, s repository.Store) {
	ctx := context.Background()

	_, err := s.Update(ctx, func(tx repository.Tx) error {
		for i := 0; i < 3; i++ {
			a := mintAsset(t, tx, "alice")
			require.NoError(t, tx.Listings().Save(&repository.Listing{
				AssetID: a.ID, Seller: "alice", Price: uint256.NewInt(10), Active: true, CreatedAt: base,
			}))
		}
		active, err := tx.Listings().Active()
		require.NoError(t, err)
		require.Equal(t, []types.AssetID{1, 2, 3}, active)
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, func(tx repository.Tx) error {
		l, err := tx.Listings().Get(2)
		require.NoError(t, err)
		l.Active = false
		require.NoError(t, tx.Listings().Save(l))
		require.NoError(t, tx.Escrows().Save(&repository.Escrow{
			AssetID: 2, Seller: "alice", Buyer: "bob", Price: uint256.NewInt(10), StartTime: base,
		}))

		active, err := tx.Listings().Active()
		require.NoError(t, err)
		require.Equal(t, []types.AssetID{1, 3}, active)
		open, err := tx.Escrows().Open()
		require.NoError(t, err)
		require.Equal(t, []types.AssetID{2}, open)
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, func(tx repository.Tx) error {
		e, err := tx.Escrows().Get(2)
		require.NoError(t, err)
		e.Completed = true
		e.CompletedAt = base.Add(time.Hour)
		return tx.Escrows().Save(e)
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx repository.Tx) error {
		open, err := tx.Escrows().Open()
		require.NoError(t, err)
		require.Empty(t, open)
		e, err := tx.Escrows().Get(2)
		require.NoError(t, err)
		require.True(t, e.Completed)
		require.Equal(t, "10", e.Price.Dec())
		return nil
	})
	require.NoError(t, err)
}

func testSettledArchive(t *testing.T, s repository.Store) {
	ctx := context.Background()

	_, err := s.Update(ctx, func(tx repository.Tx) error {
		a := mintAsset(t, tx, "bob")
		return tx.Escrows().Save(&repository.Escrow{
			AssetID: a.ID, Seller: "alice", Buyer: "bob", Price: uint256.NewInt(10),
			StartTime: base, SellerConfirmed: true, BuyerConfirmed: true,
			Completed: true, CompletedAt: base.Add(time.Hour),
		})
	})
	require.NoError(t, err)

	// The first escrow of an asset has nothing to archive.
	err = s.View(ctx, func(tx repository.Tx) error {
		settled, err := tx.Escrows().Settled(1)
		require.NoError(t, err)
		require.Empty(t, settled)
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, func(tx repository.Tx) error {
		require.NoError(t, tx.Escrows().Save(&repository.Escrow{
			AssetID: 1, Seller: "bob", Buyer: "carol", Price: uint256.NewInt(25), StartTime: base.Add(2 * time.Hour),
		}))
		settled, err := tx.Escrows().Settled(1)
		require.NoError(t, err)
		require.Len(t, settled, 1)
		return nil
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx repository.Tx) error {
		current, err := tx.Escrows().Get(1)
		require.NoError(t, err)
		require.Equal(t, types.Identity("carol"), current.Buyer)
		require.True(t, current.Open())

		settled, err := tx.Escrows().Settled(1)
		require.NoError(t, err)
		require.Len(t, settled, 1)
		first := settled[0]
		require.Equal(t, types.Identity("alice"), first.Seller)
		require.Equal(t, types.Identity("bob"), first.Buyer)
		require.Equal(t, "10", first.Price.Dec())
		require.True(t, first.Completed)
		require.True(t, first.CompletedAt.Equal(base.Add(time.Hour)))
		return nil
	})
	require.NoError(t, err)

	// A rolled-back resale leaves the archive untouched.
	boom := errors.New("boom")
	_, err = s.Update(ctx, func(tx repository.Tx) error {
		e, err := tx.Escrows().Get(1)
		require.NoError(t, err)
		e.Completed = true
		require.NoError(t, tx.Escrows().Save(e))
		require.NoError(t, tx.Escrows().Save(&repository.Escrow{
			AssetID: 1, Seller: "carol", Buyer: "dave", Price: uint256.NewInt(30), StartTime: base.Add(3 * time.Hour),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(ctx, func(tx repository.Tx) error {
		settled, err := tx.Escrows().Settled(1)
		require.NoError(t, err)
		require.Len(t, settled, 1)
		return nil
	})
	require.NoError(t, err)
}

func testDirectoryAndTreasury(t *testing.T, s repository.Store) {
	ctx := context.Background()

	err := s.View(ctx, func(tx repository.Tx) error {
		dir, err := tx.Directory().Get()
		require.NoError(t, err)
		require.False(t, dir.Initialized())
		tr, err := tx.Treasury().Get()
		require.NoError(t, err)
		require.Equal(t, types.BasisPoints(250), tr.FeeBps)
		require.True(t, tr.FeePool.IsZero())
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update(ctx, func(tx repository.Tx) error {
		dir := repository.NewDirectory()
		dir.OwnerID = "root"
		dir.Marketplace = "market"
		dir.Admins["carol"] = struct{}{}
		require.NoError(t, tx.Directory().Save(dir))
		return tx.Treasury().Save(&repository.Treasury{FeeBps: 300, FeePool: uint256.NewInt(42)})
	})
	require.NoError(t, err)

	err = s.View(ctx, func(tx repository.Tx) error {
		dir, err := tx.Directory().Get()
		require.NoError(t, err)
		require.Equal(t, types.Identity("root"), dir.Owner())
		require.True(t, dir.IsAuthorizedMarketplace("market"))
		require.True(t, dir.IsAdmin("carol"))
		require.True(t, dir.IsAdmin("root"))
		require.False(t, dir.IsAdmin("dave"))
		tr, err := tx.Treasury().Get()
		require.NoError(t, err)
		require.Equal(t, types.BasisPoints(300), tr.FeeBps)
		require.Equal(t, uint64(42), tr.FeePool.Uint64())
		return nil
	})
	require.NoError(t, err)
}

func testOutbox(t *testing.T, s repository.Store) {
	ctx := context.Background()

	committed, err := s.Update(ctx, func(tx repository.Tx) error {
		tx.Record(events.Event{Type: events.AssetMinted, AssetID: 1, Actor: "alice", Party: "alice", At: base})
		tx.Record(events.Event{Type: events.Listed, AssetID: 1, Actor: "alice", Amount: uint256.NewInt(7), At: base})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, committed, 2)
	require.Equal(t, uint64(1), committed[0].Seq)
	require.Equal(t, uint64(2), committed[1].Seq)

	committed, err = s.Update(ctx, func(tx repository.Tx) error {
		tx.Record(events.Event{Type: events.DisputeRaised, AssetID: 1, Actor: "bob", Reason: "late", At: base})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), committed[0].Seq)

	all, err := s.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, events.Listed, all[1].Type)
	require.Equal(t, "7", all[1].Amount.Dec())
	require.Equal(t, "late", all[2].Reason)
	require.True(t, all[0].At.Equal(base))

	page, err := s.Events(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Seq)

	tail, err := s.Events(ctx, 3, 10)
	require.NoError(t, err)
	require.Empty(t, tail)
}

func testViewReadOnly(t *testing.T, s repository.Store) {
	err := s.View(context.Background(), func(tx repository.Tx) error {
		return tx.Assets().Save(&repository.Asset{ID: 1, Owner: "alice", Status: types.StatusPending})
	})
	require.ErrorIs(t, err, repository.ErrReadOnly)
}

func testNotFound(t *testing.T, s repository.Store) {
	err := s.View(context.Background(), func(tx repository.Tx) error {
		_, err := tx.Listings().Get(9)
		require.ErrorIs(t, err, types.ErrListingNotFound)
		_, err = tx.Escrows().Get(9)
		require.ErrorIs(t, err, types.ErrEscrowNotFound)
		_, err = tx.Assets().Get(9)
		require.ErrorIs(t, err, types.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}
