package registry

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

const (
	owner  types.Identity = "root"
	market types.Identity = "market"
	admin  types.Identity = "carol"
	alice  types.Identity = "alice"
	bob    types.Identity = "bob"
)

var t0 = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *repository.MemoryStore
	reg   *Registry
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: repository.NewMemoryStore(types.DefaultFeeBps),
		reg:   New(append([]Option{WithClock(func() time.Time { return t0 })}, opts...)...),
	}
	f.update(t, func(tx repository.Tx) error {
		return f.reg.Initialize(tx, Genesis{Owner: owner, Marketplace: market, Admins: []types.Identity{admin}})
	})
	return f
}

func (f *fixture) update(t *testing.T, fn func(tx repository.Tx) error) []events.Event {
	t.Helper()
	evts, err := f.store.Update(context.Background(), fn)
	require.NoError(t, err)
	return evts
}

func (f *fixture) try(fn func(tx repository.Tx) error) error {
	_, err := f.store.Update(context.Background(), fn)
	return err
}

func (f *fixture) asset(t *testing.T, id types.AssetID) *repository.Asset {
	t.Helper()
	var a *repository.Asset
	err := f.store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		a, err = tx.Assets().Get(id)
		return err
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) mint(t *testing.T, who types.Identity) types.AssetID {
	t.Helper()
	var id types.AssetID
	f.update(t, func(tx repository.Tx) error {
		a, err := f.reg.Mint(tx, who, who, repository.Metadata{EventName: "Show", Venue: "Arena", Seat: "A1"})
		if err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	return id
}

// withStatus mints an asset owned by alice and drives it to the given status.
func (f *fixture) withStatus(t *testing.T, status types.AssetStatus) types.AssetID {
	t.Helper()
	id := f.mint(t, alice)
	steps := map[types.AssetStatus][]func(tx repository.Tx) error{
		types.StatusPending:  nil,
		types.StatusVerified: {func(tx repository.Tx) error { return f.reg.Verify(tx, admin, id) }},
		types.StatusLocked: {
			func(tx repository.Tx) error { return f.reg.Verify(tx, admin, id) },
			func(tx repository.Tx) error { return f.reg.Lock(tx, market, id) },
		},
		types.StatusDisputed: {
			func(tx repository.Tx) error { return f.reg.Verify(tx, admin, id) },
			func(tx repository.Tx) error { return f.reg.Lock(tx, market, id) },
			func(tx repository.Tx) error { return f.reg.MarkDisputed(tx, market, id) },
		},
		types.StatusUnlocked: {
			func(tx repository.Tx) error { return f.reg.Verify(tx, admin, id) },
			func(tx repository.Tx) error { return f.reg.Lock(tx, market, id) },
			func(tx repository.Tx) error { return f.reg.Unlock(tx, market, id) },
		},
	}
	for _, step := range steps[status] {
		f.update(t, step)
	}
	require.Equal(t, status, f.asset(t, id).Status)
	return id
}

func TestMint(t *testing.T) {
	f := newFixture(t)

	evts := f.update(t, func(tx repository.Tx) error {
		_, err := f.reg.Mint(tx, alice, alice, repository.Metadata{EventName: "Show", ProofRef: "cid-1"})
		return err
	})

	a := f.asset(t, 1)
	require.Equal(t, alice, a.Owner)
	require.Equal(t, types.StatusPending, a.Status)
	require.False(t, a.Locked)
	require.Equal(t, "cid-1", a.Metadata.ProofRef)
	require.Equal(t, t0, a.MintedAt)

	require.Len(t, evts, 1)
	require.Equal(t, events.AssetMinted, evts[0].Type)
	require.Equal(t, types.AssetID(1), evts[0].AssetID)
}

func TestMint_Restricted(t *testing.T) {
	f := newFixture(t, WithOpenMinting(false))

	err := f.try(func(tx repository.Tx) error {
		_, err := f.reg.Mint(tx, alice, alice, repository.Metadata{})
		return err
	})
	require.ErrorIs(t, err, types.ErrUnauthorized)

	f.update(t, func(tx repository.Tx) error {
		_, err := f.reg.Mint(tx, admin, alice, repository.Metadata{})
		return err
	})
	require.Equal(t, alice, f.asset(t, 1).Owner)
}

func TestMint_EmptyOwner(t *testing.T) {
	f := newFixture(t)
	err := f.try(func(tx repository.Tx) error {
		_, err := f.reg.Mint(tx, alice, types.NoIdentity, repository.Metadata{})
		return err
	})
	require.ErrorIs(t, err, types.ErrInvalidValue)
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		from    types.AssetStatus
		caller  types.Identity
		wantErr error
	}{
		{"admin verifies pending", types.StatusPending, admin, nil},
		{"owner counts as admin", types.StatusPending, owner, nil},
		{"non-admin rejected", types.StatusPending, alice, types.ErrUnauthorized},
		{"marketplace is not admin", types.StatusPending, market, types.ErrUnauthorized},
		{"already verified", types.StatusVerified, admin, types.ErrInvalidState},
		{"locked", types.StatusLocked, admin, types.ErrInvalidState},
		{"unlocked", types.StatusUnlocked, admin, types.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.withStatus(t, tt.from)

			err := f.try(func(tx repository.Tx) error { return f.reg.Verify(tx, tt.caller, id) })
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Equal(t, tt.from, f.asset(t, id).Status)
				return
			}
			require.NoError(t, err)
			require.Equal(t, types.StatusVerified, f.asset(t, id).Status)
		})
	}
}

func TestVerify_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.try(func(tx repository.Tx) error { return f.reg.Verify(tx, admin, 99) })
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestLock(t *testing.T) {
	tests := []struct {
		name    string
		from    types.AssetStatus
		caller  types.Identity
		wantErr error
	}{
		{"verified", types.StatusVerified, market, nil},
		{"unlocked relock", types.StatusUnlocked, market, nil},
		{"pending", types.StatusPending, market, types.ErrInvalidState},
		{"already locked", types.StatusLocked, market, types.ErrInvalidState},
		{"disputed", types.StatusDisputed, market, types.ErrInvalidState},
		{"admin is not marketplace", types.StatusVerified, admin, types.ErrUnauthorized},
		{"owner is not marketplace", types.StatusVerified, owner, types.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.withStatus(t, tt.from)

			err := f.try(func(tx repository.Tx) error { return f.reg.Lock(tx, tt.caller, id) })
			a := f.asset(t, id)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				require.Equal(t, tt.from, a.Status)
				return
			}
			require.NoError(t, err)
			require.Equal(t, types.StatusLocked, a.Status)
			require.True(t, a.Locked)
		})
	}
}

func TestUnlock(t *testing.T) {
	tests := []struct {
		name    string
		from    types.AssetStatus
		wantErr error
	}{
		{"locked", types.StatusLocked, nil},
		{"disputed", types.StatusDisputed, nil},
		{"verified", types.StatusVerified, types.ErrInvalidState},
		{"unlocked", types.StatusUnlocked, types.ErrInvalidState},
		{"pending", types.StatusPending, types.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.withStatus(t, tt.from)

			err := f.try(func(tx repository.Tx) error { return f.reg.Unlock(tx, market, id) })
			a := f.asset(t, id)
			require.True(t, a.Consistent())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, types.StatusUnlocked, a.Status)
			require.False(t, a.Locked)
		})
	}
}

func TestMarkDisputed(t *testing.T) {
	f := newFixture(t)
	id := f.withStatus(t, types.StatusLocked)

	err := f.try(func(tx repository.Tx) error { return f.reg.MarkDisputed(tx, alice, id) })
	require.ErrorIs(t, err, types.ErrUnauthorized)

	evts := f.update(t, func(tx repository.Tx) error { return f.reg.MarkDisputed(tx, market, id) })
	a := f.asset(t, id)
	require.Equal(t, types.StatusDisputed, a.Status)
	require.True(t, a.Locked)
	require.Len(t, evts, 1)
	require.Equal(t, events.AssetStatusChanged, evts[0].Type)
	require.Equal(t, types.StatusDisputed, evts[0].Status)

	// Only a Locked asset can be disputed.
	for _, status := range []types.AssetStatus{types.StatusPending, types.StatusVerified, types.StatusUnlocked, types.StatusDisputed} {
		other := f.withStatus(t, status)
		err := f.try(func(tx repository.Tx) error { return f.reg.MarkDisputed(tx, market, other) })
		require.ErrorIs(t, err, types.ErrInvalidState, "status %s", status)
	}
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)
	id := f.withStatus(t, types.StatusVerified)

	err := f.try(func(tx repository.Tx) error { return f.reg.Transfer(tx, bob, id, alice, bob) })
	require.ErrorIs(t, err, types.ErrUnauthorized)

	err = f.try(func(tx repository.Tx) error { return f.reg.Transfer(tx, alice, id, bob, alice) })
	require.ErrorIs(t, err, types.ErrInvalidValue)

	evts := f.update(t, func(tx repository.Tx) error { return f.reg.Transfer(tx, alice, id, alice, bob) })
	require.Equal(t, bob, f.asset(t, id).Owner)
	require.Equal(t, events.AssetTransferred, evts[0].Type)
	require.Equal(t, bob, evts[0].Party)
}

func TestTransfer_BlockedWhileLocked(t *testing.T) {
	for _, status := range []types.AssetStatus{types.StatusLocked, types.StatusDisputed} {
		t.Run(string(status), func(t *testing.T) {
			f := newFixture(t)
			id := f.withStatus(t, status)
			err := f.try(func(tx repository.Tx) error { return f.reg.Transfer(tx, alice, id, alice, bob) })
			require.ErrorIs(t, err, types.ErrInvalidState)
			require.Equal(t, alice, f.asset(t, id).Owner)
		})
	}
}

func TestTransfer_BlockedWhileListed(t *testing.T) {
	f := newFixture(t)
	id := f.withStatus(t, types.StatusVerified)
	listing := &repository.Listing{AssetID: id, Seller: alice, Price: uint256.NewInt(10), Active: true, CreatedAt: t0}
	f.update(t, func(tx repository.Tx) error { return tx.Listings().Save(listing) })

	err := f.try(func(tx repository.Tx) error { return f.reg.Transfer(tx, alice, id, alice, bob) })
	require.ErrorIs(t, err, types.ErrListedTransfer)
	require.ErrorIs(t, err, types.ErrInvalidState)
	require.Equal(t, alice, f.asset(t, id).Owner)

	// An inactive listing record does not block the owner.
	listing.Active = false
	f.update(t, func(tx repository.Tx) error { return tx.Listings().Save(listing) })
	f.update(t, func(tx repository.Tx) error { return f.reg.Transfer(tx, alice, id, alice, bob) })
	require.Equal(t, bob, f.asset(t, id).Owner)
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	id := f.withStatus(t, types.StatusVerified)

	err := f.try(func(tx repository.Tx) error { return f.reg.Approve(tx, bob, id, bob) })
	require.ErrorIs(t, err, types.ErrUnauthorized)

	err = f.try(func(tx repository.Tx) error { return f.reg.Approve(tx, alice, id, alice) })
	require.ErrorIs(t, err, types.ErrInvalidValue)

	f.update(t, func(tx repository.Tx) error { return f.reg.Approve(tx, alice, id, "dave") })
	require.Equal(t, types.Identity("dave"), f.asset(t, id).Approved)

	// The operator may move the asset; approval clears with custody.
	f.update(t, func(tx repository.Tx) error { return f.reg.Transfer(tx, "dave", id, alice, bob) })
	a := f.asset(t, id)
	require.Equal(t, bob, a.Owner)
	require.True(t, a.Approved.IsZero())

	err = f.try(func(tx repository.Tx) error { return f.reg.Transfer(tx, "dave", id, bob, "dave") })
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestPrivilegedTransfer_BypassesLock(t *testing.T) {
	f := newFixture(t)
	id := f.withStatus(t, types.StatusLocked)

	err := f.try(func(tx repository.Tx) error { return f.reg.PrivilegedTransfer(tx, alice, id, alice, bob) })
	require.ErrorIs(t, err, types.ErrUnauthorized)

	f.update(t, func(tx repository.Tx) error { return f.reg.PrivilegedTransfer(tx, market, id, alice, bob) })
	a := f.asset(t, id)
	require.Equal(t, bob, a.Owner)
	require.True(t, a.Locked)
	require.Equal(t, types.StatusLocked, a.Status)
}

func TestDirectoryManagement(t *testing.T) {
	f := newFixture(t)

	err := f.try(func(tx repository.Tx) error { return f.reg.AddAdmin(tx, admin, "dave") })
	require.ErrorIs(t, err, types.ErrUnauthorized)

	evts := f.update(t, func(tx repository.Tx) error { return f.reg.AddAdmin(tx, owner, "dave") })
	require.Equal(t, events.AdminAdded, evts[0].Type)

	err = f.try(func(tx repository.Tx) error { return f.reg.AddAdmin(tx, owner, "dave") })
	require.ErrorIs(t, err, types.ErrInvalidState)

	evts = f.update(t, func(tx repository.Tx) error { return f.reg.RemoveAdmin(tx, owner, "dave") })
	require.Equal(t, events.AdminRemoved, evts[0].Type)

	err = f.try(func(tx repository.Tx) error { return f.reg.RemoveAdmin(tx, owner, "dave") })
	require.ErrorIs(t, err, types.ErrInvalidState)

	evts = f.update(t, func(tx repository.Tx) error { return f.reg.AuthorizeMarketplace(tx, owner, "market2") })
	require.Equal(t, events.MarketplaceAuthorized, evts[0].Type)

	// The previous marketplace loses its privileges.
	id := f.withStatus(t, types.StatusVerified)
	err = f.try(func(tx repository.Tx) error { return f.reg.Lock(tx, market, id) })
	require.ErrorIs(t, err, types.ErrUnauthorized)
	f.update(t, func(tx repository.Tx) error { return f.reg.Lock(tx, "market2", id) })
}

func TestInitialize_Once(t *testing.T) {
	f := newFixture(t)
	err := f.try(func(tx repository.Tx) error { return f.reg.Initialize(tx, Genesis{Owner: "other"}) })
	require.ErrorIs(t, err, types.ErrInvalidState)

	fresh := repository.NewMemoryStore(types.DefaultFeeBps)
	_, err = fresh.Update(context.Background(), func(tx repository.Tx) error {
		return New().Initialize(tx, Genesis{})
	})
	require.ErrorIs(t, err, types.ErrInvalidValue)
}
