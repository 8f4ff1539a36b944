// Package registry implements the AssetRegistry: asset identity, status, the
// transfer-blocking lock, and the privileged operations reserved for the one
// authorized marketplace. Every operation runs inside a caller-supplied
// repository.Tx and records its events there.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
)

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithOpenMinting controls whether anyone may mint (true) or only admins (false).
func WithOpenMinting(open bool) Option {
	return func(r *Registry) {
		r.openMinting = open
	}
}

// Registry is the AssetRegistry. It holds no state of its own.
type Registry struct {
	now         func() time.Time
	openMinting bool
}

// New creates a Registry with open minting and the wall clock.
func New(opts ...Option) *Registry {
	r := &Registry{
		now:         time.Now,
		openMinting: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mint creates a Pending, unlocked asset owned by owner.
func (r *Registry) Mint(tx repository.Tx, caller, owner types.Identity, meta repository.Metadata) (*repository.Asset, error) {
	if caller.IsZero() || owner.IsZero() {
		return nil, fmt.Errorf("mint: %w", types.ErrEmptyIdentity)
	}
	if !r.openMinting {
		dir, err := tx.Directory().Get()
		if err != nil {
			return nil, err
		}
		if !dir.IsAdmin(caller) {
			return nil, fmt.Errorf("mint: %w", types.ErrMintRestricted)
		}
	}

	id, err := tx.Assets().NextID()
	if err != nil {
		return nil, fmt.Errorf("mint: reserve id: %w", err)
	}

	now := r.now()
	asset := &repository.Asset{
		ID:       id,
		Metadata: meta.Clone(),
		Owner:    owner,
		Status:   types.StatusPending,
		MintedAt: now,
	}
	if err := tx.Assets().Save(asset); err != nil {
		return nil, err
	}

	tx.Record(events.Event{Type: events.AssetMinted, AssetID: id, Actor: caller, Party: owner, Status: types.StatusPending, At: now})
	log.Debug(log.CatRegistry, "asset minted", "asset_id", id, "owner", owner)
	return asset, nil
}

// Verify moves a Pending asset to Verified. Admin only.
func (r *Registry) Verify(tx repository.Tx, caller types.Identity, id types.AssetID) error {
	if err := r.requireAdmin(tx, caller); err != nil {
		return fmt.Errorf("verify asset %s: %w", id, err)
	}
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("verify asset %s: %w", id, err)
	}
	if asset.Status != types.StatusPending {
		return fmt.Errorf("verify asset %s (%s): %w", id, asset.Status, types.ErrNotPending)
	}

	asset.Status = types.StatusVerified
	if err := tx.Assets().Save(asset); err != nil {
		return err
	}

	now := r.now()
	tx.Record(events.Event{Type: events.AssetVerified, AssetID: id, Actor: caller, At: now})
	tx.Record(events.Event{Type: events.AssetStatusChanged, AssetID: id, Actor: caller, Status: types.StatusVerified, At: now})
	return nil
}

// Lock sets the lock flag for escrow. Marketplace only; the asset must be Verified or Unlocked.
func (r *Registry) Lock(tx repository.Tx, caller types.Identity, id types.AssetID) error {
	if err := r.requireMarketplace(tx, caller); err != nil {
		return fmt.Errorf("lock asset %s: %w", id, err)
	}
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("lock asset %s: %w", id, err)
	}
	if asset.Locked || !asset.Status.IsListable() {
		return fmt.Errorf("lock asset %s (%s): %w", id, asset.Status, types.ErrNotLockable)
	}

	asset.Locked = true
	asset.Status = types.StatusLocked
	if err := tx.Assets().Save(asset); err != nil {
		return err
	}

	now := r.now()
	tx.Record(events.Event{Type: events.AssetLocked, AssetID: id, Actor: caller, At: now})
	tx.Record(events.Event{Type: events.AssetStatusChanged, AssetID: id, Actor: caller, Status: types.StatusLocked, At: now})
	return nil
}

// Unlock clears the lock flag and sets Unlocked. Marketplace only; the asset must be
// locked in Locked or Disputed status.
func (r *Registry) Unlock(tx repository.Tx, caller types.Identity, id types.AssetID) error {
	if err := r.requireMarketplace(tx, caller); err != nil {
		return fmt.Errorf("unlock asset %s: %w", id, err)
	}
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("unlock asset %s: %w", id, err)
	}
	if !asset.Locked || !asset.Status.IsLockedStatus() {
		return fmt.Errorf("unlock asset %s (%s): %w", id, asset.Status, types.ErrNotLocked)
	}

	asset.Locked = false
	asset.Status = types.StatusUnlocked
	if err := tx.Assets().Save(asset); err != nil {
		return err
	}

	now := r.now()
	tx.Record(events.Event{Type: events.AssetUnlocked, AssetID: id, Actor: caller, At: now})
	tx.Record(events.Event{Type: events.AssetStatusChanged, AssetID: id, Actor: caller, Status: types.StatusUnlocked, At: now})
	return nil
}

// MarkDisputed sets Disputed on a Locked asset. Marketplace only. The lock flag stays set.
func (r *Registry) MarkDisputed(tx repository.Tx, caller types.Identity, id types.AssetID) error {
	if err := r.requireMarketplace(tx, caller); err != nil {
		return fmt.Errorf("dispute asset %s: %w", id, err)
	}
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("dispute asset %s: %w", id, err)
	}
	if asset.Status != types.StatusLocked {
		return fmt.Errorf("dispute asset %s (%s): %w", id, asset.Status, types.ErrNotLocked)
	}

	asset.Status = types.StatusDisputed
	if err := tx.Assets().Save(asset); err != nil {
		return err
	}

	tx.Record(events.Event{Type: events.AssetStatusChanged, AssetID: id, Actor: caller, Status: types.StatusDisputed, At: r.now()})
	return nil
}

// Approve lets operator transfer the asset on the owner's behalf until the next custody change.
// An empty operator clears the approval.
func (r *Registry) Approve(tx repository.Tx, caller types.Identity, id types.AssetID, operator types.Identity) error {
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("approve asset %s: %w", id, err)
	}
	if caller.IsZero() || caller != asset.Owner {
		return fmt.Errorf("approve asset %s: %w", id, types.ErrNotAssetOwner)
	}
	if asset.Locked {
		return fmt.Errorf("approve asset %s: %w", id, types.ErrAssetLocked)
	}
	if operator == asset.Owner {
		return fmt.Errorf("approve asset %s: %w", id, types.ErrSelfApproval)
	}

	asset.Approved = operator
	if err := tx.Assets().Save(asset); err != nil {
		return err
	}

	tx.Record(events.Event{Type: events.AssetApproved, AssetID: id, Actor: caller, Party: operator, At: r.now()})
	return nil
}

// Transfer is the ordinary owner (or approved operator) transfer. It fails while the
// asset is locked or has an active listing; the seller must unlist first.
func (r *Registry) Transfer(tx repository.Tx, caller types.Identity, id types.AssetID, from, to types.Identity) error {
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("transfer asset %s: %w", id, err)
	}
	if asset.Locked {
		return fmt.Errorf("transfer asset %s: %w", id, types.ErrAssetLocked)
	}
	if caller.IsZero() || (caller != asset.Owner && caller != asset.Approved) {
		return fmt.Errorf("transfer asset %s: %w", id, types.ErrNotApproved)
	}
	if from != asset.Owner {
		return fmt.Errorf("transfer asset %s: %w", id, types.ErrWrongFrom)
	}
	if to.IsZero() {
		return fmt.Errorf("transfer asset %s: %w", id, types.ErrEmptyIdentity)
	}
	listing, err := tx.Listings().Get(id)
	switch {
	case err == nil && listing.Active:
		return fmt.Errorf("transfer asset %s: %w", id, types.ErrListedTransfer)
	case err != nil && !errors.Is(err, types.ErrNotFound):
		return fmt.Errorf("transfer asset %s: %w", id, err)
	}

	return r.move(tx, caller, asset, to)
}

// PrivilegedTransfer moves custody regardless of the lock. Marketplace only.
func (r *Registry) PrivilegedTransfer(tx repository.Tx, caller types.Identity, id types.AssetID, from, to types.Identity) error {
	if err := r.requireMarketplace(tx, caller); err != nil {
		return fmt.Errorf("privileged transfer asset %s: %w", id, err)
	}
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("privileged transfer asset %s: %w", id, err)
	}
	if from != asset.Owner {
		return fmt.Errorf("privileged transfer asset %s: %w", id, types.ErrWrongFrom)
	}
	if to.IsZero() {
		return fmt.Errorf("privileged transfer asset %s: %w", id, types.ErrEmptyIdentity)
	}

	return r.move(tx, caller, asset, to)
}

func (r *Registry) move(tx repository.Tx, caller types.Identity, asset *repository.Asset, to types.Identity) error {
	from := asset.Owner
	asset.Owner = to
	asset.Approved = types.NoIdentity
	if err := tx.Assets().Save(asset); err != nil {
		return err
	}

	tx.Record(events.Event{Type: events.AssetTransferred, AssetID: asset.ID, Actor: caller, Party: to, At: r.now()})
	log.Debug(log.CatRegistry, "asset transferred", "asset_id", asset.ID, "from", from, "to", to, "locked", asset.Locked)
	return nil
}

func (r *Registry) requireAdmin(tx repository.Tx, caller types.Identity) error {
	dir, err := tx.Directory().Get()
	if err != nil {
		return err
	}
	if !dir.IsAdmin(caller) {
		return types.ErrNotAdmin
	}
	return nil
}

func (r *Registry) requireMarketplace(tx repository.Tx, caller types.Identity) error {
	dir, err := tx.Directory().Get()
	if err != nil {
		return err
	}
	if !dir.IsAuthorizedMarketplace(caller) {
		return types.ErrNotMarketplace
	}
	return nil
}
