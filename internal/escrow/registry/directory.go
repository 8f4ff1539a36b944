package registry

import (
	"fmt"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// Genesis describes the initial authorization directory.
type Genesis struct {
	Owner       types.Identity
	Marketplace types.Identity
	Admins      []types.Identity
}

// Initialize installs the genesis directory. It fails once an owner exists.
func (r *Registry) Initialize(tx repository.Tx, g Genesis) error {
	if g.Owner.IsZero() {
		return fmt.Errorf("initialize directory: owner: %w", types.ErrEmptyIdentity)
	}
	dir, err := tx.Directory().Get()
	if err != nil {
		return err
	}
	if dir.Initialized() {
		return fmt.Errorf("initialize directory: %w", types.ErrGenesisApplied)
	}

	dir.OwnerID = g.Owner
	if err := tx.Directory().Save(dir); err != nil {
		return err
	}
	for _, admin := range g.Admins {
		if admin == g.Owner {
			continue
		}
		if err := r.AddAdmin(tx, g.Owner, admin); err != nil {
			return err
		}
	}
	if !g.Marketplace.IsZero() {
		return r.AuthorizeMarketplace(tx, g.Owner, g.Marketplace)
	}
	return nil
}

// AddAdmin grants admin rights. Owner only.
func (r *Registry) AddAdmin(tx repository.Tx, caller, admin types.Identity) error {
	dir, err := r.ownerDirectory(tx, caller)
	if err != nil {
		return fmt.Errorf("add admin: %w", err)
	}
	if admin.IsZero() {
		return fmt.Errorf("add admin: %w", types.ErrEmptyIdentity)
	}
	if dir.IsAdmin(admin) {
		return fmt.Errorf("add admin %s: %w", admin, types.ErrAlreadyAdmin)
	}

	dir.Admins[admin] = struct{}{}
	if err := tx.Directory().Save(dir); err != nil {
		return err
	}
	tx.Record(events.Event{Type: events.AdminAdded, Actor: caller, Party: admin, At: r.now()})
	return nil
}

// RemoveAdmin revokes admin rights. Owner only; the owner itself cannot be removed.
func (r *Registry) RemoveAdmin(tx repository.Tx, caller, admin types.Identity) error {
	dir, err := r.ownerDirectory(tx, caller)
	if err != nil {
		return fmt.Errorf("remove admin: %w", err)
	}
	if _, ok := dir.Admins[admin]; !ok {
		return fmt.Errorf("remove admin %s: %w", admin, types.ErrNotAnAdmin)
	}

	delete(dir.Admins, admin)
	if err := tx.Directory().Save(dir); err != nil {
		return err
	}
	tx.Record(events.Event{Type: events.AdminRemoved, Actor: caller, Party: admin, At: r.now()})
	return nil
}

// AuthorizeMarketplace replaces the single identity allowed to call privileged operations. Owner only.
func (r *Registry) AuthorizeMarketplace(tx repository.Tx, caller, marketplace types.Identity) error {
	dir, err := r.ownerDirectory(tx, caller)
	if err != nil {
		return fmt.Errorf("authorize marketplace: %w", err)
	}
	if marketplace.IsZero() {
		return fmt.Errorf("authorize marketplace: %w", types.ErrEmptyIdentity)
	}

	dir.Marketplace = marketplace
	if err := tx.Directory().Save(dir); err != nil {
		return err
	}
	tx.Record(events.Event{Type: events.MarketplaceAuthorized, Actor: caller, Party: marketplace, At: r.now()})
	return nil
}

func (r *Registry) ownerDirectory(tx repository.Tx, caller types.Identity) (*repository.Directory, error) {
	dir, err := tx.Directory().Get()
	if err != nil {
		return nil, err
	}
	if caller.IsZero() || caller != dir.Owner() {
		return nil, types.ErrNotOwner
	}
	return dir, nil
}
