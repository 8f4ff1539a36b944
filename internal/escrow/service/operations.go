package service

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// ===========================================================================
// Directory
// ===========================================================================

// Genesis seeds the authorization directory. It fails with types.ErrGenesisApplied
// once the store already has an owner.
func (s *Service) Genesis(ctx context.Context, owner, marketplace types.Identity, admins ...types.Identity) error {
	return s.exec(ctx, command.NewGenesisCommand(s.source, owner, marketplace, admins...))
}

func (s *Service) AddAdmin(ctx context.Context, caller, admin types.Identity) error {
	return s.exec(ctx, command.NewAddAdminCommand(s.source, caller, admin))
}

func (s *Service) RemoveAdmin(ctx context.Context, caller, admin types.Identity) error {
	return s.exec(ctx, command.NewRemoveAdminCommand(s.source, caller, admin))
}

func (s *Service) AuthorizeMarketplace(ctx context.Context, caller, marketplace types.Identity) error {
	return s.exec(ctx, command.NewAuthorizeMarketplaceCommand(s.source, caller, marketplace))
}

// ===========================================================================
// Asset Registry
// ===========================================================================

// Mint creates a Pending asset owned by owner and returns it.
func (s *Service) Mint(ctx context.Context, caller, owner types.Identity, meta repository.Metadata) (*repository.Asset, error) {
	result, err := s.submit(ctx, command.NewMintCommand(s.source, caller, owner, meta))
	if err != nil {
		return nil, err
	}
	asset, _ := result.Data.(*repository.Asset)
	return asset, nil
}

func (s *Service) Verify(ctx context.Context, caller types.Identity, id types.AssetID) error {
	return s.exec(ctx, command.NewVerifyCommand(s.source, caller, id))
}

func (s *Service) Lock(ctx context.Context, caller types.Identity, id types.AssetID) error {
	return s.exec(ctx, command.NewLockCommand(s.source, caller, id))
}

func (s *Service) Unlock(ctx context.Context, caller types.Identity, id types.AssetID) error {
	return s.exec(ctx, command.NewUnlockCommand(s.source, caller, id))
}

func (s *Service) MarkDisputed(ctx context.Context, caller types.Identity, id types.AssetID) error {
	return s.exec(ctx, command.NewMarkDisputedCommand(s.source, caller, id))
}

// Approve lets operator transfer the asset until its next custody change.
func (s *Service) Approve(ctx context.Context, caller types.Identity, id types.AssetID, operator types.Identity) error {
	return s.exec(ctx, command.NewApproveCommand(s.source, caller, id, operator))
}

func (s *Service) Transfer(ctx context.Context, caller types.Identity, id types.AssetID, from, to types.Identity) error {
	return s.exec(ctx, command.NewTransferCommand(s.source, caller, id, from, to))
}

func (s *Service) PrivilegedTransfer(ctx context.Context, caller types.Identity, id types.AssetID, from, to types.Identity) error {
	return s.exec(ctx, command.NewPrivilegedTransferCommand(s.source, caller, id, from, to))
}

// ===========================================================================
// Marketplace
// ===========================================================================

func (s *Service) List(ctx context.Context, seller types.Identity, id types.AssetID, price *uint256.Int) error {
	return s.exec(ctx, command.NewListCommand(s.source, seller, id, price))
}

func (s *Service) Unlist(ctx context.Context, caller types.Identity, id types.AssetID) error {
	return s.exec(ctx, command.NewUnlistCommand(s.source, caller, id))
}

// Purchase buys a listed asset into escrow. payment must equal the listing price.
func (s *Service) Purchase(ctx context.Context, buyer types.Identity, id types.AssetID, payment *uint256.Int) error {
	return s.exec(ctx, command.NewPurchaseCommand(s.source, buyer, id, payment))
}

func (s *Service) Confirm(ctx context.Context, caller types.Identity, id types.AssetID) error {
	return s.exec(ctx, command.NewConfirmCommand(s.source, caller, id))
}

func (s *Service) AutoRelease(ctx context.Context, caller types.Identity, id types.AssetID) error {
	return s.exec(ctx, command.NewAutoReleaseCommand(s.source, caller, id))
}

func (s *Service) RaiseDispute(ctx context.Context, caller types.Identity, id types.AssetID, reason string) error {
	return s.exec(ctx, command.NewRaiseDisputeCommand(s.source, caller, id, reason))
}

func (s *Service) ResolveDispute(ctx context.Context, caller types.Identity, id types.AssetID, sellerWins bool) error {
	return s.exec(ctx, command.NewResolveDisputeCommand(s.source, caller, id, sellerWins))
}

// WithdrawFees pays the whole fee pool to caller and returns the amount paid.
func (s *Service) WithdrawFees(ctx context.Context, caller types.Identity) (*uint256.Int, error) {
	result, err := s.submit(ctx, command.NewWithdrawFeesCommand(s.source, caller))
	if err != nil {
		return nil, err
	}
	paid, _ := result.Data.(*uint256.Int)
	return paid, nil
}

func (s *Service) UpdateFee(ctx context.Context, caller types.Identity, feeBps types.BasisPoints) error {
	return s.exec(ctx, command.NewUpdateFeeCommand(s.source, caller, feeBps))
}
