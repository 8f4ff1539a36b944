package handler

import (
	"context"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/registry"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
)

// ===========================================================================
// Directory Handlers
// ===========================================================================

// GenesisHandler handles CmdGenesis.
type GenesisHandler struct {
	store    repository.Store
	registry *registry.Registry
}

// NewGenesisHandler creates a new GenesisHandler.
func NewGenesisHandler(store repository.Store, reg *registry.Registry) *GenesisHandler {
	return &GenesisHandler{store: store, registry: reg}
}

// Handle seeds the directory.
func (h *GenesisHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	c, ok := cmd.(*command.GenesisCommand)
	if !ok {
		return nil, wrongType("GenesisCommand", cmd)
	}
	return transact(ctx, h.store, nil, func(tx repository.Tx) error {
		return h.registry.Initialize(tx, registry.Genesis{Owner: c.Owner, Marketplace: c.Marketplace, Admins: c.Admins})
	})
}

// DirectoryHandler handles CmdAddAdmin, CmdRemoveAdmin and CmdAuthorizeMarketplace.
type DirectoryHandler struct {
	store    repository.Store
	registry *registry.Registry
}

// NewDirectoryHandler creates a new DirectoryHandler.
func NewDirectoryHandler(store repository.Store, reg *registry.Registry) *DirectoryHandler {
	return &DirectoryHandler{store: store, registry: reg}
}

// Handle applies an owner-only directory change.
func (h *DirectoryHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	var apply func(tx repository.Tx) error
	switch c := cmd.(type) {
	case *command.AddAdminCommand:
		apply = func(tx repository.Tx) error { return h.registry.AddAdmin(tx, c.Caller, c.Admin) }
	case *command.RemoveAdminCommand:
		apply = func(tx repository.Tx) error { return h.registry.RemoveAdmin(tx, c.Caller, c.Admin) }
	case *command.AuthorizeMarketplaceCommand:
		apply = func(tx repository.Tx) error { return h.registry.AuthorizeMarketplace(tx, c.Caller, c.Marketplace) }
	default:
		return nil, wrongType("directory command", cmd)
	}
	return transact(ctx, h.store, nil, apply)
}

// ===========================================================================
// Asset Registry Handlers
// ===========================================================================

// MintHandler handles CmdMint. The result Data is the minted *repository.Asset.
type MintHandler struct {
	store    repository.Store
	registry *registry.Registry
}

// NewMintHandler creates a new MintHandler.
func NewMintHandler(store repository.Store, reg *registry.Registry) *MintHandler {
	return &MintHandler{store: store, registry: reg}
}

// Handle mints a Pending asset.
func (h *MintHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	c, ok := cmd.(*command.MintCommand)
	if !ok {
		return nil, wrongType("MintCommand", cmd)
	}
	var minted *repository.Asset
	return transact(ctx, h.store, func() any { return minted }, func(tx repository.Tx) error {
		asset, err := h.registry.Mint(tx, c.Caller, c.Owner, c.Metadata)
		minted = asset
		return err
	})
}

// AssetStatusHandler handles the single-asset registry transitions:
// CmdVerify, CmdLock, CmdUnlock and CmdMarkDisputed.
type AssetStatusHandler struct {
	store    repository.Store
	registry *registry.Registry
}

// NewAssetStatusHandler creates a new AssetStatusHandler.
func NewAssetStatusHandler(store repository.Store, reg *registry.Registry) *AssetStatusHandler {
	return &AssetStatusHandler{store: store, registry: reg}
}

// Handle routes on the command type.
func (h *AssetStatusHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	c, ok := cmd.(*command.AssetCommand)
	if !ok {
		return nil, wrongType("AssetCommand", cmd)
	}

	var op func(repository.Tx) error
	switch c.Type() {
	case command.CmdVerify:
		op = func(tx repository.Tx) error { return h.registry.Verify(tx, c.Caller, c.AssetID) }
	case command.CmdLock:
		op = func(tx repository.Tx) error { return h.registry.Lock(tx, c.Caller, c.AssetID) }
	case command.CmdUnlock:
		op = func(tx repository.Tx) error { return h.registry.Unlock(tx, c.Caller, c.AssetID) }
	case command.CmdMarkDisputed:
		op = func(tx repository.Tx) error { return h.registry.MarkDisputed(tx, c.Caller, c.AssetID) }
	default:
		return nil, wrongType("verify/lock/unlock/mark_disputed", cmd)
	}
	return transact(ctx, h.store, nil, op)
}

// ApproveHandler handles CmdApprove.
type ApproveHandler struct {
	store    repository.Store
	registry *registry.Registry
}

// NewApproveHandler creates a new ApproveHandler.
func NewApproveHandler(store repository.Store, reg *registry.Registry) *ApproveHandler {
	return &ApproveHandler{store: store, registry: reg}
}

// Handle sets or clears the approved operator.
func (h *ApproveHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	c, ok := cmd.(*command.ApproveCommand)
	if !ok {
		return nil, wrongType("ApproveCommand", cmd)
	}
	return transact(ctx, h.store, nil, func(tx repository.Tx) error {
		return h.registry.Approve(tx, c.Caller, c.AssetID, c.Operator)
	})
}

// TransferHandler handles CmdTransfer and CmdPrivilegedTransfer.
type TransferHandler struct {
	store    repository.Store
	registry *registry.Registry
}

// NewTransferHandler creates a new TransferHandler.
func NewTransferHandler(store repository.Store, reg *registry.Registry) *TransferHandler {
	return &TransferHandler{store: store, registry: reg}
}

// Handle moves custody.
func (h *TransferHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	c, ok := cmd.(*command.TransferCommand)
	if !ok {
		return nil, wrongType("TransferCommand", cmd)
	}
	return transact(ctx, h.store, nil, func(tx repository.Tx) error {
		if c.Type() == command.CmdPrivilegedTransfer {
			return h.registry.PrivilegedTransfer(tx, c.Caller, c.AssetID, c.From, c.To)
		}
		return h.registry.Transfer(tx, c.Caller, c.AssetID, c.From, c.To)
	})
}
