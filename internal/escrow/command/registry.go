package command

import (
	"fmt"

	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// ===========================================================================
// Directory Commands
// ===========================================================================

// GenesisCommand seeds the authorization directory. Accepted once per store.
type GenesisCommand struct {
	*BaseCommand
	Owner       types.Identity
	Marketplace types.Identity
	Admins      []types.Identity
}

// NewGenesisCommand creates a new GenesisCommand.
func NewGenesisCommand(source CommandSource, owner, marketplace types.Identity, admins ...types.Identity) *GenesisCommand {
	base := NewBaseCommand(CmdGenesis, source)
	return &GenesisCommand{BaseCommand: &base, Owner: owner, Marketplace: marketplace, Admins: admins}
}

// Validate checks that an owner is provided.
func (c *GenesisCommand) Validate() error {
	return requireIdentity("owner", c.Owner)
}

func (c *GenesisCommand) String() string {
	return fmt.Sprintf("Genesis{owner=%s, marketplace=%s, admins=%d}", c.Owner, c.Marketplace, len(c.Admins))
}

// AddAdminCommand grants the admin role.
type AddAdminCommand struct {
	*BaseCommand
	Caller types.Identity
	Admin  types.Identity
}

// NewAddAdminCommand creates a new AddAdminCommand.
func NewAddAdminCommand(source CommandSource, caller, admin types.Identity) *AddAdminCommand {
	base := NewBaseCommand(CmdAddAdmin, source)
	return &AddAdminCommand{BaseCommand: &base, Caller: caller, Admin: admin}
}

// Validate checks that caller and admin are provided.
func (c *AddAdminCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireIdentity("admin", c.Admin)
}

// RemoveAdminCommand revokes the admin role.
type RemoveAdminCommand struct {
	*BaseCommand
	Caller types.Identity
	Admin  types.Identity
}

// NewRemoveAdminCommand creates a new RemoveAdminCommand.
func NewRemoveAdminCommand(source CommandSource, caller, admin types.Identity) *RemoveAdminCommand {
	base := NewBaseCommand(CmdRemoveAdmin, source)
	return &RemoveAdminCommand{BaseCommand: &base, Caller: caller, Admin: admin}
}

// Validate checks that caller and admin are provided.
func (c *RemoveAdminCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireIdentity("admin", c.Admin)
}

// AuthorizeMarketplaceCommand replaces the authorized marketplace identity.
type AuthorizeMarketplaceCommand struct {
	*BaseCommand
	Caller      types.Identity
	Marketplace types.Identity
}

// NewAuthorizeMarketplaceCommand creates a new AuthorizeMarketplaceCommand.
func NewAuthorizeMarketplaceCommand(source CommandSource, caller, marketplace types.Identity) *AuthorizeMarketplaceCommand {
	base := NewBaseCommand(CmdAuthorizeMarketplace, source)
	return &AuthorizeMarketplaceCommand{BaseCommand: &base, Caller: caller, Marketplace: marketplace}
}

// Validate checks that caller and marketplace are provided.
func (c *AuthorizeMarketplaceCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireIdentity("marketplace", c.Marketplace)
}

// ===========================================================================
// Asset Registry Commands
// ===========================================================================

// MintCommand creates a Pending asset owned by Owner.
type MintCommand struct {
	*BaseCommand
	Caller   types.Identity
	Owner    types.Identity
	Metadata repository.Metadata
}

// NewMintCommand creates a new MintCommand.
func NewMintCommand(source CommandSource, caller, owner types.Identity, meta repository.Metadata) *MintCommand {
	base := NewBaseCommand(CmdMint, source)
	return &MintCommand{BaseCommand: &base, Caller: caller, Owner: owner, Metadata: meta}
}

// Validate checks that caller and owner are provided.
func (c *MintCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireIdentity("owner", c.Owner)
}

func (c *MintCommand) String() string {
	return fmt.Sprintf("Mint{owner=%s, event=%q}", c.Owner, c.Metadata.EventName)
}

// AssetCommand is a command whose only arguments are a caller and an asset.
// Verify, Lock, Unlock and MarkDisputed use it directly.
type AssetCommand struct {
	*BaseCommand
	Caller  types.Identity
	AssetID types.AssetID
}

func newAssetCommand(cmdType CommandType, source CommandSource, caller types.Identity, id types.AssetID) *AssetCommand {
	base := NewBaseCommand(cmdType, source)
	return &AssetCommand{BaseCommand: &base, Caller: caller, AssetID: id}
}

// NewVerifyCommand creates a command verifying a Pending asset.
func NewVerifyCommand(source CommandSource, caller types.Identity, id types.AssetID) *AssetCommand {
	return newAssetCommand(CmdVerify, source, caller, id)
}

// NewLockCommand creates a command locking an asset.
func NewLockCommand(source CommandSource, caller types.Identity, id types.AssetID) *AssetCommand {
	return newAssetCommand(CmdLock, source, caller, id)
}

// NewUnlockCommand creates a command unlocking an asset.
func NewUnlockCommand(source CommandSource, caller types.Identity, id types.AssetID) *AssetCommand {
	return newAssetCommand(CmdUnlock, source, caller, id)
}

// NewMarkDisputedCommand creates a command flagging a locked asset as disputed.
func NewMarkDisputedCommand(source CommandSource, caller types.Identity, id types.AssetID) *AssetCommand {
	return newAssetCommand(CmdMarkDisputed, source, caller, id)
}

// Validate checks that caller and asset are provided.
func (c *AssetCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireAsset(c.AssetID)
}

func (c *AssetCommand) String() string {
	return fmt.Sprintf("%s{asset=%s, caller=%s}", c.Type(), c.AssetID, c.Caller)
}

// ApproveCommand delegates ordinary transfer rights for one asset.
type ApproveCommand struct {
	*BaseCommand
	Caller   types.Identity
	AssetID  types.AssetID
	Operator types.Identity
}

// NewApproveCommand creates a new ApproveCommand. An empty operator clears the approval.
func NewApproveCommand(source CommandSource, caller types.Identity, id types.AssetID, operator types.Identity) *ApproveCommand {
	base := NewBaseCommand(CmdApprove, source)
	return &ApproveCommand{BaseCommand: &base, Caller: caller, AssetID: id, Operator: operator}
}

// Validate checks that caller and asset are provided.
func (c *ApproveCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireAsset(c.AssetID)
}

// TransferCommand moves an asset between holders. CmdPrivilegedTransfer selects
// the marketplace path that ignores the lock.
type TransferCommand struct {
	*BaseCommand
	Caller  types.Identity
	AssetID types.AssetID
	From    types.Identity
	To      types.Identity
}

// NewTransferCommand creates an ordinary transfer.
func NewTransferCommand(source CommandSource, caller types.Identity, id types.AssetID, from, to types.Identity) *TransferCommand {
	base := NewBaseCommand(CmdTransfer, source)
	return &TransferCommand{BaseCommand: &base, Caller: caller, AssetID: id, From: from, To: to}
}

// NewPrivilegedTransferCommand creates a marketplace transfer that ignores the lock.
func NewPrivilegedTransferCommand(source CommandSource, caller types.Identity, id types.AssetID, from, to types.Identity) *TransferCommand {
	base := NewBaseCommand(CmdPrivilegedTransfer, source)
	return &TransferCommand{BaseCommand: &base, Caller: caller, AssetID: id, From: from, To: to}
}

// Validate checks that caller and asset are provided. Recipient rules belong to the registry.
func (c *TransferCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireAsset(c.AssetID)
}

func (c *TransferCommand) String() string {
	return fmt.Sprintf("%s{asset=%s, from=%s, to=%s}", c.Type(), c.AssetID, c.From, c.To)
}
