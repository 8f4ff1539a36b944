package command

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// ===========================================================================
// Listing Commands
// ===========================================================================

// ListCommand offers an asset at a fixed price.
type ListCommand struct {
	*BaseCommand
	Seller  types.Identity
	AssetID types.AssetID
	Price   *uint256.Int
}

// NewListCommand creates a new ListCommand.
func NewListCommand(source CommandSource, seller types.Identity, id types.AssetID, price *uint256.Int) *ListCommand {
	base := NewBaseCommand(CmdList, source)
	return &ListCommand{BaseCommand: &base, Seller: seller, AssetID: id, Price: price}
}

// Validate checks seller, asset and that a price is present.
func (c *ListCommand) Validate() error {
	if err := requireIdentity("seller", c.Seller); err != nil {
		return err
	}
	if err := requireAsset(c.AssetID); err != nil {
		return err
	}
	if c.Price == nil {
		return fmt.Errorf("price is required: %w", types.ErrInvalidPrice)
	}
	return nil
}

func (c *ListCommand) String() string {
	return fmt.Sprintf("List{asset=%s, seller=%s, price=%s}", c.AssetID, c.Seller, amountString(c.Price))
}

// UnlistCommand withdraws an active listing.
type UnlistCommand struct {
	*BaseCommand
	Caller  types.Identity
	AssetID types.AssetID
}

// NewUnlistCommand creates a new UnlistCommand.
func NewUnlistCommand(source CommandSource, caller types.Identity, id types.AssetID) *UnlistCommand {
	base := NewBaseCommand(CmdUnlist, source)
	return &UnlistCommand{BaseCommand: &base, Caller: caller, AssetID: id}
}

// Validate checks that caller and asset are provided.
func (c *UnlistCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireAsset(c.AssetID)
}

// ===========================================================================
// Escrow Commands
// ===========================================================================

// PurchaseCommand buys a listed asset; Payment must equal the listing price exactly.
type PurchaseCommand struct {
	*BaseCommand
	Buyer   types.Identity
	AssetID types.AssetID
	Payment *uint256.Int
}

// NewPurchaseCommand creates a new PurchaseCommand.
func NewPurchaseCommand(source CommandSource, buyer types.Identity, id types.AssetID, payment *uint256.Int) *PurchaseCommand {
	base := NewBaseCommand(CmdPurchase, source)
	return &PurchaseCommand{BaseCommand: &base, Buyer: buyer, AssetID: id, Payment: payment}
}

// Validate checks buyer and asset, and defaults a missing payment to zero.
func (c *PurchaseCommand) Validate() error {
	if err := requireIdentity("buyer", c.Buyer); err != nil {
		return err
	}
	if c.Payment == nil {
		c.Payment = new(uint256.Int)
	}
	return requireAsset(c.AssetID)
}

func (c *PurchaseCommand) String() string {
	return fmt.Sprintf("Purchase{asset=%s, buyer=%s, payment=%s}", c.AssetID, c.Buyer, amountString(c.Payment))
}

// EscrowCommand addresses an open escrow by asset. Used by confirm and auto-release.
type EscrowCommand struct {
	*BaseCommand
	Caller  types.Identity
	AssetID types.AssetID
}

// NewConfirmCommand creates a command confirming the caller's side of an escrow.
func NewConfirmCommand(source CommandSource, caller types.Identity, id types.AssetID) *EscrowCommand {
	base := NewBaseCommand(CmdConfirm, source)
	return &EscrowCommand{BaseCommand: &base, Caller: caller, AssetID: id}
}

// NewAutoReleaseCommand creates a command settling an escrow after its deadline.
func NewAutoReleaseCommand(source CommandSource, caller types.Identity, id types.AssetID) *EscrowCommand {
	base := NewBaseCommand(CmdAutoRelease, source)
	return &EscrowCommand{BaseCommand: &base, Caller: caller, AssetID: id}
}

// Validate checks that caller and asset are provided.
func (c *EscrowCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireAsset(c.AssetID)
}

// RaiseDisputeCommand freezes an escrow. The reason may be empty.
type RaiseDisputeCommand struct {
	*BaseCommand
	Caller  types.Identity
	AssetID types.AssetID
	Reason  string
}

// NewRaiseDisputeCommand creates a new RaiseDisputeCommand.
func NewRaiseDisputeCommand(source CommandSource, caller types.Identity, id types.AssetID, reason string) *RaiseDisputeCommand {
	base := NewBaseCommand(CmdRaiseDispute, source)
	return &RaiseDisputeCommand{BaseCommand: &base, Caller: caller, AssetID: id, Reason: reason}
}

// Validate checks that caller and asset are provided.
func (c *RaiseDisputeCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireAsset(c.AssetID)
}

func (c *RaiseDisputeCommand) String() string {
	return fmt.Sprintf("RaiseDispute{asset=%s, caller=%s, reason=%q}", c.AssetID, c.Caller, truncate(c.Reason, 50))
}

// ResolveDisputeCommand settles a disputed escrow in favour of one party.
type ResolveDisputeCommand struct {
	*BaseCommand
	Caller     types.Identity
	AssetID    types.AssetID
	SellerWins bool
}

// NewResolveDisputeCommand creates a new ResolveDisputeCommand.
func NewResolveDisputeCommand(source CommandSource, caller types.Identity, id types.AssetID, sellerWins bool) *ResolveDisputeCommand {
	base := NewBaseCommand(CmdResolveDispute, source)
	return &ResolveDisputeCommand{BaseCommand: &base, Caller: caller, AssetID: id, SellerWins: sellerWins}
}

// Validate checks that caller and asset are provided.
func (c *ResolveDisputeCommand) Validate() error {
	if err := requireIdentity("caller", c.Caller); err != nil {
		return err
	}
	return requireAsset(c.AssetID)
}

// ===========================================================================
// Treasury Commands
// ===========================================================================

// WithdrawFeesCommand pays the whole fee pool to the caller.
type WithdrawFeesCommand struct {
	*BaseCommand
	Caller types.Identity
}

// NewWithdrawFeesCommand creates a new WithdrawFeesCommand.
func NewWithdrawFeesCommand(source CommandSource, caller types.Identity) *WithdrawFeesCommand {
	base := NewBaseCommand(CmdWithdrawFees, source)
	return &WithdrawFeesCommand{BaseCommand: &base, Caller: caller}
}

// Validate checks that the caller is provided.
func (c *WithdrawFeesCommand) Validate() error {
	return requireIdentity("caller", c.Caller)
}

// UpdateFeeCommand changes the fee applied at settlement.
type UpdateFeeCommand struct {
	*BaseCommand
	Caller types.Identity
	FeeBps types.BasisPoints
}

// NewUpdateFeeCommand creates a new UpdateFeeCommand.
func NewUpdateFeeCommand(source CommandSource, caller types.Identity, feeBps types.BasisPoints) *UpdateFeeCommand {
	base := NewBaseCommand(CmdUpdateFee, source)
	return &UpdateFeeCommand{BaseCommand: &base, Caller: caller, FeeBps: feeBps}
}

// Validate checks that the caller is provided. The ceiling is enforced by the engine.
func (c *UpdateFeeCommand) Validate() error {
	return requireIdentity("caller", c.Caller)
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "<nil>"
	}
	return v.Dec()
}

// truncate shortens a string to maxLen characters, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
