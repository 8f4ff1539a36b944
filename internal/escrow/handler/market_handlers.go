package handler

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/market"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
)

// ===========================================================================
// Listing Handlers
// ===========================================================================

// ListingHandler handles CmdList and CmdUnlist.
type ListingHandler struct {
	store  repository.Store
	engine *market.Engine
}

// NewListingHandler creates a new ListingHandler.
func NewListingHandler(store repository.Store, engine *market.Engine) *ListingHandler {
	return &ListingHandler{store: store, engine: engine}
}

// Handle creates or withdraws a listing.
func (h *ListingHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	switch c := cmd.(type) {
	case *command.ListCommand:
		return transact(ctx, h.store, nil, func(tx repository.Tx) error {
			return h.engine.List(tx, c.Seller, c.AssetID, c.Price)
		})
	case *command.UnlistCommand:
		return transact(ctx, h.store, nil, func(tx repository.Tx) error {
			return h.engine.Unlist(tx, c.Caller, c.AssetID)
		})
	default:
		return nil, wrongType("ListCommand or UnlistCommand", cmd)
	}
}

// ===========================================================================
// Escrow Handlers
// ===========================================================================

// PurchaseHandler handles CmdPurchase.
type PurchaseHandler struct {
	store  repository.Store
	engine *market.Engine
}

// NewPurchaseHandler creates a new PurchaseHandler.
func NewPurchaseHandler(store repository.Store, engine *market.Engine) *PurchaseHandler {
	return &PurchaseHandler{store: store, engine: engine}
}

// Handle moves the asset into escrow and collects payment.
func (h *PurchaseHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	c, ok := cmd.(*command.PurchaseCommand)
	if !ok {
		return nil, wrongType("PurchaseCommand", cmd)
	}
	return transact(ctx, h.store, nil, func(tx repository.Tx) error {
		return h.engine.Purchase(ctx, tx, c.Buyer, c.AssetID, c.Payment)
	})
}

// SettlementHandler handles CmdConfirm and CmdAutoRelease.
type SettlementHandler struct {
	store  repository.Store
	engine *market.Engine
}

// NewSettlementHandler creates a new SettlementHandler.
func NewSettlementHandler(store repository.Store, engine *market.Engine) *SettlementHandler {
	return &SettlementHandler{store: store, engine: engine}
}

// Handle records a confirmation or releases an expired escrow.
func (h *SettlementHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	c, ok := cmd.(*command.EscrowCommand)
	if !ok {
		return nil, wrongType("EscrowCommand", cmd)
	}
	return transact(ctx, h.store, nil, func(tx repository.Tx) error {
		if c.Type() == command.CmdAutoRelease {
			return h.engine.AutoRelease(ctx, tx, c.Caller, c.AssetID)
		}
		return h.engine.Confirm(ctx, tx, c.Caller, c.AssetID)
	})
}

// DisputeHandler handles CmdRaiseDispute and CmdResolveDispute.
type DisputeHandler struct {
	store  repository.Store
	engine *market.Engine
}

// NewDisputeHandler creates a new DisputeHandler.
func NewDisputeHandler(store repository.Store, engine *market.Engine) *DisputeHandler {
	return &DisputeHandler{store: store, engine: engine}
}

// Handle raises or resolves a dispute.
func (h *DisputeHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	switch c := cmd.(type) {
	case *command.RaiseDisputeCommand:
		return transact(ctx, h.store, nil, func(tx repository.Tx) error {
			return h.engine.RaiseDispute(tx, c.Caller, c.AssetID, c.Reason)
		})
	case *command.ResolveDisputeCommand:
		return transact(ctx, h.store, nil, func(tx repository.Tx) error {
			return h.engine.ResolveDispute(ctx, tx, c.Caller, c.AssetID, c.SellerWins)
		})
	default:
		return nil, wrongType("dispute command", cmd)
	}
}

// ===========================================================================
// Treasury Handlers
// ===========================================================================

// TreasuryHandler handles CmdWithdrawFees and CmdUpdateFee.
// For a withdrawal the result Data is the paid *uint256.Int.
type TreasuryHandler struct {
	store  repository.Store
	engine *market.Engine
}

// NewTreasuryHandler creates a new TreasuryHandler.
func NewTreasuryHandler(store repository.Store, engine *market.Engine) *TreasuryHandler {
	return &TreasuryHandler{store: store, engine: engine}
}

// Handle withdraws the fee pool or changes the fee.
func (h *TreasuryHandler) Handle(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
	switch c := cmd.(type) {
	case *command.WithdrawFeesCommand:
		var paid *uint256.Int
		return transact(ctx, h.store, func() any { return paid }, func(tx repository.Tx) error {
			amount, err := h.engine.WithdrawFees(ctx, tx, c.Caller)
			paid = amount
			return err
		})
	case *command.UpdateFeeCommand:
		return transact(ctx, h.store, nil, func(tx repository.Tx) error {
			return h.engine.UpdateFee(tx, c.Caller, c.FeeBps)
		})
	default:
		return nil, wrongType("treasury command", cmd)
	}
}
