package handler

import (
	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/market"
	"github.com/zjrosen/ticketbay/internal/escrow/registry"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
)

// Registrar is implemented by *processor.CommandProcessor.
type Registrar interface {
	RegisterHandler(cmdType command.CommandType, handler command.CommandHandler)
}

// RegisterAll wires a handler for every command type.
func RegisterAll(r Registrar, store repository.Store, reg *registry.Registry, engine *market.Engine) {
	directory := NewDirectoryHandler(store, reg)
	status := NewAssetStatusHandler(store, reg)
	transfer := NewTransferHandler(store, reg)
	listing := NewListingHandler(store, engine)
	settlement := NewSettlementHandler(store, engine)
	dispute := NewDisputeHandler(store, engine)
	treasury := NewTreasuryHandler(store, engine)

	r.RegisterHandler(command.CmdGenesis, NewGenesisHandler(store, reg))
	r.RegisterHandler(command.CmdAddAdmin, directory)
	r.RegisterHandler(command.CmdRemoveAdmin, directory)
	r.RegisterHandler(command.CmdAuthorizeMarketplace, directory)

	r.RegisterHandler(command.CmdMint, NewMintHandler(store, reg))
	r.RegisterHandler(command.CmdVerify, status)
	r.RegisterHandler(command.CmdLock, status)
	r.RegisterHandler(command.CmdUnlock, status)
	r.RegisterHandler(command.CmdMarkDisputed, status)
	r.RegisterHandler(command.CmdApprove, NewApproveHandler(store, reg))
	r.RegisterHandler(command.CmdTransfer, transfer)
	r.RegisterHandler(command.CmdPrivilegedTransfer, transfer)

	r.RegisterHandler(command.CmdList, listing)
	r.RegisterHandler(command.CmdUnlist, listing)
	r.RegisterHandler(command.CmdPurchase, NewPurchaseHandler(store, engine))
	r.RegisterHandler(command.CmdConfirm, settlement)
	r.RegisterHandler(command.CmdAutoRelease, settlement)
	r.RegisterHandler(command.CmdRaiseDispute, dispute)
	r.RegisterHandler(command.CmdResolveDispute, dispute)
	r.RegisterHandler(command.CmdWithdrawFees, treasury)
	r.RegisterHandler(command.CmdUpdateFee, treasury)
}
