// Package market implements the Marketplace/Escrow Engine: listings, purchase into
// escrow, confirmation, time-based auto-release, dispute resolution, settlement
// and the fee pool.
//
// Every operation validates, mutates state and records events first; the single
// Funds Ledger call is the last statement, so a ledger failure surfaces as an
// error that rolls back the enclosing transaction with nothing half-applied.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/registry"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
)

// DefaultConfirmationPeriod is how long an undisputed escrow waits before anyone may release it.
const DefaultConfirmationPeriod = 7 * 24 * time.Hour

// Config configures an Engine.
type Config struct {
	// Identity is the engine's own identity; it must be the directory's authorized marketplace.
	Identity types.Identity
	// ConfirmationPeriod defaults to DefaultConfirmationPeriod.
	ConfirmationPeriod time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine is the Marketplace/Escrow Engine.
type Engine struct {
	registry *registry.Registry
	ledger   ledger.Ledger
	self     types.Identity
	period   time.Duration
	now      func() time.Time
}

// NewEngine creates an Engine that drives reg and moves value through l.
func NewEngine(reg *registry.Registry, l ledger.Ledger, cfg Config) *Engine {
	if cfg.ConfirmationPeriod <= 0 {
		cfg.ConfirmationPeriod = DefaultConfirmationPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		registry: reg,
		ledger:   l,
		self:     cfg.Identity,
		period:   cfg.ConfirmationPeriod,
		now:      cfg.Now,
	}
}

// Identity returns the identity the engine presents to the registry.
func (e *Engine) Identity() types.Identity {
	return e.self
}

// ConfirmationPeriod returns the auto-release delay.
func (e *Engine) ConfirmationPeriod() time.Duration {
	return e.period
}

// ===========================================================================
// Listings
// ===========================================================================

// List offers an asset for sale at a fixed price.
func (e *Engine) List(tx repository.Tx, seller types.Identity, id types.AssetID, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return fmt.Errorf("list asset %s: %w", id, types.ErrInvalidPrice)
	}
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("list asset %s: %w", id, err)
	}
	if seller.IsZero() || seller != asset.Owner {
		return fmt.Errorf("list asset %s: %w", id, types.ErrNotAssetOwner)
	}
	if existing, err := tx.Listings().Get(id); err == nil && existing.Active {
		return fmt.Errorf("list asset %s: %w", id, types.ErrAlreadyListed)
	}
	if !asset.Status.IsListable() {
		return fmt.Errorf("list asset %s (%s): %w", id, asset.Status, types.ErrNotListable)
	}

	now := e.now()
	listing := &repository.Listing{
		AssetID:   id,
		Seller:    seller,
		Price:     price.Clone(),
		Active:    true,
		CreatedAt: now,
	}
	if err := tx.Listings().Save(listing); err != nil {
		return err
	}
	asset.ListingTimestamp = now
	if err := tx.Assets().Save(asset); err != nil {
		return err
	}

	tx.Record(events.Event{Type: events.Listed, AssetID: id, Actor: seller, Amount: price.Clone(), At: now})
	return nil
}

// Unlist withdraws the seller's active listing.
func (e *Engine) Unlist(tx repository.Tx, caller types.Identity, id types.AssetID) error {
	listing, err := tx.Listings().Get(id)
	if err != nil {
		return fmt.Errorf("unlist asset %s: %w", id, err)
	}
	if caller.IsZero() || caller != listing.Seller {
		return fmt.Errorf("unlist asset %s: %w", id, types.ErrNotSeller)
	}
	if !listing.Active {
		return fmt.Errorf("unlist asset %s: %w", id, types.ErrNotListed)
	}
	if open, err := e.openEscrow(tx, id); err != nil {
		return err
	} else if open != nil {
		return fmt.Errorf("unlist asset %s: %w", id, types.ErrEscrowOpen)
	}

	listing.Active = false
	if err := tx.Listings().Save(listing); err != nil {
		return err
	}

	tx.Record(events.Event{Type: events.Unlisted, AssetID: id, Actor: caller, At: e.now()})
	return nil
}

// ===========================================================================
// Purchase
// ===========================================================================

// Purchase buys a listed asset with an exact payment. The asset is locked, custody
// moves to the buyer while it stays locked, and the payment is collected into escrow.
func (e *Engine) Purchase(ctx context.Context, tx repository.Tx, buyer types.Identity, id types.AssetID, payment *uint256.Int) error {
	listing, err := tx.Listings().Get(id)
	if err != nil {
		return fmt.Errorf("purchase asset %s: %w", id, err)
	}
	if !listing.Active {
		return fmt.Errorf("purchase asset %s: %w", id, types.ErrNotListed)
	}
	if buyer.IsZero() {
		return fmt.Errorf("purchase asset %s: %w", id, types.ErrEmptyIdentity)
	}
	if payment == nil || !payment.Eq(listing.Price) {
		return fmt.Errorf("purchase asset %s: %w", id, types.ErrPaymentMismatch)
	}
	if buyer == listing.Seller {
		return fmt.Errorf("purchase asset %s: %w", id, types.ErrSelfPurchase)
	}
	if open, err := e.openEscrow(tx, id); err != nil {
		return err
	} else if open != nil {
		return fmt.Errorf("purchase asset %s: %w", id, types.ErrEscrowOpen)
	}
	asset, err := tx.Assets().Get(id)
	if err != nil {
		return fmt.Errorf("purchase asset %s: %w", id, err)
	}
	if asset.Owner != listing.Seller {
		return fmt.Errorf("purchase asset %s: %w", id, types.ErrStaleListing)
	}

	if err := e.registry.Lock(tx, e.self, id); err != nil {
		return fmt.Errorf("purchase asset %s: %w", id, err)
	}

	now := e.now()
	escrow := &repository.Escrow{
		AssetID:   id,
		Seller:    listing.Seller,
		Buyer:     buyer,
		Price:     listing.Price.Clone(),
		StartTime: now,
	}
	if err := tx.Escrows().Save(escrow); err != nil {
		return err
	}

	if err := e.registry.PrivilegedTransfer(tx, e.self, id, listing.Seller, buyer); err != nil {
		return fmt.Errorf("purchase asset %s: %w", id, err)
	}

	listing.Active = false
	if err := tx.Listings().Save(listing); err != nil {
		return err
	}

	tx.Record(events.Event{Type: events.Purchased, AssetID: id, Actor: buyer, Party: listing.Seller, Amount: payment.Clone(), At: now})
	tx.Record(events.Event{Type: events.EscrowCreated, AssetID: id, Actor: buyer, Party: listing.Seller, Amount: payment.Clone(), At: now})

	if err := e.ledger.Collect(repository.BindContext(ctx, tx), buyer, payment); err != nil {
		return fmt.Errorf("purchase asset %s: %w", id, err)
	}
	log.Info(log.CatMarket, "asset purchased", "asset_id", id, "buyer", buyer, "seller", listing.Seller, "price", payment.Dec())
	return nil
}

// ===========================================================================
// Confirmation and release
// ===========================================================================

// Confirm records the caller's confirmation; the second confirmation settles the escrow.
func (e *Engine) Confirm(ctx context.Context, tx repository.Tx, caller types.Identity, id types.AssetID) error {
	escrow, err := e.requireOpen(tx, "confirm", id)
	if err != nil {
		return err
	}
	if !escrow.IsParty(caller) {
		return fmt.Errorf("confirm escrow %s: %w", id, types.ErrNotParty)
	}
	if escrow.Disputed {
		return fmt.Errorf("confirm escrow %s: %w", id, types.ErrEscrowDisputed)
	}

	switch caller {
	case escrow.Seller:
		if escrow.SellerConfirmed {
			return fmt.Errorf("confirm escrow %s as seller: %w", id, types.ErrAlreadyConfirmed)
		}
		escrow.SellerConfirmed = true
	case escrow.Buyer:
		if escrow.BuyerConfirmed {
			return fmt.Errorf("confirm escrow %s as buyer: %w", id, types.ErrAlreadyConfirmed)
		}
		escrow.BuyerConfirmed = true
	}
	if err := tx.Escrows().Save(escrow); err != nil {
		return err
	}
	tx.Record(events.Event{Type: events.Confirmed, AssetID: id, Actor: caller, Party: caller, At: e.now()})

	if escrow.SellerConfirmed && escrow.BuyerConfirmed {
		return e.settle(ctx, tx, caller, escrow)
	}
	return nil
}

// AutoRelease settles an undisputed escrow once the confirmation period has elapsed.
// Anyone may call it.
func (e *Engine) AutoRelease(ctx context.Context, tx repository.Tx, caller types.Identity, id types.AssetID) error {
	escrow, err := e.requireOpen(tx, "auto-release", id)
	if err != nil {
		return err
	}
	if escrow.Disputed {
		return fmt.Errorf("auto-release escrow %s: %w", id, types.ErrEscrowDisputed)
	}
	deadline := escrow.Deadline(e.period)
	if now := e.now(); now.Before(deadline) {
		return fmt.Errorf("auto-release escrow %s: %s remaining: %w", id, deadline.Sub(now), types.ErrConfirmationWindow)
	}

	return e.settle(ctx, tx, caller, escrow)
}

// settle pays the seller price minus fee, keeps the fee in the pool and unlocks the asset.
func (e *Engine) settle(ctx context.Context, tx repository.Tx, caller types.Identity, escrow *repository.Escrow) error {
	treasury, err := tx.Treasury().Get()
	if err != nil {
		return err
	}
	fee, overflow := ledger.Fee(escrow.Price, treasury.FeeBps)
	if overflow {
		return fmt.Errorf("settle escrow %s: fee overflow: %w", escrow.AssetID, types.ErrInvalidValue)
	}
	payout := new(uint256.Int).Sub(escrow.Price, fee)

	treasury.FeePool.Add(treasury.FeePool, fee)
	if err := tx.Treasury().Save(treasury); err != nil {
		return err
	}

	if err := e.complete(tx, escrow); err != nil {
		return err
	}
	if err := e.registry.Unlock(tx, e.self, escrow.AssetID); err != nil {
		return fmt.Errorf("settle escrow %s: %w", escrow.AssetID, err)
	}
	tx.Record(events.Event{Type: events.EscrowCompleted, AssetID: escrow.AssetID, Actor: caller, Party: escrow.Seller, Amount: payout.Clone(), At: e.now()})

	if err := e.ledger.Transfer(repository.BindContext(ctx, tx), escrow.Seller, payout); err != nil {
		return fmt.Errorf("settle escrow %s: %w", escrow.AssetID, err)
	}
	log.Info(log.CatMarket, "escrow settled", "asset_id", escrow.AssetID, "seller", escrow.Seller, "payout", payout.Dec(), "fee", fee.Dec())
	return nil
}

// ===========================================================================
// Disputes
// ===========================================================================

// RaiseDispute halts automatic settlement and marks the asset Disputed.
func (e *Engine) RaiseDispute(tx repository.Tx, caller types.Identity, id types.AssetID, reason string) error {
	escrow, err := e.requireOpen(tx, "dispute", id)
	if err != nil {
		return err
	}
	if !escrow.IsParty(caller) {
		return fmt.Errorf("dispute escrow %s: %w", id, types.ErrNotParty)
	}
	if escrow.Disputed {
		return fmt.Errorf("dispute escrow %s: %w", id, types.ErrEscrowDisputed)
	}

	escrow.Disputed = true
	escrow.DisputeReason = reason
	if err := tx.Escrows().Save(escrow); err != nil {
		return err
	}
	if err := e.registry.MarkDisputed(tx, e.self, id); err != nil {
		return fmt.Errorf("dispute escrow %s: %w", id, err)
	}

	tx.Record(events.Event{Type: events.DisputeRaised, AssetID: id, Actor: caller, Reason: reason, At: e.now()})
	log.Warn(log.CatMarket, "dispute raised", "asset_id", id, "by", caller, "reason", reason)
	return nil
}

// ResolveDispute decides a dispute. Admin only. When the seller wins the seller is paid
// minus fee and the buyer keeps custody; otherwise the buyer is refunded in full and
// custody returns to the seller. The asset is unlocked either way.
func (e *Engine) ResolveDispute(ctx context.Context, tx repository.Tx, caller types.Identity, id types.AssetID, sellerWins bool) error {
	dir, err := tx.Directory().Get()
	if err != nil {
		return err
	}
	if !dir.IsAdmin(caller) {
		return fmt.Errorf("resolve dispute %s: %w", id, types.ErrNotAdmin)
	}
	escrow, err := tx.Escrows().Get(id)
	if err != nil {
		return fmt.Errorf("resolve dispute %s: %w", id, err)
	}
	if escrow.Completed {
		return fmt.Errorf("resolve dispute %s: %w", id, types.ErrEscrowCompleted)
	}
	if !escrow.Disputed {
		return fmt.Errorf("resolve dispute %s: %w", id, types.ErrNotDisputed)
	}

	var (
		payee  types.Identity
		amount *uint256.Int
	)
	if sellerWins {
		treasury, err := tx.Treasury().Get()
		if err != nil {
			return err
		}
		fee, overflow := ledger.Fee(escrow.Price, treasury.FeeBps)
		if overflow {
			return fmt.Errorf("resolve dispute %s: fee overflow: %w", id, types.ErrInvalidValue)
		}
		treasury.FeePool.Add(treasury.FeePool, fee)
		if err := tx.Treasury().Save(treasury); err != nil {
			return err
		}
		payee, amount = escrow.Seller, new(uint256.Int).Sub(escrow.Price, fee)
	} else {
		if err := e.registry.PrivilegedTransfer(tx, e.self, id, escrow.Buyer, escrow.Seller); err != nil {
			return fmt.Errorf("resolve dispute %s: %w", id, err)
		}
		payee, amount = escrow.Buyer, escrow.Price.Clone()
	}

	if err := e.complete(tx, escrow); err != nil {
		return err
	}
	if err := e.registry.Unlock(tx, e.self, id); err != nil {
		return fmt.Errorf("resolve dispute %s: %w", id, err)
	}

	now := e.now()
	tx.Record(events.Event{Type: events.DisputeResolved, AssetID: id, Actor: caller, SellerWins: sellerWins, At: now})
	tx.Record(events.Event{Type: events.EscrowCompleted, AssetID: id, Actor: caller, Party: payee, Amount: amount.Clone(), At: now})

	if err := e.ledger.Transfer(repository.BindContext(ctx, tx), payee, amount); err != nil {
		return fmt.Errorf("resolve dispute %s: %w", id, err)
	}
	log.Info(log.CatMarket, "dispute resolved", "asset_id", id, "seller_wins", sellerWins, "payee", payee, "amount", amount.Dec())
	return nil
}

// ===========================================================================
// Fees
// ===========================================================================

// WithdrawFees pays the whole fee pool to the owner. Owner only.
func (e *Engine) WithdrawFees(ctx context.Context, tx repository.Tx, caller types.Identity) (*uint256.Int, error) {
	dir, err := tx.Directory().Get()
	if err != nil {
		return nil, err
	}
	if caller.IsZero() || caller != dir.Owner() {
		return nil, fmt.Errorf("withdraw fees: %w", types.ErrNotOwner)
	}
	treasury, err := tx.Treasury().Get()
	if err != nil {
		return nil, err
	}
	if treasury.FeePool.IsZero() {
		return nil, fmt.Errorf("withdraw fees: %w", types.ErrNoFees)
	}

	amount := treasury.FeePool.Clone()
	treasury.FeePool = new(uint256.Int)
	if err := tx.Treasury().Save(treasury); err != nil {
		return nil, err
	}
	tx.Record(events.Event{Type: events.FeesWithdrawn, Actor: caller, Party: caller, Amount: amount.Clone(), At: e.now()})

	if err := e.ledger.Transfer(repository.BindContext(ctx, tx), caller, amount); err != nil {
		return nil, fmt.Errorf("withdraw fees: %w", err)
	}
	return amount, nil
}

// UpdateFee changes the fee rate applied at the next settlement. Owner only.
func (e *Engine) UpdateFee(tx repository.Tx, caller types.Identity, feeBps types.BasisPoints) error {
	dir, err := tx.Directory().Get()
	if err != nil {
		return err
	}
	if caller.IsZero() || caller != dir.Owner() {
		return fmt.Errorf("update fee: %w", types.ErrNotOwner)
	}
	if feeBps > types.MaxFeeBps {
		return fmt.Errorf("update fee to %d bps (max %d): %w", feeBps, types.MaxFeeBps, types.ErrFeeTooHigh)
	}
	treasury, err := tx.Treasury().Get()
	if err != nil {
		return err
	}

	treasury.FeeBps = feeBps
	if err := tx.Treasury().Save(treasury); err != nil {
		return err
	}
	tx.Record(events.Event{Type: events.FeeUpdated, Actor: caller, FeeBps: feeBps, At: e.now()})
	return nil
}

// ===========================================================================
// Helpers
// ===========================================================================

func (e *Engine) complete(tx repository.Tx, escrow *repository.Escrow) error {
	escrow.Completed = true
	escrow.CompletedAt = e.now()
	return tx.Escrows().Save(escrow)
}

func (e *Engine) requireOpen(tx repository.Tx, op string, id types.AssetID) (*repository.Escrow, error) {
	escrow, err := tx.Escrows().Get(id)
	if err != nil {
		return nil, fmt.Errorf("%s escrow %s: %w", op, id, err)
	}
	if escrow.Completed {
		return nil, fmt.Errorf("%s escrow %s: %w", op, id, types.ErrEscrowCompleted)
	}
	return escrow, nil
}

// openEscrow returns the asset's open escrow, or nil when there is none.
func (e *Engine) openEscrow(tx repository.Tx, id types.AssetID) (*repository.Escrow, error) {
	escrow, err := tx.Escrows().Get(id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if escrow.Open() {
		return escrow, nil
	}
	return nil, nil
}
