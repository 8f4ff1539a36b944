// Package events defines the domain events emitted by the asset registry and the
// escrow engine. Events are appended inside the committing transaction and
// published to observers only after the commit succeeds.
package events

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// Type identifies the kind of domain event.
type Type string

const (
	// Registry events

	// AssetMinted is emitted when a new asset is created in Pending status.
	AssetMinted Type = "minted"
	// AssetVerified is emitted when an admin verifies a pending asset.
	AssetVerified Type = "verified"
	// AssetLocked is emitted when the marketplace locks an asset for escrow.
	AssetLocked Type = "locked"
	// AssetUnlocked is emitted when the marketplace releases the lock.
	AssetUnlocked Type = "unlocked"
	// AssetStatusChanged is emitted on every status transition, carrying the new status.
	AssetStatusChanged Type = "status_changed"
	// AssetTransferred is emitted on every custody change, ordinary or privileged.
	AssetTransferred Type = "transferred"
	// AssetApproved is emitted when an owner approves a transfer operator.
	AssetApproved Type = "approved"

	// Directory events

	AdminAdded            Type = "admin_added"
	AdminRemoved          Type = "admin_removed"
	MarketplaceAuthorized Type = "marketplace_authorized"

	// Marketplace events

	// Listed is emitted when a seller lists an asset.
	Listed Type = "listed"
	// Unlisted is emitted when a seller withdraws an active listing.
	Unlisted Type = "unlisted"
	// Purchased is emitted when a buyer pays for a listed asset.
	Purchased Type = "purchased"
	// EscrowCreated is emitted alongside Purchased when the escrow record opens.
	EscrowCreated Type = "escrow_created"
	// Confirmed is emitted when one party confirms the escrow; Party names who.
	Confirmed Type = "confirmed"
	// EscrowCompleted is emitted exactly once per escrow, when it settles.
	EscrowCompleted Type = "escrow_completed"
	// DisputeRaised is emitted when a party objects; Reason carries their text.
	DisputeRaised Type = "dispute_raised"
	// DisputeResolved is emitted when an admin decides a dispute.
	DisputeResolved Type = "dispute_resolved"
	// FeesWithdrawn is emitted when the owner drains the fee pool.
	FeesWithdrawn Type = "fees_withdrawn"
	// FeeUpdated is emitted when the owner changes the fee rate.
	FeeUpdated Type = "fee_updated"
)

// Event is a single committed state transition.
// Only the fields relevant to the event Type are populated.
type Event struct {
	// Seq is the outbox sequence number assigned at commit (1-based, gapless per store).
	Seq uint64
	// Type identifies what happened.
	Type Type
	// AssetID is the asset the event concerns (zero for directory and fee events).
	AssetID types.AssetID
	// Actor is the identity whose call caused the event.
	Actor types.Identity
	// Party is the counterparty: new owner, confirming party, admin, operator or payee.
	Party types.Identity
	// Status is the new asset status for status events.
	Status types.AssetStatus
	// Amount carries a price, payout, refund or withdrawn fee total.
	Amount *uint256.Int
	// FeeBps is the new fee rate for FeeUpdated.
	FeeBps types.BasisPoints
	// Reason is the dispute reason for DisputeRaised.
	Reason string
	// SellerWins is the resolution outcome for DisputeResolved.
	SellerWins bool
	// At is the engine clock reading when the event was produced.
	At time.Time
}

// String renders the event as a single log-friendly line.
func (e Event) String() string {
	s := fmt.Sprintf("#%d %s", e.Seq, e.Type)
	if e.AssetID != 0 {
		s += " asset=" + e.AssetID.String()
	}
	if !e.Actor.IsZero() {
		s += " actor=" + e.Actor.String()
	}
	if !e.Party.IsZero() {
		s += " party=" + e.Party.String()
	}
	if e.Status != "" {
		s += " status=" + e.Status.String()
	}
	if e.Amount != nil {
		s += " amount=" + e.Amount.Dec()
	}
	switch e.Type {
	case FeeUpdated:
		s += " fee=" + e.FeeBps.String()
	case DisputeRaised:
		s += fmt.Sprintf(" reason=%q", e.Reason)
	case DisputeResolved:
		s += fmt.Sprintf(" seller_wins=%t", e.SellerWins)
	}
	return s
}

// Clone returns a copy that does not share the Amount pointer.
func (e Event) Clone() Event {
	if e.Amount != nil {
		e.Amount = e.Amount.Clone()
	}
	return e
}

// Recorder accumulates events produced during one unit of work.
type Recorder struct {
	now    func() time.Time
	events []Event
}

// NewRecorder creates a Recorder stamping events with now().
func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Record appends e, stamping At when unset.
func (r *Recorder) Record(e Event) {
	if e.At.IsZero() {
		e.At = r.now()
	}
	r.events = append(r.events, e)
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []Event {
	return r.events
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	return len(r.events)
}

// Count returns how many events of type t are in evts.
func Count(evts []Event, t Type) int {
	n := 0
	for _, e := range evts {
		if e.Type == t {
			n++
		}
	}
	return n
}
