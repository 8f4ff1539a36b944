package presentation

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// AssetDTO is the presentation form of an asset. Amounts are decimal strings.
type AssetDTO struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	Status        string `json:"status"`
	Locked        bool   `json:"locked"`
	Approved      string `json:"approved,omitempty"`
	EventName     string `json:"event_name"`
	EventDate     string `json:"event_date,omitempty"`
	Venue         string `json:"venue"`
	Seat          string `json:"seat"`
	OriginalPrice string `json:"original_price,omitempty"`
	ProofRef      string `json:"proof_ref,omitempty"`
	ListedAt      string `json:"listed_at,omitempty"`
	MintedAt      string `json:"minted_at"`
}

// ListingDTO is the presentation form of a listing.
type ListingDTO struct {
	Seller    string `json:"seller"`
	Price     string `json:"price"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// EscrowDTO is the presentation form of an escrow.
type EscrowDTO struct {
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	Price           string `json:"price"`
	StartTime       string `json:"start_time"`
	SellerConfirmed bool   `json:"seller_confirmed"`
	BuyerConfirmed  bool   `json:"buyer_confirmed"`
	Disputed        bool   `json:"disputed"`
	DisputeReason   string `json:"dispute_reason,omitempty"`
	Completed       bool   `json:"completed"`
	CompletedAt     string `json:"completed_at,omitempty"`
	// Deadline is when auto-release becomes available.
	Deadline string `json:"deadline"`
}

// AssetViewDTO bundles an asset with its listing and escrow, when present.
type AssetViewDTO struct {
	Asset   AssetDTO    `json:"asset"`
	Listing *ListingDTO `json:"listing,omitempty"`
	Escrow  *EscrowDTO  `json:"escrow,omitempty"`
}

// EventDTO is one outbox entry.
type EventDTO struct {
	Seq        uint64 `json:"seq"`
	Type       string `json:"type"`
	AssetID    uint64 `json:"asset_id,omitempty"`
	Actor      string `json:"actor,omitempty"`
	Party      string `json:"party,omitempty"`
	Status     string `json:"status,omitempty"`
	Amount     string `json:"amount,omitempty"`
	FeeBps     uint16 `json:"fee_bps,omitempty"`
	Reason     string `json:"reason,omitempty"`
	SellerWins *bool  `json:"seller_wins,omitempty"`
	At         string `json:"at"`
}

// BalanceDTO is one ledger account.
type BalanceDTO struct {
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
}

// FromAsset converts a repository asset.
func FromAsset(a *repository.Asset) AssetDTO {
	return AssetDTO{
		ID:            uint64(a.ID),
		Owner:         a.Owner.String(),
		Status:        a.Status.String(),
		Locked:        a.Locked,
		Approved:      a.Approved.String(),
		EventName:     a.Metadata.EventName,
		EventDate:     formatTime(a.Metadata.EventDate),
		Venue:         a.Metadata.Venue,
		Seat:          a.Metadata.Seat,
		OriginalPrice: optionalAmount(a.Metadata.OriginalPrice),
		ProofRef:      a.Metadata.ProofRef,
		ListedAt:      formatTime(a.ListingTimestamp),
		MintedAt:      formatTime(a.MintedAt),
	}
}

// FromView converts a service view. period is the confirmation period used to
// compute the escrow deadline.
func FromView(asset *repository.Asset, listing *repository.Listing, escrow *repository.Escrow, period time.Duration) AssetViewDTO {
	dto := AssetViewDTO{Asset: FromAsset(asset)}
	if listing != nil {
		dto.Listing = &ListingDTO{
			Seller:    listing.Seller.String(),
			Price:     ledger.FormatAmount(listing.Price),
			Active:    listing.Active,
			CreatedAt: formatTime(listing.CreatedAt),
		}
	}
	if escrow != nil {
		dto.Escrow = &EscrowDTO{
			Seller:          escrow.Seller.String(),
			Buyer:           escrow.Buyer.String(),
			Price:           ledger.FormatAmount(escrow.Price),
			StartTime:       formatTime(escrow.StartTime),
			SellerConfirmed: escrow.SellerConfirmed,
			BuyerConfirmed:  escrow.BuyerConfirmed,
			Disputed:        escrow.Disputed,
			DisputeReason:   escrow.DisputeReason,
			Completed:       escrow.Completed,
			CompletedAt:     formatTime(escrow.CompletedAt),
			Deadline:        formatTime(escrow.Deadline(period)),
		}
	}
	return dto
}

// FromEvents converts outbox events.
func FromEvents(evts []events.Event) []EventDTO {
	out := make([]EventDTO, 0, len(evts))
	for _, e := range evts {
		dto := EventDTO{
			Seq:     e.Seq,
			Type:    string(e.Type),
			AssetID: uint64(e.AssetID),
			Actor:   e.Actor.String(),
			Party:   e.Party.String(),
			Status:  e.Status.String(),
			Amount:  optionalAmount(e.Amount),
			FeeBps:  uint16(e.FeeBps),
			Reason:  e.Reason,
			At:      formatTime(e.At),
		}
		if e.Type == events.DisputeResolved {
			wins := e.SellerWins
			dto.SellerWins = &wins
		}
		out = append(out, dto)
	}
	return out
}

// FromBalances converts ledger balances keyed by identity, in the given order.
func FromBalances(order []types.Identity, balances map[types.Identity]*uint256.Int) []BalanceDTO {
	out := make([]BalanceDTO, 0, len(order))
	for _, id := range order {
		out = append(out, BalanceDTO{Identity: id.String(), Amount: ledger.FormatAmount(balances[id])})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalAmount(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return ledger.FormatAmount(v)
}
