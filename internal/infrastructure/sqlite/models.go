package sqlite

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// AssetModel represents a row of the assets table.
// Times are stored as Unix nanoseconds; amounts as decimal text.
type AssetModel struct {
	ID               int64
	EventName        string
	EventDate        *int64  // nullable
	Venue            string
	Seat             string
	OriginalPrice    *string // nullable
	ProofRef         string
	Owner            string
	Approved         *string // nullable
	Status           string
	Locked           bool
	ListingTimestamp *int64 // nullable
	MintedAt         int64
}

func toAssetModel(a *repository.Asset) *AssetModel {
	m := &AssetModel{
		ID:               int64(a.ID),
		EventName:        a.Metadata.EventName,
		EventDate:        nullableNanos(a.Metadata.EventDate),
		Venue:            a.Metadata.Venue,
		Seat:             a.Metadata.Seat,
		OriginalPrice:    nullableAmount(a.Metadata.OriginalPrice),
		ProofRef:         a.Metadata.ProofRef,
		Owner:            string(a.Owner),
		Status:           string(a.Status),
		Locked:           a.Locked,
		ListingTimestamp: nullableNanos(a.ListingTimestamp),
		MintedAt:         nanos(a.MintedAt),
	}
	if !a.Approved.IsZero() {
		approved := string(a.Approved)
		m.Approved = &approved
	}
	return m
}

func (m *AssetModel) toDomain() (*repository.Asset, error) {
	price, err := parseNullableAmount(m.OriginalPrice)
	if err != nil {
		return nil, fmt.Errorf("asset %d original price: %w", m.ID, err)
	}
	a := &repository.Asset{
		ID: types.AssetID(m.ID),
		Metadata: repository.Metadata{
			EventName:     m.EventName,
			EventDate:     fromNullableNanos(m.EventDate),
			Venue:         m.Venue,
			Seat:          m.Seat,
			OriginalPrice: price,
			ProofRef:      m.ProofRef,
		},
		Owner:            types.Identity(m.Owner),
		Status:           types.AssetStatus(m.Status),
		Locked:           m.Locked,
		ListingTimestamp: fromNullableNanos(m.ListingTimestamp),
		MintedAt:         fromNanos(m.MintedAt),
	}
	if m.Approved != nil {
		a.Approved = types.Identity(*m.Approved)
	}
	return a, nil
}

// ListingModel represents a row of the listings table.
type ListingModel struct {
	AssetID   int64
	Seller    string
	Price     string
	Active    bool
	CreatedAt int64
}

func toListingModel(l *repository.Listing) *ListingModel {
	return &ListingModel{
		AssetID:   int64(l.AssetID),
		Seller:    string(l.Seller),
		Price:     amountText(l.Price),
		Active:    l.Active,
		CreatedAt: nanos(l.CreatedAt),
	}
}

func (m *ListingModel) toDomain() (*repository.Listing, error) {
	price, err := uint256.FromDecimal(m.Price)
	if err != nil {
		return nil, fmt.Errorf("listing %d price: %w", m.AssetID, err)
	}
	return &repository.Listing{
		AssetID:   types.AssetID(m.AssetID),
		Seller:    types.Identity(m.Seller),
		Price:     price,
		Active:    m.Active,
		CreatedAt: fromNanos(m.CreatedAt),
	}, nil
}

// EscrowModel represents a row of the escrows table.
type EscrowModel struct {
	AssetID         int64
	Seller          string
	Buyer           string
	Price           string
	StartTime       int64
	SellerConfirmed bool
	BuyerConfirmed  bool
	Disputed        bool
	Completed       bool
	DisputeReason   string
	CompletedAt     *int64 // nullable
}

func toEscrowModel(e *repository.Escrow) *EscrowModel {
	return &EscrowModel{
		AssetID:         int64(e.AssetID),
		Seller:          string(e.Seller),
		Buyer:           string(e.Buyer),
		Price:           amountText(e.Price),
		StartTime:       nanos(e.StartTime),
		SellerConfirmed: e.SellerConfirmed,
		BuyerConfirmed:  e.BuyerConfirmed,
		Disputed:        e.Disputed,
		Completed:       e.Completed,
		DisputeReason:   e.DisputeReason,
		CompletedAt:     nullableNanos(e.CompletedAt),
	}
}

func (m *EscrowModel) toDomain() (*repository.Escrow, error) {
	price, err := uint256.FromDecimal(m.Price)
	if err != nil {
		return nil, fmt.Errorf("escrow %d price: %w", m.AssetID, err)
	}
	return &repository.Escrow{
		AssetID:         types.AssetID(m.AssetID),
		Seller:          types.Identity(m.Seller),
		Buyer:           types.Identity(m.Buyer),
		Price:           price,
		StartTime:       fromNanos(m.StartTime),
		SellerConfirmed: m.SellerConfirmed,
		BuyerConfirmed:  m.BuyerConfirmed,
		Disputed:        m.Disputed,
		Completed:       m.Completed,
		DisputeReason:   m.DisputeReason,
		CompletedAt:     fromNullableNanos(m.CompletedAt),
	}, nil
}

// EventModel represents a row of the events outbox.
type EventModel struct {
	Seq        int64
	Type       string
	AssetID    int64
	Actor      string
	Party      string
	Status     string
	Amount     *string // nullable
	FeeBps     int64
	Reason     string
	SellerWins bool
	At         int64
}

func toEventModel(e events.Event) *EventModel {
	return &EventModel{
		Seq:        int64(e.Seq),
		Type:       string(e.Type),
		AssetID:    int64(e.AssetID),
		Actor:      string(e.Actor),
		Party:      string(e.Party),
		Status:     string(e.Status),
		Amount:     nullableAmount(e.Amount),
		FeeBps:     int64(e.FeeBps),
		Reason:     e.Reason,
		SellerWins: e.SellerWins,
		At:         nanos(e.At),
	}
}

func (m *EventModel) toDomain() (events.Event, error) {
	amount, err := parseNullableAmount(m.Amount)
	if err != nil {
		return events.Event{}, fmt.Errorf("event %d amount: %w", m.Seq, err)
	}
	return events.Event{
		Seq:        uint64(m.Seq),
		Type:       events.Type(m.Type),
		AssetID:    types.AssetID(m.AssetID),
		Actor:      types.Identity(m.Actor),
		Party:      types.Identity(m.Party),
		Status:     types.AssetStatus(m.Status),
		Amount:     amount,
		FeeBps:     types.BasisPoints(m.FeeBps),
		Reason:     m.Reason,
		SellerWins: m.SellerWins,
		At:         fromNanos(m.At),
	}, nil
}

// nanos converts t to Unix nanoseconds; the zero time maps to 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullableNanos(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	n := t.UnixNano()
	return &n
}

func fromNullableNanos(n *int64) time.Time {
	if n == nil {
		return time.Time{}
	}
	return fromNanos(*n)
}

func amountText(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func nullableAmount(v *uint256.Int) *string {
	if v == nil {
		return nil
	}
	s := v.Dec()
	return &s
}

func parseNullableAmount(s *string) (*uint256.Int, error) {
	if s == nil {
		return nil, nil
	}
	return uint256.FromDecimal(*s)
}
