// Package repository provides the domain entities of the escrow marketplace and
// the Store contract every backend implements. A Store runs each unit of work as
// one all-or-nothing transaction; events recorded inside the transaction are
// committed to the outbox with it.
package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// ===========================================================================
// Error Sentinel Values
// ===========================================================================

// ErrReadOnly is returned when a write is attempted inside a View transaction.
var ErrReadOnly = errors.New("transaction is read-only")

// ErrStoreClosed is returned when the store has been closed.
var ErrStoreClosed = errors.New("store is closed")

// ===========================================================================
// Domain Entities
// ===========================================================================

// Metadata is the immutable description captured at mint time.
// ProofRef is an opaque content identifier the core never dereferences.
type Metadata struct {
	EventName     string
	EventDate     time.Time
	Venue         string
	Seat          string
	OriginalPrice *uint256.Int
	ProofRef      string
}

// Clone returns a deep copy of the metadata.
func (m Metadata) Clone() Metadata {
	if m.OriginalPrice != nil {
		m.OriginalPrice = m.OriginalPrice.Clone()
	}
	return m
}

// Asset is a uniquely owned ticket tracked by the registry.
type Asset struct {
	ID       types.AssetID
	Metadata Metadata
	Owner    types.Identity
	// Approved is the operator allowed to transfer on the owner's behalf (empty if none).
	Approved         types.Identity
	Status           types.AssetStatus
	Locked           bool
	ListingTimestamp time.Time
	MintedAt         time.Time
}

// Clone returns a deep copy of the asset.
func (a *Asset) Clone() *Asset {
	c := *a
	c.Metadata = a.Metadata.Clone()
	return &c
}

// Consistent reports whether the lock flag agrees with the status.
func (a *Asset) Consistent() bool {
	return a.Locked == a.Status.IsLockedStatus()
}

// Listing is a seller's fixed-price offer. Listings are never deleted, only deactivated.
type Listing struct {
	AssetID   types.AssetID
	Seller    types.Identity
	Price     *uint256.Int
	Active    bool
	CreatedAt time.Time
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	c := *l
	if l.Price != nil {
		c.Price = l.Price.Clone()
	}
	return &c
}

// Escrow holds a purchase's payment in trust until confirmation, timeout or dispute resolution.
// Completed is terminal: once set the record is immutable. A later purchase of the
// same asset moves it to the settled archive.
type Escrow struct {
	AssetID         types.AssetID
	Seller          types.Identity
	Buyer           types.Identity
	Price           *uint256.Int
	StartTime       time.Time
	SellerConfirmed bool
	BuyerConfirmed  bool
	Disputed        bool
	Completed       bool
	DisputeReason   string
	CompletedAt     time.Time
}

// Clone returns a deep copy of the escrow.
func (e *Escrow) Clone() *Escrow {
	c := *e
	if e.Price != nil {
		c.Price = e.Price.Clone()
	}
	return &c
}

// Open reports whether the escrow still accepts confirmations and disputes.
func (e *Escrow) Open() bool {
	return !e.Completed
}

// IsParty reports whether id is the seller or the buyer.
func (e *Escrow) IsParty(id types.Identity) bool {
	return !id.IsZero() && (id == e.Seller || id == e.Buyer)
}

// Deadline returns the earliest time auto-release is allowed.
func (e *Escrow) Deadline(period time.Duration) time.Time {
	return e.StartTime.Add(period)
}

// Directory is the authorization policy consulted by every privileged operation.
type Directory struct {
	OwnerID     types.Identity
	Marketplace types.Identity
	Admins      map[types.Identity]struct{}
}

var _ types.Authorizer = (*Directory)(nil)

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{Admins: make(map[types.Identity]struct{})}
}

// Owner returns the super-admin identity.
func (d *Directory) Owner() types.Identity {
	return d.OwnerID
}

// Initialized reports whether an owner has been installed.
func (d *Directory) Initialized() bool {
	return !d.OwnerID.IsZero()
}

// IsAdmin reports whether id is an admin. The owner is always an admin.
func (d *Directory) IsAdmin(id types.Identity) bool {
	if id.IsZero() {
		return false
	}
	if id == d.OwnerID {
		return true
	}
	_, ok := d.Admins[id]
	return ok
}

// IsAuthorizedMarketplace reports whether id may call privileged registry operations.
func (d *Directory) IsAuthorizedMarketplace(id types.Identity) bool {
	return !id.IsZero() && id == d.Marketplace
}

// AdminList returns the explicit admins sorted by identity.
func (d *Directory) AdminList() []types.Identity {
	out := make([]types.Identity, 0, len(d.Admins))
	for id := range d.Admins {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns a deep copy of the directory.
func (d *Directory) Clone() *Directory {
	c := &Directory{
		OwnerID:     d.OwnerID,
		Marketplace: d.Marketplace,
		Admins:      make(map[types.Identity]struct{}, len(d.Admins)),
	}
	for id := range d.Admins {
		c.Admins[id] = struct{}{}
	}
	return c
}

// Treasury holds the engine-wide fee rate and the withdrawable fee pool.
type Treasury struct {
	FeeBps  types.BasisPoints
	FeePool *uint256.Int
}

// NewTreasury creates a treasury with an empty pool.
func NewTreasury(feeBps types.BasisPoints) *Treasury {
	return &Treasury{FeeBps: feeBps, FeePool: new(uint256.Int)}
}

// Clone returns a deep copy of the treasury.
func (t *Treasury) Clone() *Treasury {
	c := *t
	if t.FeePool != nil {
		c.FeePool = t.FeePool.Clone()
	} else {
		c.FeePool = new(uint256.Int)
	}
	return &c
}

// ===========================================================================
// Repository Interfaces
// ===========================================================================

// AssetRepository reads and writes assets within a transaction.
type AssetRepository interface {
	// Get returns a copy of the asset or types.ErrAssetNotFound.
	Get(id types.AssetID) (*Asset, error)
	// Save creates or replaces the asset.
	Save(asset *Asset) error
	// NextID reserves the next sequential asset id.
	NextID() (types.AssetID, error)
	// List returns every asset ordered by id.
	List() ([]*Asset, error)
}

// ListingRepository reads and writes listings. At most one listing record exists per asset;
// relisting overwrites the inactive record.
type ListingRepository interface {
	Get(id types.AssetID) (*Listing, error)
	Save(listing *Listing) error
	// Active returns the ids of assets with an active listing, ordered by id.
	Active() ([]types.AssetID, error)
}

// EscrowRepository reads and writes escrow records. Get returns the latest escrow for an
// asset; saving an open escrow over a completed one archives the completed record.
type EscrowRepository interface {
	Get(id types.AssetID) (*Escrow, error)
	Save(escrow *Escrow) error
	// Open returns the ids of assets with an open escrow, ordered by id.
	Open() ([]types.AssetID, error)
	// Settled returns the archived escrows of an asset, oldest first.
	Settled(id types.AssetID) ([]*Escrow, error)
}

// DirectoryRepository reads and writes the singleton authorization directory.
type DirectoryRepository interface {
	Get() (*Directory, error)
	Save(dir *Directory) error
}

// TreasuryRepository reads and writes the singleton treasury.
type TreasuryRepository interface {
	Get() (*Treasury, error)
	Save(t *Treasury) error
}

// Tx is a unit of work. Reads observe the transaction's own uncommitted writes.
type Tx interface {
	Assets() AssetRepository
	Listings() ListingRepository
	Escrows() EscrowRepository
	Directory() DirectoryRepository
	Treasury() TreasuryRepository
	// Record buffers a domain event; it is committed to the outbox with the transaction.
	Record(e events.Event)
}

// Binder is implemented by transactions that other participants can join, such as a
// funds ledger that lives in the store's database.
type Binder interface {
	Bind(ctx context.Context) context.Context
}

// BindContext returns ctx carrying tx when tx can be joined, and ctx unchanged otherwise.
// Ledger calls made inside a unit of work should use the bound context.
func BindContext(ctx context.Context, tx Tx) context.Context {
	if b, ok := tx.(Binder); ok {
		return b.Bind(ctx)
	}
	return ctx
}

// Store runs transactions against a backend.
type Store interface {
	// Update runs fn in a read-write transaction. If fn returns an error nothing is
	// written. On success the recorded events are returned with their sequence numbers.
	Update(ctx context.Context, fn func(tx Tx) error) ([]events.Event, error)
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Events returns up to limit committed events with Seq > after, oldest first.
	Events(ctx context.Context, after uint64, limit int) ([]events.Event, error)
	// Close releases backend resources.
	Close() error
}
