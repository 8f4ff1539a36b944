package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// ===========================================================================
// MemoryStore
// ===========================================================================

// MemoryStore is an in-memory Store. Writers are serialized by a mutex and work
// on a copy-on-write overlay that is merged into the base state only on success.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	assets    map[types.AssetID]*Asset
	listings  map[types.AssetID]*Listing
	escrows   map[types.AssetID]*Escrow
	settled   map[types.AssetID][]*Escrow
	directory *Directory
	treasury  *Treasury
	lastID    types.AssetID

	// Derived indices: order-independent sets keyed by asset id.
	listed   map[types.AssetID]struct{}
	inEscrow map[types.AssetID]struct{}

	outbox []events.Event
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store whose treasury starts at feeBps.
func NewMemoryStore(feeBps types.BasisPoints) *MemoryStore {
	return &MemoryStore{
		assets:    make(map[types.AssetID]*Asset),
		listings:  make(map[types.AssetID]*Listing),
		escrows:   make(map[types.AssetID]*Escrow),
		settled:   make(map[types.AssetID][]*Escrow),
		directory: NewDirectory(),
		treasury:  NewTreasury(feeBps),
		listed:    make(map[types.AssetID]struct{}),
		inEscrow:  make(map[types.AssetID]struct{}),
	}
}

// Update runs fn against a private overlay and merges it on success.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	tx := newMemoryTx(s, false)
	if err := fn(tx); err != nil {
		return nil, err
	}
	return s.commit(tx), nil
}

// View runs fn against the current state. Writes fail with ErrReadOnly.
func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}
	return fn(newMemoryTx(s, true))
}

// Events returns committed events after the given sequence number.
func (s *MemoryStore) Events(_ context.Context, after uint64, limit int) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	// Seq is 1-based and gapless, so the outbox index of Seq n is n-1.
	start := int(after)
	if start >= len(s.outbox) {
		return nil, nil
	}
	end := len(s.outbox)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]events.Event, 0, end-start)
	for _, e := range s.outbox[start:end] {
		out = append(out, e.Clone())
	}
	return out, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// commit merges the overlay into the base state. Caller holds s.mu.
func (s *MemoryStore) commit(tx *memoryTx) []events.Event {
	for id, a := range tx.assets {
		s.assets[id] = a
	}
	for id, l := range tx.listings {
		s.listings[id] = l
		if l.Active {
			s.listed[id] = struct{}{}
		} else {
			delete(s.listed, id)
		}
	}
	for id, archived := range tx.settled {
		s.settled[id] = append(s.settled[id], archived...)
	}
	for id, e := range tx.escrows {
		s.escrows[id] = e
		if e.Open() {
			s.inEscrow[id] = struct{}{}
		} else {
			delete(s.inEscrow, id)
		}
	}
	if tx.directory != nil {
		s.directory = tx.directory
	}
	if tx.treasury != nil {
		s.treasury = tx.treasury
	}
	s.lastID = tx.lastID

	recorded := tx.rec.Events()
	committed := make([]events.Event, 0, len(recorded))
	for _, e := range recorded {
		e.Seq = uint64(len(s.outbox)) + 1
		s.outbox = append(s.outbox, e)
		committed = append(committed, e.Clone())
	}
	return committed
}

// ===========================================================================
// memoryTx
// ===========================================================================

type memoryTx struct {
	s        *MemoryStore
	readOnly bool

	assets    map[types.AssetID]*Asset
	listings  map[types.AssetID]*Listing
	escrows   map[types.AssetID]*Escrow
	settled   map[types.AssetID][]*Escrow
	directory *Directory
	treasury  *Treasury
	lastID    types.AssetID

	rec *events.Recorder
}

func newMemoryTx(s *MemoryStore, readOnly bool) *memoryTx {
	return &memoryTx{
		s:        s,
		readOnly: readOnly,
		assets:   make(map[types.AssetID]*Asset),
		listings: make(map[types.AssetID]*Listing),
		escrows:  make(map[types.AssetID]*Escrow),
		settled:  make(map[types.AssetID][]*Escrow),
		lastID:   s.lastID,
		rec:      events.NewRecorder(nil),
	}
}

func (tx *memoryTx) Assets() AssetRepository        { return memoryAssets{tx} }
func (tx *memoryTx) Listings() ListingRepository    { return memoryListings{tx} }
func (tx *memoryTx) Escrows() EscrowRepository      { return memoryEscrows{tx} }
func (tx *memoryTx) Directory() DirectoryRepository { return memoryDirectory{tx} }
func (tx *memoryTx) Treasury() TreasuryRepository   { return memoryTreasury{tx} }
func (tx *memoryTx) Record(e events.Event)          { tx.rec.Record(e) }

type memoryAssets struct{ tx *memoryTx }

func (r memoryAssets) Get(id types.AssetID) (*Asset, error) {
	if a, ok := r.tx.assets[id]; ok {
		return a.Clone(), nil
	}
	if a, ok := r.tx.s.assets[id]; ok {
		return a.Clone(), nil
	}
	return nil, types.ErrAssetNotFound
}

func (r memoryAssets) Save(asset *Asset) error {
	if r.tx.readOnly {
		return ErrReadOnly
	}
	r.tx.assets[asset.ID] = asset.Clone()
	if asset.ID > r.tx.lastID {
		r.tx.lastID = asset.ID
	}
	return nil
}

func (r memoryAssets) NextID() (types.AssetID, error) {
	if r.tx.readOnly {
		return 0, ErrReadOnly
	}
	r.tx.lastID++
	return r.tx.lastID, nil
}

func (r memoryAssets) List() ([]*Asset, error) {
	merged := make(map[types.AssetID]*Asset, len(r.tx.s.assets)+len(r.tx.assets))
	for id, a := range r.tx.s.assets {
		merged[id] = a
	}
	for id, a := range r.tx.assets {
		merged[id] = a
	}
	out := make([]*Asset, 0, len(merged))
	for _, a := range merged {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryListings struct{ tx *memoryTx }

func (r memoryListings) Get(id types.AssetID) (*Listing, error) {
	if l, ok := r.tx.listings[id]; ok {
		return l.Clone(), nil
	}
	if l, ok := r.tx.s.listings[id]; ok {
		return l.Clone(), nil
	}
	return nil, types.ErrListingNotFound
}

func (r memoryListings) Save(listing *Listing) error {
	if r.tx.readOnly {
		return ErrReadOnly
	}
	r.tx.listings[listing.AssetID] = listing.Clone()
	return nil
}

func (r memoryListings) Active() ([]types.AssetID, error) {
	set := make(map[types.AssetID]struct{}, len(r.tx.s.listed))
	for id := range r.tx.s.listed {
		set[id] = struct{}{}
	}
	for id, l := range r.tx.listings {
		if l.Active {
			set[id] = struct{}{}
		} else {
			delete(set, id)
		}
	}
	return sortedIDs(set), nil
}

type memoryEscrows struct{ tx *memoryTx }

func (r memoryEscrows) Get(id types.AssetID) (*Escrow, error) {
	if e, ok := r.tx.escrows[id]; ok {
		return e.Clone(), nil
	}
	if e, ok := r.tx.s.escrows[id]; ok {
		return e.Clone(), nil
	}
	return nil, types.ErrEscrowNotFound
}

func (r memoryEscrows) Save(escrow *Escrow) error {
	if r.tx.readOnly {
		return ErrReadOnly
	}
	if escrow.Open() {
		if prev, err := r.Get(escrow.AssetID); err == nil && !prev.Open() {
			r.tx.settled[escrow.AssetID] = append(r.tx.settled[escrow.AssetID], prev)
		}
	}
	r.tx.escrows[escrow.AssetID] = escrow.Clone()
	return nil
}

func (r memoryEscrows) Settled(id types.AssetID) ([]*Escrow, error) {
	base := r.tx.s.settled[id]
	pending := r.tx.settled[id]
	out := make([]*Escrow, 0, len(base)+len(pending))
	for _, e := range base {
		out = append(out, e.Clone())
	}
	for _, e := range pending {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (r memoryEscrows) Open() ([]types.AssetID, error) {
	set := make(map[types.AssetID]struct{}, len(r.tx.s.inEscrow))
	for id := range r.tx.s.inEscrow {
		set[id] = struct{}{}
	}
	for id, e := range r.tx.escrows {
		if e.Open() {
			set[id] = struct{}{}
		} else {
			delete(set, id)
		}
	}
	return sortedIDs(set), nil
}

type memoryDirectory struct{ tx *memoryTx }

func (r memoryDirectory) Get() (*Directory, error) {
	if r.tx.directory != nil {
		return r.tx.directory.Clone(), nil
	}
	return r.tx.s.directory.Clone(), nil
}

func (r memoryDirectory) Save(dir *Directory) error {
	if r.tx.readOnly {
		return ErrReadOnly
	}
	r.tx.directory = dir.Clone()
	return nil
}

type memoryTreasury struct{ tx *memoryTx }

func (r memoryTreasury) Get() (*Treasury, error) {
	if r.tx.treasury != nil {
		return r.tx.treasury.Clone(), nil
	}
	return r.tx.s.treasury.Clone(), nil
}

func (r memoryTreasury) Save(t *Treasury) error {
	if r.tx.readOnly {
		return ErrReadOnly
	}
	r.tx.treasury = t.Clone()
	return nil
}

func sortedIDs(set map[types.AssetID]struct{}) []types.AssetID {
	out := make([]types.AssetID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
