package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
)

const assetColumns = `id, event_name, event_date, venue, seat, original_price, proof_ref,
	owner, approved, status, locked, listing_timestamp, minted_at`

const listingColumns = `asset_id, seller, price, active, created_at`

const escrowColumns = `asset_id, seller, buyer, price, start_time, seller_confirmed,
	buyer_confirmed, disputed, completed, dispute_reason, completed_at`

const eventColumns = `seq, type, asset_id, actor, party, status, amount, fee_bps,
	reason, seller_wins, at`

// Store is a repository.Store backed by SQLite. Each Update runs in one
// database transaction; recorded events are appended to the events table
// before commit.
type Store struct {
	conn   *sql.DB
	feeBps types.BasisPoints

	// writeMu serializes writers in this process so they queue here
	// instead of spinning on the busy timeout.
	writeMu sync.Mutex
	closed  atomic.Bool
}

var _ repository.Store = (*Store)(nil)

// NewStore creates a Store over conn. feeBps is the treasury rate reported
// until a treasury row has been saved.
func NewStore(conn *sql.DB, feeBps types.BasisPoints) *Store {
	return &Store{conn: conn, feeBps: feeBps}
}

// Update runs fn in a read-write transaction.
func (s *Store) Update(ctx context.Context, fn func(tx repository.Tx) error) ([]events.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, repository.ErrStoreClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := newStoreTx(ctx, sqlTx, s.feeBps, false)
	tx.conn = s.conn
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}

	committed, err := tx.flushEvents()
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, err
	}
	if err := sqlTx.Commit(); err != nil {
		log.ErrorErr(log.CatStore, "commit failed", err, "events", len(committed))
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return committed, nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return repository.ErrStoreClosed
	}

	sqlTx, err := s.conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	return fn(newStoreTx(ctx, sqlTx, s.feeBps, true))
}

// Events returns up to limit committed events with Seq > after.
func (s *Store) Events(ctx context.Context, after uint64, limit int) ([]events.Event, error) {
	if s.closed.Load() {
		return nil, repository.ErrStoreClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq LIMIT ?`,
		int64(after), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []events.Event
	for rows.Next() {
		m, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close marks the store closed. The connection belongs to the DB that created it.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

// ===========================================================================
// storeTx
// ===========================================================================

type storeTx struct {
	ctx      context.Context
	conn     *sql.DB // set on write transactions so a ledger on the same pool can join
	tx       *sql.Tx
	feeBps   types.BasisPoints
	readOnly bool

	// lastID caches the highest reserved asset id once NextID has been called.
	lastID    types.AssetID
	lastKnown bool

	rec *events.Recorder
}

func newStoreTx(ctx context.Context, tx *sql.Tx, feeBps types.BasisPoints, readOnly bool) *storeTx {
	return &storeTx{
		ctx:      ctx,
		tx:       tx,
		feeBps:   feeBps,
		readOnly: readOnly,
		rec:      events.NewRecorder(nil),
	}
}

func (t *storeTx) Assets() repository.AssetRepository        { return assetRepo{t} }
func (t *storeTx) Listings() repository.ListingRepository    { return listingRepo{t} }
func (t *storeTx) Escrows() repository.EscrowRepository      { return escrowRepo{t} }
func (t *storeTx) Directory() repository.DirectoryRepository { return directoryRepo{t} }
func (t *storeTx) Treasury() repository.TreasuryRepository   { return treasuryRepo{t} }
func (t *storeTx) Record(e events.Event)                     { t.rec.Record(e) }

// Bind implements repository.Binder. A Ledger over the same connection pool runs its
// movements inside this transaction, so they commit or roll back with the store.
func (t *storeTx) Bind(ctx context.Context) context.Context {
	if t.readOnly || t.conn == nil {
		return ctx
	}
	return context.WithValue(ctx, ambientTxKey{}, ambientTx{conn: t.conn, tx: t.tx})
}

type ambientTxKey struct{}

type ambientTx struct {
	conn *sql.DB
	tx   *sql.Tx
}

// ambientTxFor returns the store transaction carried by ctx when it belongs to conn.
func ambientTxFor(ctx context.Context, conn *sql.DB) (*sql.Tx, bool) {
	amb, ok := ctx.Value(ambientTxKey{}).(ambientTx)
	if !ok || amb.conn != conn {
		return nil, false
	}
	return amb.tx, true
}

// flushEvents appends the recorded events to the outbox with gapless sequence numbers.
func (t *storeTx) flushEvents() ([]events.Event, error) {
	recorded := t.rec.Events()
	if len(recorded) == 0 {
		return nil, nil
	}

	var last int64
	if err := t.tx.QueryRowContext(t.ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&last); err != nil {
		return nil, fmt.Errorf("failed to read event sequence: %w", err)
	}

	committed := make([]events.Event, 0, len(recorded))
	for i, e := range recorded {
		e.Seq = uint64(last) + uint64(i) + 1
		m := toEventModel(e)
		_, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.Seq, m.Type, m.AssetID, m.Actor, m.Party, m.Status, m.Amount, m.FeeBps,
			m.Reason, m.SellerWins, m.At,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert event: %w", err)
		}
		committed = append(committed, e.Clone())
	}
	return committed, nil
}

// ===========================================================================
// Repositories
// ===========================================================================

type assetRepo struct{ t *storeTx }

func (r assetRepo) Get(id types.AssetID) (*repository.Asset, error) {
	row := r.t.tx.QueryRowContext(r.t.ctx, `SELECT `+assetColumns+` FROM assets WHERE id = ?`, int64(id))
	m, err := scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return m.toDomain()
}

func (r assetRepo) Save(asset *repository.Asset) error {
	if r.t.readOnly {
		return repository.ErrReadOnly
	}
	m := toAssetModel(asset)
	_, err := r.t.tx.ExecContext(r.t.ctx, `
		INSERT INTO assets (`+assetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_name = excluded.event_name,
			event_date = excluded.event_date,
			venue = excluded.venue,
			seat = excluded.seat,
			original_price = excluded.original_price,
			proof_ref = excluded.proof_ref,
			owner = excluded.owner,
			approved = excluded.approved,
			status = excluded.status,
			locked = excluded.locked,
			listing_timestamp = excluded.listing_timestamp,
			minted_at = excluded.minted_at`,
		m.ID, m.EventName, m.EventDate, m.Venue, m.Seat, m.OriginalPrice, m.ProofRef,
		m.Owner, m.Approved, m.Status, m.Locked, m.ListingTimestamp, m.MintedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save asset: %w", err)
	}
	if r.t.lastKnown && asset.ID > r.t.lastID {
		r.t.lastID = asset.ID
	}
	return nil
}

func (r assetRepo) NextID() (types.AssetID, error) {
	if r.t.readOnly {
		return 0, repository.ErrReadOnly
	}
	if !r.t.lastKnown {
		var last int64
		if err := r.t.tx.QueryRowContext(r.t.ctx, `SELECT COALESCE(MAX(id), 0) FROM assets`).Scan(&last); err != nil {
			return 0, fmt.Errorf("failed to read asset sequence: %w", err)
		}
		r.t.lastID = types.AssetID(last)
		r.t.lastKnown = true
	}
	r.t.lastID++
	return r.t.lastID, nil
}

func (r assetRepo) List() ([]*repository.Asset, error) {
	rows, err := r.t.tx.QueryContext(r.t.ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*repository.Asset
	for rows.Next() {
		m, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		a, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type listingRepo struct{ t *storeTx }

func (r listingRepo) Get(id types.AssetID) (*repository.Listing, error) {
	row := r.t.tx.QueryRowContext(r.t.ctx, `SELECT `+listingColumns+` FROM listings WHERE asset_id = ?`, int64(id))
	m, err := scanListing(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrListingNotFound
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return m.toDomain()
}

func (r listingRepo) Save(listing *repository.Listing) error {
	if r.t.readOnly {
		return repository.ErrReadOnly
	}
	m := toListingModel(listing)
	_, err := r.t.tx.ExecContext(r.t.ctx, `
		INSERT INTO listings (`+listingColumns+`) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			seller = excluded.seller,
			price = excluded.price,
			active = excluded.active,
			created_at = excluded.created_at`,
		m.AssetID, m.Seller, m.Price, m.Active, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save listing: %w", err)
	}
	return nil
}

func (r listingRepo) Active() ([]types.AssetID, error) {
	return queryIDs(r.t, `SELECT asset_id FROM listings WHERE active = 1 ORDER BY asset_id`)
}

type escrowRepo struct{ t *storeTx }

func (r escrowRepo) Get(id types.AssetID) (*repository.Escrow, error) {
	row := r.t.tx.QueryRowContext(r.t.ctx, `SELECT `+escrowColumns+` FROM escrows WHERE asset_id = ?`, int64(id))
	m, err := scanEscrow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	return m.toDomain()
}

func (r escrowRepo) Save(escrow *repository.Escrow) error {
	if r.t.readOnly {
		return repository.ErrReadOnly
	}
	if escrow.Open() {
		_, err := r.t.tx.ExecContext(r.t.ctx, `
			INSERT INTO escrow_archive (`+escrowColumns+`)
			SELECT `+escrowColumns+` FROM escrows WHERE asset_id = ? AND completed = 1`,
			int64(escrow.AssetID),
		)
		if err != nil {
			return fmt.Errorf("failed to archive escrow: %w", err)
		}
	}

	m := toEscrowModel(escrow)
	_, err := r.t.tx.ExecContext(r.t.ctx, `
		INSERT INTO escrows (`+escrowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			seller = excluded.seller,
			buyer = excluded.buyer,
			price = excluded.price,
			start_time = excluded.start_time,
			seller_confirmed = excluded.seller_confirmed,
			buyer_confirmed = excluded.buyer_confirmed,
			disputed = excluded.disputed,
			completed = excluded.completed,
			dispute_reason = excluded.dispute_reason,
			completed_at = excluded.completed_at`,
		m.AssetID, m.Seller, m.Buyer, m.Price, m.StartTime, m.SellerConfirmed,
		m.BuyerConfirmed, m.Disputed, m.Completed, m.DisputeReason, m.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save escrow: %w", err)
	}
	return nil
}

func (r escrowRepo) Open() ([]types.AssetID, error) {
	return queryIDs(r.t, `SELECT asset_id FROM escrows WHERE completed = 0 ORDER BY asset_id`)
}

func (r escrowRepo) Settled(id types.AssetID) ([]*repository.Escrow, error) {
	rows, err := r.t.tx.QueryContext(r.t.ctx,
		`SELECT `+escrowColumns+` FROM escrow_archive WHERE asset_id = ? ORDER BY id`, int64(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query settled escrows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*repository.Escrow
	for rows.Next() {
		m, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escrow: %w", err)
		}
		e, err := m.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type directoryRepo struct{ t *storeTx }

func (r directoryRepo) Get() (*repository.Directory, error) {
	dir := repository.NewDirectory()

	var owner, marketplace string
	err := r.t.tx.QueryRowContext(r.t.ctx, `SELECT owner, marketplace FROM directory WHERE id = 1`).Scan(&owner, &marketplace)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return dir, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get directory: %w", err)
	}
	dir.OwnerID = types.Identity(owner)
	dir.Marketplace = types.Identity(marketplace)

	rows, err := r.t.tx.QueryContext(r.t.ctx, `SELECT identity FROM admins`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		dir.Admins[types.Identity(id)] = struct{}{}
	}
	return dir, rows.Err()
}

func (r directoryRepo) Save(dir *repository.Directory) error {
	if r.t.readOnly {
		return repository.ErrReadOnly
	}
	_, err := r.t.tx.ExecContext(r.t.ctx, `
		INSERT INTO directory (id, owner, marketplace) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET owner = excluded.owner, marketplace = excluded.marketplace`,
		string(dir.OwnerID), string(dir.Marketplace),
	)
	if err != nil {
		return fmt.Errorf("failed to save directory: %w", err)
	}
	if _, err := r.t.tx.ExecContext(r.t.ctx, `DELETE FROM admins`); err != nil {
		return fmt.Errorf("failed to clear admins: %w", err)
	}
	for _, id := range dir.AdminList() {
		if _, err := r.t.tx.ExecContext(r.t.ctx, `INSERT INTO admins (identity) VALUES (?)`, string(id)); err != nil {
			return fmt.Errorf("failed to insert admin: %w", err)
		}
	}
	return nil
}

type treasuryRepo struct{ t *storeTx }

func (r treasuryRepo) Get() (*repository.Treasury, error) {
	var (
		feeBps int64
		pool   string
	)
	err := r.t.tx.QueryRowContext(r.t.ctx, `SELECT fee_bps, fee_pool FROM treasury WHERE id = 1`).Scan(&feeBps, &pool)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return repository.NewTreasury(r.t.feeBps), nil
	case err != nil:
		return nil, fmt.Errorf("failed to get treasury: %w", err)
	}
	amount, err := parseNullableAmount(&pool)
	if err != nil {
		return nil, fmt.Errorf("treasury fee pool: %w", err)
	}
	return &repository.Treasury{FeeBps: types.BasisPoints(feeBps), FeePool: amount}, nil
}

func (r treasuryRepo) Save(t *repository.Treasury) error {
	if r.t.readOnly {
		return repository.ErrReadOnly
	}
	_, err := r.t.tx.ExecContext(r.t.ctx, `
		INSERT INTO treasury (id, fee_bps, fee_pool) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET fee_bps = excluded.fee_bps, fee_pool = excluded.fee_pool`,
		int64(t.FeeBps), amountText(t.FeePool),
	)
	if err != nil {
		return fmt.Errorf("failed to save treasury: %w", err)
	}
	return nil
}

// ===========================================================================
// Scanning
// ===========================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanAsset(s scanner) (*AssetModel, error) {
	var m AssetModel
	err := s.Scan(
		&m.ID, &m.EventName, &m.EventDate, &m.Venue, &m.Seat, &m.OriginalPrice, &m.ProofRef,
		&m.Owner, &m.Approved, &m.Status, &m.Locked, &m.ListingTimestamp, &m.MintedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanListing(s scanner) (*ListingModel, error) {
	var m ListingModel
	if err := s.Scan(&m.AssetID, &m.Seller, &m.Price, &m.Active, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanEscrow(s scanner) (*EscrowModel, error) {
	var m EscrowModel
	err := s.Scan(
		&m.AssetID, &m.Seller, &m.Buyer, &m.Price, &m.StartTime, &m.SellerConfirmed,
		&m.BuyerConfirmed, &m.Disputed, &m.Completed, &m.DisputeReason, &m.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanEvent(s scanner) (*EventModel, error) {
	var m EventModel
	err := s.Scan(
		&m.Seq, &m.Type, &m.AssetID, &m.Actor, &m.Party, &m.Status, &m.Amount, &m.FeeBps,
		&m.Reason, &m.SellerWins, &m.At,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func queryIDs(t *storeTx, query string) ([]types.AssetID, error) {
	rows, err := t.tx.QueryContext(t.ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.AssetID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan asset id: %w", err)
		}
		out = append(out, types.AssetID(id))
	}
	return out, rows.Err()
}
