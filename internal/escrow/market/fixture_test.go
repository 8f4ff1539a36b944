package market

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/registry"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

const (
	owner  types.Identity = "root"
	market types.Identity = "market"
	admin  types.Identity = "carol"
	seller types.Identity = "alice"
	buyer  types.Identity = "bob"
)

var start = time.Date(2025, 5, 10, 20, 0, 0, 0, time.UTC)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time          { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type fixture struct {
	store  *repository.MemoryStore
	ledger *ledger.MemoryLedger
	reg    *registry.Registry
	engine *Engine
	clock  *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: start}
	f := &fixture{
		store:  repository.NewMemoryStore(types.DefaultFeeBps),
		ledger: ledger.NewMemoryLedger(),
		reg:    registry.New(registry.WithClock(c.Now)),
		clock:  c,
	}
	f.engine = NewEngine(f.reg, f.ledger, Config{Identity: market, Now: c.Now})
	f.update(t, func(tx repository.Tx) error {
		return f.reg.Initialize(tx, registry.Genesis{Owner: owner, Marketplace: market, Admins: []types.Identity{admin}})
	})
	f.ledger.Deposit(buyer, ledger.MustParseAmount("10"))
	f.ledger.Deposit("dave", ledger.MustParseAmount("10"))
	return f
}

func (f *fixture) update(t *testing.T, fn func(tx repository.Tx) error) []events.Event {
	t.Helper()
	evts, err := f.store.Update(context.Background(), fn)
	require.NoError(t, err)
	return evts
}

func (f *fixture) try(fn func(tx repository.Tx) error) error {
	_, err := f.store.Update(context.Background(), fn)
	return err
}

// listed mints, verifies and lists an asset owned by seller.
func (f *fixture) listed(t *testing.T, price string) types.AssetID {
	t.Helper()
	var id types.AssetID
	f.update(t, func(tx repository.Tx) error {
		a, err := f.reg.Mint(tx, seller, seller, repository.Metadata{
			EventName:     "Finals",
			Venue:         "Stadium",
			Seat:          "B12",
			OriginalPrice: ledger.MustParseAmount(price),
			ProofRef:      "cid-proof",
		})
		if err != nil {
			return err
		}
		id = a.ID
		return nil
	})
	f.update(t, func(tx repository.Tx) error { return f.reg.Verify(tx, admin, id) })
	f.update(t, func(tx repository.Tx) error { return f.engine.List(tx, seller, id, ledger.MustParseAmount(price)) })
	return id
}

// purchased runs Scenario A and returns the asset id.
func (f *fixture) purchased(t *testing.T, price string) types.AssetID {
	t.Helper()
	id := f.listed(t, price)
	f.update(t, func(tx repository.Tx) error {
		return f.engine.Purchase(context.Background(), tx, buyer, id, ledger.MustParseAmount(price))
	})
	return id
}

type snapshot struct {
	asset    *repository.Asset
	listing  *repository.Listing
	escrow   *repository.Escrow
	treasury *repository.Treasury
	active   []types.AssetID
	open     []types.AssetID
}

func (f *fixture) snapshot(t *testing.T, id types.AssetID) snapshot {
	t.Helper()
	var s snapshot
	err := f.store.View(context.Background(), func(tx repository.Tx) error {
		var err error
		if s.asset, err = tx.Assets().Get(id); err != nil {
			return err
		}
		s.listing, _ = tx.Listings().Get(id)
		s.escrow, _ = tx.Escrows().Get(id)
		if s.treasury, err = tx.Treasury().Get(); err != nil {
			return err
		}
		if s.active, err = tx.Listings().Active(); err != nil {
			return err
		}
		s.open, err = tx.Escrows().Open()
		return err
	})
	require.NoError(t, err)
	return s
}

func amount(s string) *uint256.Int {
	return ledger.MustParseAmount(s)
}

func requireAmount(t *testing.T, want string, got *uint256.Int, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, amount(want).Dec(), got.Dec(), msgAndArgs...)
}
