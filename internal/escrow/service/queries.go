package service

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/events"
	"github.com/zjrosen/ticketbay/internal/escrow/processor"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

// read runs fn in a store snapshot. A handler already holds the store's write
// transaction, so reads from inside one are rejected instead of blocking on it.
func (s *Service) read(ctx context.Context, op string, fn func(tx repository.Tx) error) error {
	if processor.InHandler(ctx) {
		return fmt.Errorf("%s: %w", op, types.ErrReentrantCall)
	}
	return s.store.View(ctx, fn)
}

// View returns the asset with its listing and escrow records.
func (s *Service) View(ctx context.Context, id types.AssetID) (*AssetView, error) {
	return s.views.get(ctx, id)
}

// Asset returns a snapshot of one asset.
func (s *Service) Asset(ctx context.Context, id types.AssetID) (*repository.Asset, error) {
	view, err := s.views.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return view.Asset, nil
}

// Listing returns the listing record of an asset, active or not.
func (s *Service) Listing(ctx context.Context, id types.AssetID) (*repository.Listing, error) {
	view, err := s.views.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Listing == nil {
		return nil, fmt.Errorf("asset %s: %w", id, types.ErrListingNotFound)
	}
	return view.Listing, nil
}

// Escrow returns the escrow record of an asset, open or completed.
func (s *Service) Escrow(ctx context.Context, id types.AssetID) (*repository.Escrow, error) {
	view, err := s.views.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Escrow == nil {
		return nil, fmt.Errorf("asset %s: %w", id, types.ErrEscrowNotFound)
	}
	return view.Escrow, nil
}

// SettledEscrows returns the completed escrows of earlier sales of an asset, oldest first.
func (s *Service) SettledEscrows(ctx context.Context, id types.AssetID) ([]*repository.Escrow, error) {
	view, err := s.views.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return view.Settled, nil
}

// Assets returns every asset ordered by id.
func (s *Service) Assets(ctx context.Context) ([]*repository.Asset, error) {
	var out []*repository.Asset
	err := s.read(ctx, "assets", func(tx repository.Tx) error {
		var err error
		out, err = tx.Assets().List()
		return err
	})
	return out, err
}

// ActiveListings returns the active listings ordered by asset id.
func (s *Service) ActiveListings(ctx context.Context) ([]*repository.Listing, error) {
	var out []*repository.Listing
	err := s.read(ctx, "active listings", func(tx repository.Tx) error {
		ids, err := tx.Listings().Active()
		if err != nil {
			return err
		}
		for _, id := range ids {
			l, err := tx.Listings().Get(id)
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return nil
	})
	return out, err
}

// OpenEscrows returns the open escrows ordered by asset id.
func (s *Service) OpenEscrows(ctx context.Context) ([]*repository.Escrow, error) {
	var out []*repository.Escrow
	err := s.read(ctx, "open escrows", func(tx repository.Tx) error {
		ids, err := tx.Escrows().Open()
		if err != nil {
			return err
		}
		for _, id := range ids {
			e, err := tx.Escrows().Get(id)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Treasury returns the fee rate and the undistributed fee pool.
func (s *Service) Treasury(ctx context.Context) (*repository.Treasury, error) {
	var out *repository.Treasury
	err := s.read(ctx, "treasury", func(tx repository.Tx) error {
		var err error
		out, err = tx.Treasury().Get()
		return err
	})
	return out, err
}

// FeePool returns the accumulated, unwithdrawn fees.
func (s *Service) FeePool(ctx context.Context) (*uint256.Int, error) {
	t, err := s.Treasury(ctx)
	if err != nil {
		return nil, err
	}
	return t.FeePool, nil
}

// FeeBps returns the fee applied at settlement.
func (s *Service) FeeBps(ctx context.Context) (types.BasisPoints, error) {
	t, err := s.Treasury(ctx)
	if err != nil {
		return 0, err
	}
	return t.FeeBps, nil
}

// Directory returns a snapshot of the authorization directory.
func (s *Service) Directory(ctx context.Context) (*repository.Directory, error) {
	var out *repository.Directory
	err := s.read(ctx, "directory", func(tx repository.Tx) error {
		var err error
		out, err = tx.Directory().Get()
		return err
	})
	return out, err
}

// History returns up to limit committed events with Seq > after.
func (s *Service) History(ctx context.Context, after uint64, limit int) ([]events.Event, error) {
	if processor.InHandler(ctx) {
		return nil, fmt.Errorf("history: %w", types.ErrReentrantCall)
	}
	return s.store.Events(ctx, after, limit)
}
