package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zjrosen/ticketbay/internal/cachemanager"
	"github.com/zjrosen/ticketbay/internal/escrow/command"
	"github.com/zjrosen/ticketbay/internal/escrow/handler"
	"github.com/zjrosen/ticketbay/internal/escrow/processor"
	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
)

// AssetView is everything the marketplace knows about one asset.
// Listing and Escrow are nil when the asset was never listed or sold.
// Settled holds the completed escrows of earlier sales.
type AssetView struct {
	Asset   *repository.Asset
	Listing *repository.Listing
	Escrow  *repository.Escrow
	Settled []*repository.Escrow
}

// Clone returns a deep copy.
func (v *AssetView) Clone() *AssetView {
	if v == nil {
		return nil
	}
	c := &AssetView{Asset: v.Asset.Clone()}
	if v.Listing != nil {
		c.Listing = v.Listing.Clone()
	}
	if v.Escrow != nil {
		c.Escrow = v.Escrow.Clone()
	}
	for _, e := range v.Settled {
		c.Settled = append(c.Settled, e.Clone())
	}
	return c
}

type viewCache struct {
	ttl   time.Duration
	cache *cachemanager.InMemoryCacheManager[string, *AssetView]
	rtc   *cachemanager.ReadThroughCache[string, *AssetView, types.AssetID]
}

func newViewCache(store repository.Store, ttl, cleanup time.Duration) *viewCache {
	disabled := ttl < 0
	if ttl <= 0 {
		ttl = cachemanager.DefaultExpiration
	}
	v := &viewCache{
		ttl:   ttl,
		cache: cachemanager.NewInMemoryCacheManager[string, *AssetView]("asset-views", ttl, cleanup),
	}
	v.rtc = cachemanager.NewReadThroughCache(v.cache, func(ctx context.Context, id types.AssetID) (*AssetView, error) {
		return loadView(ctx, store, id)
	}, disabled)
	return v
}

func viewKey(id types.AssetID) string {
	return "asset:" + id.String()
}

func (v *viewCache) get(ctx context.Context, id types.AssetID) (*AssetView, error) {
	if processor.InHandler(ctx) {
		return nil, fmt.Errorf("asset %s: %w", id, types.ErrReentrantCall)
	}
	view, err := v.rtc.Get(ctx, viewKey(id), id, v.ttl)
	if err != nil {
		return nil, err
	}
	return view.Clone(), nil
}

// middleware evicts every asset touched by a successful command before the
// submitter sees the result.
func (v *viewCache) middleware() processor.Middleware {
	return func(next processor.CommandHandler) processor.CommandHandler {
		return processor.HandlerFunc(func(ctx context.Context, cmd command.Command) (*command.CommandResult, error) {
			result, err := next.Handle(ctx, cmd)
			if err != nil || result == nil || !result.Success {
				return result, err
			}

			seen := make(map[types.AssetID]bool)
			var keys []string
			for _, e := range handler.EventsOf(result) {
				if e.AssetID == 0 || seen[e.AssetID] {
					continue
				}
				seen[e.AssetID] = true
				keys = append(keys, viewKey(e.AssetID))
			}
			if len(keys) > 0 {
				if err := v.rtc.Invalidate(ctx, keys...); err != nil {
					log.ErrorErr(log.CatCache, "asset view eviction failed", err, "keys", len(keys))
				}
			}
			return result, nil
		})
	}
}

func loadView(ctx context.Context, store repository.Store, id types.AssetID) (*AssetView, error) {
	view := &AssetView{}
	err := store.View(ctx, func(tx repository.Tx) error {
		asset, err := tx.Assets().Get(id)
		if err != nil {
			return err
		}
		view.Asset = asset

		listing, err := tx.Listings().Get(id)
		switch {
		case err == nil:
			view.Listing = listing
		case !errors.Is(err, types.ErrNotFound):
			return err
		}

		escrow, err := tx.Escrows().Get(id)
		switch {
		case err == nil:
			view.Escrow = escrow
		case !errors.Is(err, types.ErrNotFound):
			return err
		}

		view.Settled, err = tx.Escrows().Settled(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
