package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/ticketbay/internal/escrow/repository"
	"github.com/zjrosen/ticketbay/internal/escrow/repository/storetest"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

func TestMemoryStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return repository.NewMemoryStore(types.DefaultFeeBps)
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := repository.NewMemoryStore(types.DefaultFeeBps)
	require.NoError(t, s.Close())

	_, err := s.Update(context.Background(), func(tx repository.Tx) error { return nil })
	require.ErrorIs(t, err, repository.ErrStoreClosed)

	err = s.View(context.Background(), func(tx repository.Tx) error { return nil })
	require.ErrorIs(t, err, repository.ErrStoreClosed)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := repository.NewMemoryStore(types.DefaultFeeBps)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := s.Update(ctx, func(tx repository.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestDirectory_Clone(t *testing.T) {
	d := repository.NewDirectory()
	d.OwnerID = "root"
	d.Admins["carol"] = struct{}{}

	c := d.Clone()
	c.Admins["dave"] = struct{}{}

	require.False(t, d.IsAdmin("dave"))
	require.Equal(t, []types.Identity{"carol", "dave"}, c.AdminList())
	require.False(t, d.IsAdmin(types.NoIdentity))
	require.False(t, d.IsAuthorizedMarketplace(types.NoIdentity))
}
