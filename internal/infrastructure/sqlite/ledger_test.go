package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := NewLedgerDB(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Ledger()
}

func TestLedger_CollectAndTransfer(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Deposit(ctx, "bob", uint256.NewInt(100)))
	require.NoError(t, l.Collect(ctx, "bob", uint256.NewInt(60)))

	bal, err := l.Balance(ctx, "bob")
	require.NoError(t, err)
	require.Equal(t, uint64(40), bal.Uint64())
	custody, err := l.Custody(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(60), custody.Uint64())

	require.NoError(t, l.Transfer(ctx, "alice", uint256.NewInt(55)))
	bal, err = l.Balance(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, uint64(55), bal.Uint64())
	custody, err = l.Custody(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(5), custody.Uint64())

	accounts, err := l.Accounts(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.Identity{"alice", "bob"}, accounts)

	var movements int
	require.NoError(t, l.conn.QueryRow("SELECT COUNT(*) FROM movements").Scan(&movements))
	require.Equal(t, 3, movements)
}

func TestLedger_InsufficientFunds(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	err := l.Collect(ctx, "bob", uint256.NewInt(1))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.ErrorIs(t, err, ledger.ErrTransferFailed)

	err = l.Transfer(ctx, "alice", uint256.NewInt(1))
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	err = l.Collect(ctx, "bob", nil)
	require.ErrorIs(t, err, ledger.ErrTransferFailed)

	// Failed calls leave nothing behind.
	accounts, err := l.Accounts(ctx)
	require.NoError(t, err)
	require.Empty(t, accounts)
	var movements int
	require.NoError(t, l.conn.QueryRow("SELECT COUNT(*) FROM movements").Scan(&movements))
	require.Zero(t, movements)
}

func TestLedger_Conservation(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	who := []types.Identity{"alice", "bob", "dave"}

	rapid.Check(t, func(rt *rapid.T) {
		deposited := new(uint256.Int)
		before := totalValue(t, l, who)

		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			acct := who[rapid.IntRange(0, len(who)-1).Draw(rt, "who")]
			amount := uint256.NewInt(rapid.Uint64Range(0, 50).Draw(rt, "amount"))
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				if err := l.Deposit(ctx, acct, amount); err != nil {
					rt.Fatalf("deposit: %v", err)
				}
				deposited.Add(deposited, amount)
			case 1:
				_ = l.Collect(ctx, acct, amount)
			case 2:
				_ = l.Transfer(ctx, acct, amount)
			}
		}

		after := totalValue(t, l, who)
		want := new(uint256.Int).Add(before, deposited)
		if !after.Eq(want) {
			rt.Fatalf("value not conserved: %s != %s", after.Dec(), want.Dec())
		}
	})
}

func totalValue(t *testing.T, l *Ledger, who []types.Identity) *uint256.Int {
	t.Helper()
	ctx := context.Background()
	sum, err := l.Custody(ctx)
	require.NoError(t, err)
	for _, id := range who {
		bal, err := l.Balance(ctx, id)
		require.NoError(t, err)
		sum.Add(sum, bal)
	}
	return sum
}
