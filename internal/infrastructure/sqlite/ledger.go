package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/zjrosen/ticketbay/internal/escrow/ledger"
	"github.com/zjrosen/ticketbay/internal/escrow/types"
	"github.com/zjrosen/ticketbay/internal/log"
)

// Ledger is a ledger.Ledger whose balances persist in SQLite. A call made with a
// context bound to a store transaction on the same pool joins that transaction;
// any other call runs in its own. Failures wrap ledger.ErrTransferFailed.
type Ledger struct {
	conn *sql.DB
	now  func() time.Time
}

var _ ledger.Ledger = (*Ledger)(nil)

// NewLedger creates a Ledger over a connection whose schema holds the ledger tables,
// either a NewLedgerDB file or a NewMarketDB pool with the ledger attached.
func NewLedger(conn *sql.DB) *Ledger {
	return &Ledger{conn: conn, now: time.Now}
}

// Collect moves amount from the payer's balance into custody.
func (l *Ledger) Collect(ctx context.Context, from types.Identity, amount *uint256.Int) error {
	return l.move(ctx, "collect", from, amount, func(tx *sql.Tx) error {
		bal, err := l.balance(ctx, tx, from)
		if err != nil {
			return err
		}
		if bal.Lt(amount) {
			return fmt.Errorf("collect %s from %s: %w", amount.Dec(), from, ledger.ErrInsufficientFunds)
		}
		custody, err := l.custody(ctx, tx)
		if err != nil {
			return err
		}
		if err := l.setBalance(ctx, tx, from, bal.Sub(bal, amount)); err != nil {
			return err
		}
		return l.setCustody(ctx, tx, custody.Add(custody, amount))
	})
}

// Transfer pays amount out of custody to the payee.
func (l *Ledger) Transfer(ctx context.Context, to types.Identity, amount *uint256.Int) error {
	return l.move(ctx, "transfer", to, amount, func(tx *sql.Tx) error {
		custody, err := l.custody(ctx, tx)
		if err != nil {
			return err
		}
		if custody.Lt(amount) {
			return fmt.Errorf("transfer %s to %s: custody short: %w", amount.Dec(), to, ledger.ErrInsufficientFunds)
		}
		bal, err := l.balance(ctx, tx, to)
		if err != nil {
			return err
		}
		if err := l.setCustody(ctx, tx, custody.Sub(custody, amount)); err != nil {
			return err
		}
		return l.setBalance(ctx, tx, to, bal.Add(bal, amount))
	})
}

// Deposit credits an account from outside the system.
func (l *Ledger) Deposit(ctx context.Context, who types.Identity, amount *uint256.Int) error {
	return l.move(ctx, "deposit", who, amount, func(tx *sql.Tx) error {
		bal, err := l.balance(ctx, tx, who)
		if err != nil {
			return err
		}
		return l.setBalance(ctx, tx, who, bal.Add(bal, amount))
	})
}

// Balance returns the account balance; unknown accounts hold zero.
func (l *Ledger) Balance(ctx context.Context, who types.Identity) (*uint256.Int, error) {
	return l.balance(ctx, l.conn, who)
}

// Custody returns the value held by the engine.
func (l *Ledger) Custody(ctx context.Context) (*uint256.Int, error) {
	return l.custody(ctx, l.conn)
}

// Accounts returns the identities holding a balance row, sorted.
func (l *Ledger) Accounts(ctx context.Context) ([]types.Identity, error) {
	rows, err := l.conn.QueryContext(ctx, `SELECT identity FROM balances ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.Identity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, types.Identity(id))
	}
	return out, rows.Err()
}

// move runs fn in a transaction and journals the movement. When ctx carries a
// store transaction on the same connection pool, the movement runs in a savepoint
// of that transaction and commits with it.
func (l *Ledger) move(ctx context.Context, op string, who types.Identity, amount *uint256.Int, fn func(tx *sql.Tx) error) error {
	if amount == nil {
		return fmt.Errorf("%w: nil amount", ledger.ErrTransferFailed)
	}

	if tx, ok := ambientTxFor(ctx, l.conn); ok {
		if err := l.moveIn(ctx, tx, op, who, amount, fn); err != nil {
			return err
		}
		log.Debug(log.CatLedger, "ledger movement staged", "op", op, "who", who, "amount", amount.Dec())
		return nil
	}

	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransferFailed, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrapTransferErr(err)
	}
	if err := l.journal(ctx, tx, op, who, amount); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransferFailed, err)
	}

	log.Debug(log.CatLedger, "ledger movement", "op", op, "who", who, "amount", amount.Dec())
	return nil
}

// moveIn runs fn inside a savepoint of an open store transaction. A failed movement
// is undone without aborting the enclosing transaction.
func (l *Ledger) moveIn(ctx context.Context, tx *sql.Tx, op string, who types.Identity, amount *uint256.Int, fn func(tx *sql.Tx) error) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT ledger_move`); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransferFailed, err)
	}
	undo := func() {
		_, _ = tx.ExecContext(ctx, `ROLLBACK TO ledger_move`)
		_, _ = tx.ExecContext(ctx, `RELEASE ledger_move`)
	}
	if err := fn(tx); err != nil {
		undo()
		return wrapTransferErr(err)
	}
	if err := l.journal(ctx, tx, op, who, amount); err != nil {
		undo()
		return err
	}
	if _, err := tx.ExecContext(ctx, `RELEASE ledger_move`); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransferFailed, err)
	}
	return nil
}

func (l *Ledger) journal(ctx context.Context, tx *sql.Tx, op string, who types.Identity, amount *uint256.Int) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO movements (op, identity, amount, at) VALUES (?, ?, ?, ?)`,
		op, string(who), amount.Dec(), l.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to journal %s: %w", ledger.ErrTransferFailed, op, err)
	}
	return nil
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *Ledger) balance(ctx context.Context, q rowQuerier, who types.Identity) (*uint256.Int, error) {
	return readAmount(ctx, q, "balance", `SELECT amount FROM balances WHERE identity = ?`, string(who))
}

func (l *Ledger) setBalance(ctx context.Context, tx *sql.Tx, who types.Identity, v *uint256.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (identity, amount, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		string(who), v.Dec(), l.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (l *Ledger) custody(ctx context.Context, q rowQuerier) (*uint256.Int, error) {
	return readAmount(ctx, q, "custody", `SELECT amount FROM custody WHERE id = 1`)
}

func (l *Ledger) setCustody(ctx context.Context, tx *sql.Tx, v *uint256.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO custody (id, amount, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		v.Dec(), l.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save custody: %w", err)
	}
	return nil
}

func wrapTransferErr(err error) error {
	if errors.Is(err, ledger.ErrTransferFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ledger.ErrTransferFailed, err)
}

// readAmount scans a single decimal column; a missing row reads as zero.
func readAmount(ctx context.Context, q rowQuerier, what, query string, args ...any) (*uint256.Int, error) {
	var text string
	err := q.QueryRowContext(ctx, query, args...).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", what, err)
	}
	v, err := uint256.FromDecimal(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", what, err)
	}
	return v, nil
}
